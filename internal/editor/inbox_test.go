package editor

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInboxPostDelivers(t *testing.T) {
	ib := NewInbox(newTestLogger())
	var got string

	ib.Subscribe(func(p string) { got = p })
	ib.Post(`{"type":"widgetEditModeInited"}`)

	if got != `{"type":"widgetEditModeInited"}` {
		t.Errorf("payload = %q", got)
	}
}

func TestInboxUnsubscribe(t *testing.T) {
	ib := NewInbox(newTestLogger())
	var count atomic.Int32

	unsub := ib.Subscribe(func(string) { count.Add(1) })
	ib.Post("a")
	unsub()
	ib.Post("b")

	if count.Load() != 1 {
		t.Errorf("count = %d, want 1", count.Load())
	}
	if ib.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", ib.Subscribers())
	}
}

func TestInboxPanicRecovery(t *testing.T) {
	ib := NewInbox(newTestLogger())
	var called atomic.Int32

	// One handler panics, the other must still run.
	ib.Subscribe(func(string) { panic("boom") })
	ib.Subscribe(func(string) { called.Add(1) })

	ib.Post("x")

	if called.Load() != 1 {
		t.Errorf("called = %d, want 1", called.Load())
	}
}

func TestInboxPreservesOrder(t *testing.T) {
	ib := NewInbox(newTestLogger())
	var mu sync.Mutex
	var got []string

	ib.Subscribe(func(p string) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	for _, p := range []string{"1", "2", "3", "4"} {
		ib.Post(p)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 || got[0] != "1" || got[3] != "4" {
		t.Errorf("got = %v", got)
	}
}

func TestInboxConcurrentPost(t *testing.T) {
	ib := NewInbox(newTestLogger())
	var count atomic.Int32
	ib.Subscribe(func(string) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ib.Post("p")
		}()
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Errorf("count = %d, want 100", count.Load())
	}
}
