package workspace

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"widget-studio/internal/widget"
)

// settleDelay is how long a file must stay quiet before it is read back.
// Editors that save by truncating and rewriting emit several events per save.
const settleDelay = 100 * time.Millisecond

// EditFunc receives the new text of a field edited on disk.
type EditFunc func(field widget.Field, text string)

// Watcher feeds file edits in a folder back as field edits.
type Watcher struct {
	folder  *Folder
	onEdit  EditFunc
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	settled chan widget.Field
	closed  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching folder. onEdit is called from the watcher goroutine,
// once per field after its file has settled and only when the text differs
// from what was last reported.
func Watch(folder *Folder, onEdit EditFunc, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(folder.Path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", folder.Path, err)
	}
	w := &Watcher{
		folder:  folder,
		onEdit:  onEdit,
		logger:  logger.With("component", "workspace", "folder", folder.Name),
		watcher: fw,
		settled: make(chan widget.Field),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	pending := make(map[widget.Field]*time.Timer)
	reported := make(map[widget.Field]string)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-w.closed:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			field, ok := FieldForFile(event.Name)
			if !ok {
				continue
			}
			if t, ok := pending[field]; ok {
				t.Reset(settleDelay)
				continue
			}
			pending[field] = time.AfterFunc(settleDelay, func() {
				select {
				case w.settled <- field:
				case <-w.closed:
				}
			})

		case field := <-w.settled:
			delete(pending, field)
			text, err := w.folder.Read(field)
			if err != nil {
				w.logger.Warn("read edited file", "field", field, "err", err)
				continue
			}
			if prev, ok := reported[field]; ok && prev == text {
				continue
			}
			reported[field] = text
			w.onEdit(field, text)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
