// Package preview runs widget behaviour scripts in an isolated Lua VM and
// reports back to the editor through serialized envelopes only.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"widget-studio/internal/editor"
	"widget-studio/internal/widget"
)

const DefaultScriptTimeout = 5 * time.Second

// Poster receives serialized inbound envelopes.
type Poster interface {
	Post(payload string)
}

// Runtime is an in-process rendering surface. Each Reload starts a fresh
// sandboxed VM for the data last set with SetInitData.
type Runtime struct {
	out     Poster
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	data      []byte
	gen       uint64
	cancelRun context.CancelFunc

	reload    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewRuntime starts a runtime posting envelopes to out.
func NewRuntime(out Poster, logger *slog.Logger, timeout time.Duration) *Runtime {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		out:     out,
		logger:  logger.With("component", "preview"),
		timeout: timeout,
		reload:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// SetInitData stores the serialized widget the next generation starts from.
func (r *Runtime) SetInitData(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append([]byte(nil), data...)
	return nil
}

// Reload discards the running generation and schedules gen. Only the
// latest scheduled generation runs.
func (r *Runtime) Reload(gen uint64) error {
	if r.ctx.Err() != nil {
		return errors.New("preview runtime closed")
	}
	r.mu.Lock()
	r.gen = gen
	if r.cancelRun != nil {
		r.cancelRun()
	}
	r.mu.Unlock()

	select {
	case r.reload <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the runtime and waits for the running generation to exit.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
	})
	return nil
}

func (r *Runtime) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.reload:
		}

		r.mu.Lock()
		gen, data := r.gen, r.data
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		r.cancelRun = cancel
		r.mu.Unlock()

		r.run(ctx, gen, data)
		cancel()
	}
}

// generation is one VM lifetime.
type generation struct {
	r   *Runtime
	ctx context.Context
	gen uint64
	L   *lua.LState
	tbl *lua.LTable
}

func (r *Runtime) run(ctx context.Context, gen uint64, data []byte) {
	g := &generation{r: r, ctx: ctx, gen: gen}

	var w widget.Widget
	if err := json.Unmarshal(data, &w); err != nil {
		g.fault(editor.FaultOrigin{Name: "DataError", Message: err.Error()})
		g.emit(editor.MsgWidgetEditModeInited, nil)
		return
	}

	g.L = newSandbox()
	defer g.L.Close()
	g.L.SetContext(ctx)
	g.tbl = g.widgetTable(&w)
	g.L.SetGlobal("widget", g.tbl)

	r.logger.Debug("generation started", "generation", gen, "widget", w.Name)

	if err := g.start(w.ControllerScript); err != nil {
		g.fault(faultFrom(err))
	}
	g.emit(editor.MsgWidgetEditModeInited, nil)
	if err := g.callHook("onDataUpdated"); err != nil {
		g.fault(faultFrom(err))
	}
}

func (g *generation) start(script string) error {
	proto, err := compile(script)
	if err != nil {
		return err
	}
	g.L.Push(g.L.NewFunctionFromProto(proto))
	if err := g.L.PCall(0, lua.MultRet, nil); err != nil {
		return err
	}
	return g.callHook("onInit")
}

func (g *generation) callHook(name string) error {
	if g.ctx.Err() != nil {
		return nil
	}
	fn, ok := g.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil
	}
	return g.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
}

func (g *generation) widgetTable(w *widget.Widget) *lua.LTable {
	L := g.L
	t := L.NewTable()
	t.RawSetString("name", lua.LString(w.Name))
	t.RawSetString("type", lua.LString(w.Type))
	t.RawSetString("sizeX", lua.LNumber(w.SizeX*2))
	t.RawSetString("sizeY", lua.LNumber(w.SizeY*2))
	t.RawSetString("settings", lua.LString(w.SettingsSchema))

	cfg, err := widget.ParseConfig(w.DefaultConfig)
	if err != nil {
		cfg = map[string]any{}
	}
	t.RawSetString("config", goToLua(L, cfg))

	t.RawSetString("update", L.NewFunction(func(L *lua.LState) int {
		g.emit(editor.MsgWidgetEditUpdated, g.editUpdate())
		return 0
	}))
	t.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		g.r.logger.Info("widget log", "generation", g.gen, "msg", L.CheckString(1))
		return 0
	}))
	return t
}

func (g *generation) editUpdate() map[string]any {
	return map[string]any{
		"sizeX":  luaToGo(g.tbl.RawGetString("sizeX")),
		"sizeY":  luaToGo(g.tbl.RawGetString("sizeY")),
		"config": luaToGo(g.tbl.RawGetString("config")),
	}
}

func (g *generation) fault(o editor.FaultOrigin) {
	if g.ctx.Err() != nil && !errors.Is(g.ctx.Err(), context.DeadlineExceeded) {
		return
	}
	g.emit(editor.MsgWidgetException, o)
}

// emit posts an envelope unless this generation was superseded.
func (g *generation) emit(msgType string, data any) {
	if g.superseded() {
		return
	}
	payload, err := editor.Encode(msgType, g.gen, data)
	if err != nil {
		g.r.logger.Warn("encode preview message", "type", msgType, "err", err)
		return
	}
	g.r.out.Post(payload)
}

func (g *generation) superseded() bool {
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	return g.r.gen != g.gen || g.r.ctx.Err() != nil
}
