package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"widget-studio/internal/widget"
)

var (
	ErrDisposed     = errors.New("session disposed")
	ErrSavePending  = errors.New("save already pending")
	ErrReadOnly     = errors.New("widget is read-only")
	ErrNameRequired = errors.New("widget name is required")
	ErrUndoDisabled = errors.New("undo is not available")
)

const (
	DefaultCommitDelay   = 1500 * time.Millisecond
	DefaultCommitTimeout = 10 * time.Second

	msgNameRequired = "Widget name must not be empty."
	msgUnableToSave = "Unable to save widget due to error in widget script."
)

// Intent is the pending commit request of a session.
type Intent int

const (
	IntentNone Intent = iota
	IntentSave
	IntentSaveAs
)

func (i Intent) String() string {
	switch i {
	case IntentSave:
		return "save"
	case IntentSaveAs:
		return "save-as"
	default:
		return "none"
	}
}

// State is the position of a session in the save sequence.
type State int

const (
	StateIdle State = iota
	StateReloadPending
	StateCommitArmed
)

func (s State) String() string {
	switch s {
	case StateReloadPending:
		return "reload-pending"
	case StateCommitArmed:
		return "commit-armed"
	default:
		return "idle"
	}
}

// Committer persists widgets. CreateWidget returns the new widget ID.
type Committer interface {
	CreateWidget(ctx context.Context, w *widget.Widget) (string, error)
	UpdateWidget(ctx context.Context, w *widget.Widget) error
}

// Config holds per-session settings.
type Config struct {
	CommitDelay   time.Duration
	CommitTimeout time.Duration
	ReadOnly      bool
}

// Option customizes a Session.
type Option func(*Session)

// WithClock sets the clock driving the commit timer.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithNotifier sets the user-facing notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithScriptSurface sets where fault markers are placed.
func WithScriptSurface(ss ScriptSurface) Option {
	return func(s *Session) { s.script = ss }
}

// Session is one edit session of a widget. All state is owned by a single
// loop goroutine; public methods and inbound messages are queued onto it.
type Session struct {
	draft    *widget.Draft
	bridge   *Bridge
	faults   *FaultMapper
	script   ScriptSurface
	notifier Notifier
	commits  Committer
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger

	intent       Intent
	saveAsTarget Committer
	previewReady bool
	generation   uint64
	timer        *clock.Timer
	timerSeq     uint64

	cmds     chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	unsub    func()
	errs     chan error
	once     sync.Once
}

// NewSession starts a session for draft. It subscribes to inbox, publishes
// the draft to surface once and returns.
func NewSession(draft *widget.Draft, inbox *Inbox, surface Surface, commits Committer, logger *slog.Logger, cfg Config, opts ...Option) *Session {
	if cfg.CommitDelay <= 0 {
		cfg.CommitDelay = DefaultCommitDelay
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		draft:    draft,
		commits:  commits,
		clock:    clock.New(),
		cfg:      cfg,
		logger:   logger,
		cmds:     make(chan func(), 64),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		errs:     make(chan error, 8),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(logger)
	}
	if s.script == nil {
		s.script = NewMarkerSet()
	}
	s.bridge = NewBridge(surface, logger)
	s.faults = NewFaultMapper(s.script, s.notifier)

	go s.loop()

	s.unsub = inbox.Subscribe(func(payload string) {
		s.post(func() { dispatchMessage(payload, s.generation, s, s.logger) })
	})
	s.do(s.publish)
	return s
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
	case <-s.ctx.Done():
		return ErrDisposed
	}
	select {
	case <-done:
		return nil
	case <-s.loopDone:
		return ErrDisposed
	}
}

// post queues fn on the loop without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

// Errors delivers persistence faults from the commit interface.
func (s *Session) Errors() <-chan error { return s.errs }

// Dispose detaches the session from its inbox, stops the commit timer and
// releases the preview surface. It is safe to call more than once.
func (s *Session) Dispose() {
	s.once.Do(func() {
		s.unsub()
		s.cancel()
		<-s.loopDone
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if err := s.bridge.Close(); err != nil {
			s.logger.Warn("close preview", "err", err)
		}
		s.logger.Debug("session disposed")
	})
}

func (s *Session) state() State {
	switch {
	case s.intent == IntentNone:
		return StateIdle
	case s.timer != nil:
		return StateCommitArmed
	default:
		return StateReloadPending
	}
}

// publish starts a new preview generation.
func (s *Session) publish() {
	s.cancelTimer()
	s.faults.Clear()
	s.previewReady = false
	s.generation++
	if err := s.draft.SyncTitle(); err != nil {
		s.logger.Warn("sync title", "err", err)
	}
	if err := s.bridge.Publish(s.generation, s.draft.Widget()); err != nil {
		s.logger.Warn("publish preview", "generation", s.generation, "err", err)
	}
}

func (s *Session) cancelTimer() {
	s.timerSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) armTimer() {
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(s.cfg.CommitDelay, func() {
		s.post(func() { s.commitTimerFired(seq) })
	})
	s.logger.Debug("commit armed", "intent", s.intent, "delay", s.cfg.CommitDelay)
}

func (s *Session) commitTimerFired(seq uint64) {
	if seq != s.timerSeq || s.timer == nil {
		return
	}
	s.timer = nil
	if s.faults.Active() != nil {
		s.notifier.Show(Notification{Message: msgUnableToSave, Severity: SeverityError})
		s.logger.Info("save aborted", "intent", s.intent, "generation", s.generation)
		s.intent = IntentNone
		s.saveAsTarget = nil
		return
	}
	s.commit()
}

func (s *Session) commit() {
	intent := s.intent
	s.intent = IntentNone

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CommitTimeout)
	defer cancel()

	target := s.commits
	if intent == IntentSaveAs && s.saveAsTarget != nil {
		target = s.saveAsTarget
	}
	s.saveAsTarget = nil

	w := s.draft.Widget()
	var id string
	var err error
	if intent == IntentSave && s.draft.Persisted() && w.ID != "" {
		err = target.UpdateWidget(ctx, w)
		id = w.ID
	} else {
		if intent == IntentSaveAs {
			w.ID = ""
		}
		id, err = target.CreateWidget(ctx, w)
	}
	if err != nil {
		err = fmt.Errorf("%s widget %q: %w", intent, w.Name, err)
		s.logger.Error("commit widget", "err", err)
		select {
		case s.errs <- err:
		default:
		}
		return
	}
	s.draft.Committed(id)
	s.logger.Info("widget committed", "intent", intent, "id", id)
}

func (s *Session) onEditModeInited() {
	s.previewReady = true
	if s.intent != IntentNone && s.timer == nil {
		s.armTimer()
	}
}

func (s *Session) onException(o FaultOrigin) {
	if s.faults.Report(o, s.intent != IntentNone) {
		s.logger.Debug("preview fault", "generation", s.generation, "line", o.LineNumber, "message", o.Message)
	}
}

func (s *Session) onEditUpdated(u EditUpdate) {
	if err := s.draft.ApplyPreviewEdit(u.SizeX/2, u.SizeY/2, u.Config); err != nil {
		s.logger.Debug("drop preview edit", "err", err)
		return
	}
	if err := s.bridge.Echo(s.draft.Widget()); err != nil {
		s.logger.Warn("echo preview data", "err", err)
	}
}

// Save requests a commit of the draft after the preview has reloaded and
// settled without a fault.
func (s *Session) Save() error {
	var err error
	if derr := s.do(func() {
		switch {
		case s.intent != IntentNone:
			err = ErrSavePending
		case s.cfg.ReadOnly:
			err = ErrReadOnly
		case s.draft.Name() == "":
			s.notifier.Show(Notification{Message: msgNameRequired, Severity: SeverityError})
			err = ErrNameRequired
		default:
			s.intent = IntentSave
			s.publish()
		}
	}); derr != nil {
		return derr
	}
	return err
}

// SaveAs requests a commit of the draft as a new widget. A non-empty name
// renames the draft first.
func (s *Session) SaveAs(name string) error {
	return s.SaveAsTo(name, nil)
}

// SaveAsTo is SaveAs creating the copy through target instead of the
// session's committer. A nil target uses the session's committer.
func (s *Session) SaveAsTo(name string, target Committer) error {
	var err error
	if derr := s.do(func() {
		if s.intent != IntentNone {
			err = ErrSavePending
			return
		}
		if name != "" {
			s.draft.SetName(name)
		}
		s.intent = IntentSaveAs
		s.saveAsTarget = target
		s.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// Undo restores the pristine widget and reloads the preview.
func (s *Session) Undo() error {
	var err error
	if derr := s.do(func() {
		if s.undoDisabled() {
			err = ErrUndoDisabled
			return
		}
		s.draft.Undo()
		s.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// Apply republishes the draft and reloads the preview.
func (s *Session) Apply() error {
	return s.do(s.publish)
}

// SetField writes one text field. Editing the behaviour script clears any
// fault markers.
func (s *Session) SetField(f widget.Field, value string) (bool, error) {
	var changed bool
	var err error
	if derr := s.do(func() {
		changed, err = s.draft.SetField(f, value)
		if changed && f == widget.FieldControllerScript {
			s.faults.Clear()
		}
	}); derr != nil {
		return false, derr
	}
	return changed, err
}

// SetName changes the display name.
func (s *Session) SetName(name string) (bool, error) {
	var changed bool
	err := s.do(func() { changed = s.draft.SetName(name) })
	return changed, err
}

// SetKind switches the widget kind.
func (s *Session) SetKind(kind widget.Kind) error {
	var err error
	if derr := s.do(func() { err = s.draft.SetKind(kind) }); derr != nil {
		return derr
	}
	return err
}

// AddResource appends a resource URL.
func (s *Session) AddResource(url string) error {
	return s.do(func() { s.draft.AddResource(url) })
}

// SetResource replaces the resource URL at index i.
func (s *Session) SetResource(i int, url string) (bool, error) {
	var changed bool
	err := s.do(func() { changed = s.draft.SetResource(i, url) })
	return changed, err
}

// RemoveResource deletes the resource at index i.
func (s *Session) RemoveResource(i int) (bool, error) {
	var removed bool
	err := s.do(func() { removed = s.draft.RemoveResource(i) })
	return removed, err
}

func (s *Session) undoDisabled() bool {
	return !s.draft.Dirty() || !s.previewReady || s.intent != IntentNone
}

func (s *Session) saveDisabled() bool {
	return s.cfg.ReadOnly || !s.draft.Dirty() || !s.previewReady || s.intent != IntentNone
}

func (s *Session) saveAsDisabled() bool {
	return !s.previewReady || s.intent != IntentNone
}

// View is a consistent snapshot of a session.
type View struct {
	Widget         *widget.Widget `json:"widget"`
	Dirty          bool           `json:"dirty"`
	Persisted      bool           `json:"persisted"`
	ReadOnly       bool           `json:"readOnly"`
	PreviewReady   bool           `json:"previewReady"`
	Faulted        bool           `json:"faulted"`
	State          string         `json:"state"`
	Intent         string         `json:"intent"`
	Generation     uint64         `json:"generation"`
	UndoDisabled   bool           `json:"undoDisabled"`
	SaveDisabled   bool           `json:"saveDisabled"`
	SaveAsDisabled bool           `json:"saveAsDisabled"`
	Fault          *Fault         `json:"fault,omitempty"`
}

// View returns the current session state.
func (s *Session) View() (View, error) {
	var v View
	err := s.do(func() {
		fault := s.faults.Active()
		v = View{
			Widget:         s.draft.Widget(),
			Dirty:          s.draft.Dirty(),
			Persisted:      s.draft.Persisted(),
			ReadOnly:       s.cfg.ReadOnly,
			PreviewReady:   s.previewReady,
			Faulted:        fault != nil,
			State:          s.state().String(),
			Intent:         s.intent.String(),
			Generation:     s.generation,
			UndoDisabled:   s.undoDisabled(),
			SaveDisabled:   s.saveDisabled(),
			SaveAsDisabled: s.saveAsDisabled(),
			Fault:          fault,
		}
	})
	return v, err
}

// UndoDisabled reports whether Undo would be rejected.
func (s *Session) UndoDisabled() bool {
	v, err := s.View()
	return err != nil || v.UndoDisabled
}

// SaveDisabled reports whether the save action should be offered.
func (s *Session) SaveDisabled() bool {
	v, err := s.View()
	return err != nil || v.SaveDisabled
}

// SaveAsDisabled reports whether the save-as action should be offered.
func (s *Session) SaveAsDisabled() bool {
	v, err := s.View()
	return err != nil || v.SaveAsDisabled
}
