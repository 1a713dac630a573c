package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"widget-studio/internal/editor"
	"widget-studio/internal/policy"
	"widget-studio/internal/preview"
	"widget-studio/internal/widget"
	"widget-studio/internal/workspace"
)

// sessionEntry is one open edit session and the surfaces attached to it.
type sessionEntry struct {
	id       string
	alias    string
	readOnly bool
	session  *editor.Session
	inbox    *editor.Inbox
	markers  *editor.MarkerSet
	remote   *RemoteSurface
	folder   *workspace.Folder
	watcher  *workspace.Watcher
	logger   *slog.Logger
	done     chan struct{}
}

func (e *sessionEntry) close() {
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			e.logger.Warn("close workspace watcher", "err", err)
		}
	}
	e.session.Dispose()
	close(e.done)
}

type openSessionRequest struct {
	WidgetID string `json:"widget_id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Bundle   string `json:"bundle"`
}

// userFrom reads the operator identity forwarded by the fronting host.
// X-Authority and X-Tenant-ID are trusted as given, so the server must sit
// behind a proxy that sets them, or behind an API key.
func (s *Server) userFrom(r *http.Request) policy.User {
	u := policy.User{Authority: s.defaultAuthority}
	if h := r.Header.Get("X-Authority"); h != "" {
		u.Authority = policy.ParseAuthority(h)
	}
	if id, err := uuid.Parse(r.Header.Get("X-Tenant-ID")); err == nil {
		u.TenantID = id
	}
	return u
}

func (s *Server) policyBundle(alias string) (*policy.Bundle, error) {
	if alias == "" {
		return nil, nil
	}
	b, err := s.store.GetBundle(alias)
	if err != nil {
		return nil, fmt.Errorf("bundle %q: %w", alias, err)
	}
	// An owner that cannot be read is treated as the system tenant.
	tenant, err := uuid.Parse(b.TenantID)
	if err != nil {
		tenant = policy.SystemTenant
	}
	return &policy.Bundle{Alias: b.Alias, TenantID: tenant}, nil
}

func (s *Server) handleAPIOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var (
		wdg       *widget.Widget
		persisted bool
		alias     = req.Bundle
	)
	if req.WidgetID != "" {
		rec, err := s.store.GetWidget(req.WidgetID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		wdg, persisted, alias = rec.Widget, true, rec.BundleAlias
	} else {
		kind, err := widget.ParseKind(req.Kind)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if wdg, err = widget.Blank(kind); err != nil {
			s.writeError(w, err)
			return
		}
		wdg.Name = req.Name
	}

	bundle, err := s.policyBundle(alias)
	if err != nil {
		s.writeError(w, err)
		return
	}
	readOnly := policy.IsReadOnly(s.userFrom(r), bundle)

	entry, err := s.openSession(wdg, persisted, alias, readOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSession(w, http.StatusCreated, entry)
}

func (s *Server) openSession(wdg *widget.Widget, persisted bool, alias string, readOnly bool) (*sessionEntry, error) {
	draft, err := widget.NewDraft(wdg, persisted)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := s.logger.With("component", "editor", "session", id)
	entry := &sessionEntry{
		id:       id,
		alias:    alias,
		readOnly: readOnly,
		inbox:    editor.NewInbox(logger),
		markers:  editor.NewMarkerSet(),
		logger:   logger,
		done:     make(chan struct{}),
	}

	var surface editor.Surface
	if s.previewMode == PreviewRemote {
		entry.remote = newRemoteSurface(entry.inbox, logger)
		surface = entry.remote
	} else {
		surface = preview.NewRuntime(entry.inbox, logger, s.scriptTimeout)
	}

	sinks := []editor.Notifier{editor.NewLogNotifier(logger), &hubNotifier{hub: s.hub, session: id}}
	if s.sessionNotifier != nil {
		sinks = append(sinks, s.sessionNotifier(id))
	}

	entry.session = editor.NewSession(draft, entry.inbox, surface, s.store.InBundle(alias), logger,
		editor.Config{CommitDelay: s.commitDelay, ReadOnly: readOnly},
		editor.WithNotifier(editor.Notifiers(sinks...)),
		editor.WithScriptSurface(entry.markers),
	)

	if s.workspace != nil {
		if err := s.attachWorkspace(entry, wdg.Name); err != nil {
			entry.session.Dispose()
			return nil, err
		}
	}

	s.wg.Add(1)
	go s.forwardErrors(entry)

	s.mu.Lock()
	s.sessions[id] = entry
	s.mu.Unlock()
	s.hub.Publish(sessionEvent{Type: EventSessionOpened, Session: id})

	logger.Info("session opened", "widget", wdg.ID, "kind", wdg.Type, "read_only", readOnly, "preview", s.previewMode)
	return entry, nil
}

func (s *Server) attachWorkspace(entry *sessionEntry, name string) error {
	folder, err := s.workspace.Open(name)
	if err != nil {
		return fmt.Errorf("open workspace folder: %w", err)
	}
	entry.folder = folder
	s.exportWorkspace(entry)

	watcher, err := workspace.Watch(folder, func(field widget.Field, text string) {
		changed, err := entry.session.SetField(field, text)
		if err != nil {
			entry.logger.Warn("apply workspace edit", "field", field, "err", err)
			return
		}
		if changed {
			s.hub.Publish(sessionEvent{Type: EventSessionUpdated, Session: entry.id})
		}
	}, entry.logger)
	if err != nil {
		return fmt.Errorf("watch workspace folder: %w", err)
	}
	entry.watcher = watcher
	return nil
}

func (s *Server) exportWorkspace(entry *sessionEntry) {
	if entry.folder == nil {
		return
	}
	v, err := entry.session.View()
	if err != nil {
		return
	}
	if err := entry.folder.Write(v.Widget); err != nil {
		entry.logger.Warn("export workspace", "err", err)
	}
}

// forwardErrors pushes commit failures of entry to /ws clients.
func (s *Server) forwardErrors(entry *sessionEntry) {
	defer s.wg.Done()
	for {
		select {
		case err := <-entry.session.Errors():
			s.hub.Publish(sessionEvent{Type: EventCommitFailed, Session: entry.id, Error: err.Error()})
		case <-entry.done:
			return
		}
	}
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) *sessionEntry {
	id := r.PathValue("id")
	s.mu.Lock()
	entry := s.sessions[id]
	s.mu.Unlock()
	if entry == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return entry
}

// changed re-exports the workspace and tells /ws clients about an edit.
func (s *Server) changed(entry *sessionEntry) {
	s.exportWorkspace(entry)
	s.hub.Publish(sessionEvent{Type: EventSessionUpdated, Session: entry.id})
}

type sessionResponse struct {
	ID string `json:"id"`
	editor.View
	Markers     []editor.Range      `json:"markers"`
	Annotations []editor.Annotation `json:"annotations"`
	Workspace   string              `json:"workspace,omitempty"`
}

func (s *Server) writeSession(w http.ResponseWriter, status int, entry *sessionEntry) {
	v, err := entry.session.View()
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := sessionResponse{
		ID:          entry.id,
		View:        v,
		Markers:     entry.markers.Markers(),
		Annotations: entry.markers.Annotations(),
	}
	if entry.folder != nil {
		resp.Workspace = entry.folder.Path
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleAPIGetSession(w http.ResponseWriter, r *http.Request) {
	if entry := s.lookupSession(w, r); entry != nil {
		s.writeSession(w, http.StatusOK, entry)
	}
}

func (s *Server) handleAPICloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	entry := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if entry == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	entry.close()
	if entry.folder != nil {
		if err := s.workspace.Remove(entry.folder.Name); err != nil {
			entry.logger.Warn("remove workspace folder", "err", err)
		}
	}
	s.hub.Publish(sessionEvent{Type: EventSessionClosed, Session: id})
	entry.logger.Info("session closed")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setFieldRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleAPISetField(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	field, err := widget.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req setFieldRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	changed, err := entry.session.SetField(field, req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if changed {
		s.changed(entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

type setNameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPISetName(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	var req setNameRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	changed, err := entry.session.SetName(req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if changed {
		s.changed(entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

type setKindRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleAPISetKind(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	var req setKindRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	kind, err := widget.ParseKind(req.Kind)
	if err == nil {
		err = entry.session.SetKind(kind)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.changed(entry)
	s.writeSession(w, http.StatusOK, entry)
}

type resourceRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAPIAddResource(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	var req resourceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := entry.session.AddResource(req.URL); err != nil {
		s.writeError(w, err)
		return
	}
	s.changed(entry)
	s.writeSession(w, http.StatusCreated, entry)
}

func resourceIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid resource index %q", r.PathValue("index"))
	}
	return i, nil
}

func (s *Server) handleAPISetResource(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	i, err := resourceIndex(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req resourceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	changed, err := entry.session.SetResource(i, req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if changed {
		s.changed(entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) handleAPIRemoveResource(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	i, err := resourceIndex(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	removed, err := entry.session.RemoveResource(i)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !removed {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "resource not found"})
		return
	}
	s.changed(entry)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIApply(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, (*editor.Session).Apply, false)
}

func (s *Server) handleAPIUndo(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, (*editor.Session).Undo, true)
}

func (s *Server) handleAPISave(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, (*editor.Session).Save, false)
}

// runCommand runs a body-less session command and replies with the view.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd func(*editor.Session) error, export bool) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	if err := cmd(entry.session); err != nil {
		s.writeError(w, err)
		return
	}
	if export {
		s.changed(entry)
	}
	s.writeSession(w, http.StatusAccepted, entry)
}

type saveAsRequest struct {
	Name   string `json:"name"`
	Bundle string `json:"bundle"`
}

// saveAsTarget picks the bundle a save-as copy is filed in. An explicit
// bundle must be editable by u. Without one the copy stays in the session's
// bundle, unless that bundle is read-only for the session, in which case the
// copy is not filed in any bundle.
func (s *Server) saveAsTarget(u policy.User, entry *sessionEntry, alias string) (string, error) {
	if alias == "" {
		if entry.readOnly {
			return "", nil
		}
		return entry.alias, nil
	}
	bundle, err := s.policyBundle(alias)
	if err != nil {
		return "", err
	}
	if policy.IsReadOnly(u, bundle) {
		return "", fmt.Errorf("bundle %q: %w", alias, editor.ErrReadOnly)
	}
	return alias, nil
}

func (s *Server) handleAPISaveAs(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	var req saveAsRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	alias, err := s.saveAsTarget(s.userFrom(r), entry, req.Bundle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := entry.session.SaveAsTo(req.Name, s.store.InBundle(alias)); err != nil {
		s.writeError(w, err)
		return
	}
	entry.logger.Info("save-as requested", "bundle", alias)
	if req.Name != "" {
		s.changed(entry)
	}
	s.writeSession(w, http.StatusAccepted, entry)
}

// handleAPIPostMessage injects a raw inbound envelope, as a preview surface
// would post it.
func (s *Server) handleAPIPostMessage(w http.ResponseWriter, r *http.Request) {
	entry := s.lookupSession(w, r)
	if entry == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	entry.inbox.Post(string(payload))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
