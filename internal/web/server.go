package web

import (
	"crypto/subtle"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"

	"widget-studio/internal/editor"
	"widget-studio/internal/policy"
	"widget-studio/internal/store"
	"widget-studio/internal/workspace"
)

//go:embed static/*
var staticFS embed.FS

// Preview modes.
const (
	PreviewLua    = "lua"
	PreviewRemote = "remote"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithWorkspace exports every session to files under mgr and watches them.
func WithWorkspace(mgr *workspace.Manager) ServerOption {
	return func(s *Server) {
		s.workspace = mgr
	}
}

// WithPreview selects the preview surface for new sessions: PreviewLua runs
// the behaviour script in-process, PreviewRemote waits for a browser harness.
func WithPreview(mode string, scriptTimeout time.Duration) ServerOption {
	return func(s *Server) {
		s.previewMode = mode
		s.scriptTimeout = scriptTimeout
	}
}

// WithCommitDelay sets the debounce between preview init and commit.
func WithCommitDelay(d time.Duration) ServerOption {
	return func(s *Server) {
		s.commitDelay = d
	}
}

// WithDefaultAuthority sets the authority of requests without an
// X-Authority header. The default is policy.AnonymousUser, which can only
// view and save copies.
func WithDefaultAuthority(a policy.Authority) ServerOption {
	return func(s *Server) {
		s.defaultAuthority = a
	}
}

// WithSessionNotifier adds a notification sink created per session.
func WithSessionNotifier(fn func(sessionID string) editor.Notifier) ServerOption {
	return func(s *Server) {
		s.sessionNotifier = fn
	}
}

// Server is the HTTP server for the editor API.
type Server struct {
	store            *store.BoltStore
	hub              *sessionHub
	logger           *slog.Logger
	mux              *http.ServeMux
	apiKey           string
	allowedOrigins   []string
	version          string
	workspace        *workspace.Manager
	previewMode      string
	scriptTimeout    time.Duration
	commitDelay      time.Duration
	defaultAuthority policy.Authority
	sessionNotifier  func(sessionID string) editor.Notifier
	previewJS        []byte

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	wg sync.WaitGroup
}

// NewServer creates a new web server.
func NewServer(st *store.BoltStore, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	s := &Server{
		store:            st,
		logger:           logger,
		mux:              http.NewServeMux(),
		previewMode:      PreviewLua,
		defaultAuthority: policy.AnonymousUser,
		sessions:         make(map[string]*sessionEntry),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.previewMode != PreviewLua && s.previewMode != PreviewRemote {
		return nil, fmt.Errorf("unknown preview mode %q", s.previewMode)
	}

	raw, err := staticFS.ReadFile("static/preview.js")
	if err != nil {
		return nil, fmt.Errorf("read preview harness: %w", err)
	}
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)
	s.previewJS, err = m.Bytes("application/javascript", raw)
	if err != nil {
		logger.Warn("minify preview harness, serving original", "err", err)
		s.previewJS = raw
	}

	s.hub = newSessionHub(logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	s.routes()
	return s, nil
}

// Stop disposes all sessions, shuts down the WebSocket hub and waits for
// goroutines.
func (s *Server) Stop() {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for id, e := range s.sessions {
		entries = append(entries, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
	s.hub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Static files
	s.mux.HandleFunc("GET /static/preview.js", s.handlePreviewJS)

	// Stored widgets
	s.mux.HandleFunc("GET /api/widgets", s.handleAPIListWidgets)
	s.mux.HandleFunc("GET /api/widgets/{id}", s.handleAPIGetWidget)
	s.mux.HandleFunc("DELETE /api/widgets/{id}", s.handleAPIDeleteWidget)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Edit sessions
	s.mux.HandleFunc("POST /api/sessions", s.handleAPIOpenSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleAPIGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleAPICloseSession)
	s.mux.HandleFunc("PUT /api/sessions/{id}/fields/{field}", s.handleAPISetField)
	s.mux.HandleFunc("PUT /api/sessions/{id}/name", s.handleAPISetName)
	s.mux.HandleFunc("PUT /api/sessions/{id}/kind", s.handleAPISetKind)
	s.mux.HandleFunc("POST /api/sessions/{id}/resources", s.handleAPIAddResource)
	s.mux.HandleFunc("PUT /api/sessions/{id}/resources/{index}", s.handleAPISetResource)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/resources/{index}", s.handleAPIRemoveResource)
	s.mux.HandleFunc("POST /api/sessions/{id}/apply", s.handleAPIApply)
	s.mux.HandleFunc("POST /api/sessions/{id}/undo", s.handleAPIUndo)
	s.mux.HandleFunc("POST /api/sessions/{id}/save", s.handleAPISave)
	s.mux.HandleFunc("POST /api/sessions/{id}/save-as", s.handleAPISaveAs)
	s.mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleAPIPostMessage)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /ws/preview/{id}", s.handlePreviewWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Authority, X-Tenant-ID")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only /api/ is key-protected: browsers cannot send custom headers
		// on script loads or WS upgrades.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handlePreviewJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	if _, err := w.Write(s.previewJS); err != nil {
		s.logger.Debug("write preview harness", "err", err)
	}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
