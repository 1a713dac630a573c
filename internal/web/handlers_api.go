package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"widget-studio/internal/editor"
	"widget-studio/internal/store"
	"widget-studio/internal/widget"
)

func (s *Server) handleAPIListWidgets(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListWidgets()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPIGetWidget(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetWidget(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPIDeleteWidget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteWidget(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("widget deleted", "id", id)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads a JSON request body of at most 1 MiB into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, editor.ErrSavePending), errors.Is(err, editor.ErrUndoDisabled):
		return http.StatusConflict
	case errors.Is(err, editor.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, editor.ErrNameRequired),
		errors.Is(err, widget.ErrInvalidConfig),
		errors.Is(err, widget.ErrUnknownField),
		errors.Is(err, widget.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, editor.ErrDisposed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("api request", "err", err)
		s.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
