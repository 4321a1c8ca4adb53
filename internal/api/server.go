// Package api exposes the live session over HTTP: identity, tanks, threshold
// profile, history, latest reading and archived days, plus a websocket feed
// of history views.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"aquawatch/internal/blob"
	"aquawatch/internal/core"
	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

// Archive is the read side of the daily archive; *archive.Archiver
// satisfies it.
type Archive interface {
	Open(ctx context.Context, owner, tankID string, day time.Time) (io.ReadCloser, error)
	List(ctx context.Context, owner, tankID string) ([]blob.Info, error)
}

// Server routes requests to a session.
type Server struct {
	session  *core.Session
	archive  Archive
	metrics  http.Handler
	logger   observability.Logger
	access   io.Writer
	now      func() time.Time
	location *time.Location
}

// Option configures a Server.
type Option func(*Server)

// WithArchive enables the archive routes.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the structured logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAccessLog writes Apache style access logs to w.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) { s.access = w }
}

// WithClock overrides the clock used for history windows.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone archive days are parsed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.location = loc
		}
	}
}

// New returns a server for session.
func New(session *core.Session, opts ...Option) *Server {
	s := &Server{
		session:  session,
		logger:   observability.NopLogger(),
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/session", s.getSession).Methods(http.MethodGet)
	v1.HandleFunc("/session", s.login).Methods(http.MethodPost)
	v1.HandleFunc("/session", s.logout).Methods(http.MethodDelete)
	v1.HandleFunc("/tanks", s.listTanks).Methods(http.MethodGet)
	v1.HandleFunc("/tanks", s.createTank).Methods(http.MethodPost)
	v1.HandleFunc("/tanks/selected", s.selectTank).Methods(http.MethodPut)
	v1.HandleFunc("/profile", s.getProfile).Methods(http.MethodGet)
	v1.HandleFunc("/profile", s.putProfile).Methods(http.MethodPut)
	v1.HandleFunc("/history", s.history).Methods(http.MethodGet)
	v1.HandleFunc("/latest", s.latest).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.status).Methods(http.MethodGet)
	v1.HandleFunc("/buffer", s.buffer).Methods(http.MethodGet)
	v1.HandleFunc("/buffer/flush", s.flush).Methods(http.MethodPost)
	v1.HandleFunc("/ws/history", s.historySocket).Methods(http.MethodGet)
	if s.archive != nil {
		v1.HandleFunc("/archive/{tank}", s.listArchive).Methods(http.MethodGet)
		v1.HandleFunc("/archive/{tank}/{day}", s.getArchive).Methods(http.MethodGet)
	}
	return r
}

// Handler wraps the router with panic recovery and, when configured,
// access logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	if s.access != nil {
		h = handlers.LoggingHandler(s.access, h)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr domain.ValidationError
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}
	switch {
	case errors.Is(err, domain.ErrInvalidSelection):
		status = http.StatusConflict
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		body.Field = verr.Field
	case errors.Is(err, domain.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, blob.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("http_request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
