// Package api serves the chat endpoint and its companions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/observe"
	"github.com/harunnryd/chorus/internal/orchestrator"
	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/session"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/store"
	"github.com/harunnryd/chorus/internal/stream"
)

// Error codes carried in non-streaming error bodies.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeMessageLimitReached = "MESSAGE_LIMIT_REACHED"
	CodeQuotaTrackingFailed = "QUOTA_TRACKING_FAILED"
	CodeSessionsUnavailable = "SESSIONS_UNAVAILABLE"
)

const maxRequestBodyBytes = 1 << 20

type Runner interface {
	Run(ctx context.Context, req orchestrator.Request, events chan<- stream.Event) (*orchestrator.Result, error)
}

// Sessions is optional. Without it requests must carry their own history
// and nothing is recorded.
type Sessions interface {
	History(ctx context.Context, sessionID string) ([]contract.Message, error)
	Speaker(ctx context.Context, sessionID string) (speaker.Speaker, error)
	RecordTurn(ctx context.Context, turn session.Turn) error
}

type SessionLister interface {
	ListSessions(ctx context.Context) ([]store.SessionMeta, error)
}

type Options struct {
	BufferSize    int
	FrameTimeout  time.Duration
	PacingPerChar time.Duration
}

// OptionsFrom reads stream tuning from the loaded configuration.
func OptionsFrom(cfg *config.Config) (Options, error) {
	frameTimeout, err := config.DurationOrDefault(cfg.Server.FrameWriteTimeout, config.DefaultServerFrameWriteTimeout)
	if err != nil {
		return Options{}, err
	}
	pacing, err := config.DurationOrDefault(cfg.Stream.PacingPerChar, config.DefaultStreamPacingPerChar)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BufferSize:    cfg.Stream.BufferSize,
		FrameTimeout:  frameTimeout,
		PacingPerChar: pacing,
	}, nil
}

type Server struct {
	gate     *quota.Gate
	runner   Runner
	sessions Sessions
	lister   SessionLister
	metrics  *observe.Metrics
	pacer    *stream.Pacer
	opts     Options
}

type ServerOption func(*Server)

func WithSessions(s Sessions) ServerOption {
	return func(srv *Server) { srv.sessions = s }
}

func WithSessionLister(l SessionLister) ServerOption {
	return func(srv *Server) { srv.lister = l }
}

func WithMetrics(m *observe.Metrics) ServerOption {
	return func(srv *Server) { srv.metrics = m }
}

func NewServer(gate *quota.Gate, runner Runner, opts Options, options ...ServerOption) (*Server, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = config.DefaultStreamBufferSize
	}
	s := &Server{
		gate:   gate,
		runner: runner,
		opts:   opts,
		pacer:  stream.NewPacer(opts.PacingPerChar),
	}
	for _, o := range options {
		o(s)
	}
	if s.metrics == nil {
		m, err := observe.NewMetrics(observe.NewNoopProvider().MeterProvider)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/sessions/{id}/limit", s.handleLimit)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
}

// Handler returns the API routes on their own mux, wrapped.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.Wrap(mux)
}

// Wrap adds trace ids, request metrics and access logging to h.
func (s *Server) Wrap(h http.Handler) http.Handler {
	return observe.Middleware(s.metrics)(h)
}

type errorBody struct {
	Code        string        `json:"code"`
	Error       string        `json:"error,omitempty"`
	LimitStatus *quota.Status `json:"limitStatus,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.gate.Status(r.Context(), id, r.URL.Query().Get("principal"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: CodeQuotaTrackingFailed, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Code: CodeSessionsUnavailable})
		return
	}
	sessions, err := s.lister.ListSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: CodeSessionsUnavailable, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
