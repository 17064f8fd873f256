// Package httpapi exposes the saga engine's four HTTP entry points (spec
// §6): execute-step, confirm, outbox-relay, and heartbeat-check. It has no
// teacher precedent in flowgraph (an in-process library with no server),
// so routing is plain stdlib net/http using Go 1.22's method+path mux
// patterns rather than a third-party router.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/confirm"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/config"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/heartbeat"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/outbox"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/trace"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/workflow"
)

// Server wires the engine's internal components into the endpoints spec §6
// requires. It holds no state of its own beyond configuration.
type Server struct {
	machine    *workflow.Machine
	confirms   *confirm.Service
	relay      *outbox.Relay
	heartbeats *heartbeat.Service
	cfg        config.Engine
	logger     *slog.Logger
	spans      trace.SpanManager
}

// Option configures a Server.
type Option func(*Server)

func WithRelay(r *outbox.Relay) Option                 { return func(s *Server) { s.relay = r } }
func WithHeartbeatService(h *heartbeat.Service) Option { return func(s *Server) { s.heartbeats = h } }
func WithLogger(l *slog.Logger) Option                 { return func(s *Server) { s.logger = l } }
func WithSpanManager(m trace.SpanManager) Option       { return func(s *Server) { s.spans = m } }

// New builds a Server. machine and confirms are required; relay and
// heartbeats may be nil if those components aren't deployed on this
// instance, in which case the corresponding endpoint returns 503.
func New(machine *workflow.Machine, confirms *confirm.Service, cfg config.Engine, opts ...Option) *Server {
	s := &Server{
		machine:  machine,
		confirms: confirms,
		cfg:      cfg,
		logger:   slog.Default(),
		spans:    trace.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed http.Handler for the four engine endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /engine/execute-step", s.handleExecuteStep)
	mux.HandleFunc("POST /engine/confirm", s.handleConfirm)
	mux.HandleFunc("POST /engine/outbox-relay", s.handleOutboxRelay)
	mux.HandleFunc("POST /engine/heartbeat-check", s.handleHeartbeatCheck)
	return mux
}
