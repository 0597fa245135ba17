// Package api provides the HTTP server and handlers for LeadPipe.
//
// It exposes the inbound lead webhook plus health and stats endpoints.
// All conversation semantics live behind the gate; the API layer only
// translates HTTP to gate calls and gate outcomes to status codes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/outletmedia/leadpipe/internal/breaker"
	"github.com/outletmedia/leadpipe/internal/cache"
	"github.com/outletmedia/leadpipe/internal/gate"
	"github.com/outletmedia/leadpipe/internal/models"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// ConversationGate is the processing surface the server depends on,
// satisfied by *gate.Gate and by test fakes.
type ConversationGate interface {
	Handle(ctx context.Context, req *models.WebhookRequest) (*gate.Result, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address (host:port).
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server handles HTTP requests for the lead qualification engine.
type Server struct {
	gate     ConversationGate
	breaker  *breaker.Breaker
	dedup    *cache.Cache[struct{}]
	calendar *cache.Cache[[]models.Slot]

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates an API server around the conversation gate. The
// breaker and caches are only read for the stats endpoint.
func NewServer(g ConversationGate, b *breaker.Breaker, dedup *cache.Cache[struct{}], calendar *cache.Cache[[]models.Slot], opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		gate:      g,
		breaker:   b,
		dedup:     dedup,
		calendar:  calendar,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/lead", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("Server.Start: API server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, letting in-flight turns finish.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}
