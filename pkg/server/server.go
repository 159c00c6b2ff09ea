// Package server exposes the coordination aggregate over HTTP/JSON.
//
// Reads go straight to the aggregate's query methods. Writes run a
// command (or apply a raw event), then call the persist hook so the
// store sees events in sequence order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/threadmill/pkg/coord"
)

// Settings configures the HTTP listener.
type Settings struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

// DefaultSettings listens on localhost:7420.
func DefaultSettings() Settings {
	return Settings{
		Addr:         "127.0.0.1:7420",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Server serves one aggregate.
type Server struct {
	agg      *coord.Aggregate
	settings Settings
	logger   *zap.Logger
	persist  func() error

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPersist sets the hook called after every successful write. A
// failing hook turns the response into a 500; the write itself stays
// applied in memory.
func WithPersist(fn func() error) Option {
	return func(s *Server) {
		s.persist = fn
	}
}

// New returns a server for agg.
func New(agg *coord.Aggregate, settings Settings, opts ...Option) *Server {
	if settings.MaxBodyBytes <= 0 {
		settings.MaxBodyBytes = DefaultSettings().MaxBodyBytes
	}
	s := &Server{agg: agg, settings: settings, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /threads", s.handleThreads)
	mux.HandleFunc("GET /threads/available", s.handleAvailable)
	mux.HandleFunc("GET /threads/{id}", s.handleThread)
	mux.HandleFunc("POST /threads/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /threads/{id}/release", s.handleRelease)
	mux.HandleFunc("GET /events", s.handleListEvents)
	mux.HandleFunc("POST /events", s.handlePostEvent)
	mux.HandleFunc("GET /escalations", s.handleEscalations)
	mux.HandleFunc("GET /dispatch", s.handleDispatch)
	return s.logRequests(mux)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server: already started")
	}
	ln, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.settings.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.listener, s.server = ln, srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown stops accepting connections and waits for in-flight
// requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil
	return err
}

// Run serves until ctx is done, then shuts down within grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
