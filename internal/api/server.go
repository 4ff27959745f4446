package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/randalmurphal/invoicegate/internal/events"
	"github.com/randalmurphal/invoicegate/internal/executor"
)

// Server is the invoicegate API server.
type Server struct {
	addr    string
	mux     *http.ServeMux
	logger  *slog.Logger
	runtime *executor.Runtime

	// Event publisher for the WebSocket stream
	publisher events.Publisher
	wsHandler *WSHandler

	shutdownTimeout time.Duration
}

// Config holds server configuration.
type Config struct {
	Addr      string
	Runtime   *executor.Runtime
	Publisher events.Publisher
	Logger    *slog.Logger
}

// New creates a new API server.
func New(cfg Config) (*Server, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("api server requires a runtime")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NewNopPublisher()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8000"
	}

	s := &Server{
		addr:            addr,
		mux:             http.NewServeMux(),
		logger:          logger,
		runtime:         cfg.Runtime,
		publisher:       pub,
		shutdownTimeout: 10 * time.Second,
	}
	s.wsHandler = NewWSHandler(pub, logger)
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /api/ws", s.wsHandler)

	s.mux.HandleFunc("POST /invoice/submit", s.handleSubmitInvoice)
	s.mux.HandleFunc("GET /human-review/pending", s.handleListPending)
	s.mux.HandleFunc("POST /human-review/decision", s.handleDecision)
	s.mux.HandleFunc("GET /human-review/decision", s.handleDecisionHelp)
	s.mux.HandleFunc("GET /final-results", s.handleFinalResults)
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.recoverMiddleware(s.logMiddleware(s.mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen on %s: %w", s.addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.wsHandler.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws" {
			// The upgrader needs the raw writer.
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", v)
				JSONError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
