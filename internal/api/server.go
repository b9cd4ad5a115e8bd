package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/dispatch"
	"github.com/seantiz/voxhub/internal/engine"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	maxBodySize       = 1 << 20 // 1 MB
)

// Process roles, reported by /healthz and used as a metrics label.
const (
	RoleOrchestrator = "orchestrator"
	RoleWorker       = "worker"
)

// Server wraps the chi router and the components one process exposes. An
// orchestrator server carries a registry and master queue; a worker server
// carries an engine.
type Server struct {
	router *chi.Mux
	logger *slog.Logger
	addr   string
	role   string

	registry  *backend.Registry
	queue     *dispatch.Queue
	scheduler *dispatch.Scheduler

	engine *engine.Engine
	stream StreamOptions

	onShutdown []func()
}

func newServer(addr, role string, logger *slog.Logger) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		logger: logger,
		addr:   addr,
		role:   role,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(srv.metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.router.Get("/healthz", srv.handleHealthz)
	srv.router.Handle("/metrics", metricsHandler())

	return srv
}

// NewOrchestratorServer creates the orchestrator's HTTP server: backend
// registration and job submission into the master queue. The scheduler is
// only consulted for health reporting and may be nil.
func NewOrchestratorServer(addr string, reg *backend.Registry, q *dispatch.Queue, sched *dispatch.Scheduler, logger *slog.Logger) *Server {
	srv := newServer(addr, RoleOrchestrator, logger)
	srv.registry = reg
	srv.queue = q
	srv.scheduler = sched

	srv.router.Route("/backends", func(r chi.Router) {
		r.Post("/", srv.handleRegisterBackend)
		r.Get("/", srv.handleListBackends)
	})
	srv.router.Post("/tts", srv.handleSubmitTTS)
	srv.router.Post("/jobs", srv.handleSubmitJob)
	srv.router.Get("/queue", srv.handleMasterQueue)

	return srv
}

// NewWorkerServer creates a worker's HTTP server around its engine.
func NewWorkerServer(addr string, eng *engine.Engine, opts StreamOptions, logger *slog.Logger) *Server {
	srv := newServer(addr, RoleWorker, logger)
	srv.engine = eng
	srv.stream = opts.withDefaults()

	srv.router.Post("/tts", srv.handleEnqueueTTS)
	srv.router.Route("/queue", func(r chi.Router) {
		r.Get("/", srv.handleWorkerQueue)
		r.Delete("/{id}", srv.handleCancel)
	})
	srv.router.Route("/history", func(r chi.Router) {
		r.Get("/", srv.handleHistory)
		r.Get("/{id}", srv.handleHistoryItem)
	})
	srv.router.Get("/stream/{id}", srv.handleStream)

	return srv
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run after the HTTP server has drained.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run starts the HTTP server and blocks until a shutdown signal is received
// or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", ctx.Err().Error())
	case err := <-errCh:
		s.runShutdownHooks()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.runShutdownHooks()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) runShutdownHooks() {
	for _, fn := range s.onShutdown {
		fn()
	}
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
