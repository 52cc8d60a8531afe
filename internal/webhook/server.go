package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/engine"
	"github.com/vanutp/foxbuild/internal/fxerrors"
	"github.com/vanutp/foxbuild/internal/ghapp"
	"github.com/vanutp/foxbuild/pkg/logger"
)

// Server is the standalone-mode HTTP server: a POST /webhook route that
// turns GitHub check events into engine runs, plus a GET /healthz probe.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	logger     *logger.Logger
}

// NewServer builds a Server wired to deps, listening on cfg.Host:cfg.Port.
func NewServer(cfg *config.Config, deps *engine.Deps, app *ghapp.Client, log *logger.Logger) *Server {
	s := &Server{logger: log}
	handler := NewHandler(app, cfg.GHAppID, deps, cfg, log)
	s.router = s.setupRouter(handler, log)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

func (s *Server) setupRouter(handler *Handler, log *logger.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(log.Logger))
	r.Use(recovery(log.Logger))

	r.Post("/webhook", handler.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// Router exposes the underlying router for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down webhook server")
	return s.httpServer.Shutdown(ctx)
}

// tempCheckoutDir creates a fresh, empty directory under runsDir for one
// standalone-mode run.
func tempCheckoutDir(runsDir, runID string) (string, error) {
	dir := filepath.Join(runsDir, fmt.Sprintf("%s-%s", runID, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fxerrors.Internal(err, "creating run directory")
	}
	return dir, nil
}

// readFoxfile reads foxfile.yml from repoRoot.
func readFoxfile(repoRoot string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(repoRoot, "foxfile.yml"))
	if err != nil {
		return nil, fxerrors.Wrap(err, fxerrors.CodeConfiguration, "foxfile.yml not found")
	}
	return data, nil
}
