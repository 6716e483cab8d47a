// Package health serves liveness and readiness probes over HTTP.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	e       *echo.Echo
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

func NewServer(log *slog.Logger, timeout time.Duration) *Server {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		e:       e,
		log:     log.With(slog.String("component", "health")),
		timeout: timeout,
		checks:  make(map[string]Check),
	}
	e.GET("/healthz", s.live)
	e.GET("/readyz", s.ready)
	return s
}

// AddCheck registers a readiness check. Nil checks are ignored.
func (s *Server) AddCheck(name string, c Check) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Handler is the probe router wrapped with HTTP tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.e, "health")
}

// ListenAndServe serves until ctx is done, then shuts down within the timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("health server started", slog.String("http_addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("health server shutdown failed", slog.Any("err", err))
		return err
	}
	s.log.Info("health server stopped")
	return nil
}

func (s *Server) live(c echo.Context) error {
	return c.JSON(http.StatusOK, Report{Status: "ok"})
}

func (s *Server) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	defer cancel()

	report := s.Run(ctx)
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// Run executes every registered check concurrently.
func (s *Server) Run(ctx context.Context) Report {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := checks[i](ctx); err != nil {
				results[i] = CheckResult{Status: "down", Error: err.Error()}
				return
			}
			results[i] = CheckResult{Status: "ok"}
		}(i)
	}
	wg.Wait()

	report := Report{Status: "ok", Checks: make(map[string]CheckResult, len(names))}
	for i, name := range names {
		report.Checks[name] = results[i]
		if results[i].Status != "ok" {
			report.Status = "down"
			s.log.Warn("readiness check failed", slog.String("check", name), slog.String("err", results[i].Error))
		}
	}
	return report
}
