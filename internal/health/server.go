// Package health serves liveness, status and metrics endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"rumblebot/internal/bus"
	"rumblebot/internal/history"
)

// StatsSource reports upload history counts.
type StatsSource interface {
	Stats(ctx context.Context) (history.Stats, error)
}

// MetricsWriter renders metrics in the Prometheus text format.
type MetricsWriter interface {
	WriteTo(w io.Writer) (int64, error)
}

type Config struct {
	Host    string
	Port    int
	Version string
	Metrics MetricsWriter         // optional
	Events  *bus.EventBus         // optional, source of last activity
	Stats   StatsSource           // optional
	Summary func() map[string]any // optional, configuration with secrets masked
	Pending func() int            // optional, parked requests
	Logger  *slog.Logger
}

// Server is the HTTP health endpoint.
type Server struct {
	cfg     Config
	echo    *echo.Echo
	started time.Time
	logger  *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		cfg:     cfg,
		echo:    e,
		started: time.Now(),
		logger:  cfg.Logger.With("component", "health"),
	}
	e.GET("/health", s.handleHealth)
	e.GET("/status", s.handleStatus)
	e.GET("/metrics", s.handleMetrics)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("health server started", "addr", "http://"+addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}

func (s *Server) uptime() int64 {
	return int64(time.Since(s.started).Seconds())
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": s.uptime(),
		"version":        s.cfg.Version,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": s.uptime(),
		"version":        s.cfg.Version,
	}
	if s.cfg.Events != nil {
		if ev, ok := s.cfg.Events.Last(); ok {
			body["last_activity"] = map[string]any{
				"type":    ev.Type,
				"request": ev.RequestID,
				"at":      ev.Timestamp.UTC().Format(time.RFC3339),
			}
		}
	}
	if s.cfg.Pending != nil {
		body["pending_choices"] = s.cfg.Pending()
	}
	if s.cfg.Summary != nil {
		body["config"] = s.cfg.Summary()
	}
	if s.cfg.Stats != nil {
		st, err := s.cfg.Stats.Stats(c.Request().Context())
		if err != nil {
			s.logger.Warn("history stats failed", "err", err)
			body["history"] = map[string]any{"error": "unavailable"}
		} else {
			h := map[string]any{"total": st.Total, "by_status": st.ByStatus}
			if !st.LastAt.IsZero() {
				h["last_at"] = st.LastAt.UTC().Format(time.RFC3339)
			}
			body["history"] = h
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleMetrics(c echo.Context) error {
	if s.cfg.Metrics == nil {
		return c.String(http.StatusNotFound, "metrics disabled\n")
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	_, err := s.cfg.Metrics.WriteTo(c.Response())
	return err
}
