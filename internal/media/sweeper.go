package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type SweeperConfig struct {
	Dir      string
	MaxAge   time.Duration
	Interval string // Go duration, scheduled as "@every <Interval>"
	Logger   *slog.Logger
}

// Sweeper periodically deletes stale downloads and runs registered hooks
// (such as expiring parked requests) on the same schedule.
type Sweeper struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger

	mu    sync.Mutex
	hooks []func(now time.Time)
}

func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if _, err := time.ParseDuration(cfg.Interval); err != nil {
		return nil, fmt.Errorf("sweep interval %q: %w", cfg.Interval, err)
	}
	s := &Sweeper{
		dir:    cfg.Dir,
		maxAge: cfg.MaxAge,
		cron:   cron.New(),
		logger: cfg.Logger,
	}
	if _, err := s.cron.AddFunc("@every "+cfg.Interval, func() { s.Sweep(time.Now()) }); err != nil {
		return nil, fmt.Errorf("schedule sweeper: %w", err)
	}
	return s, nil
}

// OnSweep registers fn to run on every sweep.
func (s *Sweeper) OnSweep(fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Every schedules fn on its own interval, for jobs that need a finer
// schedule than the file sweep.
func (s *Sweeper) Every(interval string, fn func(now time.Time)) error {
	if _, err := time.ParseDuration(interval); err != nil {
		return fmt.Errorf("interval %q: %w", interval, err)
	}
	if _, err := s.cron.AddFunc("@every "+interval, func() { fn(time.Now()) }); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

// Sweep removes regular files in the directory older than the max age and
// runs the hooks. It returns the number of files removed.
func (s *Sweeper) Sweep(now time.Time) int {
	s.mu.Lock()
	hooks := append([]func(time.Time){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(now)
	}

	if s.maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("sweep: read dir failed", "dir", s.dir, "error", err)
		}
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("sweep: remove failed", "file", path, "error", err)
			continue
		}
		removed++
		s.logger.Info("removed stale download", "file", e.Name(), "age", now.Sub(info.ModTime()).Round(time.Minute))
	}
	return removed
}

// Run starts the schedule and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(time.Now())
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
