// Package daemon runs the bot's long-lived components under a
// single-instance lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const lockName = "rumblebot.lock"

var ErrAlreadyRunning = errors.New("another rumblebot instance is already running")

type component struct {
	name string
	run  func(ctx context.Context) error
}

// Daemon coordinates the components and enforces single-instance execution,
// so two bots never poll the same token.
type Daemon struct {
	lockPath   string
	lock       *flock.Flock
	components []component
	running    atomic.Bool
	logger     *slog.Logger
}

func New(dataDir string, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	lockPath := filepath.Join(dataDir, lockName)
	return &Daemon{
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		logger:   logger.With("component", "daemon"),
	}
}

// Add registers a component. run must return once ctx is done.
func (d *Daemon) Add(name string, run func(ctx context.Context) error) {
	d.components = append(d.components, component{name: name, run: run})
}

func (d *Daemon) LockPath() string { return d.lockPath }

// Running reports whether a daemon currently holds the lock in dataDir.
func Running(dataDir string) (bool, error) {
	path := filepath.Join(dataDir, lockName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = l.Unlock()
		return false, nil
	}
	return true, nil
}

// Run acquires the lock and runs every component until ctx is done or one of
// them fails; a failure stops the others. The lock is released on return.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", "err", err)
		}
	}()
	d.logger.Info("rumblebot daemon started", "lock", d.lockPath, "components", len(d.components))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range d.components {
		g.Go(func() error {
			d.logger.Debug("component starting", "name", c.name)
			if err := c.run(gctx); err != nil {
				d.logger.Error("component failed", "name", c.name, "err", err)
				return fmt.Errorf("%s: %w", c.name, err)
			}
			d.logger.Debug("component stopped", "name", c.name)
			return nil
		})
	}
	err = g.Wait()
	d.logger.Info("rumblebot daemon stopped")
	return err
}
