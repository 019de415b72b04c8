// Package mount provides scoped acquisition of filesystem mounts with
// release guaranteed on explicit request, on termination signals and on
// normal exit. Every acquired mount is covered until it is released,
// regardless of how many are held at once.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/liveforge/liveforge/internal/logging"
)

// Mount represents one active mount owned by a Guard. It is created by
// Acquire and destroyed by Release; ownership is never shared.
type Mount struct {
	Source string
	Point  string

	options []string
}

// Guard tracks active mounts in acquisition order and releases them in
// reverse order. The first acquisition installs a process-wide signal
// handler so an interruption at any point unwinds all held mounts before
// the process exits. Release and exit-time cleanup are exactly-once per
// mount: releasing removes the mount from the guard's coverage.
type Guard struct {
	logger  *slog.Logger
	mounter Mounter
	exit    func(int)

	mu    sync.Mutex
	stack []*Mount

	watchOnce sync.Once
	signals   chan os.Signal
}

// NewGuard constructs a Guard. A nil mounter selects the exec-backed one.
func NewGuard(logger *slog.Logger, mounter Mounter) *Guard {
	if mounter == nil {
		mounter = NewExecMounter()
	}
	return &Guard{
		logger:  logging.Ensure(logger).With("component", "mount"),
		mounter: mounter,
		exit:    os.Exit,
	}
}

// Acquire creates the mount point if absent, mounts source on it and adds
// the mount to the guard's cleanup coverage. Options are passed through to
// the mount tool (e.g. "-o", "loop").
func (g *Guard) Acquire(ctx context.Context, source, point string, options ...string) (*Mount, error) {
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MountError{Kind: NotFound, Path: source, Err: err}
		}
		return nil, &MountError{Kind: MountFailed, Path: source, Err: err}
	}

	g.mu.Lock()
	for _, m := range g.stack {
		if m.Point == point {
			g.mu.Unlock()
			return nil, &MountError{Kind: MountFailed, Path: point, Err: fmt.Errorf("mount point already in use")}
		}
	}
	g.mu.Unlock()

	if err := os.MkdirAll(point, 0o755); err != nil {
		return nil, &MountError{Kind: MountFailed, Path: point, Err: err}
	}

	if err := g.mounter.Mount(ctx, source, point, options); err != nil {
		return nil, &MountError{Kind: MountFailed, Path: point, Err: err}
	}

	m := &Mount{Source: source, Point: point, options: options}

	g.mu.Lock()
	g.stack = append(g.stack, m)
	g.mu.Unlock()

	g.watchOnce.Do(g.watchSignals)

	g.logger.Debug("mount acquired", "source", source, "point", point)
	return m, nil
}

// Release unmounts m, removes its mount-point directory and drops it from
// the guard's coverage so exit-time cleanup will not touch it again.
// Unmounting falls back to forced, lazy detachment when the resource is
// busy; only a failure of that fallback is surfaced.
func (g *Guard) Release(ctx context.Context, m *Mount) error {
	if m == nil {
		return nil
	}

	g.mu.Lock()
	found := false
	for i, held := range g.stack {
		if held == m {
			g.stack = append(g.stack[:i], g.stack[i+1:]...)
			found = true
			break
		}
	}
	g.mu.Unlock()
	if !found {
		// Already released, or released by the signal handler.
		return nil
	}

	g.reportUsage(m.Point)

	if err := g.mounter.Unmount(ctx, m.Point, false); err != nil {
		g.logger.Warn("unmount failed, detaching lazily", "point", m.Point, "error", err)
		if err := g.mounter.Unmount(ctx, m.Point, true); err != nil {
			return &MountError{Kind: Busy, Path: m.Point, Err: err}
		}
	}

	g.reportUsage(filepath.Dir(m.Point))

	if err := os.Remove(m.Point); err != nil && !errors.Is(err, fs.ErrNotExist) {
		g.logger.Warn("mount point not removed", "point", m.Point, "error", err)
	}

	g.logger.Debug("mount released", "source", m.Source, "point", m.Point)
	return nil
}

// ReleaseAll releases every held mount in reverse acquisition order.
func (g *Guard) ReleaseAll(ctx context.Context) error {
	g.mu.Lock()
	held := append([]*Mount(nil), g.stack...)
	g.mu.Unlock()

	var errs error
	for i := len(held) - 1; i >= 0; i-- {
		if err := g.Release(ctx, held[i]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// Close stops signal handling. Held mounts remain held.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signals != nil {
		signal.Stop(g.signals)
	}
}

// ScratchPoint returns a unique mount-point path under base.
func ScratchPoint(base string) string {
	return filepath.Join(base, "mnt-"+uuid.NewString()[:8])
}

func (g *Guard) watchSignals() {
	g.mu.Lock()
	g.signals = make(chan os.Signal, 1)
	g.mu.Unlock()

	signal.Notify(g.signals, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	go func() {
		sig, ok := <-g.signals
		if !ok {
			return
		}
		g.logger.Warn("termination signal received, releasing mounts", "signal", sig.String())
		if err := g.ReleaseAll(context.Background()); err != nil {
			g.logger.Error("cleanup on termination incomplete", "error", err)
		}
		g.exit(130)
	}()
}

// reportUsage logs the capacity of the filesystem at path. Instrumentation
// only; failures are ignored.
func (g *Guard) reportUsage(path string) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return
	}

	blockSize := uint64(stat.Bsize)
	total := stat.Blocks * blockSize
	available := stat.Bavail * blockSize
	used := (stat.Blocks - stat.Bfree) * blockSize

	g.logger.Info("filesystem usage",
		"path", path,
		"total_mib", total/(1<<20),
		"used_mib", used/(1<<20),
		"available_mib", available/(1<<20),
	)
}
