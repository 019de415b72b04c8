package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"
)

type fakeMounter struct {
	mu          sync.Mutex
	mounted     []string
	unmounted   []string
	forced      []string
	failPlain   bool
	failForced  bool
	failMount   bool
	mountSeen   []string
	optionsSeen [][]string
}

func (f *fakeMounter) Mount(_ context.Context, source, target string, options []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMount {
		return errors.New("device busy")
	}
	f.mounted = append(f.mounted, target)
	f.mountSeen = append(f.mountSeen, source)
	f.optionsSeen = append(f.optionsSeen, options)
	return nil
}

func (f *fakeMounter) Unmount(_ context.Context, target string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if force {
		if f.failForced {
			return errors.New("still busy")
		}
		f.forced = append(f.forced, target)
		return nil
	}
	if f.failPlain {
		return errors.New("target is busy")
	}
	f.unmounted = append(f.unmounted, target)
	return nil
}

func newTestGuard(t *testing.T, mounter Mounter) *Guard {
	t.Helper()
	g := NewGuard(nil, mounter)
	g.exit = func(int) {}
	t.Cleanup(g.Close)
	return g
}

func touchSource(t *testing.T) string {
	t.Helper()
	source := filepath.Join(t.TempDir(), "root.img")
	if err := os.WriteFile(source, []byte("img"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return source
}

func TestAcquireMissingSource(t *testing.T) {
	t.Parallel()

	g := newTestGuard(t, &fakeMounter{})
	_, err := g.Acquire(context.Background(), filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "mnt"))

	var mountErr *MountError
	if !errors.As(err, &mountErr) || mountErr.Kind != NotFound {
		t.Fatalf("Acquire() error = %v, want MountError{NotFound}", err)
	}
}

func TestAcquireMountFailure(t *testing.T) {
	t.Parallel()

	g := newTestGuard(t, &fakeMounter{failMount: true})
	_, err := g.Acquire(context.Background(), touchSource(t), filepath.Join(t.TempDir(), "mnt"))

	var mountErr *MountError
	if !errors.As(err, &mountErr) || mountErr.Kind != MountFailed {
		t.Fatalf("Acquire() error = %v, want MountError{MountFailed}", err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()

	mounter := &fakeMounter{}
	g := newTestGuard(t, mounter)
	point := filepath.Join(t.TempDir(), "mnt")

	m, err := g.Acquire(context.Background(), touchSource(t), point, "-o", "loop")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := os.Stat(point); err != nil {
		t.Fatalf("mount point not created: %v", err)
	}
	if len(mounter.optionsSeen) != 1 || len(mounter.optionsSeen[0]) != 2 {
		t.Fatalf("options not passed through: %v", mounter.optionsSeen)
	}

	if err := g.Release(context.Background(), m); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if len(mounter.unmounted) != 1 || mounter.unmounted[0] != point {
		t.Fatalf("unmounted = %v, want [%s]", mounter.unmounted, point)
	}
	if _, err := os.Stat(point); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("mount point not removed: %v", err)
	}

	// A second release is a no-op.
	if err := g.Release(context.Background(), m); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if len(mounter.unmounted) != 1 {
		t.Fatalf("release ran twice: %v", mounter.unmounted)
	}
}

func TestAcquireRejectsBusyMountPoint(t *testing.T) {
	t.Parallel()

	g := newTestGuard(t, &fakeMounter{})
	point := filepath.Join(t.TempDir(), "mnt")

	if _, err := g.Acquire(context.Background(), touchSource(t), point); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if _, err := g.Acquire(context.Background(), touchSource(t), point); err == nil {
		t.Fatal("second Acquire() on same point succeeded")
	}
}

func TestReleaseFallsBackToLazyDetach(t *testing.T) {
	t.Parallel()

	mounter := &fakeMounter{failPlain: true}
	g := newTestGuard(t, mounter)
	point := filepath.Join(t.TempDir(), "mnt")

	m, err := g.Acquire(context.Background(), touchSource(t), point)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := g.Release(context.Background(), m); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if len(mounter.forced) != 1 {
		t.Fatalf("forced unmounts = %v, want one", mounter.forced)
	}
}

func TestReleaseSurfacesBusyWhenForcedDetachFails(t *testing.T) {
	t.Parallel()

	mounter := &fakeMounter{failPlain: true, failForced: true}
	g := newTestGuard(t, mounter)

	m, err := g.Acquire(context.Background(), touchSource(t), filepath.Join(t.TempDir(), "mnt"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	err = g.Release(context.Background(), m)
	var mountErr *MountError
	if !errors.As(err, &mountErr) || mountErr.Kind != Busy {
		t.Fatalf("Release() error = %v, want MountError{Busy}", err)
	}
}

func TestReleaseAllReverseOrder(t *testing.T) {
	t.Parallel()

	mounter := &fakeMounter{}
	g := newTestGuard(t, mounter)
	base := t.TempDir()

	var points []string
	for i := 0; i < 3; i++ {
		point := filepath.Join(base, fmt.Sprintf("mnt%d", i))
		if _, err := g.Acquire(context.Background(), touchSource(t), point); err != nil {
			t.Fatalf("Acquire(%d) error = %v", i, err)
		}
		points = append(points, point)
	}

	if err := g.ReleaseAll(context.Background()); err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}

	if len(mounter.unmounted) != 3 {
		t.Fatalf("unmounted = %v, want 3 entries", mounter.unmounted)
	}
	for i := range points {
		want := points[len(points)-1-i]
		if mounter.unmounted[i] != want {
			t.Fatalf("unmount order %v, want reverse of %v", mounter.unmounted, points)
		}
	}
}

func TestSignalReleasesHeldMounts(t *testing.T) {
	t.Parallel()

	mounter := &fakeMounter{}
	g := NewGuard(nil, mounter)
	t.Cleanup(g.Close)

	exited := make(chan int, 1)
	g.exit = func(code int) { exited <- code }

	point := filepath.Join(t.TempDir(), "mnt")
	if _, err := g.Acquire(context.Background(), touchSource(t), point); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	g.signals <- syscall.SIGTERM

	select {
	case code := <-exited:
		if code != 130 {
			t.Fatalf("exit code = %d, want 130", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler did not run")
	}

	if len(mounter.unmounted) != 1 || mounter.unmounted[0] != point {
		t.Fatalf("unmounted = %v, want [%s]", mounter.unmounted, point)
	}
	if _, err := os.Stat(point); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("mount point still present after signal cleanup: %v", err)
	}
}

func TestScratchPoint(t *testing.T) {
	t.Parallel()

	a := ScratchPoint("/work")
	b := ScratchPoint("/work")
	if a == b {
		t.Fatalf("ScratchPoint() returned duplicate %q", a)
	}
	if filepath.Dir(a) != "/work" {
		t.Fatalf("ScratchPoint() = %q, want under /work", a)
	}
}
