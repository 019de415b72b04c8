package mount

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Mounter performs the actual attach/detach operations. The exec-backed
// implementation is used in production; tests substitute a fake.
type Mounter interface {
	Mount(ctx context.Context, source, target string, options []string) error
	// Unmount detaches target. With force set it uses lazy, forced
	// semantics that tolerate busy resources.
	Unmount(ctx context.Context, target string, force bool) error
}

// ExecMounter shells out to mount(8) and umount(8). Loop mounts of plain
// image files require the tools rather than the raw syscall.
type ExecMounter struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecMounter returns a Mounter backed by the system mount tools.
func NewExecMounter() *ExecMounter {
	return &ExecMounter{run: runCommand}
}

func (m *ExecMounter) Mount(ctx context.Context, source, target string, options []string) error {
	args := append(append([]string(nil), options...), source, target)
	if out, err := m.run(ctx, "mount", args...); err != nil {
		return fmt.Errorf("mount %s on %s: %w: %s", source, target, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *ExecMounter) Unmount(ctx context.Context, target string, force bool) error {
	args := []string{target}
	if force {
		args = []string{"-l", "-f", target}
	}
	if out, err := m.run(ctx, "umount", args...); err != nil {
		return fmt.Errorf("umount %s: %w: %s", target, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
