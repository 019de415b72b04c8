// Package chroot executes operator commands inside the staging root tree.
package chroot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/liveforge/liveforge/internal/logging"
)

// Runner executes a shell command with the given root tree as /.
type Runner interface {
	Run(ctx context.Context, root, command string) error
}

// ArchChroot shells out to arch-chroot, which handles the API filesystem
// binds (/proc, /sys, /dev) around the chroot call.
type ArchChroot struct {
	Logger *slog.Logger

	run func(ctx context.Context, name string, args ...string) error
}

// New constructs a Runner backed by arch-chroot.
func New(logger *slog.Logger) *ArchChroot {
	return &ArchChroot{
		Logger: logging.Ensure(logger).With("component", "chroot"),
		run:    runInteractive,
	}
}

func (c *ArchChroot) Run(ctx context.Context, root, command string) error {
	c.Logger.Info("running command in root tree", "root", root, "command", command)
	if err := c.run(ctx, "arch-chroot", root, "/bin/sh", "-c", command); err != nil {
		return fmt.Errorf("run %q in %s: %w", command, root, err)
	}
	return nil
}

// runInteractive wires the command to the operator's terminal; run-stage
// commands may be interactive shells.
func runInteractive(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
