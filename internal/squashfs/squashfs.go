// Package squashfs wraps the filesystem-image tools that turn the staging
// root tree into a compressed read-only image.
package squashfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/liveforge/liveforge/internal/logging"
)

// Tool is the filesystem-image collaborator consumed by the pipeline.
type Tool interface {
	// Squash compresses a directory tree or a block-image file into a
	// squash filesystem at dest using the named compressor.
	Squash(ctx context.Context, source, dest, compression string) error
	// MakeBlockImage creates an ext4 block image of the given size.
	MakeBlockImage(ctx context.Context, path string, size int64) error
}

// MkSquashfs is the exec-backed Tool using mksquashfs and mkfs.ext4.
type MkSquashfs struct {
	Logger *slog.Logger

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewTool constructs a Tool shelling out to the system image tools.
func NewTool(logger *slog.Logger) *MkSquashfs {
	return &MkSquashfs{
		Logger: logging.Ensure(logger).With("component", "squashfs"),
		run:    runCommand,
	}
}

func (t *MkSquashfs) Squash(ctx context.Context, source, dest, compression string) error {
	t.Logger.Info("creating squash filesystem", "source", source, "dest", dest, "compression", compression)

	args := []string{source, dest, "-noappend", "-comp", compression}
	if out, err := t.run(ctx, "mksquashfs", args...); err != nil {
		return fmt.Errorf("mksquashfs %s: %w: %s", source, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *MkSquashfs) MakeBlockImage(ctx context.Context, path string, size int64) error {
	t.Logger.Info("allocating block image", "path", path, "size_mib", size/(1<<20))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create block image %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("size block image %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("finalize block image %s: %w", path, err)
	}

	if out, err := t.run(ctx, "mkfs.ext4", "-q", "-F", "-m", "0", path); err != nil {
		return fmt.Errorf("mkfs.ext4 %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
