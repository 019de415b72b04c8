package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/liveforge/liveforge/internal/checksum"
	"github.com/liveforge/liveforge/internal/config"
	"github.com/liveforge/liveforge/internal/mount"
	"github.com/liveforge/liveforge/internal/squashfs"
)

// timestampReference always exists in a bootstrapped tree and only changes
// when package content changes.
const timestampReference = "etc/passwd"

// pinnedFiles are rewritten on every bootstrap even when package content
// is identical; their timestamps are pinned before compression so
// unchanged input squashes to byte-identical output.
var pinnedFiles = []string{"etc/machine-id", "etc/ld.so.cache"}

// blockImageHeadroom pads the img-mode filesystem beyond the tree size so
// metadata and the copy both fit.
const blockImageHeadroom = 64 << 20

// runPrepare cleans the root tree, compresses it into the install path and
// writes the self-test manifest. Any failure aborts the whole stage;
// partially written output is left in place for the next run to replace.
func (r *Runner) runPrepare(ctx context.Context, logger *slog.Logger) error {
	cfg := r.Config

	if _, err := os.Stat(cfg.RootDir()); err != nil {
		return fmt.Errorf("root tree %s not found (run init first): %w", cfg.RootDir(), err)
	}

	if err := r.cleanRootTree(logger); err != nil {
		return fmt.Errorf("clean root tree: %w", err)
	}

	imagePath, err := r.buildRootImage(ctx, logger)
	if err != nil {
		return fmt.Errorf("build root image: %w", err)
	}

	manifest := filepath.Join(cfg.InstallPath(), config.RootImageName+".md5")
	if err := checksum.WriteFileManifest(imagePath, manifest); err != nil {
		return fmt.Errorf("write self-test manifest: %w", err)
	}
	logger.Info("root image prepared", "image", imagePath, "manifest", manifest)
	return nil
}

// cleanRootTree strips transient content that has no business inside a
// read-only live image.
func (r *Runner) cleanRootTree(logger *slog.Logger) error {
	root := r.Config.RootDir()

	globs := []string{
		filepath.Join(root, "boot", "*.img"),
		filepath.Join(root, "boot", "vmlinuz*"),
		filepath.Join(root, "etc", "*.pacnew"),
		filepath.Join(root, "etc", "*.pacorig"),
		filepath.Join(root, "etc", "*.pacsave"),
	}
	for _, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return err
		}
		for _, match := range matches {
			if err := os.RemoveAll(match); err != nil {
				return err
			}
		}
	}

	clear := []string{
		filepath.Join(root, "var", "lib", "pacman", "sync"),
		filepath.Join(root, "var", "log"),
		filepath.Join(root, "var", "tmp"),
		filepath.Join(root, "tmp"),
		filepath.Join(root, "usr", "share", "doc"),
		filepath.Join(root, "usr", "share", "man"),
		filepath.Join(root, "usr", "share", "info"),
	}
	if !r.Config.KeepPacmanCache {
		clear = append(clear, filepath.Join(root, "var", "cache", "pacman", "pkg"))
	}
	for _, dir := range clear {
		if err := clearDir(dir); err != nil {
			return err
		}
	}

	logger.Info("root tree cleaned", "root", root, "kept_pacman_cache", r.Config.KeepPacmanCache)
	return nil
}

// buildRootImage compresses the root tree and returns the image path.
func (r *Runner) buildRootImage(ctx context.Context, logger *slog.Logger) (string, error) {
	cfg := r.Config
	root := cfg.RootDir()

	if err := os.MkdirAll(cfg.InstallPath(), 0o755); err != nil {
		return "", fmt.Errorf("create install path %s: %w", cfg.InstallPath(), err)
	}
	dest := filepath.Join(cfg.InstallPath(), config.RootImageName+".sfs")

	switch cfg.SquashMode {
	case config.SquashModeSFS:
		if err := squashfs.PinTimestamps(root, timestampReference, pinnedFiles...); err != nil {
			return "", err
		}
		if err := r.Squash.Squash(ctx, root, dest, cfg.Compression); err != nil {
			return "", err
		}

	case config.SquashModeImg:
		size, err := squashfs.TreeSize(root)
		if err != nil {
			return "", fmt.Errorf("size root tree: %w", err)
		}
		size = size + size/10 + blockImageHeadroom

		blockImage := filepath.Join(cfg.WorkDir, config.RootImageName+".img")
		if err := r.Squash.MakeBlockImage(ctx, blockImage, size); err != nil {
			return "", err
		}

		if err := r.fillBlockImage(ctx, logger, blockImage, root); err != nil {
			return "", err
		}

		if err := r.Squash.Squash(ctx, blockImage, dest, cfg.Compression); err != nil {
			return "", err
		}

	default:
		return "", fmt.Errorf("unknown squash mode %q", cfg.SquashMode)
	}

	return dest, nil
}

// fillBlockImage loop-mounts the block image and copies the root tree in.
// The mount is guard-owned, so an interruption mid-copy still detaches it.
func (r *Runner) fillBlockImage(ctx context.Context, logger *slog.Logger, blockImage, root string) error {
	point := mount.ScratchPoint(r.Config.WorkDir)

	m, err := r.Guard.Acquire(ctx, blockImage, point, "-o", "loop")
	if err != nil {
		return err
	}

	logger.Info("copying root tree into block image", "point", point)
	copyErr := squashfs.CopyTree(root, point)
	releaseErr := r.Guard.Release(ctx, m)
	if copyErr != nil {
		return errors.Join(fmt.Errorf("copy root tree: %w", copyErr), releaseErr)
	}
	return releaseErr
}

// clearDir removes the contents of dir, keeping the directory itself.
// A missing dir is fine.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
