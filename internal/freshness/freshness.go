// Package freshness decides whether derived artifacts need regeneration by
// comparing modification times between a source tree and the artifact.
package freshness

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/liveforge/liveforge/internal/logging"
)

// Oracle reports staleness of derived artifacts.
type Oracle struct {
	Logger *slog.Logger
}

// IsStale reports whether target must be regenerated from sourceDir.
//
// A missing target is stale. An existing target is stale when any file
// under sourceDir was modified strictly after it; the stale target is
// deleted so a partial rerun regenerates it. An empty source tree is never
// stale.
func (o Oracle) IsStale(sourceDir, target string) (bool, error) {
	logger := logging.Ensure(o.Logger)

	targetInfo, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("target missing, regeneration required", "target", target)
			return true, nil
		}
		return false, err
	}
	targetTime := targetInfo.ModTime()

	stale := false
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(targetTime) {
			stale = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if stale {
		logger.Info("source newer than target, regeneration required",
			"source", sourceDir, "target", target)
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
