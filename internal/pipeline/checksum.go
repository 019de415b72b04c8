package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/liveforge/liveforge/internal/checksum"
)

// sharedArchDir holds payload common to all architecture variants.
const sharedArchDir = "any"

// runChecksum regenerates the per-architecture manifests, but only for
// variants whose payload changed since the manifest was written.
func (r *Runner) runChecksum(logger *slog.Logger) error {
	installPath := r.Config.InstallPath()

	entries, err := os.ReadDir(installPath)
	if err != nil {
		return fmt.Errorf("read install path %s (run prepare first): %w", installPath, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == sharedArchDir {
			continue
		}
		arch := entry.Name()
		manifest := filepath.Join(installPath, "checksum."+arch+".md5")

		stale, err := r.Fresh.IsStale(filepath.Join(installPath, arch), manifest)
		if err != nil {
			return fmt.Errorf("staleness check for %s: %w", arch, err)
		}
		if !stale {
			if _, err := os.Stat(filepath.Join(installPath, sharedArchDir)); err == nil {
				stale, err = r.Fresh.IsStale(filepath.Join(installPath, sharedArchDir), manifest)
				if err != nil {
					return fmt.Errorf("staleness check for shared payload: %w", err)
				}
			}
		}

		if !stale {
			logger.Info("checksum manifest up to date", "arch", arch)
			continue
		}

		if err := checksum.WriteTreeManifest(manifest, installPath, arch, sharedArchDir); err != nil {
			return fmt.Errorf("write checksum manifest for %s: %w", arch, err)
		}
		logger.Info("checksum manifest written", "arch", arch, "manifest", manifest)
	}
	return nil
}
