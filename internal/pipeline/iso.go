package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/liveforge/liveforge/internal/isoimage"
)

// runIso packs the staging tree into a bootable ISO at OutDir/name.
func (r *Runner) runIso(ctx context.Context, logger *slog.Logger, name string) error {
	cfg := r.Config

	if strings.TrimSpace(name) == "" {
		return Usagef("iso requires exactly one image name argument")
	}

	isoDir := cfg.IsoDir()
	bootImage := filepath.Join(isoDir, "isolinux", "isolinux.bin")
	hybridMBR := filepath.Join(isoDir, "isolinux", "isohdpfx.bin")
	for _, required := range []string{bootImage, hybridMBR} {
		if _, err := os.Stat(required); err != nil {
			return fmt.Errorf("bootloader file %s is missing; install the syslinux files into the staging tree", required)
		}
	}

	efiBoot := ""
	efiPath := filepath.Join(isoDir, "EFI", cfg.InstallDir, "efiboot.img")
	if _, err := os.Stat(efiPath); err == nil {
		efiBoot = path.Join("EFI", cfg.InstallDir, "efiboot.img")
		logger.Info("including EFI boot entry", "image", efiBoot)
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", cfg.OutDir, err)
	}
	output := filepath.Join(cfg.OutDir, name)

	err := r.Iso.Assemble(ctx, isoimage.Options{
		StagingDir:   isoDir,
		OutputPath:   output,
		Label:        cfg.Label,
		Publisher:    cfg.Publisher,
		Application:  cfg.Application,
		BootImage:    path.Join("isolinux", "isolinux.bin"),
		BootCatalog:  path.Join("isolinux", "boot.cat"),
		HybridMBR:    hybridMBR,
		EFIBootImage: efiBoot,
	})
	if err != nil {
		return fmt.Errorf("assemble iso: %w", err)
	}

	if r.VerifyImage {
		if err := isoimage.Verify(output, cfg.InstallDir, "isolinux"); err != nil {
			return fmt.Errorf("verify iso: %w", err)
		}
	}

	logger.Info("iso image written", "output", output)
	return nil
}
