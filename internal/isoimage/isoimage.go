// Package isoimage assembles the final ISO9660 image and verifies the
// result.
package isoimage

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/liveforge/liveforge/internal/logging"
)

// Options describe one ISO assembly.
type Options struct {
	// StagingDir is the tree packed into the image.
	StagingDir string
	// OutputPath is the image file to write.
	OutputPath string

	Label       string
	Publisher   string
	Application string

	// BootImage and BootCatalog are paths relative to StagingDir for the
	// El Torito BIOS boot entry.
	BootImage   string
	BootCatalog string
	// HybridMBR is the absolute path of the isohybrid MBR template
	// stamped into the image so it also boots from USB media.
	HybridMBR string
	// EFIBootImage, when non-empty, adds an EFI El Torito entry for the
	// named image (relative to StagingDir).
	EFIBootImage string
}

// Assembler is the ISO-creation collaborator consumed by the pipeline.
type Assembler interface {
	Assemble(ctx context.Context, opts Options) error
}

// Xorriso shells out to xorriso in mkisofs emulation mode.
type Xorriso struct {
	Logger *slog.Logger

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewXorriso constructs the exec-backed Assembler.
func NewXorriso(logger *slog.Logger) *Xorriso {
	return &Xorriso{
		Logger: logging.Ensure(logger).With("component", "iso"),
		run:    runCommand,
	}
}

func (x *Xorriso) Assemble(ctx context.Context, opts Options) error {
	args := buildArgs(opts)
	x.Logger.Info("assembling iso image",
		"output", opts.OutputPath,
		"label", opts.Label,
		"efi_boot", opts.EFIBootImage != "",
	)

	if out, err := x.run(ctx, "xorriso", args...); err != nil {
		return fmt.Errorf("xorriso: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func buildArgs(opts Options) []string {
	args := []string{
		"-as", "mkisofs",
		"-iso-level", "3",
		"-full-iso9660-filenames",
		"-volid", opts.Label,
		"-publisher", opts.Publisher,
		"-appid", opts.Application,
		"-eltorito-boot", opts.BootImage,
		"-eltorito-catalog", opts.BootCatalog,
		"-no-emul-boot",
		"-boot-load-size", "4",
		"-boot-info-table",
	}
	if opts.HybridMBR != "" {
		args = append(args, "-isohybrid-mbr", opts.HybridMBR)
	}
	if opts.EFIBootImage != "" {
		args = append(args,
			"-eltorito-alt-boot",
			"-e", opts.EFIBootImage,
			"-no-emul-boot",
			"-isohybrid-gpt-basdat",
		)
	}
	args = append(args, "-output", opts.OutputPath, opts.StagingDir)
	return args
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
