// Package pipeline sequences the image-build stages and owns their
// resource lifecycle.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/liveforge/liveforge/internal/chroot"
	"github.com/liveforge/liveforge/internal/config"
	"github.com/liveforge/liveforge/internal/freshness"
	"github.com/liveforge/liveforge/internal/isoimage"
	"github.com/liveforge/liveforge/internal/logging"
	"github.com/liveforge/liveforge/internal/mount"
	"github.com/liveforge/liveforge/internal/pacman"
	"github.com/liveforge/liveforge/internal/squashfs"
)

// bootstrapPackages is the minimal set installed by the init stage.
var bootstrapPackages = []string{"base", "syslinux"}

// Runner executes one pipeline stage against a resolved configuration.
// All collaborators are interfaces so tests substitute stubs.
type Runner struct {
	Config *config.Config
	Logger *slog.Logger

	Guard    *mount.Guard
	Packages pacman.Manager
	Chroot   chroot.Runner
	Squash   squashfs.Tool
	Iso      isoimage.Assembler
	Fresh    freshness.Oracle

	// VerifyImage re-opens the assembled ISO after the iso stage.
	VerifyImage bool
}

// NewRunner wires a Runner with the production collaborators.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	logger = logging.Ensure(logger)
	return &Runner{
		Config:      cfg,
		Logger:      logger,
		Guard:       mount.NewGuard(logger, nil),
		Packages:    pacman.NewCLI(cfg.PacmanConf, logger),
		Chroot:      chroot.New(logger),
		Squash:      squashfs.NewTool(logger),
		Iso:         isoimage.NewXorriso(logger),
		Fresh:       freshness.Oracle{Logger: logger},
		VerifyImage: true,
	}
}

// Run executes exactly one stage to completion or failure.
func (r *Runner) Run(ctx context.Context, stage Stage, args []string) error {
	logger := r.logger().With("stage", stage.String())
	logger.Info("stage starting")

	var err error
	switch stage {
	case StageInit:
		err = r.runInit(ctx, logger)
	case StageInstall:
		err = r.runInstall(ctx, logger)
	case StageRun:
		err = r.runCommand(ctx, logger)
	case StagePrepare:
		err = r.runPrepare(ctx, logger)
	case StageChecksum:
		err = r.runChecksum(logger)
	case StagePkglist:
		err = r.runPkglist(ctx, logger)
	case StageIso:
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		err = r.runIso(ctx, logger, name)
	default:
		err = Usagef("unknown stage %q", stage)
	}

	if err != nil {
		logger.Error("stage failed", "error", err)
		return err
	}
	logger.Info("stage completed")
	return nil
}

// runInit bootstraps the root tree once. The marker file is written only
// after a successful bootstrap, so a failed or interrupted init re-runs
// from scratch.
func (r *Runner) runInit(ctx context.Context, logger *slog.Logger) error {
	cfg := r.Config
	marker := cfg.InitMarker()

	if _, err := os.Stat(marker); err == nil {
		logger.Info("work directory already initialized", "marker", marker)
		return nil
	}

	if err := os.MkdirAll(cfg.RootDir(), 0o755); err != nil {
		return fmt.Errorf("create root tree %s: %w", cfg.RootDir(), err)
	}

	if err := r.Packages.Bootstrap(ctx, cfg.RootDir(), bootstrapPackages); err != nil {
		return fmt.Errorf("bootstrap root tree: %w", err)
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("write init marker %s: %w", marker, err)
	}
	logger.Info("work directory initialized", "root", cfg.RootDir())
	return nil
}

func (r *Runner) runInstall(ctx context.Context, logger *slog.Logger) error {
	cfg := r.Config

	packages := cfg.TrimmedPackages()
	if len(packages) == 0 {
		return Usagef("install requires at least one package (-p)")
	}
	if _, err := os.Stat(cfg.PacmanConf); err != nil {
		return Usagef("pacman configuration %s not found", cfg.PacmanConf)
	}

	logger.Info("installing packages", "count", len(packages))
	if err := r.Packages.Install(ctx, cfg.RootDir(), packages, true); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}
	return nil
}

func (r *Runner) runCommand(ctx context.Context, logger *slog.Logger) error {
	cfg := r.Config

	command := strings.TrimSpace(cfg.RunCommand)
	if command == "" {
		return Usagef("run requires a command (--run-cmd)")
	}

	logger.Info("running operator command", "command", command)
	return r.Chroot.Run(ctx, cfg.RootDir(), command)
}

// runPkglist writes the installed-package manifest. Cheap to regenerate,
// so no staleness gate.
func (r *Runner) runPkglist(ctx context.Context, logger *slog.Logger) error {
	cfg := r.Config

	packages, err := r.Packages.Installed(ctx, cfg.RootDir())
	if err != nil {
		return fmt.Errorf("list installed packages: %w", err)
	}

	if err := os.MkdirAll(cfg.InstallPath(), 0o755); err != nil {
		return fmt.Errorf("create install path %s: %w", cfg.InstallPath(), err)
	}

	var b strings.Builder
	for _, pkg := range packages {
		fmt.Fprintf(&b, "%s/%s\n", pkg.Name, pkg.Version)
	}

	manifest := filepath.Join(cfg.InstallPath(), "pkglist."+cfg.Arch+".txt")
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write package manifest %s: %w", manifest, err)
	}
	logger.Info("package manifest written", "manifest", manifest, "packages", len(packages))
	return nil
}

func (r *Runner) logger() *slog.Logger {
	return logging.Ensure(r.Logger)
}
