package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liveforge/liveforge/internal/config"
	"github.com/liveforge/liveforge/internal/logging"
	"github.com/liveforge/liveforge/internal/pipeline"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewText(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildFlags collects the persistent flags shared by every stage command.
type buildFlags struct {
	arch        string
	workDir     string
	outDir      string
	installDir  string
	packages    []string
	pacmanConf  string
	keepCache   bool
	label       string
	publisher   string
	application string
	squashMode  string
	compression string
	runCmd      string
	profilePath string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	defaults := config.Default()

	flags := cmd.PersistentFlags()
	flags.StringVarP(&f.arch, "arch", "a", defaults.Arch, "Target architecture")
	flags.StringVarP(&f.workDir, "workdir", "w", defaults.WorkDir, "Working directory for the staging trees")
	flags.StringVarP(&f.outDir, "outdir", "o", defaults.OutDir, "Directory receiving the final ISO image")
	flags.StringVarP(&f.installDir, "installdir", "D", defaults.InstallDir, "Payload directory name inside the ISO (max 8 lowercase alphanumerics)")
	flags.StringArrayVarP(&f.packages, "package", "p", nil, "Package to install; repeat flag to add more")
	flags.StringVarP(&f.pacmanConf, "pacman-conf", "C", defaults.PacmanConf, "pacman configuration file")
	flags.BoolVar(&f.keepCache, "keep-pacman-cache", false, "Keep the package cache in the root tree during prepare")
	flags.StringVarP(&f.label, "label", "L", defaults.Label, "ISO volume label")
	flags.StringVarP(&f.publisher, "publisher", "P", defaults.Publisher, "ISO publisher string")
	flags.StringVarP(&f.application, "application", "A", defaults.Application, "ISO application string")
	flags.StringVarP(&f.squashMode, "squash-mode", "s", defaults.SquashMode, "Root image mode: sfs or img")
	flags.StringVarP(&f.compression, "compress", "c", defaults.Compression, "squashfs compression algorithm")
	flags.StringVarP(&f.runCmd, "run-cmd", "r", "", "Command executed inside the root tree by the run stage")
	flags.StringVar(&f.profilePath, "profile", "", "Build profile YAML (default: XDG config search)")
}

// resolve builds the immutable configuration: defaults, then profile
// values, with explicit flags winning over both.
func (f *buildFlags) resolve() (*config.Config, error) {
	defaults := config.Default()

	cfg := defaults
	cfg.Arch = f.arch
	cfg.WorkDir = f.workDir
	cfg.OutDir = f.outDir
	cfg.InstallDir = f.installDir
	cfg.Packages = append([]string(nil), f.packages...)
	cfg.PacmanConf = f.pacmanConf
	cfg.KeepPacmanCache = f.keepCache
	cfg.Label = f.label
	cfg.Publisher = f.publisher
	cfg.Application = f.application
	cfg.SquashMode = f.squashMode
	cfg.Compression = f.compression
	cfg.RunCommand = f.runCmd

	var profile *config.Profile
	var err error
	if f.profilePath != "" {
		profile, err = config.LoadProfile(f.profilePath)
	} else {
		profile, err = config.FindProfile()
	}
	if err != nil {
		return nil, err
	}
	profile.Apply(&cfg, &defaults)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	flags := &buildFlags{}
	logLevel := defaultLogLevel

	root := &cobra.Command{
		Use:           "liveforge",
		Short:         "Build bootable live/installation ISO images",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.register(root)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	for _, stage := range pipeline.Stages() {
		root.AddCommand(newStageCommand(logger, flags, stage))
	}
	return root
}

func newStageCommand(logger *slog.Logger, flags *buildFlags, stage pipeline.Stage) *cobra.Command {
	use := stage.String()
	positional := cobra.NoArgs
	short := stageShort(stage)
	if stage == pipeline.StageIso {
		use = "iso <image-name>"
		positional = cobra.ExactArgs(1)
	}

	return &cobra.Command{
		Use:   use,
		Args:  positional,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve()
			if err != nil {
				return err
			}

			runID := uuid.NewString()[:8]
			cmdLogger := logger.With("command", stage.String(), "run_id", runID)
			cmdLogger.Info("configuration resolved",
				"arch", cfg.Arch,
				"workdir", cfg.WorkDir,
				"squash_mode", cfg.SquashMode,
			)

			runner := pipeline.NewRunner(cfg, cmdLogger)
			defer runner.Guard.Close()

			controller := pipeline.NewController(runner)
			if err := controller.Execute(cmd.Context(), stage.String(), args); err != nil {
				var usage *pipeline.UsageError
				if errors.As(err, &usage) {
					fmt.Fprintln(cmd.ErrOrStderr(), cmd.UsageString())
				}
				return err
			}
			return nil
		},
	}
}

func stageShort(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageInit:
		return "Bootstrap the root staging tree (no-op when already initialized)"
	case pipeline.StageInstall:
		return "Install packages into the root tree"
	case pipeline.StageRun:
		return "Run a command inside the root tree"
	case pipeline.StagePrepare:
		return "Clean the root tree and build the compressed root image"
	case pipeline.StageChecksum:
		return "Generate per-architecture checksum manifests"
	case pipeline.StagePkglist:
		return "Write the installed-package manifest"
	case pipeline.StageIso:
		return "Assemble the bootable ISO image"
	default:
		return ""
	}
}
