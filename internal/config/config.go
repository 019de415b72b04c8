// Package config holds the resolved build parameters for one invocation.
// A Config is assembled once from flags and an optional profile file and is
// never mutated afterwards; stages receive it by reference.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"
)

// SquashModeSFS compresses the root tree directly into a squash filesystem.
// SquashModeImg wraps the tree in an ext4 block image first and compresses
// that, which preserves ownership and special files exactly.
const (
	SquashModeSFS = "sfs"
	SquashModeImg = "img"
)

// RootImageName is the directory under the work dir holding the assembled
// root filesystem, and the base name of the compressed image derived from it.
const RootImageName = "root-image"

// InitMarkerName is the marker file recording that the work dir has been
// bootstrapped. Its presence makes the init stage a no-op.
const InitMarkerName = "liveforge.init"

var (
	installDirPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

	supportedCompressors = []string{"gzip", "lzo", "lz4", "xz", "zstd"}
)

// Config is the immutable set of build parameters shared by all stages.
//
// The work dir and its mount points are exclusively owned by a single
// running process; running two invocations against the same work dir is
// undefined behavior.
type Config struct {
	// Arch names the target CPU architecture (e.g. x86_64).
	Arch string
	// WorkDir is the scratch directory holding the root tree, the ISO
	// staging tree and the init marker.
	WorkDir string
	// OutDir receives the final ISO image.
	OutDir string
	// InstallDir is the directory name inside the ISO that holds the
	// compressed root image. At most 8 lowercase alphanumerics, a limit
	// imposed by the early-boot loaders that resolve it.
	InstallDir string

	// Packages to install into the root tree.
	Packages []string
	// PacmanConf is the pacman configuration used for all package
	// operations against the root tree.
	PacmanConf string
	// KeepPacmanCache skips cleaning the package cache during prepare.
	KeepPacmanCache bool

	// Label, Publisher and Application are recorded in the ISO volume
	// descriptors.
	Label       string
	Publisher   string
	Application string

	// SquashMode selects how the root tree is compressed: SquashModeSFS
	// or SquashModeImg.
	SquashMode string
	// Compression is the squashfs compressor name.
	Compression string

	// RunCommand is the command executed inside the root tree by the run
	// stage.
	RunCommand string
}

// Default returns the baseline configuration before profile and flag
// resolution.
func Default() Config {
	return Config{
		Arch:        hostArch(),
		WorkDir:     "work",
		OutDir:      "out",
		InstallDir:  "live",
		PacmanConf:  "/etc/pacman.conf",
		Label:       "LIVE_" + time.Now().UTC().Format("200601"),
		Publisher:   "liveforge",
		Application: "liveforge live/rescue image",
		SquashMode:  SquashModeSFS,
		Compression: "xz",
	}
}

// Validate reports the first violated constraint, if any.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return fmt.Errorf("work directory is required")
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("output directory is required")
	}
	if !installDirPattern.MatchString(c.InstallDir) {
		return fmt.Errorf("install dir %q must be 1-8 lowercase alphanumeric characters", c.InstallDir)
	}
	if c.SquashMode != SquashModeSFS && c.SquashMode != SquashModeImg {
		return fmt.Errorf("squash mode %q is not one of %q or %q", c.SquashMode, SquashModeSFS, SquashModeImg)
	}
	if !slices.Contains(supportedCompressors, c.Compression) {
		return fmt.Errorf("compression %q is not supported (expected one of %s)",
			c.Compression, strings.Join(supportedCompressors, ", "))
	}
	if strings.TrimSpace(c.Arch) == "" {
		return fmt.Errorf("architecture is required")
	}
	return nil
}

// RootDir is the staging root filesystem tree.
func (c *Config) RootDir() string {
	return filepath.Join(c.WorkDir, RootImageName)
}

// IsoDir is the ISO staging tree.
func (c *Config) IsoDir() string {
	return filepath.Join(c.WorkDir, "iso")
}

// InstallPath is the payload directory inside the ISO staging tree.
func (c *Config) InstallPath() string {
	return filepath.Join(c.IsoDir(), c.InstallDir)
}

// InitMarker is the path of the bootstrap marker file.
func (c *Config) InitMarker() string {
	return filepath.Join(c.WorkDir, InitMarkerName)
}

// TrimmedPackages returns the package list with whitespace-only entries
// removed.
func (c *Config) TrimmedPackages() []string {
	var pkgs []string
	for _, p := range c.Packages {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			pkgs = append(pkgs, trimmed)
		}
	}
	return pkgs
}

func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	default:
		return runtime.GOARCH
	}
}
