// Package pacman wraps the package-manager tools used to populate and
// query the staging root tree.
package pacman

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/liveforge/liveforge/internal/logging"
)

// Package identifies one installed package.
type Package struct {
	Name    string
	Version string
}

// Manager is the package-manager collaborator consumed by the pipeline.
type Manager interface {
	// Bootstrap installs packages into an empty root tree.
	Bootstrap(ctx context.Context, root string, packages []string) error
	// Install installs packages into an existing root tree. With
	// neededOnly set, packages that are already satisfied are skipped.
	Install(ctx context.Context, root string, packages []string, neededOnly bool) error
	// Installed lists the packages currently installed in the root tree.
	Installed(ctx context.Context, root string) ([]Package, error)
}

// CLI is the exec-backed Manager using pacstrap and pacman.
type CLI struct {
	// ConfPath is the pacman configuration passed to every invocation.
	ConfPath string
	Logger   *slog.Logger

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCLI constructs a Manager shelling out to the system tools.
func NewCLI(confPath string, logger *slog.Logger) *CLI {
	return &CLI{
		ConfPath: confPath,
		Logger:   logging.Ensure(logger).With("component", "pacman"),
		run:      runCommand,
	}
}

func (c *CLI) Bootstrap(ctx context.Context, root string, packages []string) error {
	return c.pacstrap(ctx, root, packages, nil)
}

func (c *CLI) Install(ctx context.Context, root string, packages []string, neededOnly bool) error {
	var extra []string
	if neededOnly {
		extra = []string{"--needed"}
	}
	return c.pacstrap(ctx, root, packages, extra)
}

func (c *CLI) Installed(ctx context.Context, root string) ([]Package, error) {
	out, err := c.run(ctx, "pacman", "-Q", "-r", root, "--config", c.ConfPath)
	if err != nil {
		return nil, fmt.Errorf("query installed packages in %s: %w: %s", root, err, strings.TrimSpace(string(out)))
	}

	var packages []Package
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, version, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unexpected pacman -Q line %q", line)
		}
		packages = append(packages, Package{Name: name, Version: version})
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })
	return packages, nil
}

// pacstrap runs with -c (use host cache), -G (skip keyring copy) and
// -M (skip host mirrorlist copy) so the root tree stays self-contained.
func (c *CLI) pacstrap(ctx context.Context, root string, packages, extra []string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages given for %s", root)
	}

	args := []string{"-C", c.ConfPath, "-c", "-G", "-M"}
	args = append(args, extra...)
	args = append(args, root)
	args = append(args, packages...)

	c.Logger.Info("installing packages", "root", root, "packages", strings.Join(packages, " "))
	if out, err := c.run(ctx, "pacstrap", args...); err != nil {
		return fmt.Errorf("pacstrap into %s: %w: %s", root, err, tail(string(out)))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// tail keeps error output readable when the tool is verbose.
func tail(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	return strings.Join(lines, "\n")
}
