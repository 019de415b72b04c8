package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/liveforge/liveforge/internal/config"
	"github.com/liveforge/liveforge/internal/isoimage"
	"github.com/liveforge/liveforge/internal/mount"
	"github.com/liveforge/liveforge/internal/pacman"
)

type stubPackages struct {
	bootstraps int
	installs   int
	queries    int

	lastRoot   string
	lastPkgs   []string
	lastNeeded bool

	bootstrapErr error
	installErr   error
	installed    []pacman.Package
	installedErr error
}

func (s *stubPackages) Bootstrap(_ context.Context, root string, packages []string) error {
	s.bootstraps++
	s.lastRoot = root
	s.lastPkgs = packages
	if s.bootstrapErr != nil {
		return s.bootstrapErr
	}
	// pacstrap populates the tree; simulate the bare minimum.
	return os.MkdirAll(filepath.Join(root, "etc"), 0o755)
}

func (s *stubPackages) Install(_ context.Context, root string, packages []string, neededOnly bool) error {
	s.installs++
	s.lastRoot = root
	s.lastPkgs = packages
	s.lastNeeded = neededOnly
	return s.installErr
}

func (s *stubPackages) Installed(context.Context, string) ([]pacman.Package, error) {
	s.queries++
	return s.installed, s.installedErr
}

type stubChroot struct {
	calls    int
	lastRoot string
	lastCmd  string
	err      error
}

func (s *stubChroot) Run(_ context.Context, root, command string) error {
	s.calls++
	s.lastRoot = root
	s.lastCmd = command
	return s.err
}

type squashCall struct {
	source, dest, compression string
}

type stubSquash struct {
	squashes    []squashCall
	blockImages []string
	squashErr   error
	blockErr    error
}

func (s *stubSquash) Squash(_ context.Context, source, dest, compression string) error {
	s.squashes = append(s.squashes, squashCall{source, dest, compression})
	if s.squashErr != nil {
		return s.squashErr
	}
	return os.WriteFile(dest, []byte("squash:"+source), 0o644)
}

func (s *stubSquash) MakeBlockImage(_ context.Context, path string, size int64) error {
	s.blockImages = append(s.blockImages, path)
	if s.blockErr != nil {
		return s.blockErr
	}
	return os.WriteFile(path, []byte("ext4"), 0o644)
}

type stubAssembler struct {
	calls int
	opts  isoimage.Options
	err   error
}

func (s *stubAssembler) Assemble(_ context.Context, opts isoimage.Options) error {
	s.calls++
	s.opts = opts
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(opts.OutputPath, []byte("iso"), 0o644)
}

// nopMounter satisfies mount.Mounter without touching the kernel; the
// mount point directory stands in for the mounted filesystem.
type nopMounter struct{}

func (nopMounter) Mount(context.Context, string, string, []string) error { return nil }
func (nopMounter) Unmount(context.Context, string, bool) error           { return nil }

type testEnv struct {
	cfg      *config.Config
	runner   *Runner
	packages *stubPackages
	chroot   *stubChroot
	squash   *stubSquash
	iso      *stubAssembler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.InstallDir = "live"
	cfg.Arch = "x86_64"

	guard := mount.NewGuard(nil, nopMounter{})
	t.Cleanup(guard.Close)

	env := &testEnv{
		cfg:      &cfg,
		packages: &stubPackages{},
		chroot:   &stubChroot{},
		squash:   &stubSquash{},
		iso:      &stubAssembler{},
	}
	env.runner = &Runner{
		Config:   env.cfg,
		Guard:    guard,
		Packages: env.packages,
		Chroot:   env.chroot,
		Squash:   env.squash,
		Iso:      env.iso,
	}
	return env
}

// seedRootTree lays out the files prepare expects in a bootstrapped tree.
func (env *testEnv) seedRootTree(t *testing.T) {
	t.Helper()

	root := env.cfg.RootDir()
	files := []string{
		"etc/passwd",
		"etc/machine-id",
		"etc/ld.so.cache",
		"boot/vmlinuz-linux",
		"boot/initramfs.img",
		"var/log/pacman.log",
		"var/lib/pacman/sync/core.db",
		"var/cache/pacman/pkg/base.pkg.tar.zst",
		"usr/share/man/man1/ls.1",
		"usr/bin/ls",
	}
	for _, rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}
