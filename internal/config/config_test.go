package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults = %v", err)
	}
}

func TestValidateInstallDir(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value string
		valid bool
	}{
		{"short lowercase", "live", true},
		{"eight chars", "abcd1234", true},
		{"too long", "ninechars", false},
		{"uppercase", "Live", false},
		{"empty", "", false},
		{"punctuation", "li-ve", false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			cfg.InstallDir = tc.value
			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("Validate() accepted install dir %q", tc.value)
			}
		})
	}
}

func TestValidateSquashModeAndCompression(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.SquashMode = "tar"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted unknown squash mode")
	}

	cfg = Default()
	cfg.Compression = "brotli"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted unknown compressor")
	}
}

func TestPathHelpers(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.WorkDir = "/work"
	cfg.InstallDir = "live"

	if got, want := cfg.RootDir(), filepath.Join("/work", "root-image"); got != want {
		t.Fatalf("RootDir() = %q, want %q", got, want)
	}
	if got, want := cfg.InstallPath(), filepath.Join("/work", "iso", "live"); got != want {
		t.Fatalf("InstallPath() = %q, want %q", got, want)
	}
	if got, want := cfg.InitMarker(), filepath.Join("/work", "liveforge.init"); got != want {
		t.Fatalf("InitMarker() = %q, want %q", got, want)
	}
}

func TestTrimmedPackages(t *testing.T) {
	t.Parallel()

	cfg := Config{Packages: []string{" base ", "", "  ", "linux"}}
	got := cfg.TrimmedPackages()
	if len(got) != 2 || got[0] != "base" || got[1] != "linux" {
		t.Fatalf("TrimmedPackages() = %v", got)
	}
}

func TestProfileApplyKeepsFlagPrecedence(t *testing.T) {
	t.Parallel()

	defaults := Default()
	cfg := Default()
	cfg.WorkDir = "/custom/work" // simulates an explicit flag

	keep := true
	profile := &Profile{
		WorkDir:         "/profile/work",
		OutDir:          "/profile/out",
		Packages:        []string{"base", "linux"},
		KeepPacmanCache: &keep,
	}
	profile.Apply(&cfg, &defaults)

	if cfg.WorkDir != "/custom/work" {
		t.Fatalf("flag value overridden by profile: %q", cfg.WorkDir)
	}
	if cfg.OutDir != "/profile/out" {
		t.Fatalf("profile value not applied: %q", cfg.OutDir)
	}
	if len(cfg.Packages) != 2 {
		t.Fatalf("profile packages not applied: %v", cfg.Packages)
	}
	if !cfg.KeepPacmanCache {
		t.Fatal("profile keep_pacman_cache not applied")
	}
}

func TestLoadProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := `
arch: x86_64
install_dir: live
packages:
  - base
  - syslinux
squash_mode: img
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if profile.Arch != "x86_64" || profile.SquashMode != "img" {
		t.Fatalf("profile decoded incorrectly: %+v", profile)
	}
	if len(profile.Packages) != 2 {
		t.Fatalf("packages decoded incorrectly: %v", profile.Packages)
	}

	if _, err := LoadProfile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("LoadProfile() on missing file expected error")
	}
}
