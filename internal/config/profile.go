package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// profileRelPath is the profile location searched inside the XDG config
// directories when no explicit path is given.
const profileRelPath = "liveforge/profile.yaml"

// Profile is an optional YAML file supplying defaults for build parameters.
// Values set on the command line always win over profile values.
type Profile struct {
	Arch            string   `yaml:"arch"`
	WorkDir         string   `yaml:"work_dir"`
	OutDir          string   `yaml:"out_dir"`
	InstallDir      string   `yaml:"install_dir"`
	Packages        []string `yaml:"packages"`
	PacmanConf      string   `yaml:"pacman_conf"`
	KeepPacmanCache *bool    `yaml:"keep_pacman_cache"`
	Label           string   `yaml:"label"`
	Publisher       string   `yaml:"publisher"`
	Application     string   `yaml:"application"`
	SquashMode      string   `yaml:"squash_mode"`
	Compression     string   `yaml:"compression"`
}

// LoadProfile reads and decodes a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &profile, nil
}

// FindProfile locates the default profile in the XDG config directories.
// A missing profile is not an error; the returned profile is nil.
func FindProfile() (*Profile, error) {
	path, err := xdg.SearchConfigFile(profileRelPath)
	if err != nil {
		return nil, nil
	}

	profile, err := LoadProfile(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return profile, err
}

// Apply fills fields of cfg that still hold their default with values from
// the profile. defaults is the untouched Default() snapshot used to detect
// which fields were overridden by flags.
func (p *Profile) Apply(cfg, defaults *Config) {
	if p == nil {
		return
	}

	applyString(&cfg.Arch, defaults.Arch, p.Arch)
	applyString(&cfg.WorkDir, defaults.WorkDir, p.WorkDir)
	applyString(&cfg.OutDir, defaults.OutDir, p.OutDir)
	applyString(&cfg.InstallDir, defaults.InstallDir, p.InstallDir)
	applyString(&cfg.PacmanConf, defaults.PacmanConf, p.PacmanConf)
	applyString(&cfg.Label, defaults.Label, p.Label)
	applyString(&cfg.Publisher, defaults.Publisher, p.Publisher)
	applyString(&cfg.Application, defaults.Application, p.Application)
	applyString(&cfg.SquashMode, defaults.SquashMode, p.SquashMode)
	applyString(&cfg.Compression, defaults.Compression, p.Compression)

	if len(cfg.Packages) == 0 && len(p.Packages) > 0 {
		cfg.Packages = append([]string(nil), p.Packages...)
	}
	if p.KeepPacmanCache != nil && !cfg.KeepPacmanCache {
		cfg.KeepPacmanCache = *p.KeepPacmanCache
	}
}

func applyString(field *string, defaultValue, profileValue string) {
	if profileValue == "" {
		return
	}
	if *field == defaultValue {
		*field = profileValue
	}
}
