// Package config loads apt-diff's optional YAML configuration file,
// following the same load-then-override-with-flags approach the
// teacher's own tooling uses for its repository config.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Config holds every setting the CLI flags in §6 can also set; a config
// file supplies defaults, and flags explicitly passed on the command
// line take precedence (applied by the caller after Load).
type Config struct {
	// AptOptions are passed to apt-get as repeated "-o key=value" pairs
	// (§6 --apt-option), letting a config file pin a sources list or
	// cache directory without the CLI having to spell it out every run.
	AptOptions map[string]string `yaml:"apt_options"`

	// Workers sizes the hash verifier pool (§4.3); DefaultWorkers if zero.
	Workers int `yaml:"workers"`

	// IgnoreConffiles skips verifying conffiles (§6 --ignore-conffiles).
	IgnoreConffiles bool `yaml:"ignore_conffiles"`

	// NoIgnoreExtras reports extra, untracked paths instead of silently
	// skipping them (§6 --no-ignore-extras).
	NoIgnoreExtras bool `yaml:"no_ignore_extras"`

	// ReportUnverifiable reports symlinks/directories dpkg can't verify
	// the content of (§6 --report-unverifiable).
	ReportUnverifiable bool `yaml:"report_unverifiable"`

	// TempDir is where extracted archive content is staged (§6 --tempdir).
	TempDir string `yaml:"tempdir"`

	// KeepExtracted leaves extracted archive content behind for
	// inspection (§6 --no-remove-extracted).
	KeepExtracted bool `yaml:"keep_extracted"`

	// AdminDir overrides dpkg's administrative directory; almost always
	// left at its zero value (dpkg.DefaultAdminDir) outside of tests.
	AdminDir string `yaml:"admin_dir"`

	// NoOverrideCache disables pointing apt-get at a private cache
	// directory under TempDir (§6 --no-override-cache), using the
	// system's own apt cache instead.
	NoOverrideCache bool `yaml:"no_override_cache"`
}

// Load reads and parses the YAML config file at path. A path of "" loads
// nothing and returns a zero Config, which callers treat as "every flag
// default applies" (§6: the config file is entirely optional).
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}
