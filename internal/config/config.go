// Package config loads stck's settings from an optional config file plus
// environment variable overrides, grounded on av's internal/config.Load.
package config

import (
	"os"

	"emperror.dev/errors"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds the settable fields a repository or user may configure.
type Config struct {
	// Remote is the git remote name the VCS gateway pushes to, fetches
	// from, and checks for remote branches on. Defaults to "origin".
	Remote string

	// ForceWithLease controls whether pushes use --force-with-lease
	// (the default) or a plain --force.
	ForceWithLease bool

	// GitHubToken holds the token taken from STCK_GITHUB_TOKEN, or from
	// GITHUB_TOKEN when that is unset. No gateway reads this field; the
	// `gh` CLI authenticates with its own credentials.
	GitHubToken string
}

// Default returns the configuration that applies with no config file and
// no environment overrides.
func Default() Config {
	return Config{
		Remote:         "origin",
		ForceWithLease: true,
	}
}

// Load reads the config file, if one exists, from the standard search
// path, then applies environment variable overrides. extraPaths are
// searched before the standard locations (the CLI passes none). Returns
// the loaded config and
// whether a config file was found; a missing file is not an error.
func Load(extraPaths ...string) (Config, bool, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")

	for _, p := range extraPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(xdg.ConfigHome + "/stck")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/stck")
		v.AddConfigPath(home + "/.stck")
	}

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			found = false
		} else {
			return cfg, false, errors.Wrap(err, "failed to read stck config file")
		}
	}

	if found {
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, true, errors.Wrap(err, "failed to parse stck config file")
		}
	}

	loadFromEnv(&cfg)
	return cfg, found, nil
}

func loadFromEnv(cfg *Config) {
	if token := os.Getenv("STCK_GITHUB_TOKEN"); token != "" {
		cfg.GitHubToken = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHubToken = token
	}
}
