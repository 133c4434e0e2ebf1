// Package config loads stagehand configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GitHub holds tracker connection settings.
type GitHub struct {
	Token     string
	Owner     string
	Repo      string
	ProjectID string
}

// Config is the resolved stagehand configuration.
type Config struct {
	// ClaimTTLMinutes is the claim lease lifetime in minutes.
	ClaimTTLMinutes int

	// PolicyPath optionally points at a YAML transition policy file that
	// replaces the built-in table.
	PolicyPath string

	GitHub GitHub
}

// TTL returns the claim lease lifetime as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.ClaimTTLMinutes) * time.Minute
}

// Load reads configuration from the given file, or from stagehand.yaml in
// the working directory and ~/.config/stagehand when path is empty.
// Environment variables override file values with a STAGEHAND_ prefix
// (e.g. STAGEHAND_GITHUB_TOKEN).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("claim.ttl_minutes", 15)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stagehand")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/stagehand")
	}

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default config is fine; env vars may carry everything.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		ClaimTTLMinutes: v.GetInt("claim.ttl_minutes"),
		PolicyPath:      v.GetString("policy.path"),
		GitHub: GitHub{
			Token:     v.GetString("github.token"),
			Owner:     v.GetString("github.owner"),
			Repo:      v.GetString("github.repo"),
			ProjectID: v.GetString("github.project_id"),
		},
	}

	if cfg.ClaimTTLMinutes <= 0 {
		return nil, fmt.Errorf("claim.ttl_minutes must be positive, got %d", cfg.ClaimTTLMinutes)
	}
	return cfg, nil
}
