// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server needs at startup. Values come from the
// environment; struct tags declare the variable name and default.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/gitlink.db"`

	// JWTSecret is the HMAC key shared with the product that issues session
	// tokens. gitlink only validates tokens; it never mints them in production.
	JWTSecret string `env:"JWT_SECRET,required"`

	// GitHub App credentials. ClientID/ClientSecret come from the App's
	// settings page; AppSlug is the URL slug used to build the install link
	// (https://github.com/apps/<slug>/installations/new).
	GitHubClientID     string `env:"GITHUB_CLIENT_ID,required"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET,required"`
	GitHubAppSlug      string `env:"GITHUB_APP_SLUG,required"`

	// StateNamespace prefixes every OAuth state token so a shared callback
	// URL can route callbacks to the right deployment (e.g. "eu", "staging").
	StateNamespace string `env:"STATE_NAMESPACE" envDefault:"gitlink"`

	// DemoMode disables the write-capable endpoints (install initiation and
	// uninstall) for read-only demo deployments.
	DemoMode bool `env:"DEMO_MODE" envDefault:"false"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}
