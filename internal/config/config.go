// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config is the full server configuration. All knobs come from the
// environment; only the values with no default are required.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `env:"DATADAM_ADDR,default=:8787"`

	// PublicBaseURL is the externally visible origin used when minting
	// record URLs for citations, e.g. "https://data.example.com".
	PublicBaseURL string `env:"DATADAM_PUBLIC_BASE_URL,default=http://localhost:8787"`

	// DatabasePath locates the SQLite database file. ":memory:" runs
	// ephemeral.
	DatabasePath string `env:"DATADAM_DB_PATH,default=datadam.db"`

	// OpenAIAPIKey enables semantic search when set. Empty means keyword
	// search only.
	OpenAIAPIKey string `env:"OPENAI_API_KEY,default="`

	// Auth settings. When neither JWTSecret nor JWKSURL is set, the server
	// runs without an authentication gate.
	JWTSecret    string `env:"DATADAM_JWT_SECRET,default="`
	JWKSURL      string `env:"DATADAM_JWKS_URL,default="`
	JWTIssuer    string `env:"DATADAM_JWT_ISSUER,default="`
	JWTAudiences string `env:"DATADAM_JWT_AUDIENCES,default="`

	// Logging.
	LogLevel  string `env:"DATADAM_LOG_LEVEL,default=info"`
	LogFormat string `env:"DATADAM_LOG_FORMAT,default=json"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if cfg.JWTSecret != "" && cfg.JWKSURL != "" {
		return nil, fmt.Errorf("DATADAM_JWT_SECRET and DATADAM_JWKS_URL are mutually exclusive")
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &cfg, nil
}

// Audiences splits the comma-separated audience list.
func (c *Config) Audiences() []string {
	var out []string
	for _, a := range strings.Split(c.JWTAudiences, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
