package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the full service configuration.
type Config struct {
	BaseURL  string `koanf:"base_url"`
	HTTP     HTTP   `koanf:"http"`
	Database DB     `koanf:"database"`
	Redis    Redis  `koanf:"redis"`
	Token    Token  `koanf:"token"`
	Auth     Auth   `koanf:"auth"`
}

type HTTP struct {
	Port     int  `koanf:"port"`
	AllowAll bool `koanf:"allow_all"` // allow all CORS origins (dev mode)
}

type DB struct {
	URL string `koanf:"url"`
}

type Redis struct {
	Addr           string `koanf:"addr"`
	Password       string `koanf:"password"`
	DB             int    `koanf:"db"`
	ViewTTLSeconds int    `koanf:"view_ttl_seconds"`
}

type Token struct {
	TTLHours int `koanf:"ttl_hours"`
}

type Auth struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// Default returns the baseline configuration before file and env overlays.
func Default() *Config {
	return &Config{
		BaseURL: "http://localhost:8080",
		HTTP:    HTTP{Port: 8080},
		Redis:   Redis{ViewTTLSeconds: 30},
		Token:   Token{TTLHours: 7 * 24},
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (DEALFLOW_*). Nested keys use
// underscores doubled in env names: DEALFLOW_DATABASE__URL -> database.url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("DEALFLOW_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "DEALFLOW_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Token.TTLHours <= 0 {
		return fmt.Errorf("token.ttl_hours must be positive")
	}
	return nil
}
