package config

import "testing"

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("DEALFLOW_DATABASE__URL", "postgres://stress@localhost/dealflow")
	t.Setenv("DEALFLOW_HTTP__PORT", "9090")
	t.Setenv("DEALFLOW_AUTH__JWT_SECRET", "sekrit")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://stress@localhost/dealflow" {
		t.Errorf("database.url not overridden: %q", cfg.Database.URL)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("http.port not overridden: %d", cfg.HTTP.Port)
	}
	if cfg.Token.TTLHours != 7*24 {
		t.Errorf("default token ttl lost: %d", cfg.Token.TTLHours)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate_RejectsMissingEssentials(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing database url")
	}

	cfg.Database.URL = "postgres://localhost/dealflow"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing jwt secret")
	}

	cfg.Auth.JWTSecret = "sekrit"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
