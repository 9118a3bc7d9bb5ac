package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind == "" {
		t.Fatal("expected a default server bind address")
	}
	if cfg.Resource.MaxConnections <= 0 {
		t.Fatal("expected a positive default max connections")
	}
	if !cfg.Diagnostics.Enabled || cfg.Diagnostics.Path == "" {
		t.Fatal("expected diagnostics stream enabled with a default path")
	}
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	os.Setenv("MD_SERVER_BIND", "127.0.0.1:9000")
	defer os.Unsetenv("MD_SERVER_BIND")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:9000" {
		t.Fatalf("expected env override to take effect, got %q", cfg.Server.Bind)
	}
}
