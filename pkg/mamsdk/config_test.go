package mamsdk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BaseURL != "http://localhost:3000" {
		t.Errorf("Expected default baseUrl, got %s", cfg.BaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %s", cfg.Timeout)
	}
	if cfg.ConfigFileUsed() != "" {
		t.Errorf("Expected no config file, got %s", cfg.ConfigFileUsed())
	}
}

func TestLoadConfig_LocalOverride(t *testing.T) {
	chdir(t, t.TempDir())

	if err := os.WriteFile("mam.yaml", []byte("baseUrl: http://example.com:3000/\ntimeout: 5s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(ConfigRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ConfigRoot, "config.yaml"), []byte("token: local-token\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BaseURL != "http://example.com:3000" {
		t.Errorf("Expected trimmed baseUrl, got %s", cfg.BaseURL)
	}
	if cfg.Token != "local-token" {
		t.Errorf("Expected token from local config, got %q", cfg.Token)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.Timeout)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAM_TOKEN", "env-token")

	if err := os.WriteFile("mam.yaml", []byte("token: file-token\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "env-token" {
		t.Errorf("Expected env token, got %q", cfg.Token)
	}
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
