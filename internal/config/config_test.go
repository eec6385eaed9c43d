package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultDistinctInstances(t *testing.T) {
	a, b := Default(), Default()
	a.Server.Port = 1
	if b.Server.Port == 1 {
		t.Error("Default must return distinct instances")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notifications.PromptDebounce != 3*time.Second {
		t.Errorf("prompt_debounce = %v, want 3s", cfg.Notifications.PromptDebounce)
	}
	if cfg.Notifications.RegistrationAttempts != 3 {
		t.Errorf("registration_attempts = %d, want 3", cfg.Notifications.RegistrationAttempts)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
backend:
  base_url: https://school.example.com/api
  timeout: 4s
notifications:
  prompt_debounce: 1500ms
  dedup_window: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://school.example.com/api" {
		t.Errorf("base_url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 4*time.Second {
		t.Errorf("timeout = %v, want 4s", cfg.Backend.Timeout)
	}
	if cfg.Notifications.PromptDebounce != 1500*time.Millisecond {
		t.Errorf("prompt_debounce = %v, want 1.5s", cfg.Notifications.PromptDebounce)
	}
	// Untouched fields keep their defaults.
	if cfg.Notifications.ToastDuration != 5*time.Second {
		t.Errorf("toast_duration = %v, want 5s", cfg.Notifications.ToastDuration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCHOOLPUSH_PORT", "9200")
	t.Setenv("SCHOOLPUSH_BACKEND_URL", "https://env.example.com")
	t.Setenv("SCHOOLPUSH_PROMPT_DEBOUNCE", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Notifications.PromptDebounce != 250*time.Millisecond {
		t.Errorf("prompt_debounce = %v, want 250ms", cfg.Notifications.PromptDebounce)
	}
}

func TestEnvOverrideBadPort(t *testing.T) {
	t.Setenv("SCHOOLPUSH_PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"no backend", func(c *Config) { c.Backend.BaseURL = "" }},
		{"no timeout", func(c *Config) { c.Backend.Timeout = 0 }},
		{"zero attempts", func(c *Config) { c.Notifications.RegistrationAttempts = 0 }},
		{"short dedup window", func(c *Config) { c.Notifications.DedupWindow = 500 * time.Millisecond }},
		{"no toast duration", func(c *Config) { c.Notifications.ToastDuration = 0 }},
		{"half vapid", func(c *Config) { c.Push.VAPIDPublicKey = "pub" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
