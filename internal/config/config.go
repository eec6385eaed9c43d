// Package config loads schoolpush configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the local listener and storage settings.
type ServerConfig struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackendConfig describes the school backend that receives device registrations.
type BackendConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Platform string        `yaml:"platform"`
}

// PushConfig holds VAPID credentials and the background receiver handle passed
// to the push provider when a token is acquired.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
	ReceiverHandle  string `yaml:"receiver_handle"`
}

// NotificationsConfig tunes the coordination timings.
type NotificationsConfig struct {
	PromptDebounce       time.Duration `yaml:"prompt_debounce"`
	DedupWindow          time.Duration `yaml:"dedup_window"`
	ToastDuration        time.Duration `yaml:"toast_duration"`
	RegistrationAttempts int           `yaml:"registration_attempts"`
	RetryBase            time.Duration `yaml:"retry_base"`
}

// Config is the top-level configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Backend       BackendConfig       `yaml:"backend"`
	Push          PushConfig          `yaml:"push"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// Default returns a Config populated with defaults. Each call returns a new value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   8090,
			DBPath: "schoolpush.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backend: BackendConfig{
			BaseURL:  "http://localhost:8000/api",
			Timeout:  10 * time.Second,
			Platform: "web",
		},
		Push: PushConfig{
			Subscriber:     "mailto:noreply@schoolpush.app",
			ReceiverHandle: "/firebase-messaging-sw.js",
		},
		Notifications: NotificationsConfig{
			PromptDebounce:       3 * time.Second,
			DedupWindow:          5 * time.Second,
			ToastDuration:        5 * time.Second,
			RegistrationAttempts: 3,
			RetryBase:            500 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path on top of the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides updates cfg in place from SCHOOLPUSH_* variables.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SCHOOLPUSH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCHOOLPUSH_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("SCHOOLPUSH_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("SCHOOLPUSH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SCHOOLPUSH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SCHOOLPUSH_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("SCHOOLPUSH_VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.VAPIDPublicKey = v
	}
	if v := os.Getenv("SCHOOLPUSH_VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.VAPIDPrivateKey = v
	}
	if v := os.Getenv("SCHOOLPUSH_PROMPT_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCHOOLPUSH_PROMPT_DEBOUNCE: %w", err)
		}
		cfg.Notifications.PromptDebounce = d
	}
	return nil
}

// Validate rejects values the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Notifications.RegistrationAttempts < 1 {
		return fmt.Errorf("notifications.registration_attempts must be at least 1")
	}
	if c.Notifications.DedupWindow < time.Second {
		// The fallback dedup key is second-granular.
		return fmt.Errorf("notifications.dedup_window must be at least 1s")
	}
	if c.Notifications.ToastDuration <= 0 {
		return fmt.Errorf("notifications.toast_duration must be positive")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push: both VAPID keys must be set together")
	}
	return nil
}
