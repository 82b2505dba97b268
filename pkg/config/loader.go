package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, loads a sibling .env file into the
// process environment if present, expands environment variables in the
// raw bytes, unmarshals into Config, applies defaults, and validates.
// Mirrors the teacher's Initialize() entry point (load → validate →
// return ready-to-use config).
func Load(path string) (*Config, error) {
	envPath := envFileNextTo(path)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("failed to load .env file", "path", envPath, "error", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("invalid YAML: %w", err))
	}

	applyDefaults(&cfg)

	if err := NewValidator(&cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Server.Addr = cfg.Server.addr()
	cfg.Database.SSLMode = cfg.Database.sslMode()
	cfg.Engine.RetrySweepInterval = cfg.Engine.RetrySweep()
	cfg.Retention.AuditDays = cfg.Retention.auditDays()
	if cfg.Notification.ApprovalChannel == "" {
		cfg.Notification.ApprovalChannel = "email"
	}
}

// envFileNextTo returns the path to a ".env" file in configPath's
// directory.
func envFileNextTo(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".env")
}
