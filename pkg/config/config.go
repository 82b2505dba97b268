// Package config implements Trinity's ambient configuration layer: a
// single YAML file loaded, environment-expanded, defaulted, and
// validated once at startup, grounded on the teacher's pkg/config
// (config.go/loader.go/envexpand.go/validator.go/errors.go) layering,
// generalized from an agent-chain configuration file to Trinity's
// server/database/engine/scheduler/recovery/gateway domains.
package config

import (
	"fmt"
	"time"
)

// Config is the umbrella object returned by Load and threaded through
// cmd/trinity's composition root.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Engine       EngineConfig       `yaml:"engine"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	AgentGateway AgentGatewayConfig `yaml:"agent_gateway"`
	Notification NotificationConfig `yaml:"notification"`
	Retention    RetentionConfig    `yaml:"retention"`
}

// ServerConfig governs the gin HTTP/WebSocket surface.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

func (c ServerConfig) addr() string {
	if c.Addr == "" {
		return ":8080"
	}
	return c.Addr
}

// DatabaseConfig dials the Postgres instance backing pkg/repo/postgres.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (c DatabaseConfig) sslMode() string {
	if c.SSLMode == "" {
		return "disable"
	}
	return c.SSLMode
}

// DSN renders the connection string pgx expects, matching the teacher's
// pkg/database/client.go DSN shape.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.sslMode())
}

// EngineConfig governs pkg/engine.Limits and the retry sweeper's cadence.
type EngineConfig struct {
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions"`
	RetrySweepInterval      time.Duration `yaml:"retry_sweep_interval"`
}

// RetrySweep returns the configured sweep interval, defaulting to 10s.
func (c EngineConfig) RetrySweep() time.Duration {
	if c.RetrySweepInterval <= 0 {
		return 10 * time.Second
	}
	return c.RetrySweepInterval
}

// SchedulerConfig governs pkg/scheduler.Config.
type SchedulerConfig struct {
	MaxJitter       time.Duration `yaml:"max_jitter"`
	MinWakeInterval time.Duration `yaml:"min_wake_interval"`
}

// RecoveryConfig governs pkg/recovery.Config.
type RecoveryConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
	DryRun bool          `yaml:"dry_run"`
}

// AgentGatewayConfig dials pkg/agentgateway.GRPCGateway.
type AgentGatewayConfig struct {
	Addr string `yaml:"addr"`
}

// NotificationConfig declares which channels pkg/notification should
// wire a sender for. Concrete delivery credentials (Slack tokens, SMTP
// settings) are out of scope; this only names the channels operators
// expect notification steps to address, and each named channel is wired
// to the log sender. A channel not named here also falls back to the log
// sender in pkg/notification, so a misspelled channel is not rejected.
type NotificationConfig struct {
	EnabledChannels []string `yaml:"enabled_channels"`
	ApprovalChannel string   `yaml:"approval_channel"`
}

// RetentionConfig governs default audit/output retention.
type RetentionConfig struct {
	AuditDays int `yaml:"audit_days"`
}

func (c RetentionConfig) auditDays() int {
	if c.AuditDays <= 0 {
		return 90
	}
	return c.AuditDays
}
