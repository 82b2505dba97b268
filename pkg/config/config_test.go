package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: ":9090"
database:
  host: "${DB_HOST:-localhost}"
  port: 5432
  user: trinity
  password: "${DB_PASSWORD}"
  database: trinity
engine:
  max_concurrent_executions: 100
scheduler:
  max_jitter: 500ms
agent_gateway:
  addr: "localhost:7070"
notification:
  enabled_channels: ["email"]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trinity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadExpandsEnvironmentVariablesWithDefault(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
}

func TestLoadExpandsOverriddenDefault(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "secret")
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 90, cfg.Retention.AuditDays)
	assert.Equal(t, "email", cfg.Notification.ApprovalChannel)
}

func TestLoadFailsValidationWhenDatabaseMissing(t *testing.T) {
	path := writeConfig(t, `
agent_gateway:
  addr: "localhost:7070"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDatabaseDSNRendersExpectedFormat(t *testing.T) {
	db := DatabaseConfig{Host: "localhost", Port: 5432, User: "trinity", Password: "secret", Database: "trinity", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=trinity password=secret dbname=trinity sslmode=disable", db.DSN())
}

func TestExpandEnvSupportsAllThreeSyntaxes(t *testing.T) {
	t.Setenv("FOO", "bar")
	out := ExpandEnv([]byte("a=$FOO b=${FOO} c=${MISSING:-fallback}"))
	assert.Equal(t, "a=bar b=bar c=fallback", string(out))
}
