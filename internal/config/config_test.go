package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: memory
engine:
  action_timeout: 2s
definitions:
  seed_dir: configs/definitions
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Address())
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Engine.ActionTimeout)
	assert.Equal(t, 1000, cfg.Engine.GuardStepBudget)
	assert.Equal(t, 2048, cfg.Engine.GuardMaxLength)
	assert.Equal(t, "continue", cfg.Engine.DefaultActionPolicy)
	assert.Equal(t, 3*time.Second, cfg.Suggestion.Timeout)
	assert.Equal(t, 3, cfg.Suggestion.MaxResults)
	assert.Equal(t, "configs/definitions", cfg.Definitions.SeedDir)
	assert.True(t, cfg.Definitions.Activate)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
suggestion:
  enabled: true
lark:
  enabled: true
`)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LARK_APP_ID", "cli_1")
	t.Setenv("LARK_APP_SECRET", "secret")
	t.Setenv("DATABASE_PATH", "/tmp/wf.db")
	t.Setenv("WORKFLOW_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "cli_1", cfg.Lark.AppID)
	assert.Equal(t, "/tmp/wf.db", cfg.Database.Path)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_FeatureCredentialsRequired(t *testing.T) {
	path := writeConfig(t, "suggestion:\n  enabled: true\n")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key is required")
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "data/wf.db"},
		Engine: EngineConfig{
			ActionTimeout:       time.Second,
			DefaultActionPolicy: "continue",
			GuardStepBudget:     10,
			GuardMaxLength:      10,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"sqlite needs path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"memory needs no path", func(c *Config) { c.Database.Driver = DriverMemory; c.Database.Path = "" }, ""},
		{"bad policy", func(c *Config) { c.Engine.DefaultActionPolicy = "retry" }, "default_action_policy"},
		{"zero timeout", func(c *Config) { c.Engine.ActionTimeout = 0 }, "action_timeout"},
		{"lark without secret", func(c *Config) { c.Lark = LarkConfig{Enabled: true, AppID: "a"} }, "lark.app_secret"},
		{"lark disabled ignores credentials", func(c *Config) { c.Lark = LarkConfig{Enabled: false} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WORKFLOW_DOTENV_PROBE=from-file\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("WORKFLOW_DOTENV_PROBE") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("WORKFLOW_DOTENV_PROBE"))

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
