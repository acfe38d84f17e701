// Package container provides dependency injection and lifecycle management
// for the workflow engine following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database    DatabaseConfig
	Engine      EngineConfig
	Suggestion  SuggestionConfig
	OpenAI      OpenAIConfig
	Lark        LarkConfig
	Definitions DefinitionsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory"
	Driver string

	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	// BusyRetries reruns a transaction that lost the write lock
	BusyRetries int
}

// EngineConfig holds transition executor settings.
type EngineConfig struct {
	ActionTimeout       time.Duration
	DefaultActionPolicy string
	GuardStepBudget     int
	GuardMaxLength      int
	GuardCacheSize      int
	DefinitionCacheTTL  time.Duration
	EventQueueSize      int
}

// SuggestionConfig holds suggestion gateway settings.
type SuggestionConfig struct {
	Enabled        bool
	Timeout        time.Duration
	MaxResults     int
	IncludeHistory bool
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptsPath string
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// Enabled registers the send-notification action
	Enabled   bool
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
}

// DefinitionsConfig holds startup definition seeding settings.
type DefinitionsConfig struct {
	SeedDir string

	// Activate promotes seeded drafts to active
	Activate bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         "data/workflow.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			BusyTimeout:  5 * time.Second,
			BusyRetries:  3,
		},
		Engine: EngineConfig{
			ActionTimeout:       5 * time.Second,
			DefaultActionPolicy: "continue",
			GuardStepBudget:     1000,
			GuardMaxLength:      2048,
			GuardCacheSize:      512,
			DefinitionCacheTTL:  30 * time.Minute,
			EventQueueSize:      256,
		},
		Suggestion: SuggestionConfig{
			Timeout:        3 * time.Second,
			MaxResults:     3,
			IncludeHistory: true,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Definitions: DefinitionsConfig{
			Activate: true,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Engine.ActionTimeout <= 0 {
		return fmt.Errorf("engine.action_timeout must be positive")
	}

	if c.Suggestion.Enabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	if c.Lark.Enabled && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret are required")
	}

	return nil
}
