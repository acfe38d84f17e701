package config

import (
	"github.com/garyjia/workflow-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			BusyRetries:     c.Database.BusyRetries,
		},
		Engine: container.EngineConfig{
			ActionTimeout:       c.Engine.ActionTimeout,
			DefaultActionPolicy: c.Engine.DefaultActionPolicy,
			GuardStepBudget:     c.Engine.GuardStepBudget,
			GuardMaxLength:      c.Engine.GuardMaxLength,
			GuardCacheSize:      c.Engine.GuardCacheSize,
			DefinitionCacheTTL:  c.Engine.DefinitionCacheTTL,
			EventQueueSize:      c.Engine.EventQueueSize,
		},
		Suggestion: container.SuggestionConfig{
			Enabled:        c.Suggestion.Enabled,
			Timeout:        c.Suggestion.Timeout,
			MaxResults:     c.Suggestion.MaxResults,
			IncludeHistory: c.Suggestion.IncludeHistory,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			PromptsPath: c.OpenAI.PromptsPath,
		},
		Lark: container.LarkConfig{
			Enabled:   c.Lark.Enabled,
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
			Timeout:   c.Lark.Timeout,
		},
		Definitions: container.DefinitionsConfig{
			SeedDir:  c.Definitions.SeedDir,
			Activate: c.Definitions.Activate,
		},
	}
}
