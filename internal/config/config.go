package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Supported database drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Suggestion  SuggestionConfig  `mapstructure:"suggestion"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Lark        LarkConfig        `mapstructure:"lark"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	BusyRetries     int           `mapstructure:"busy_retries"`
}

// EngineConfig bounds the transition executor
type EngineConfig struct {
	ActionTimeout       time.Duration `mapstructure:"action_timeout"`
	DefaultActionPolicy string        `mapstructure:"default_action_policy"`
	GuardStepBudget     int           `mapstructure:"guard_step_budget"`
	GuardMaxLength      int           `mapstructure:"guard_max_length"`
	GuardCacheSize      int           `mapstructure:"guard_cache_size"`
	DefinitionCacheTTL  time.Duration `mapstructure:"definition_cache_ttl"`
	EventQueueSize      int           `mapstructure:"event_queue_size"`
}

// SuggestionConfig holds suggestion gateway configuration
type SuggestionConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxResults     int           `mapstructure:"max_results"`
	IncludeHistory bool          `mapstructure:"include_history"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	PromptsPath string `mapstructure:"prompts_path"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	AppID     string        `mapstructure:"app_id"`
	AppSecret string        `mapstructure:"app_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// DefinitionsConfig points at definitions loaded at startup
type DefinitionsConfig struct {
	SeedDir  string `mapstructure:"seed_dir"`
	Activate bool   `mapstructure:"activate"`
}

// Load loads configuration from file and environment variables. An empty
// configPath searches ./configs and . for config.yaml and tolerates its
// absence; an explicit path must exist. A .env file in the working
// directory is applied to the environment first.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("WORKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.busy_retries", 3)

	v.SetDefault("engine.action_timeout", 5*time.Second)
	v.SetDefault("engine.default_action_policy", "continue")
	v.SetDefault("engine.guard_step_budget", 1000)
	v.SetDefault("engine.guard_max_length", 2048)
	v.SetDefault("engine.guard_cache_size", 512)
	v.SetDefault("engine.definition_cache_ttl", 30*time.Minute)
	v.SetDefault("engine.event_queue_size", 256)

	v.SetDefault("suggestion.enabled", false)
	v.SetDefault("suggestion.timeout", 3*time.Second)
	v.SetDefault("suggestion.max_results", 3)
	v.SetDefault("suggestion.include_history", true)

	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("definitions.seed_dir", "")
	v.SetDefault("definitions.activate", true)
}

// bindEnvVars binds the conventional, unprefixed environment variables
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Database.Driver)
	}

	if c.Engine.ActionTimeout <= 0 {
		return fmt.Errorf("engine.action_timeout must be positive")
	}
	switch c.Engine.DefaultActionPolicy {
	case "continue", "abort", "fail":
	default:
		return fmt.Errorf("engine.default_action_policy must be continue, abort or fail, got %q", c.Engine.DefaultActionPolicy)
	}
	if c.Engine.GuardStepBudget <= 0 {
		return fmt.Errorf("engine.guard_step_budget must be positive")
	}
	if c.Engine.GuardMaxLength <= 0 {
		return fmt.Errorf("engine.guard_max_length must be positive")
	}

	if c.Suggestion.Enabled {
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required when suggestion.enabled is true")
		}
		if c.Suggestion.Timeout <= 0 {
			return fmt.Errorf("suggestion.timeout must be positive")
		}
		if c.Suggestion.MaxResults <= 0 {
			return fmt.Errorf("suggestion.max_results must be positive")
		}
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark.enabled is true")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark.enabled is true")
		}
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
