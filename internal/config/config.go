// Package config provides configuration loading for the image edit bot.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix shared by every environment variable the bot reads.
const EnvPrefix = "EDITBOT"

// Config holds all configuration for the bot.
type Config struct {
	// Slack settings
	SlackBotToken string
	SlackAppToken string
	BotName       string

	// OpenAI settings
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAISize    string
	OpenAITimeout time.Duration

	// Gemini settings
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	GeminiTimeout time.Duration

	// Command is the message prefix that triggers an edit, matched case-insensitively.
	Command string

	// LogDir is the root of the per-conversation transcripts and image artifacts.
	LogDir string

	// WorkerPoolSize bounds the blocking provider work running at once.
	WorkerPoolSize int

	// Optional settings
	MetricsAddr string
	LogLevel    string
}

// Load reads configuration from the environment and, when configFile is set, from that file.
// Values already bound on v (for example command line flags) take precedence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	// Set prefix for environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("COMMAND", "!edit")
	v.SetDefault("LOG_DIR", "logging")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BOT_NAME", "editbot")
	v.SetDefault("OPENAI_MODEL", "gpt-image-1")
	v.SetDefault("OPENAI_SIZE", "1024x1024")
	v.SetDefault("OPENAI_TIMEOUT", 5*time.Minute)
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash-exp-image-generation")
	v.SetDefault("GEMINI_TIMEOUT", 60*time.Second)
	v.SetDefault("WORKER_POOL_SIZE", 4)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		SlackBotToken:  v.GetString("SLACK_BOT_TOKEN"),
		SlackAppToken:  v.GetString("SLACK_APP_TOKEN"),
		BotName:        v.GetString("BOT_NAME"),
		OpenAIAPIKey:   v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:  v.GetString("OPENAI_BASE_URL"),
		OpenAIModel:    v.GetString("OPENAI_MODEL"),
		OpenAISize:     v.GetString("OPENAI_SIZE"),
		OpenAITimeout:  v.GetDuration("OPENAI_TIMEOUT"),
		GeminiAPIKey:   v.GetString("GEMINI_API_KEY"),
		GeminiBaseURL:  v.GetString("GEMINI_BASE_URL"),
		GeminiModel:    v.GetString("GEMINI_MODEL"),
		GeminiTimeout:  v.GetDuration("GEMINI_TIMEOUT"),
		Command:        v.GetString("COMMAND"),
		LogDir:         v.GetString("LOG_DIR"),
		WorkerPoolSize: v.GetInt("WORKER_POOL_SIZE"),
		MetricsAddr:    v.GetString("METRICS_ADDR"),
		LogLevel:       v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.SlackBotToken == "" {
		errs = append(errs, "EDITBOT_SLACK_BOT_TOKEN is required")
	}
	if c.SlackAppToken == "" {
		errs = append(errs, "EDITBOT_SLACK_APP_TOKEN is required")
	}
	if c.OpenAIAPIKey == "" {
		errs = append(errs, "EDITBOT_OPENAI_API_KEY is required")
	}
	if c.GeminiAPIKey == "" {
		errs = append(errs, "EDITBOT_GEMINI_API_KEY is required")
	}

	// Provider bounds are tuned independently but both must be positive
	if c.OpenAITimeout <= 0 {
		errs = append(errs, fmt.Sprintf("EDITBOT_OPENAI_TIMEOUT must be positive, got %s", c.OpenAITimeout))
	}
	if c.GeminiTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("EDITBOT_GEMINI_TIMEOUT must be positive, got %s", c.GeminiTimeout))
	}

	if strings.TrimSpace(c.Command) == "" || strings.ContainsAny(c.Command, " \t\n") {
		errs = append(errs, fmt.Sprintf("invalid command token %q", c.Command))
	}
	if c.LogDir == "" {
		errs = append(errs, "EDITBOT_LOG_DIR must not be empty")
	}
	if c.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Sprintf("EDITBOT_WORKER_POOL_SIZE must be at least 1, got %d", c.WorkerPoolSize))
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}
