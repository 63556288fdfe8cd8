package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider      string `yaml:"llm_provider"`
	LLMModel         string `yaml:"llm_model"`
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`

	NumRuns         int `yaml:"num_runs"`
	CacheSize       int `yaml:"cache_size"`
	CoachingRetries int `yaml:"coaching_retries"`

	DBPath       string `yaml:"db_path"`
	PatternsPath string `yaml:"patterns_path"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
	DigestSchedule string `yaml:"digest_schedule"`
	Timezone       string `yaml:"timezone"`
	TeamName       string `yaml:"team_name"`

	Location *time.Location `yaml:"-"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.FallbackProvider, "FALLBACK_PROVIDER")
	envOverride(&cfg.FallbackModel, "FALLBACK_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.NumRuns, "NUM_RUNS")
	envOverrideInt(&cfg.CacheSize, "CACHE_SIZE")
	envOverrideInt(&cfg.CoachingRetries, "COACHING_RETRIES")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.PatternsPath, "PATTERNS_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.TeamName, "TEAM_NAME")

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.FallbackProvider == "" {
		cfg.FallbackProvider = "openai"
	}
	if cfg.NumRuns == 0 {
		cfg.NumRuns = 3
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 4096
	}
	if cfg.CoachingRetries == 0 {
		cfg.CoachingRetries = 3
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./lessonlens.db"
	}
	if cfg.TeamName == "" {
		cfg.TeamName = "Teaching Team"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

// Validate checks field ranges and resolves the timezone. Split out from
// LoadConfig so tests can exercise it without env plumbing.
func Validate(cfg *Config) error {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	switch cfg.FallbackProvider {
	case "", "none", "anthropic", "openai":
	default:
		return fmt.Errorf("fallback_provider must be 'anthropic', 'openai' or 'none', got '%s'", cfg.FallbackProvider)
	}

	if cfg.NumRuns < 1 {
		return fmt.Errorf("invalid num_runs '%d': must be >= 1", cfg.NumRuns)
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("invalid cache_size '%d': must be >= 0", cfg.CacheSize)
	}
	if cfg.CoachingRetries < 1 {
		return fmt.Errorf("invalid coaching_retries '%d': must be >= 1", cfg.CoachingRetries)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.PatternsPath != "" {
		if _, err := LoadIdealPatterns(cfg.PatternsPath); err != nil {
			return fmt.Errorf("invalid patterns_path '%s': %w", cfg.PatternsPath, err)
		}
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
