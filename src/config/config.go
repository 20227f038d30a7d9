// Package config provides configuration management for the remediation agent.
//
// Loading order:
//  1. .env in the working directory (secrets, APP_ENV)
//  2. the YAML file named by REMEDY_CONFIG, when set
//  3. environment variables, which override YAML values
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment selects the durable store backend.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds the application configuration.
type Config struct {
	Env Environment `yaml:"env"`

	Jenkins  JenkinsConfig  `yaml:"jenkins"`
	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// JenkinsConfig points at the CI server.
type JenkinsConfig struct {
	URL   string `yaml:"url"`
	User  string `yaml:"user"`
	Token string `yaml:"token"`
	// RateLimit is the request budget in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
}

type DatabaseConfig struct {
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

type BrokerConfig struct {
	Brokers []string `yaml:"brokers"`
}

// LLMConfig enables the model-backed analyzer when APIKey is set.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AgentConfig carries loop cadences and retention windows.
type AgentConfig struct {
	LearningEnabled   bool          `yaml:"learning_enabled"`
	FolderDepth       int           `yaml:"folder_depth"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	PatternTTL        time.Duration `yaml:"pattern_ttl"`
	AnalysisTTL       time.Duration `yaml:"analysis_ttl"`
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Env: EnvDevelopment,
		Jenkins: JenkinsConfig{
			RateLimit: 10,
		},
		Database: DatabaseConfig{
			SQLitePath: "data/analyzer.db",
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Agent: AgentConfig{
			LearningEnabled:   true,
			FolderDepth:       1,
			PollInterval:      30 * time.Second,
			DiscoveryInterval: 60 * time.Second,
			ErrorBackoff:      300 * time.Second,
			RefreshInterval:   time.Hour,
			CleanupInterval:   time.Hour,
			PatternTTL:        30 * 24 * time.Hour,
			AnalysisTTL:       7 * 24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from .env, an optional YAML file and
// environment variables.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("REMEDY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Jenkins.URL == "" {
		return nil, fmt.Errorf("JENKINS_URL environment variable is required")
	}
	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return nil, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.Env)
	}
	if cfg.Env == EnvProduction && cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when APP_ENV=production")
	}

	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = Environment(strings.ToLower(v))
	}
	setString(&cfg.Jenkins.URL, "JENKINS_URL")
	setString(&cfg.Jenkins.User, "JENKINS_USER")
	setString(&cfg.Jenkins.Token, "JENKINS_TOKEN")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.SQLitePath, "SQLITE_PATH")
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.Model, "OPENAI_MODEL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	if v := os.Getenv("REDPANDA_BROKERS"); v != "" {
		cfg.Broker.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Broker.Brokers = append(cfg.Broker.Brokers, b)
			}
		}
	}

	if v := os.Getenv("JENKINS_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("JENKINS_RATE_LIMIT: %w", err)
		}
		cfg.Jenkins.RateLimit = f
	}
	if v := os.Getenv("LEARNING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEARNING_ENABLED: %w", err)
		}
		cfg.Agent.LearningEnabled = b
	}
	if v := os.Getenv("FOLDER_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FOLDER_DEPTH: %w", err)
		}
		cfg.Agent.FolderDepth = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &cfg.Agent.PollInterval},
		{"DISCOVERY_INTERVAL", &cfg.Agent.DiscoveryInterval},
		{"ERROR_BACKOFF", &cfg.Agent.ErrorBackoff},
		{"REFRESH_INTERVAL", &cfg.Agent.RefreshInterval},
		{"CLEANUP_INTERVAL", &cfg.Agent.CleanupInterval},
		{"PATTERN_TTL", &cfg.Agent.PatternTTL},
		{"ANALYSIS_TTL", &cfg.Agent.AnalysisTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
