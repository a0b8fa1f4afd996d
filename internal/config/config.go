// Package config loads the runtime configuration from YAML with
// environment variable expansion and applied defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the runtime.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig points at the cache and lock backend. An empty URL runs
// the in-memory equivalents, which is only safe single-instance.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// MaxTokens caps the completion size for this provider. Zero keeps
	// the provider's built-in default.
	MaxTokens int `yaml:"max_tokens"`
}

// OrchestratorConfig holds the tunable loop heuristics. Phrase lists and
// thresholds are configuration, not constants: deployments adjust them
// per language and audience.
type OrchestratorConfig struct {
	// MaxIterations bounds the model/tool loop per turn.
	MaxIterations int `yaml:"max_iterations"`

	// ContextTTL bounds the cached context lifetime.
	ContextTTL time.Duration `yaml:"context_ttl"`

	// HistoryLimit caps how many stored messages are loaded on a cache miss.
	HistoryLimit int `yaml:"history_limit"`

	// MaxTokens caps the completion size requested per model call. Zero
	// defers to the per-provider max_tokens or the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// StrongEndPhrases end the conversation on exact or suffix match.
	StrongEndPhrases []string `yaml:"strong_end_phrases"`

	// WeakEndPhrases end the conversation only on exact match.
	WeakEndPhrases []string `yaml:"weak_end_phrases"`

	// ClosingMessages are chosen from at random when a conversation ends.
	ClosingMessages []string `yaml:"closing_messages"`

	// ClarificationWindow and ClarificationThreshold drive the
	// stuck-conversation escalation heuristic: threshold clarification
	// requests within the last window assistant messages.
	ClarificationWindow    int `yaml:"clarification_window"`
	ClarificationThreshold int `yaml:"clarification_threshold"`
}

type WorkflowConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// LockTTL bounds the single-flight execution lock.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// MaxResultChars hard-caps tool results surfaced to the model.
	MaxResultChars int `yaml:"max_result_chars"`
}

type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression
	IdleFor  time.Duration `yaml:"idle_for"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads and parses the configuration file, expanding environment
// variables and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with production defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Orchestrator.MaxIterations == 0 {
		cfg.Orchestrator.MaxIterations = 3
	}
	if cfg.Orchestrator.ContextTTL == 0 {
		cfg.Orchestrator.ContextTTL = 30 * time.Minute
	}
	if cfg.Orchestrator.HistoryLimit == 0 {
		cfg.Orchestrator.HistoryLimit = 50
	}
	if len(cfg.Orchestrator.StrongEndPhrases) == 0 {
		cfg.Orchestrator.StrongEndPhrases = []string{
			"goodbye", "bye", "bye bye", "see you", "that's all", "that is all",
		}
	}
	if len(cfg.Orchestrator.WeakEndPhrases) == 0 {
		cfg.Orchestrator.WeakEndPhrases = []string{
			"thanks", "thank you", "ok thanks", "ok thank you", "great thanks",
		}
	}
	if len(cfg.Orchestrator.ClosingMessages) == 0 {
		cfg.Orchestrator.ClosingMessages = []string{
			"Thanks for reaching out. Have a great day!",
			"Glad I could help. Goodbye!",
			"Take care! Feel free to come back any time.",
		}
	}
	if cfg.Orchestrator.ClarificationWindow == 0 {
		cfg.Orchestrator.ClarificationWindow = 3
	}
	if cfg.Orchestrator.ClarificationThreshold == 0 {
		cfg.Orchestrator.ClarificationThreshold = 2
	}
	if cfg.Workflow.Timeout == 0 {
		cfg.Workflow.Timeout = 30 * time.Second
	}
	if cfg.Workflow.LockTTL == 0 {
		cfg.Workflow.LockTTL = 60 * time.Second
	}
	if cfg.Workflow.MaxResultChars == 0 {
		cfg.Workflow.MaxResultChars = 8000
	}
	if cfg.Sweep.Schedule == "" {
		cfg.Sweep.Schedule = "*/10 * * * *"
	}
	if cfg.Sweep.IdleFor == 0 {
		cfg.Sweep.IdleFor = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate checks invariants the defaults cannot repair.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator.max_iterations must be at least 1")
	}
	if c.Workflow.Timeout < time.Second {
		return fmt.Errorf("workflow.timeout must be at least 1s")
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; len(c.LLM.Providers) > 0 && !ok {
		return fmt.Errorf("llm.default_provider %q has no provider entry", c.LLM.DefaultProvider)
	}
	return nil
}
