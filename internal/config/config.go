// Package config handles configuration loading for Obra. It supports XDG
// config paths, project-level overrides, named profiles, and --set
// key=value overrides, in that precedence order (lowest to highest):
// built-in defaults, user config, project config, profile overrides,
// environment variables, --set overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized configuration key for Obra.
type Config struct {
	LLM              LLMConfig              `mapstructure:"llm"`
	Agent            AgentConfig            `mapstructure:"agent"`
	Session          SessionConfig          `mapstructure:"session"`
	Orchestration    OrchestrationConfig    `mapstructure:"orchestration"`
	Retry            RetryConfig            `mapstructure:"retry"`
	DecisionEngine   DecisionEngineConfig   `mapstructure:"decision_engine"`
	Git              GitConfig              `mapstructure:"git"`
	TaskDependencies TaskDependenciesConfig `mapstructure:"task_dependencies"`
	Watcher          WatcherConfig          `mapstructure:"watcher"`
	Notify           NotifyConfig           `mapstructure:"notify"`
	Metrics          MetricsConfig          `mapstructure:"metrics"`
	Protect          ProtectConfig          `mapstructure:"protect"`
}

// LLMConfig configures the Orchestrator LLM Gateway.
type LLMConfig struct {
	// Type selects the gateway variant: "ollama" or "external-cli".
	Type   string `mapstructure:"type"`
	APIURL string `mapstructure:"api_url"`
	Model  string `mapstructure:"model"`
}

// AgentConfig configures the Agent Driver invoking the Implementer.
type AgentConfig struct {
	Type                         string        `mapstructure:"type"`
	Command                      string        `mapstructure:"command"`
	ResponseTimeout              time.Duration `mapstructure:"response_timeout"`
	BypassInteractivePermissions bool          `mapstructure:"bypass_interactive_permissions"`
	UseSessionPersistence        bool          `mapstructure:"use_session_persistence"`
}

// SessionConfig configures the Session & Context Manager's token thresholds.
type SessionConfig struct {
	ContextWindow ContextWindowConfig `mapstructure:"context_window"`
}

// ContextWindowConfig holds the four token-budget thresholds that govern
// session refresh timing.
type ContextWindowConfig struct {
	Limit             int64   `mapstructure:"limit"`
	WarningThreshold  float64 `mapstructure:"warning_threshold"`
	RefreshThreshold  float64 `mapstructure:"refresh_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
}

// OrchestrationConfig configures the Iteration Controller's turn budget.
type OrchestrationConfig struct {
	MaxTurns MaxTurnsConfig `mapstructure:"max_turns"`
}

// MaxTurnsConfig holds the per-task-type turn budget and auto-retry policy.
type MaxTurnsConfig struct {
	Adaptive        bool           `mapstructure:"adaptive"`
	Default         int            `mapstructure:"default"`
	Min             int            `mapstructure:"min"`
	Max             int            `mapstructure:"max"`
	ByTaskType      map[string]int `mapstructure:"by_task_type"`
	AutoRetry       bool           `mapstructure:"auto_retry"`
	RetryMultiplier float64        `mapstructure:"retry_multiplier"`
}

// RetryConfig configures the Retry Coordinator's backoff policy.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	BackoffFactor   float64       `mapstructure:"backoff_factor"`
	Jitter          bool          `mapstructure:"jitter"`
	RetryableErrors []string      `mapstructure:"retryable_errors"`
}

// DecisionEngineConfig configures the Decision Engine's quality thresholds.
type DecisionEngineConfig struct {
	QualityProceedThreshold  float64 `mapstructure:"quality_proceed_threshold"`
	QualityCriticalThreshold float64 `mapstructure:"quality_critical_threshold"`
}

// GitConfig configures the post-task git hook.
type GitConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	AutoCommit     bool   `mapstructure:"auto_commit"`
	CommitStrategy string `mapstructure:"commit_strategy"`
	BranchPerTask  bool   `mapstructure:"branch_per_task"`
	BranchPrefix   string `mapstructure:"branch_prefix"`
}

// TaskDependenciesConfig configures the Dependency Scheduler.
type TaskDependenciesConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxDepth        int  `mapstructure:"max_depth"`
	AllowCycles     bool `mapstructure:"allow_cycles"`
	CascadeFailures bool `mapstructure:"cascade_failures"`
}

// WatcherConfig configures the filesystem File-Change Event watcher.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// NotifyConfig configures the notification sinks iteration outcomes fan out
// to, alongside the always-on stdout sink.
type NotifyConfig struct {
	Slack SlackConfig `mapstructure:"slack"`
}

// SlackConfig configures the optional Slack notification sink.
type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ProtectConfig extends the Protected-Area Detector's built-in patterns,
// keywords, and file types with project-specific ones.
type ProtectConfig struct {
	ExtraPatterns  []string `mapstructure:"extra_patterns"`
	ExtraKeywords  []string `mapstructure:"extra_keywords"`
	ExtraFileTypes []string `mapstructure:"extra_file_types"`
}

// Load loads configuration from XDG paths, project overrides, the named
// profile (if any), environment variables, and finally the given --set
// overrides, applied in that precedence order.
func Load(profile string, overrides map[string]string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	if profile != "" {
		profilePath := filepath.Join(userConfigDir, "profiles", profile+".yaml")
		pv := viper.New()
		pv.SetConfigFile(profilePath)
		if err := pv.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading profile %q: %w", profile, err)
			}
			return nil, fmt.Errorf("profile %q not found at %s", profile, profilePath)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging profile %q: %w", profile, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.BindEnv("llm.api_url", "OBRA_LLM_API_URL")
	v.BindEnv("agent.command", "OBRA_AGENT_COMMAND")

	for key, val := range overrides {
		v.Set(key, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a single file, bypassing profile and
// environment layering. Used by tests and --config.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.type", "ollama")
	v.SetDefault("llm.api_url", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3.1")

	v.SetDefault("agent.type", "local")
	v.SetDefault("agent.command", "")
	v.SetDefault("agent.response_timeout", "10m")
	v.SetDefault("agent.bypass_interactive_permissions", false)
	v.SetDefault("agent.use_session_persistence", true)

	v.SetDefault("session.context_window.limit", 200000)
	v.SetDefault("session.context_window.warning_threshold", 0.70)
	v.SetDefault("session.context_window.refresh_threshold", 0.80)
	v.SetDefault("session.context_window.critical_threshold", 0.95)

	v.SetDefault("orchestration.max_turns.adaptive", true)
	v.SetDefault("orchestration.max_turns.default", 8)
	v.SetDefault("orchestration.max_turns.min", 3)
	v.SetDefault("orchestration.max_turns.max", 20)
	v.SetDefault("orchestration.max_turns.auto_retry", true)
	v.SetDefault("orchestration.max_turns.retry_multiplier", 2.0)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.retryable_errors", []string{"transport", "rate_limited", "validator_parse", "context_overflow"})

	v.SetDefault("decision_engine.quality_proceed_threshold", 0.70)
	v.SetDefault("decision_engine.quality_critical_threshold", 0.50)

	v.SetDefault("git.enabled", true)
	v.SetDefault("git.auto_commit", true)
	v.SetDefault("git.commit_strategy", "per_task")
	v.SetDefault("git.branch_per_task", false)
	v.SetDefault("git.branch_prefix", "obra/")

	v.SetDefault("task_dependencies.enabled", true)
	v.SetDefault("task_dependencies.max_depth", 50)
	v.SetDefault("task_dependencies.allow_cycles", false)
	v.SetDefault("task_dependencies.cascade_failures", true)

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.debounce", "500ms")

	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.token", "")
	v.SetDefault("notify.slack.channel", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("protect.extra_patterns", []string{})
	v.SetDefault("protect.extra_keywords", []string{})
	v.SetDefault("protect.extra_file_types", []string{})
}

func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "obra")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "obra")
	}
	return filepath.Join(home, ".config", "obra")
}

func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(cwd, ".obra.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
