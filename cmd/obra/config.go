package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obra-run/obra/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Prints every recognized configuration key and its effective value,
after layering the base config, project overrides (.obra.yaml), the
selected --profile, environment variables, and any --set overrides.`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	printConfig(cfg)
	return nil
}

// loadConfig resolves the effective configuration for this invocation from
// the global --config/--profile/--set flags.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromPath(flagConfig)
	}

	overrides := map[string]string{}
	for _, kv := range flagSet {
		key, value, ok := splitKeyValue(kv)
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		overrides[key] = value
	}
	return config.Load(flagProfile, overrides)
}

func splitKeyValue(kv string) (key, value string, ok bool) {
	for i := range kv {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func printConfig(cfg *config.Config) {
	w := os.Stdout
	fmt.Fprintf(w, "llm.type: %s\n", cfg.LLM.Type)
	fmt.Fprintf(w, "llm.api_url: %s\n", cfg.LLM.APIURL)
	fmt.Fprintf(w, "llm.model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(w, "agent.type: %s\n", cfg.Agent.Type)
	fmt.Fprintf(w, "agent.command: %s\n", cfg.Agent.Command)
	fmt.Fprintf(w, "agent.response_timeout: %s\n", cfg.Agent.ResponseTimeout)
	fmt.Fprintf(w, "agent.bypass_interactive_permissions: %t\n", cfg.Agent.BypassInteractivePermissions)
	fmt.Fprintf(w, "agent.use_session_persistence: %t\n", cfg.Agent.UseSessionPersistence)
	fmt.Fprintf(w, "session.context_window.limit: %d\n", cfg.Session.ContextWindow.Limit)
	fmt.Fprintf(w, "session.context_window.warning_threshold: %.2f\n", cfg.Session.ContextWindow.WarningThreshold)
	fmt.Fprintf(w, "session.context_window.refresh_threshold: %.2f\n", cfg.Session.ContextWindow.RefreshThreshold)
	fmt.Fprintf(w, "session.context_window.critical_threshold: %.2f\n", cfg.Session.ContextWindow.CriticalThreshold)
	fmt.Fprintf(w, "orchestration.max_turns.adaptive: %t\n", cfg.Orchestration.MaxTurns.Adaptive)
	fmt.Fprintf(w, "orchestration.max_turns.default: %d\n", cfg.Orchestration.MaxTurns.Default)
	fmt.Fprintf(w, "orchestration.max_turns.min: %d\n", cfg.Orchestration.MaxTurns.Min)
	fmt.Fprintf(w, "orchestration.max_turns.max: %d\n", cfg.Orchestration.MaxTurns.Max)
	fmt.Fprintf(w, "orchestration.max_turns.auto_retry: %t\n", cfg.Orchestration.MaxTurns.AutoRetry)
	fmt.Fprintf(w, "orchestration.max_turns.retry_multiplier: %.2f\n", cfg.Orchestration.MaxTurns.RetryMultiplier)
	fmt.Fprintf(w, "retry.max_retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Fprintf(w, "retry.base_delay: %s\n", cfg.Retry.BaseDelay)
	fmt.Fprintf(w, "retry.max_delay: %s\n", cfg.Retry.MaxDelay)
	fmt.Fprintf(w, "retry.backoff_factor: %.2f\n", cfg.Retry.BackoffFactor)
	fmt.Fprintf(w, "retry.jitter: %t\n", cfg.Retry.Jitter)
	fmt.Fprintf(w, "decision_engine.quality_proceed_threshold: %.2f\n", cfg.DecisionEngine.QualityProceedThreshold)
	fmt.Fprintf(w, "decision_engine.quality_critical_threshold: %.2f\n", cfg.DecisionEngine.QualityCriticalThreshold)
	fmt.Fprintf(w, "git.enabled: %t\n", cfg.Git.Enabled)
	fmt.Fprintf(w, "git.auto_commit: %t\n", cfg.Git.AutoCommit)
	fmt.Fprintf(w, "git.commit_strategy: %s\n", cfg.Git.CommitStrategy)
	fmt.Fprintf(w, "git.branch_per_task: %t\n", cfg.Git.BranchPerTask)
	fmt.Fprintf(w, "git.branch_prefix: %s\n", cfg.Git.BranchPrefix)
	fmt.Fprintf(w, "task_dependencies.enabled: %t\n", cfg.TaskDependencies.Enabled)
	fmt.Fprintf(w, "task_dependencies.max_depth: %d\n", cfg.TaskDependencies.MaxDepth)
	fmt.Fprintf(w, "task_dependencies.allow_cycles: %t\n", cfg.TaskDependencies.AllowCycles)
	fmt.Fprintf(w, "task_dependencies.cascade_failures: %t\n", cfg.TaskDependencies.CascadeFailures)
	fmt.Fprintf(w, "watcher.enabled: %t\n", cfg.Watcher.Enabled)
	fmt.Fprintf(w, "watcher.debounce: %s\n", cfg.Watcher.Debounce)
	fmt.Fprintf(w, "notify.slack.enabled: %t\n", cfg.Notify.Slack.Enabled)
	fmt.Fprintf(w, "notify.slack.channel: %s\n", cfg.Notify.Slack.Channel)
	fmt.Fprintf(w, "metrics.enabled: %t\n", cfg.Metrics.Enabled)
	fmt.Fprintf(w, "metrics.listen_addr: %s\n", cfg.Metrics.ListenAddr)
}
