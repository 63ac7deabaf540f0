// Package config loads orchestrator/blueprint configuration with
// github.com/spf13/viper: YAML/JSON file plus TASKWEAVER_-prefixed
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/hitl"
	"taskweaver/internal/orchestrator"
)

// EnvPrefix is the prefix viper binds environment variables under, e.g.
// TASKWEAVER_MAX_CONCURRENT_NODES.
const EnvPrefix = "TASKWEAVER"

// Config is the full set of tunables the orchestration core exposes.
type Config struct {
	MaxConcurrentNodes            int     `mapstructure:"max_concurrent_nodes"`
	MaxPlanningLayer              int     `mapstructure:"max_planning_layer"`
	MaxReplanAttempts             int     `mapstructure:"max_replan_attempts"`
	MaxRetryAttempts              int     `mapstructure:"max_retry_attempts"`
	NodeExecutionTimeoutSeconds   int     `mapstructure:"node_execution_timeout_seconds"`
	HITLTimeoutSeconds            int     `mapstructure:"hitl_timeout_seconds"`
	AutoApproveAfterTimeout       bool    `mapstructure:"auto_approve_after_timeout"`
	ForceRootNodePlanning         bool    `mapstructure:"force_root_node_planning"`
	DeadlockCheckEveryNIterations int     `mapstructure:"deadlock_check_every_n_iterations"`
	BatchSize                     int     `mapstructure:"batch_size"`
	BatchTimeoutMs                int     `mapstructure:"batch_timeout_ms"`
	AggregationDoneThreshold      float64 `mapstructure:"aggregation_done_threshold"`
	StuckAggregationThreshold     float64 `mapstructure:"stuck_aggregation_threshold"`

	// CheckpointDir is where the optional Checkpoint collaborator writes
	// execution snapshots; empty disables checkpointing.
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	// HITLCheckpoints names which of the six hitl.Checkpoint values are
	// enabled; empty means HITL is fully auto-approved.
	HITLCheckpoints []string `mapstructure:"hitl_checkpoints"`

	// Blueprint names which registered adapter (by name) handles each role;
	// Adapters maps those names to the shell command line backing each one
	// (the core never depends on a concrete LLM SDK, so the reference CLI's
	// only adapter backend is "run this external command").
	Blueprint BlueprintConfig   `mapstructure:"blueprint"`
	Adapters  map[string]string `mapstructure:"adapters"`
}

// BlueprintConfig is the on-disk shape of registry.Blueprint: task-type
// keys are the four TaskType string values (SEARCH/THINK/WRITE/AGGREGATE).
type BlueprintConfig struct {
	RootPlanner         string `mapstructure:"root_planner"`
	DefaultPlanner      string `mapstructure:"default_planner"`
	DefaultExecutor     string `mapstructure:"default_executor"`
	DefaultAggregator   string `mapstructure:"default_aggregator"`
	DefaultAtomizer     string `mapstructure:"default_atomizer"`
	DefaultPlanModifier string `mapstructure:"default_plan_modifier"`
	AgentNamePrefix     string `mapstructure:"agent_name_prefix"`

	Planners  map[string]string `mapstructure:"planners"`
	Executors map[string]string `mapstructure:"executors"`
}

// defaults mirror the package-level defaults each component already falls
// back to; they are set here too so a printed/serialized Config is
// self-describing rather than full of zero values a reader must cross-
// reference against five other packages.
func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent_nodes", orchestrator.DefaultMaxConcurrentNodes)
	v.SetDefault("max_planning_layer", 5)
	v.SetDefault("max_replan_attempts", 3)
	v.SetDefault("max_retry_attempts", 3)
	v.SetDefault("node_execution_timeout_seconds", 2400)
	v.SetDefault("hitl_timeout_seconds", 1200)
	v.SetDefault("auto_approve_after_timeout", false)
	v.SetDefault("force_root_node_planning", false)
	v.SetDefault("deadlock_check_every_n_iterations", orchestrator.DefaultDeadlockCheckEveryNIterations)
	v.SetDefault("batch_size", 50)
	v.SetDefault("batch_timeout_ms", 100)
	v.SetDefault("aggregation_done_threshold", 0.8)
	v.SetDefault("stuck_aggregation_threshold", 0.8)
	v.SetDefault("checkpoint_dir", "")
	v.SetDefault("hitl_checkpoints", []string{})
}

// Load reads configPath (if non-empty) plus TASKWEAVER_-prefixed
// environment variables into a Config. An empty configPath is not an
// error — defaults and environment variables still apply — but a named
// file that is missing, unreadable, or malformed is a fatal
// ConfigurationError: configuration
// errors are fatal at startup, not recoverable mid-run.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, apperrors.NewConfigurationError("reading config file "+configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apperrors.NewConfigurationError("decoding configuration", err)
	}
	return cfg, nil
}

// OrchestratorConfig projects Config onto orchestrator.Config.
func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrentNodes:            c.MaxConcurrentNodes,
		DeadlockCheckEveryNIterations: c.DeadlockCheckEveryNIterations,
		NodeExecutionTimeout:          time.Duration(c.NodeExecutionTimeoutSeconds) * time.Second,
		BatchSize:                     c.BatchSize,
		BatchTimeout:                  time.Duration(c.BatchTimeoutMs) * time.Millisecond,
		MaxPlanningLayer:              c.MaxPlanningLayer,
		AggregationDoneThreshold:      c.AggregationDoneThreshold,
		ForceRootNodePlanning:         c.ForceRootNodePlanning,
		MaxReplanAttempts:             c.MaxReplanAttempts,
		MaxRetryAttempts:              c.MaxRetryAttempts,
		StuckAggregationThreshold:     c.StuckAggregationThreshold,
	}
}

// HITLConfig projects Config onto hitl.Config.
func (c Config) HITLConfig() hitl.Config {
	return hitl.Config{
		Timeout:                 time.Duration(c.HITLTimeoutSeconds) * time.Second,
		AutoApproveAfterTimeout: c.AutoApproveAfterTimeout,
	}
}

// EnabledCheckpoints converts HITLCheckpoints to hitl.Checkpoint values,
// silently dropping names that don't match one of the six known
// checkpoints (an operator typo should not be fatal at startup, unlike a
// malformed config file).
func (c Config) EnabledCheckpoints() []hitl.Checkpoint {
	known := map[string]hitl.Checkpoint{
		"PlanGeneration":    hitl.CheckpointPlanGeneration,
		"PlanModification":  hitl.CheckpointPlanModification,
		"Atomization":       hitl.CheckpointAtomization,
		"BeforeExecution":   hitl.CheckpointBeforeExecution,
		"AggregationReview": hitl.CheckpointAggregationReview,
		"RootGoalReview":    hitl.CheckpointRootGoalReview,
	}
	out := make([]hitl.Checkpoint, 0, len(c.HITLCheckpoints))
	for _, name := range c.HITLCheckpoints {
		if cp, ok := known[name]; ok {
			out = append(out, cp)
		}
	}
	return out
}
