package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/config"
	"taskweaver/internal/hitl"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrentNodes)
	assert.Equal(t, 5, cfg.MaxPlanningLayer)
	assert.Equal(t, 3, cfg.MaxReplanAttempts)
	assert.Equal(t, 2400, cfg.NodeExecutionTimeoutSeconds)
	assert.Equal(t, 1200, cfg.HITLTimeoutSeconds)
	assert.False(t, cfg.AutoApproveAfterTimeout)
	assert.Equal(t, 0.8, cfg.AggregationDoneThreshold)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskweaver.yaml")
	contents := `
max_concurrent_nodes: 16
max_planning_layer: 3
force_root_node_planning: true
hitl_checkpoints:
  - PlanGeneration
  - BeforeExecution
  - NotARealCheckpoint
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxConcurrentNodes)
	assert.Equal(t, 3, cfg.MaxPlanningLayer)
	assert.True(t, cfg.ForceRootNodePlanning)

	checkpoints := cfg.EnabledCheckpoints()
	assert.ElementsMatch(t, []hitl.Checkpoint{hitl.CheckpointPlanGeneration, hitl.CheckpointBeforeExecution}, checkpoints)
}

func TestLoad_MissingFileIsFatal(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TASKWEAVER_MAX_CONCURRENT_NODES", "2")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrentNodes)
}

func TestOrchestratorConfig_ProjectsDurations(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	oc := cfg.OrchestratorConfig()
	assert.Equal(t, 8, oc.MaxConcurrentNodes)
	assert.Equal(t, int64(2400_000_000_000), int64(oc.NodeExecutionTimeout))
}
