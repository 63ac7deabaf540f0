package cliapp_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/cliapp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskweaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestExecute_LeafPlanScenario replays spec.md §8 end-to-end scenario 1: an
// atomizer that reports the root goal atomic, and an executor that returns
// "OK" without ever planning children.
func TestExecute_LeafPlanScenario(t *testing.T) {
	path := writeConfig(t, `
max_steps: 50
blueprint:
  default_atomizer: atomizer
  default_executor: executor
adapters:
  atomizer: "echo {\"is_atomic\":true}"
  executor: "echo OK"
`)

	code := cliapp.Execute([]string{"--config", path, "--goal", "Summarize paper X", "--max-steps", "50"})
	assert.Equal(t, cliapp.ExitSuccess, code)
}

func TestExecute_MissingGoalIsInvalidInvocation(t *testing.T) {
	code := cliapp.Execute([]string{})
	assert.Equal(t, cliapp.ExitInvalidInvocation, code)
}

func TestExecute_MissingAdapterCommandIsConfigError(t *testing.T) {
	path := writeConfig(t, `
blueprint:
  default_executor: executor
adapters: {}
`)
	code := cliapp.Execute([]string{"--config", path, "--goal", "anything"})
	assert.Equal(t, cliapp.ExitConfigError, code)
}

func TestExecute_UnreadableConfigIsConfigError(t *testing.T) {
	code := cliapp.Execute([]string{"--config", "/no/such/path.yaml", "--goal", "anything"})
	assert.Equal(t, cliapp.ExitConfigError, code)
}
