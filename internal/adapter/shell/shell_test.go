package shell_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/adapter/shell"
)

func TestCaller_CallReturnsTrimmedStdout(t *testing.T) {
	c, err := shell.NewCaller("cat")
	require.NoError(t, err)

	out, err := c.Call(context.Background(), "summarize X", "=== Planning Context ===\nobjective: X\n")
	require.NoError(t, err)
	assert.Contains(t, out, "GOAL:")
	assert.Contains(t, out, "summarize X")
	assert.Contains(t, out, "objective: X")
}

func TestCaller_EmptyCommandLineRejected(t *testing.T) {
	_, err := shell.NewCaller("   ")
	assert.Error(t, err)
}

func TestCaller_ContextCancellationKillsProcess(t *testing.T) {
	c, err := shell.NewCaller("sleep 5")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Call(ctx, "goal", "context")
	assert.Error(t, err)
}

func TestCaller_Summarize(t *testing.T) {
	c, err := shell.NewCaller("cat")
	require.NoError(t, err)

	out, err := c.Summarize("a long document")
	require.NoError(t, err)
	assert.Contains(t, out, "a long document")
}
