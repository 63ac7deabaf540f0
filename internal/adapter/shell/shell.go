// Package shell provides a process-based implementation of
// internal/adapter/example.Caller and internal/contextbuilder.Summarizer:
// it shells out to a configured external command for every call instead of
// depending on a concrete LLM SDK, so the core never depends on a
// particular LLM provider; production Callers live outside this module.
//
// Built around os/exec.CommandContext: a call feeds the command a prompt
// on stdin and reads its stdout back as the reply, relying on
// CommandContext to kill the process on cancellation.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Caller invokes command (split on whitespace, no shell interpolation) once
// per call, writing a simple "GOAL:\n...\n\nCONTEXT:\n..." envelope to its
// stdin and returning its trimmed stdout as the raw adapter response.
type Caller struct {
	Command []string
}

// NewCaller splits commandLine into argv the way exec.Command expects;
// commandLine must not require shell features (pipes, globbing) since it
// is never passed through /bin/sh.
func NewCaller(commandLine string) (*Caller, error) {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return nil, fmt.Errorf("shell: empty command line")
	}
	return &Caller{Command: argv}, nil
}

// Call runs the configured command, honoring ctx cancellation (the
// underlying process is killed when ctx is done, per
// exec.CommandContext's documented behavior).
func (c *Caller) Call(ctx context.Context, goal, contextText string) (string, error) {
	if len(c.Command) == 0 {
		return "", fmt.Errorf("shell: no command configured")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdin = strings.NewReader(fmt.Sprintf("GOAL:\n%s\n\nCONTEXT:\n%s\n", goal, contextText))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("shell command %v failed: %w (stderr: %s)", c.Command, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Summarize satisfies contextbuilder.Summarizer by reusing the same
// command with a fixed instruction goal, so an operator can point both the
// adapters and the size-policy summarizer at one backend.
func (c *Caller) Summarize(text string) (string, error) {
	out, err := c.Call(context.Background(), "Produce a detailed summary preserving findings, numbers, citations, and recommendations.", text)
	if err != nil {
		return "", fmt.Errorf("shell summarizer: %w", err)
	}
	return out, nil
}
