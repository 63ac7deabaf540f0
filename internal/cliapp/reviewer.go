package cliapp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"taskweaver/internal/hitl"
)

// StdinReviewer implements hitl.Reviewer by prompting an operator on a
// terminal: it prints the node summary and context excerpt, then reads one
// line of input (a/m/r to approve, request modification, or reject). No
// TUI framework, plain bufio.Scanner over the configured reader.
type StdinReviewer struct {
	In  io.Reader
	Out io.Writer
}

// NewStdinReviewer constructs a StdinReviewer over in/out.
func NewStdinReviewer(in io.Reader, out io.Writer) *StdinReviewer {
	return &StdinReviewer{In: in, Out: out}
}

func (r *StdinReviewer) RequestReview(ctx context.Context, checkpoint hitl.Checkpoint, nodeSummary string, data map[string]any) (hitl.Decision, error) {
	fmt.Fprintf(r.Out, "\n--- HITL checkpoint: %s ---\n%s\n", checkpoint, nodeSummary)
	if cs, ok := data["context_summary"].(string); ok && cs != "" {
		fmt.Fprintf(r.Out, "--- context ---\n%s\n", cs)
	}
	fmt.Fprint(r.Out, "[a]pprove / [m]odify / [r]eject / [s]kip(abort)? ")

	type lineResult struct {
		line string
		err  error
	}
	lines := make(chan lineResult, 1)
	go func() {
		scanner := bufio.NewScanner(r.In)
		if scanner.Scan() {
			lines <- lineResult{line: scanner.Text()}
			return
		}
		lines <- lineResult{err: scanner.Err()}
	}()

	select {
	case <-ctx.Done():
		return hitl.Decision{Status: hitl.StatusTimeout}, ctx.Err()
	case res := <-lines:
		if res.err != nil {
			return hitl.Decision{}, res.err
		}
		return parseDecision(res.line, r), nil
	}
}

func parseDecision(line string, r *StdinReviewer) hitl.Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "m", "modify":
		fmt.Fprint(r.Out, "modification instructions: ")
		scanner := bufio.NewScanner(r.In)
		instructions := ""
		if scanner.Scan() {
			instructions = scanner.Text()
		}
		return hitl.Decision{Status: hitl.StatusRequestModification, ModificationInstructions: instructions}
	case "r", "reject":
		return hitl.Decision{Status: hitl.StatusRejected}
	case "s", "skip", "abort":
		return hitl.Decision{Status: hitl.StatusAborted}
	default:
		return hitl.Decision{Status: hitl.StatusApproved}
	}
}
