package cliapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"taskweaver/internal/checkpoint"
	"taskweaver/internal/config"
	"taskweaver/internal/hitl"
	"taskweaver/internal/orchestrator"
)

// Exit codes follow a semantic-exit-code convention (ExitSuccess ..
// ExitInternalError), with ExitOrchestrationFailure for a root node that
// ends FAILED/CANCELLED.
const (
	ExitSuccess              = 0
	ExitOrchestrationFailure = 1
	ExitInvalidInvocation    = 2
	ExitConfigError          = 3
	ExitInternalError        = 4
)

var (
	flagConfigPath  string
	flagGoal        string
	flagObjective   string
	flagMaxSteps    int
	flagInteractive bool
	flagHITL        []string
)

// lastExitCode carries runOrchestrate's outcome out of cobra's RunE, which
// can only return an error (not an exit code) without calling os.Exit
// itself; Execute reads it once RunE returns.
var lastExitCode = ExitSuccess

// NewRootCommand builds the cobra command tree for cmd/taskweaver,
// binding flags to viper keys.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskweaver",
		Short: "Drive a hierarchical task orchestration run from a root goal",
		RunE:  runOrchestrate,
	}

	root.Flags().StringVar(&flagConfigPath, "config", "", "Path to a YAML/JSON configuration file (TASKWEAVER_ env vars also apply)")
	root.Flags().StringVar(&flagGoal, "goal", "", "Root goal text to orchestrate (required)")
	root.Flags().StringVar(&flagObjective, "objective", "", "Overall objective shown in every context bundle; defaults to --goal")
	root.Flags().IntVar(&flagMaxSteps, "max-steps", 1000, "Maximum orchestrator loop iterations before giving up")
	root.Flags().BoolVar(&flagInteractive, "interactive-hitl", false, "Prompt on stdin/stdout for enabled HITL checkpoints instead of auto-approving")
	root.Flags().StringSliceVar(&flagHITL, "hitl-checkpoint", nil, "Repeatable: enable a HITL checkpoint by name (overrides config's hitl_checkpoints)")

	return root
}

// Execute runs the CLI with args (excluding argv[0]) and returns the
// process exit code; it never calls os.Exit itself so callers (and tests)
// observe the code directly.
func Execute(args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if lastExitCode == ExitSuccess {
			lastExitCode = ExitInvalidInvocation
		}
		return lastExitCode
	}
	return lastExitCode
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	lastExitCode = ExitSuccess

	if flagGoal == "" {
		lastExitCode = ExitInvalidInvocation
		return fmt.Errorf("--goal is required")
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		lastExitCode = ExitConfigError
		return err
	}

	if len(flagHITL) > 0 {
		cfg.HITLCheckpoints = flagHITL
	}

	reg, err := BuildRegistry(cfg)
	if err != nil {
		lastExitCode = ExitConfigError
		return err
	}

	summarizer, err := BuildSummarizer(cfg)
	if err != nil {
		lastExitCode = ExitConfigError
		return err
	}

	var reviewer hitl.Reviewer
	if flagInteractive {
		reviewer = NewStdinReviewer(cmd.InOrStdin(), cmd.OutOrStdout())
	}
	hitlSvc := hitl.New(reviewer, cfg.HITLConfig())
	hitlSvc.Enable(cfg.EnabledCheckpoints()...)

	var cp *checkpoint.Store
	if cfg.CheckpointDir != "" {
		cp = checkpoint.New(afero.NewOsFs(), cfg.CheckpointDir)
	}

	objective := flagObjective
	if objective == "" {
		objective = flagGoal
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	orch := orchestrator.New(reg, hitlSvc, cp, objective, summarizer, cfg.OrchestratorConfig(), logger)
	defer orch.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 24*time.Hour)
	defer cancel()

	result, execErr := orch.Execute(ctx, flagGoal, flagMaxSteps)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	if execErr != nil {
		lastExitCode = ExitInternalError
		return execErr
	}
	if result.Status != orchestrator.StatusSuccess {
		lastExitCode = ExitOrchestrationFailure
		return fmt.Errorf("orchestration ended in status %s: %s", result.Status, result.Error)
	}
	return nil
}
