// Package cliapp assembles the reference CLI around the orchestration
// core: it reads config.Config, wires a registry.Registry of shell-backed
// example adapters, and drives orchestrator.Orchestrator to completion.
//
// A deterministic boundary that canonicalizes CLI input before any engine
// logic runs, built around github.com/spf13/cobra + github.com/spf13/viper.
package cliapp

import (
	"fmt"

	"taskweaver/internal/adapter/example"
	"taskweaver/internal/adapter/shell"
	"taskweaver/internal/apperrors"
	"taskweaver/internal/config"
	"taskweaver/internal/contextbuilder"
	"taskweaver/internal/registry"
)

// BuildRegistry constructs a Registry from cfg.Blueprint/cfg.Adapters: each
// distinct adapter name referenced by the blueprint must have a matching
// entry in cfg.Adapters giving its backing shell command line.
func BuildRegistry(cfg config.Config) (*registry.Registry, error) {
	reg := registry.New(cfg.Blueprint.ToRegistryBlueprint())

	planners, executors, aggregator, atomizer, modifier := cfg.Blueprint.AdapterNames()

	for _, name := range planners {
		caller, err := callerFor(cfg, name)
		if err != nil {
			return nil, err
		}
		reg.Register(&example.PlannerAdapter{AdapterName: name, Caller: caller})
	}
	for _, name := range executors {
		caller, err := callerFor(cfg, name)
		if err != nil {
			return nil, err
		}
		reg.Register(&example.ExecutorAdapter{AdapterName: name, Caller: caller})
	}
	if aggregator != "" {
		caller, err := callerFor(cfg, aggregator)
		if err != nil {
			return nil, err
		}
		reg.Register(&example.AggregatorAdapter{AdapterName: aggregator, Caller: caller})
	}
	if atomizer != "" {
		caller, err := callerFor(cfg, atomizer)
		if err != nil {
			return nil, err
		}
		reg.Register(&example.AtomizerAdapter{AdapterName: atomizer, Caller: caller})
	}
	if modifier != "" {
		caller, err := callerFor(cfg, modifier)
		if err != nil {
			return nil, err
		}
		reg.Register(&example.PlanModifierAdapter{AdapterName: modifier, Caller: caller})
	}

	return reg, nil
}

func callerFor(cfg config.Config, name string) (*shell.Caller, error) {
	commandLine, ok := cfg.Adapters[name]
	if !ok || commandLine == "" {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("adapter %q has no command configured under `adapters`", name), nil)
	}
	caller, err := shell.NewCaller(commandLine)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("adapter %q command line", name), err)
	}
	return caller, nil
}

// BuildSummarizer returns a shell.Caller-backed Summarizer for the
// "summarizer" adapter name, or nil (falling back to the ContextBuilder's
// paragraph-truncation path) if it is not configured.
func BuildSummarizer(cfg config.Config) (contextbuilder.Summarizer, error) {
	commandLine, ok := cfg.Adapters["summarizer"]
	if !ok || commandLine == "" {
		return nil, nil
	}
	caller, err := shell.NewCaller(commandLine)
	if err != nil {
		return nil, apperrors.NewConfigurationError("summarizer adapter command line", err)
	}
	return caller, nil
}
