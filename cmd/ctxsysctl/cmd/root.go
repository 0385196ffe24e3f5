// Package cmd provides the CLI commands for ctxsysctl.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/david-franz/ctx-sys-sub001/internal/logging"
	"github.com/david-franz/ctx-sys-sub001/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ctxsysctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctxsysctl",
		Short: "Project-scoped context retrieval for AI coding assistants",
		Long: `ctxsysctl operates a single-file store of entities and
relationships extracted from a codebase and serves token-budgeted
context assembled from hybrid lexical, vector, and graph retrieval.

It does not parse source itself: entities are pushed in through the
indexer package by external tooling.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("ctxsysctl version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.ctxsys/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newProjectCmd())
	cmd.AddCommand(newMigrateLegacyCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
