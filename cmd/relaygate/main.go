// Package main provides the CLI entry point for the relaygate LLM gateway.
//
// relaygate turns a turn orchestrator, node protocol router, session
// substrate, cron scheduler, and process manager into one HTTP/WS surface.
//
// # Basic Usage
//
// Start the gateway:
//
//	relaygate serve --config relaygate.toml
//
// Send a one-shot chat turn against a running gateway:
//
//	relaygate chat --session demo "hello"
//
// Manage paired nodes:
//
//	relaygate node ls
//	relaygate node pair --id worker-1
//
// # Environment Variables
//
//   - SA_API_TOKEN: bearer token clients present to /v1/*
//   - SA_ADMIN_TOKEN: bearer token for /v1/nodes, /v1/approvals, /v1/quota
//   - SA_NODE_TOKEN / SA_NODE_TOKENS: node handshake authentication
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaygate: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar().Errorw("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with every subcommand attached.
// Separated from main() so tests can exercise the command tree directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relaygate",
		Short:        "relaygate - LLM gateway",
		Long:         "relaygate wires a turn orchestrator, node router, session substrate, and scheduler behind one HTTP/WS API.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildChatCmd())
	rootCmd.AddCommand(buildNodeCmd())
	return rootCmd
}

// resolveConfigPath falls back to SA_CONFIG or ./relaygate.toml when path
// is empty.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("SA_CONFIG"); env != "" {
		return env
	}
	return "relaygate.toml"
}
