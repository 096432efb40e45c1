package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/graphery/executor/internal/gateway/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the run_program tool over MCP on stdin/stdout",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&configPath, "config", "", "path to config file (JSON or YAML)")
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr only.
	logger := newLogger(cfg.Log, os.Stderr)

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	logger.Info("mcp server starting", slog.String("version", version))
	return mcp.NewServer(c.runner, version, logger).ServeStdio()
}
