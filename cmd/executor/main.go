// Graphery Executor runs Python programs against graphs and records how the
// traced variables change, step by step.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "executor",
	Short: "Graphery Executor: traced program execution for graph algorithm visualizations.",
	Long: `Graphery Executor runs submitted Python programs inside a restricted
environment, observes every statement and returns the changes of the traced
variables as a list of records a front end can replay.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

// exitCodeError ends the process with a specific status and no message.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
