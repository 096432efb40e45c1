package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/service"
)

var (
	runFile          string
	runProcessLimits bool
	runUnfolded      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one submission and print its result as JSON",
	Long: `Run reads one JSON submission, from the first line of stdin or from --file,
executes it under the configured limits and prints the result. The exit
status is 0 on success and the error code otherwise.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config file (JSON or YAML)")
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "read the submission from a file instead of stdin")
	runCmd.Flags().BoolVar(&runProcessLimits, "process-limits", false, "apply the CPU and memory limits to the whole process")
	runCmd.Flags().BoolVar(&runUnfolded, "unfolded", false, "print the initial variables and raw changes instead of full snapshots")
	_ = runCmd.Flags().MarkHidden("unfolded")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	data, err := readSubmission(cmd.InOrStdin(), runFile)
	if err != nil {
		return err
	}

	var trace *controller.Trace
	sub, err := protocol.ParseSubmission(data)
	if err != nil {
		trace = &controller.Trace{Error: controller.NewError(controller.CodeControl, controller.KindInternal, "%v", err)}
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		settings := service.MergeSettings(&cfg.Executor, sub.Options)
		settings.ProcessLimits = runProcessLimits
		trace = controller.ExecuteTrace(ctx, controller.Request{
			Code:    sub.Code,
			Graph:   sub.GraphBytes(),
			Version: sub.Version,
		}, settings, logger)
	}

	var out any = trace
	if !runUnfolded {
		out = trace.Result()
	}
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(out); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if trace.Error != nil {
		return &exitCodeError{code: int(trace.Error.Code)}
	}
	return nil
}

// readSubmission returns the file contents, or the first line of r.
func readSubmission(r io.Reader, path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading submission: %w", err)
		}
		return data, nil
	}
	line, err := bufio.NewReaderSize(r, 1<<20).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading submission: %w", err)
	}
	if len(line) == 0 {
		return nil, errors.New("no submission on stdin")
	}
	return line, nil
}
