package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/controller"
)

func runWithStdin(t *testing.T, stdin string) (*controller.Result, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)

	err := runOnce(cmd, nil)
	var res controller.Result
	if jerr := json.Unmarshal(out.Bytes(), &res); jerr != nil {
		t.Fatalf("decoding %q: %v", out.String(), jerr)
	}
	return &res, err
}

// --- run ---

func TestRunOnce_Success(t *testing.T) {
	res, err := runWithStdin(t, `{"code":"with tracer('i'):\n    i = 1\n    i = 2\n","graph":null,"version":"3.2.4"}`+"\n")
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if res.Error != nil || len(res.Changes) < 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunOnce_Unfolded(t *testing.T) {
	runUnfolded = true
	t.Cleanup(func() { runUnfolded = false })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(`{"code":"with tracer('i'):\n    i = 1\n    i = 2\n","graph":null,"version":"3.2.4"}` + "\n"))
	cmd.SetOut(&out)
	if err := runOnce(cmd, nil); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	var tr controller.Trace
	if err := json.Unmarshal(out.Bytes(), &tr); err != nil {
		t.Fatalf("decoding %q: %v", out.String(), err)
	}
	if tr.Initial == nil || tr.Error != nil {
		t.Fatalf("trace = %+v", tr)
	}
	if res := tr.Result(); len(res.Changes) != len(tr.Changes)+1 || res.Changes[0].Line != 0 {
		t.Errorf("folded = %+v", res.Changes)
	}
}

func TestRunOnce_ProgramErrorExitCode(t *testing.T) {
	res, err := runWithStdin(t, `{"code":"1/0","graph":null,"version":"3.2.4"}`)
	var ec *exitCodeError
	if !errors.As(err, &ec) || ec.code != int(controller.CodeRunner) {
		t.Fatalf("err = %v, want exit code %d", err, controller.CodeRunner)
	}
	if res.Error == nil || res.Error.Code != controller.CodeRunner {
		t.Errorf("result = %+v", res)
	}
}

func TestRunOnce_MalformedSubmission(t *testing.T) {
	res, err := runWithStdin(t, `{"graph":{}}`)
	var ec *exitCodeError
	if !errors.As(err, &ec) || ec.code != int(controller.CodeControl) {
		t.Fatalf("err = %v", err)
	}
	if res.Error == nil || res.Error.Kind != controller.KindInternal {
		t.Errorf("result = %+v", res)
	}
}

// --- helpers ---

func TestReadSubmission_FirstLineOnly(t *testing.T) {
	data, err := readSubmission(strings.NewReader("{\"a\":1}\n{\"b\":2}\n"), "")
	if err != nil {
		t.Fatalf("readSubmission: %v", err)
	}
	if strings.TrimSpace(string(data)) != `{"a":1}` {
		t.Errorf("data = %q", data)
	}
}

func TestReadSubmission_Empty(t *testing.T) {
	if _, err := readSubmission(strings.NewReader(""), ""); err == nil {
		t.Error("empty stdin accepted")
	}
}

func TestReadSubmission_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub.json")
	if err := os.WriteFile(path, []byte(`{"code":"x = 1"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	data, err := readSubmission(strings.NewReader("ignored"), path)
	if err != nil || string(data) != `{"code":"x = 1"}` {
		t.Errorf("data = %q, %v", data, err)
	}
}

func TestNewLogger_Level(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "warn", Format: "text"}, io.Discard)
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug enabled at warn level")
	}
	if !logger.Enabled(t.Context(), slog.LevelWarn) {
		t.Error("warn disabled at warn level")
	}
}
