package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// --- Defaults ---

func TestDefault_Accessors(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	e := cfg.Executor
	if e.CPUTime() != 5*time.Second {
		t.Errorf("CPUTime = %s", e.CPUTime())
	}
	if e.MemoryBytes() != 100<<20 {
		t.Errorf("MemoryBytes = %d", e.MemoryBytes())
	}
	if e.Precision() != 4 {
		t.Errorf("Precision = %d", e.Precision())
	}
	if e.ReprLength() != 100 {
		t.Errorf("ReprLength = %d", e.ReprLength())
	}
	if cfg.Server.Addr() != "127.0.0.1:7590" {
		t.Errorf("Addr = %s", cfg.Server.Addr())
	}
	if o := cfg.Server.Origins(); len(o) != 2 || o[0] != "127.0.0.1" {
		t.Errorf("Origins = %v", o)
	}
	if cfg.Sandbox.SandboxType() != "process" {
		t.Errorf("SandboxType = %s", cfg.Sandbox.SandboxType())
	}
	if cfg.StorageDriverName() != "sqlite" {
		t.Errorf("StorageDriverName = %s", cfg.StorageDriverName())
	}
	if cfg.Cache.TTL() != 24*time.Hour || cfg.Cache.Schedule() != "@every 10m" {
		t.Errorf("cache defaults = %s %s", cfg.Cache.TTL(), cfg.Cache.Schedule())
	}
}

func TestPrecision_ZeroIsExplicit(t *testing.T) {
	zero := 0
	e := ExecutorConfig{FloatPrecision: &zero}
	if e.Precision() != 0 {
		t.Errorf("Precision = %d, want 0", e.Precision())
	}
}

// --- Files ---

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
executor:
  exec_time_out: 2
  exec_mem_out: 64
  float_precision: 2
server:
  port: 8080
cache:
  enabled: true
  ttl_minutes: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Executor.CPUTime() != 2*time.Second || cfg.Executor.MemoryBytes() != 64<<20 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Executor.Precision() != 2 {
		t.Errorf("Precision = %d", cfg.Executor.Precision())
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL() != 5*time.Minute {
		t.Errorf("cache = %+v", cfg.Cache)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"executor":{"is_local":true,"input_list":["a","b"]}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Executor.IsLocal || len(cfg.Executor.InputList) != 2 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"driver":   "storage:\n  driver: mysql\n",
		"postgres": "storage:\n  driver: postgres\n",
		"port":     "server:\n  port: 70000\n",
		"sandbox":  "sandbox:\n  type: firecracker\n",
		"tracing":  "observability:\n  tracing:\n    enabled: true\n",
		"wspath":   "server:\n  websocket_path: ws\n",
		"prune":    "cache:\n  enabled: true\n  prune_schedule: sometimes\n",
		"anomaly":  "observability:\n  anomaly:\n    error_rate_threshold: 2\n",
	} {
		if _, err := Load(writeFile(t, "config.yaml", content)); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error")
	}
}

// --- Environment ---

func TestEnv_Overrides(t *testing.T) {
	t.Setenv("GE_EXEC_TIME_OUT", "9")
	t.Setenv("GE_IS_LOCAL", "T")
	t.Setenv("GE_RAND_SEED", "None")
	t.Setenv("GE_FLOAT_PRECISION", "-1")
	t.Setenv("GE_INPUT_LIST", `["1", "2"]`)
	t.Setenv("GE_SERVER_PORT", "9000")
	t.Setenv("GE_DB_DSN", "postgres://localhost/executor")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	e := cfg.Executor
	if e.CPUTime() != 9*time.Second || !e.IsLocal || e.RandSeed != 0 || e.Precision() != -1 {
		t.Errorf("executor = %+v", e)
	}
	if len(e.InputList) != 2 || e.InputList[1] != "2" {
		t.Errorf("InputList = %v", e.InputList)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.StorageDriverName() != "postgres" || cfg.Storage.Postgres.DSN == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestEnv_APIKeys(t *testing.T) {
	t.Setenv("GE_API_KEYS", "k1:web\nk2:ci")
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.Server.APIKeys["k1"] != "web" || cfg.Server.APIKeys["k2"] != "ci" {
		t.Errorf("APIKeys = %v", cfg.Server.APIKeys)
	}

	t.Setenv("GE_API_KEYS", "nocolon")
	if _, err := Default(); err == nil {
		t.Fatal("expected an error for a malformed entry")
	}
}

func TestHistory_Defaults(t *testing.T) {
	var h *HistoryConfig
	if h.Retention() != 7*24*time.Hour || h.Schedule() != "@hourly" {
		t.Errorf("defaults = %s, %s", h.Retention(), h.Schedule())
	}
}

func TestEnv_InvalidNumber(t *testing.T) {
	t.Setenv("GE_EXEC_MEM_OUT", "lots")
	if _, err := Default(); err == nil {
		t.Fatal("expected an error")
	}
}

func TestParseStringList(t *testing.T) {
	if got := ParseStringList(`["a", "b"]`); len(got) != 2 || got[0] != "a" {
		t.Errorf("json list = %v", got)
	}
	if got := ParseStringList("a\nb\nc"); len(got) != 3 || got[2] != "c" {
		t.Errorf("lines = %v", got)
	}
}
