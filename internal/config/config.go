// Package config handles loading and validating executor configuration.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GE_"

// Config is the root configuration for the executor.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.graphery/data. Override: GE_DATA_DIR.
	Log           LogConfig            `json:"log" yaml:"log"`
	Executor      ExecutorConfig       `json:"executor" yaml:"executor"`
	Server        ServerConfig         `json:"server" yaml:"server"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite under the data dir
	Cache         *CacheConfig         `json:"cache,omitempty" yaml:"cache,omitempty"`                 // nil = result cache disabled
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = run history disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"` // Default: info. Override: GE_LOG_LEVEL.
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=json text"`           // Default: json. Override: GE_LOG_FORMAT.
}

// ExecutorConfig bounds every execution. Requests may lower some of these
// values but never raise the resource ceilings.
type ExecutorConfig struct {
	TimeOut        int      `json:"exec_time_out" yaml:"exec_time_out" validate:"gte=0,lte=3600"`                        // CPU seconds. Default: 5. Override: GE_EXEC_TIME_OUT.
	MemOut         int      `json:"exec_mem_out" yaml:"exec_mem_out" validate:"gte=0"`                                   // MB. Default: 100. Override: GE_EXEC_MEM_OUT.
	IsLocal        bool     `json:"is_local" yaml:"is_local"`                                                            // Lifts capability restrictions. Override: GE_IS_LOCAL.
	RandSeed       int64    `json:"rand_seed" yaml:"rand_seed"`                                                          // Override: GE_RAND_SEED.
	FloatPrecision *int     `json:"float_precision,omitempty" yaml:"float_precision,omitempty" validate:"omitempty,gte=-1,lte=17"` // Default: 4, -1 disables. Override: GE_FLOAT_PRECISION.
	MaxReprLength  int      `json:"max_repr_length" yaml:"max_repr_length" validate:"gte=0"`                             // Default: 100. Override: GE_MAX_REPR_LENGTH.
	InputList      []string `json:"input_list" yaml:"input_list"`                                                        // Override: GE_INPUT_LIST.
}

// CPUTime returns the CPU budget with a default of 5s.
func (e *ExecutorConfig) CPUTime() time.Duration {
	if e.TimeOut > 0 {
		return time.Duration(e.TimeOut) * time.Second
	}
	return 5 * time.Second
}

// MemoryBytes returns the memory budget with a default of 100 MB.
func (e *ExecutorConfig) MemoryBytes() int64 {
	if e.MemOut > 0 {
		return int64(e.MemOut) << 20
	}
	return 100 << 20
}

// Precision returns the float precision with a default of 4.
func (e *ExecutorConfig) Precision() int {
	if e.FloatPrecision != nil {
		return *e.FloatPrecision
	}
	return 4
}

// ReprLength returns the maximum representation length with a default of 100.
func (e *ExecutorConfig) ReprLength() int {
	if e.MaxReprLength > 0 {
		return e.MaxReprLength
	}
	return 100
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	URL                 string   `json:"url" yaml:"url"`                                         // Default: 127.0.0.1. Override: GE_SERVER_URL.
	Port                int      `json:"port" yaml:"port" validate:"gte=0,lte=65535"`            // Default: 7590. Override: GE_SERVER_PORT.
	AllowOtherOrigin    bool     `json:"allow_other_origin" yaml:"allow_other_origin"`           // Override: GE_ALLOW_OTHER_ORIGIN.
	AcceptedOrigins     []string `json:"accepted_origins" yaml:"accepted_origins"`               // Override: GE_ACCEPTED_ORIGINS.
	MaxRequestSizeBytes int64    `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`   // Default: 4 MiB.
	MaxConcurrent       int      `json:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"` // Default: 4.
	WebSocket           bool     `json:"websocket" yaml:"websocket"`                             // Enable the websocket endpoint.
	WebSocketPath       string   `json:"websocket_path" yaml:"websocket_path"`                   // Default: /ws.
	EnableDocs          bool     `json:"enable_docs" yaml:"enable_docs"`

	// APIKeys maps bearer tokens to client names. Empty disables authentication.
	APIKeys   map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Override: GE_API_KEYS ("key:client" per line).
	RateLimit *RateLimitConfig  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// RateLimitConfig bounds submissions per client.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size" validate:"gte=0"`                   // Default: requests_per_minute.
}

// Origins returns the accepted browser origins, defaulting to the local host.
func (s *ServerConfig) Origins() []string {
	if len(s.AcceptedOrigins) > 0 {
		return s.AcceptedOrigins
	}
	return []string{"127.0.0.1", "localhost"}
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	host := s.URL
	if host == "" {
		host = "127.0.0.1"
	}
	port := s.Port
	if port == 0 {
		port = 7590
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// RequestLimit returns the maximum request body size with a default of 4 MiB.
func (s *ServerConfig) RequestLimit() int64 {
	if s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 4 << 20
}

// Concurrency returns how many programs may run at once, default 4.
func (s *ServerConfig) Concurrency() int {
	if s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return 4
}

// WSPath returns the websocket path with a default of "/ws".
func (s *ServerConfig) WSPath() string {
	if s.WebSocketPath != "" {
		return s.WebSocketPath
	}
	return "/ws"
}

// SandboxConfig selects how the server isolates executions.
type SandboxConfig struct {
	Type   string               `json:"type" yaml:"type" validate:"omitempty,oneof=process docker inline"` // "process" (default) re-executes the binary per run, "docker" runs it in a container, "inline" runs in the server.
	Binary string               `json:"binary,omitempty" yaml:"binary,omitempty"`                         // Default: the running executable.
	Docker *DockerSandboxConfig `json:"docker,omitempty" yaml:"docker,omitempty"`

	// MaxResultMB caps the result a sandboxed run may print. Default: 256.
	MaxResultMB int `json:"max_result_mb,omitempty" yaml:"max_result_mb,omitempty" validate:"gte=0"`
}

// DockerSandboxConfig configures container isolation.
type DockerSandboxConfig struct {
	Image     string  `json:"image" yaml:"image"`                                        // Default: "graphery/executor:latest". The image must ship the executor binary.
	Binary    string  `json:"binary" yaml:"binary"`                                      // Path inside the image. Default: "executor".
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores" validate:"gte=0"`               // Default: 1.0
	PIDsLimit int     `json:"pids_limit" yaml:"pids_limit" validate:"gte=0"`             // Default: 64
	Network   bool    `json:"network_allowed" yaml:"network_allowed"`                   // Default: false (--network=none)
}

// SandboxType returns the sandbox type, defaulting to "process".
func (s *SandboxConfig) SandboxType() string {
	if s.Type != "" {
		return s.Type
	}
	return "process"
}

// MaxResultBytes returns the result size cap of sandboxed runs.
func (s *SandboxConfig) MaxResultBytes() int64 {
	if s.MaxResultMB > 0 {
		return int64(s.MaxResultMB) << 20
	}
	return 256 << 20
}

// StorageConfig configures the persistence backend of the result cache.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver" validate:"omitempty,oneof=sqlite postgres"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/executor.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: GE_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	TTLMinutes    int    `json:"ttl_minutes" yaml:"ttl_minutes" validate:"gte=0"` // Default: 1440.
	PruneSchedule string `json:"prune_schedule" yaml:"prune_schedule"`            // Cron spec. Default: "@every 10m".
}

// TTL returns how long cached results stay valid, default 24h.
func (c *CacheConfig) TTL() time.Duration {
	if c != nil && c.TTLMinutes > 0 {
		return time.Duration(c.TTLMinutes) * time.Minute
	}
	return 24 * time.Hour
}

// Schedule returns the prune schedule with a default of every 10 minutes.
func (c *CacheConfig) Schedule() string {
	if c != nil && c.PruneSchedule != "" {
		return c.PruneSchedule
	}
	return "@every 10m"
}

// HistoryConfig configures the run history.
type HistoryConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	RetentionHours int    `json:"retention_hours" yaml:"retention_hours" validate:"gte=0"` // Default: 168.
	TrimSchedule   string `json:"trim_schedule" yaml:"trim_schedule"`                      // Cron spec. Default: "@hourly".
}

// Retention returns how long runs are kept, default 7 days.
func (h *HistoryConfig) Retention() time.Duration {
	if h != nil && h.RetentionHours > 0 {
		return time.Duration(h.RetentionHours) * time.Hour
	}
	return 7 * 24 * time.Hour
}

// Schedule returns the trim schedule with a default of hourly.
func (h *HistoryConfig) Schedule() string {
	if h != nil && h.TrimSchedule != "" {
		return h.TrimSchedule
	}
	return "@hourly"
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`                                                // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol" validate:"omitempty,oneof=grpc http"`          // Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"`                                        // Default: "graphery-executor"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`                   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`                                                // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// AnomalyConfig configures detection of unusual run failure rates.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds" validate:"gte=0"`                  // Default: 300
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold" validate:"gte=0,lte=1"` // Default: 0.5
}

// DefaultConfigPath returns the default config file path (~/.graphery/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/executor.yaml"
	}
	return filepath.Join(home, ".graphery", "config.yaml")
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() (*Config, error) {
	var cfg Config
	return finish(&cfg)
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. An empty path selects Default. Environment variables take
// precedence over file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".graphery", "data")
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// env reads GE_<name>.
func env(name string) string { return goutils.Env(EnvPrefix+name, "") }

// applyEnv overrides config values from GE_ environment variables.
func applyEnv(cfg *Config) error {
	if v := env("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}

	e := &cfg.Executor
	if err := envInt("EXEC_TIME_OUT", &e.TimeOut); err != nil {
		return err
	}
	if err := envInt("EXEC_MEM_OUT", &e.MemOut); err != nil {
		return err
	}
	if err := envBool("IS_LOCAL", &e.IsLocal); err != nil {
		return err
	}
	if v := env("RAND_SEED"); v != "" && !strings.EqualFold(v, "none") {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sRAND_SEED: %w", EnvPrefix, err)
		}
		e.RandSeed = n
	}
	if v := env("FLOAT_PRECISION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sFLOAT_PRECISION: %w", EnvPrefix, err)
		}
		e.FloatPrecision = &n
	}
	if err := envInt("MAX_REPR_LENGTH", &e.MaxReprLength); err != nil {
		return err
	}
	if v := env("INPUT_LIST"); v != "" {
		e.InputList = ParseStringList(v)
	}

	s := &cfg.Server
	if v := env("SERVER_URL"); v != "" {
		s.URL = v
	}
	if err := envInt("SERVER_PORT", &s.Port); err != nil {
		return err
	}
	if err := envBool("ALLOW_OTHER_ORIGIN", &s.AllowOtherOrigin); err != nil {
		return err
	}
	if v := env("ACCEPTED_ORIGINS"); v != "" {
		s.AcceptedOrigins = ParseStringList(v)
	}

	if v := env("API_KEYS"); v != "" {
		s.APIKeys = make(map[string]string)
		for _, entry := range ParseStringList(v) {
			key, client, ok := strings.Cut(entry, ":")
			if !ok || key == "" {
				return fmt.Errorf("%sAPI_KEYS: entry must be key:client", EnvPrefix)
			}
			s.APIKeys[key] = client
		}
	}

	if v := env("DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := env(name)
	if v == "" || strings.EqualFold(v, "none") {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	switch strings.ToLower(env(name)) {
	case "":
		return nil
	case "true", "t", "1", "yes":
		*dst = true
	case "false", "f", "0", "no":
		*dst = false
	default:
		return fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, name, env(name))
	}
	return nil
}

// ParseStringList parses a JSON list of strings, falling back to one entry
// per line.
func ParseStringList(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	return strings.Split(s, "\n")
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "executor.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set %sDB_DSN)", EnvPrefix)
		}
	}
	if c.Server.WebSocketPath != "" && !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		return fmt.Errorf("server.websocket_path must start with /")
	}
	for _, spec := range []struct{ name, value string }{
		{"cache.prune_schedule", c.Cache.Schedule()},
		{"history.trim_schedule", c.History.Schedule()},
	} {
		if _, err := cron.ParseStandard(spec.value); err != nil {
			return fmt.Errorf("%s: %w", spec.name, err)
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
	}
	return nil
}
