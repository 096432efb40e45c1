// Package httpapi implements the HTTP listener of the executor.
//
//   - POST /run executes one submission and returns {"data": ...} or {"errors": [...]}
//   - POST /run/stream returns the same result as server-sent events
//   - GET /env reports the effective execution settings
//   - GET /runs and /runs/{id} expose the run history when it is enabled
//   - GET /healthz, /readyz and /metrics are never authenticated
//
// Security:
//   - Optional API key authentication (constant-time comparison)
//   - Request body size limits (default 4 MiB)
//   - Per-client rate limiting via token bucket
//   - Origin checks for browser clients
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/observability"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/service"
	"github.com/graphery/executor/internal/storage"
)

const (
	defaultMaxRequestSize = 4 << 20 // 4 MiB
	defaultRunsLimit      = 50
	maxRunsLimit          = 500
)

// ErrorBody is the error response used in OpenAPI documentation.
type ErrorBody = protocol.Response

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., "127.0.0.1:7590"
	EnableDocs     bool
	Version        string            // Server version reported by /env.
	APIKeys        map[string]string // API key -> client name. Empty disables authentication.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 4 MiB default.

	// Browser origins. AllowOtherOrigin accepts every origin; otherwise an
	// Origin header must contain one of AcceptedOrigins.
	AllowOtherOrigin bool
	AcceptedOrigins  []string

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// SettingsReporter reports the settings a submission with opts would run under.
type SettingsReporter interface {
	Settings(opts *protocol.Options) controller.Settings
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	runner   service.Runner
	settings SettingsReporter
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	runs     storage.RunStore // nil = history endpoints disabled.

	// Extra handlers mounted on the HTTP mux (e.g., the websocket endpoint).
	extraRoutes []extraRoute
	okapi       *okapi.Okapi
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway. limiter may be nil.
func NewGateway(cfg Config, runner service.Runner, settings SettingsReporter, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		runner:   runner,
		settings: settings,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithRunHistory enables the run history endpoints.
func (g *Gateway) WithRunHistory(runs storage.RunStore) *Gateway {
	g.runs = runs
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Graphery Executor",
			Version: g.config.Version,
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Used for the websocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// routes registers every route and middleware. It runs once, from Start.
func (g *Gateway) routes() {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return originMiddleware(g.config.AllowOtherOrigin, g.config.AcceptedOrigins, next)
	})

	g.okapi.Post("/run", g.guarded(g.handleRun),
		okapi.DocSummary("Execute a program and return its change records"),
		okapi.DocTags("Run"),
		okapi.DocRequestBody(protocol.Submission{}),
		okapi.DocResponse(protocol.Response{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusRequestEntityTooLarge, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.okapi.Post("/run/stream", g.guarded(g.handleRunStream),
		okapi.DocSummary("Execute a program and stream its change records via SSE"),
		okapi.DocTags("Run"),
		okapi.DocRequestBody(protocol.Submission{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.okapi.Get("/env", g.guarded(g.handleEnv),
		okapi.DocSummary("Report the effective execution settings"),
		okapi.DocTags("Run"),
		okapi.DocResponse(protocol.Response{}),
	)

	if g.runs != nil {
		g.okapi.Get("/runs", g.guarded(g.handleRunList),
			okapi.DocSummary("List recent runs"),
			okapi.DocTags("History"),
			okapi.DocResponse([]storage.RunRecord{}),
		)
		g.okapi.Get("/runs/{id}", g.guarded(g.handleRunGet),
			okapi.DocSummary("Get a run by ID"),
			okapi.DocTags("History"),
			okapi.DocPathParam("id", "string", "Run ID (UUID)"),
			okapi.DocResponse(storage.RunRecord{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Extra handlers (e.g., websocket endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.Bool("auth", len(g.config.APIKeys) > 0),
		slog.Bool("history", g.runs != nil),
	)
	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

func (g *Gateway) handleRun(c *okapi.Context) error {
	sub, status, err := g.admit(c)
	if err != nil {
		return c.JSON(status, protocol.NewErrorResponse(err.Error()))
	}

	out, err := g.runner.Run(c.Context(), service.Request{Submission: sub, Transport: "http"})
	if err != nil {
		g.logger.Error("run failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, protocol.NewErrorResponse("execution failed"))
	}
	return c.OK(runResponse(out))
}

// runResponse formats a finished run for the wire.
func runResponse(out *service.Outcome) protocol.Response {
	if e := out.Result.Error; e != nil {
		return protocol.NewRunErrorResponse(out.RunID, e, out.Result.Changes)
	}
	return protocol.NewDataResponse(protocol.RunData{
		RunID:  out.RunID,
		Info:   out.Result.Changes,
		Cached: out.Cached,
	})
}

// EnvResponse is the data of GET /env.
type EnvResponse struct {
	Version         string   `json:"version"`
	ProtocolVersion string   `json:"protocol_version"`
	ExecTimeOut     float64  `json:"exec_time_out"` // seconds
	ExecMemOut      int64    `json:"exec_mem_out"`  // MB
	IsLocal         bool     `json:"is_local"`
	RandSeed        int64    `json:"rand_seed"`
	FloatPrecision  int      `json:"float_precision"`
	MaxReprLength   int      `json:"max_repr_length"`
	InputList       []string `json:"input_list"`
}

func (g *Gateway) handleEnv(c *okapi.Context) error {
	s := g.settings.Settings(nil)
	inputs := s.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	return c.OK(protocol.NewDataResponse(EnvResponse{
		Version:         g.config.Version,
		ProtocolVersion: controller.ProtocolVersion,
		ExecTimeOut:     s.CPUTime.Seconds(),
		ExecMemOut:      s.MemoryLimit >> 20,
		IsLocal:         s.Trusted,
		RandSeed:        s.Seed,
		FloatPrecision:  s.FloatPrecision,
		MaxReprLength:   s.MaxReprLength,
		InputList:       inputs,
	}))
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	limit := defaultRunsLimit
	if v := c.Request().URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, protocol.NewErrorResponse("limit must be a positive integer"))
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := g.runs.List(c.Context(), limit)
	if err != nil {
		g.logger.Error("listing runs failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, protocol.NewErrorResponse("listing runs failed"))
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	return c.OK(protocol.NewDataResponse(runs))
}

func (g *Gateway) handleRunGet(c *okapi.Context) error {
	run, err := g.runs.Get(c.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, protocol.NewErrorResponse("run not found"))
	}
	if err != nil {
		g.logger.Error("loading run failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, protocol.NewErrorResponse("loading run failed"))
	}
	return c.OK(protocol.NewDataResponse(run))
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	return c.OK(g.config.HealthChecker.CheckHealth())
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Admission ---

// admit rate limits the client, reads the body and parses the submission.
// On failure it returns the HTTP status to answer with.
func (g *Gateway) admit(c *okapi.Context) (*protocol.Submission, int, error) {
	client := c.GetString("client")
	if err := g.limiter.Allow(client); err != nil {
		if g.config.Metrics != nil {
			g.config.Metrics.RateLimitedTotal.WithLabelValues("http").Inc()
		}
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			c.Response().Header().Set("Retry-After", strconv.Itoa(max(int(math.Ceil(le.RetryAfter.Seconds())), 1)))
		}
		return nil, http.StatusTooManyRequests, err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, g.config.MaxRequestSize+1))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", g.config.MaxRequestSize)
	}

	sub, err := protocol.ParseSubmission(body)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return sub, 0, nil
}

// --- Authentication ---

// guarded wraps h with authentication.
func (g *Gateway) guarded(h okapi.HandlerFunc) func(*okapi.Context) error {
	return g.authenticate(h)
}

// authenticate validates the API key and stores the mapped client name.
// Without configured keys every request passes and the client is the remote
// host.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("client", remoteHost(c.Request()))
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, protocol.NewErrorResponse("missing or invalid Authorization header"))
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		client := ""
		for key, name := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				client = name
			}
		}
		if client == "" {
			return c.JSON(http.StatusUnauthorized, protocol.NewErrorResponse("invalid API key"))
		}
		c.Set("client", client)
		return next(c)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
