// Package ws implements the websocket endpoint for interactive clients.
// A client submits programs as run.submit messages and receives a
// run.accepted acknowledgement followed by a run.result once the program
// finished. Several runs may be in flight on one connection.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/graphery/executor/internal/observability"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/service"
)

// Subprotocol is offered to clients that negotiate one.
const Subprotocol = "graphery-executor-v1"

// Error codes sent in MsgError payloads.
const (
	CodeInvalidMessage    = "invalid_message"
	CodeInvalidSubmission = "invalid_submission"
	CodeUnknownType       = "unknown_type"
	CodeRateLimited       = "rate_limited"
	CodeBusy              = "busy"
	CodeExecutionFailed   = "execution_failed"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultMaxInflight  = 2
	defaultReadLimit    = 4 << 20
)

// Config configures the websocket endpoint.
type Config struct {
	// APIKeys maps tokens to client names. Empty disables authentication.
	APIKeys map[string]string

	AllowOtherOrigin bool
	AcceptedOrigins  []string

	PingInterval time.Duration // Default: 30s.
	MaxInflight  int           // Unfinished runs per connection. Default: 2.
	ReadLimit    int64         // Maximum message size in bytes. Default: 4 MiB.
}

// Server accepts websocket connections and runs the programs they submit.
type Server struct {
	cfg     Config
	runner  service.Runner
	limiter *ratelimit.Limiter
	metrics *observability.MetricsCollector
	tracker *RunTracker
	logger  *slog.Logger
}

// NewServer creates a websocket server. limiter and metrics may be nil.
func NewServer(cfg Config, runner service.Runner, limiter *ratelimit.Limiter, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Server{
		cfg:     cfg,
		runner:  runner,
		limiter: limiter,
		metrics: metrics,
		tracker: NewRunTracker(logger),
		logger:  logger,
	}
}

// Tracker returns the run tracker shared by all connections.
func (s *Server) Tracker() *RunTracker {
	return s.tracker
}

// Handler returns an http.Handler that upgrades connections to websocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	client, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	opts := &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}}
	if s.cfg.AllowOtherOrigin {
		opts.InsecureSkipVerify = true
	} else {
		for _, o := range s.cfg.AcceptedOrigins {
			opts.OriginPatterns = append(opts.OriginPatterns, "*"+o+"*")
		}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}
	s.handleConnection(r.Context(), conn, client)
}

// authenticate resolves the client name from a token query parameter or a
// Bearer header. Without API keys the remote host names the client.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if len(s.cfg.APIKeys) == 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return host, true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return "", false
	}
	client := ""
	for key, name := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			client = name
		}
	}
	return client, client != ""
}

// connection is the per-connection state shared by the read loop and the
// run goroutines.
type connection struct {
	id     string
	client string
	conn   *websocket.Conn
	logger *slog.Logger
	runs   sync.WaitGroup
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, client string) {
	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		id:     uuid.NewString(),
		client: client,
		conn:   conn,
	}
	c.logger = s.logger.With(slog.String("conn_id", c.id), slog.String("client", client))
	defer func() {
		cancel()
		c.runs.Wait()
		s.tracker.ForgetConn(c.id)
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()
	c.logger.Info("websocket client connected")

	go s.heartbeatLoop(ctx, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				c.logger.Info("websocket client disconnected")
			} else {
				c.logger.Warn("websocket connection error", slog.String("error", err.Error()))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(ctx, c, "", CodeInvalidMessage, "message is not a valid envelope")
			continue
		}
		s.handleMessage(ctx, c, &env)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *connection, env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgPing:
		pong, _ := protocol.NewEnvelope(protocol.MsgPong, nil)
		if err := s.writeEnvelope(ctx, c.conn, pong); err != nil {
			c.logger.Debug("pong failed", slog.String("error", err.Error()))
		}

	case protocol.MsgRunSubmit:
		s.submit(ctx, c, env)

	default:
		c.logger.Warn("unknown message type from client", slog.String("type", string(env.Type)))
		s.sendError(ctx, c, "", CodeUnknownType, "unknown message type: "+string(env.Type))
	}
}

// submit validates a submission, acknowledges it and runs it in the
// background. The acknowledgement is always written before the result.
func (s *Server) submit(ctx context.Context, c *connection, env *protocol.Envelope) {
	if err := s.limiter.Allow(c.client); err != nil {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.WithLabelValues("ws").Inc()
		}
		s.sendError(ctx, c, "", CodeRateLimited, err.Error())
		return
	}
	if s.tracker.ActiveForConn(c.id) >= s.cfg.MaxInflight {
		s.sendError(ctx, c, "", CodeBusy, "too many runs in flight on this connection")
		return
	}
	sub, err := protocol.ParseSubmission(env.Payload)
	if err != nil {
		s.sendError(ctx, c, "", CodeInvalidSubmission, err.Error())
		return
	}

	runID := uuid.NewString()
	s.tracker.Track(runID, c.id, c.client)
	accepted, _ := protocol.NewEnvelope(protocol.MsgRunAccepted, protocol.RunAcceptedPayload{RunID: runID})
	accepted.RunID = runID
	if err := s.writeEnvelope(ctx, c.conn, accepted); err != nil {
		s.tracker.MarkFailed(runID, err.Error())
		c.logger.Debug("acknowledgement failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return
	}

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		s.execute(ctx, c, runID, sub)
	}()
}

func (s *Server) execute(ctx context.Context, c *connection, runID string, sub *protocol.Submission) {
	s.tracker.MarkRunning(runID)
	out, err := s.runner.Run(ctx, service.Request{Submission: sub, Transport: "ws", RunID: runID})
	if err != nil {
		s.tracker.MarkFailed(runID, err.Error())
		c.logger.Error("websocket run failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		s.sendError(ctx, c, runID, CodeExecutionFailed, "execution failed")
		return
	}
	s.tracker.MarkCompleted(runID)

	res, _ := protocol.NewEnvelope(protocol.MsgRunResult, protocol.RunResultPayload{
		RunID:    runID,
		Changes:  out.Result.Changes,
		Error:    out.Result.Error,
		Cached:   out.Cached,
		Duration: out.Duration.String(),
	})
	res.RunID = runID
	if err := s.writeEnvelope(ctx, c.conn, res); err != nil {
		c.logger.Debug("result delivery failed", slog.String("run_id", runID), slog.String("error", err.Error()))
	}
}

func (s *Server) heartbeatLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingInterval)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("heartbeat ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) sendError(ctx context.Context, c *connection, runID, code, message string) {
	env, _ := protocol.NewEnvelope(protocol.MsgError, protocol.ErrorPayload{Code: code, Message: message})
	env.RunID = runID
	if err := s.writeEnvelope(ctx, c.conn, env); err != nil {
		c.logger.Debug("error delivery failed", slog.String("code", code), slog.String("error", err.Error()))
	}
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
