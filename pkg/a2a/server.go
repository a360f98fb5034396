// Package a2a exposes the agent to other programs: an agent card for
// discovery, a JSON-RPC message endpoint, a WebSocket streaming
// variant, and a separate admin listener for cluster session
// management. All non-discovery traffic is bearer-authenticated
// against the API key store.
package a2a

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harunnryd/k8sai/internal/metrics"
	"github.com/harunnryd/k8sai/internal/tracing"
	"github.com/harunnryd/k8sai/pkg/agent"
	"github.com/harunnryd/k8sai/pkg/apikey"
	"github.com/harunnryd/k8sai/pkg/cluster"
	"github.com/harunnryd/k8sai/pkg/kubectl"
	"github.com/harunnryd/k8sai/pkg/lane"
	"github.com/harunnryd/k8sai/pkg/session"
)

// Server is the agent-facing HTTP listener.
type Server struct {
	host    string
	port    int
	version string

	store    *apikey.Store
	clusters *cluster.Registry
	sessions *session.Manager
	queue    *lane.Queue
	loop     *agent.Loop
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	// invocationTimeout bounds one whole loop run, 0 meaning none.
	invocationTimeout time.Duration

	server       *http.Server
	upgrader     websocket.Upgrader
	inFlightReqs sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	Store    *apikey.Store
	Clusters *cluster.Registry
	Sessions *session.Manager
	Queue    *lane.Queue
	Loop     *agent.Loop
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	InvocationTimeout time.Duration
}

// NewServer creates the A2A server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("API key store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("lane queue is required")
	}
	if cfg.Loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}

	return &Server{
		host:              cfg.Host,
		port:              cfg.Port,
		version:           cfg.Version,
		store:             cfg.Store,
		clusters:          cfg.Clusters,
		sessions:          cfg.Sessions,
		queue:             cfg.Queue,
		loop:              cfg.Loop,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		invocationTimeout: cfg.InvocationTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler builds the full middleware chain. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("/agent-card.json", s.handleAgentCard)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	var handler http.Handler = mux
	handler = AuthMiddleware(s.store, handler)
	handler = s.requestLogger(handler)
	handler = s.recoverPanics(handler)
	return handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting A2A server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("A2A server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down A2A server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	url := fmt.Sprintf("http://%s:%d/", s.host, s.port)
	writeJSON(w, http.StatusOK, NewAgentCard(url, s.version))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// handleRoot serves the JSON-RPC endpoint and its WebSocket upgrade.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleStream(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.metrics.ObserveRPC("unknown", "parse_error")
		writeJSON(w, http.StatusOK, NewErrorResponse(nil, CodeParseError, "Parse error"))
		return
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.metrics.ObserveRPC(request.Method, "invalid_request")
		writeJSON(w, http.StatusOK, NewErrorResponse(request.ID, CodeInvalidRequest, "Invalid request"))
		return
	}

	ctx := tracing.NewRequestContext(r.Context())

	switch request.Method {
	case "message/send":
		writeJSON(w, http.StatusOK, s.handleSend(ctx, request))
	default:
		s.metrics.ObserveRPC(request.Method, "not_found")
		writeJSON(w, http.StatusOK, NewErrorResponse(request.ID, CodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", request.Method)))
	}
}

// handleSend resolves the conversation and cluster for a message and
// runs the loop on the session's lane.
func (s *Server) handleSend(ctx context.Context, request Request) Response {
	params, rpcErr := s.parseSendParams(request)
	if rpcErr != nil {
		s.metrics.ObserveRPC(request.Method, "invalid_request")
		return Response{JSONRPC: "2.0", ID: request.ID, Error: rpcErr}
	}

	sessionKey := params.Message.ContextID
	if sessionKey == "" {
		sessionKey = "a2a-" + uuid.NewString()
	}

	result, err := s.runInvocation(ctx, sessionKey, params, nil)
	if err != nil {
		s.metrics.ObserveRPC(request.Method, "error")
		s.logger.Error().Err(err).Str("session_key", sessionKey).Msg("message/send failed")
		return NewErrorResponse(request.ID, CodeInternalError, err.Error())
	}

	s.metrics.ObserveRPC(request.Method, "ok")
	return NewResponse(request.ID, SendResult{
		Message:   TextMessage("agent", result.Response, sessionKey),
		Completed: result.Completed,
		Steps:     result.Steps,
	})
}

func (s *Server) parseSendParams(request Request) (SendParams, *Error) {
	var params SendParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return params, &Error{Code: CodeInvalidRequest, Message: "Invalid params: " + err.Error()}
	}
	if params.Message.Text() == "" {
		return params, &Error{Code: CodeInvalidRequest, Message: "Message must contain a text part"}
	}
	return params, nil
}

// runInvocation enqueues one loop run on the session's lane, pinning
// commands to a registered cluster when a token is given.
func (s *Server) runInvocation(ctx context.Context, sessionKey string, params SendParams, observe func(agent.StepEvent)) (agent.Result, error) {
	if s.invocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.invocationTimeout)
		defer cancel()
	}
	if params.ClusterToken != "" {
		if s.clusters == nil {
			return agent.Result{}, fmt.Errorf("cluster sessions are not enabled")
		}
		clusterSession, ok := s.clusters.Resolve(params.ClusterToken)
		if !ok {
			return agent.Result{}, fmt.Errorf("unknown or expired cluster session")
		}
		ctx = kubectl.WithPin(ctx, kubectl.Pin{
			Kubeconfig: clusterSession.KubeconfigPath,
			Context:    clusterSession.Context,
		})
	}

	conv, err := s.sessions.GetOrCreate(ctx, sessionKey)
	if err != nil {
		return agent.Result{}, fmt.Errorf("failed to open session: %w", err)
	}

	value, err := s.queue.Enqueue(ctx, lane.ForSession(sessionKey), func(taskCtx context.Context) (interface{}, error) {
		return s.loop.RunWithObserver(taskCtx, conv, params.Message.Text(), observe)
	})
	if err != nil {
		return agent.Result{}, err
	}
	return value.(agent.Result), nil
}

// recoverPanics converts handler panics into internal errors instead
// of dropped connections.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("Handler panicked")
				writeJSON(w, http.StatusInternalServerError,
					NewErrorResponse(nil, CodeInternalError, "Internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger tracks in-flight requests and records access logs and
// latency metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", duration).
			Msg("Request handled")
		s.metrics.ObserveRequest(r.URL.Path, r.Method, recorder.status, duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
