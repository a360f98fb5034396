package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harunnryd/k8sai/internal/metrics"
	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/pkg/apikey"
	"github.com/harunnryd/k8sai/pkg/cluster"
)

// AdminServer is the management listener: cluster session CRUD,
// liveness, and metrics, on a port separate from agent traffic.
type AdminServer struct {
	host    string
	port    int
	version string

	store    *apikey.Store
	clusters *cluster.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	server *http.Server
}

// AdminConfig holds admin server configuration.
type AdminConfig struct {
	Host    string
	Port    int
	Version string

	Store    *apikey.Store
	Clusters *cluster.Registry
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewAdminServer creates the admin server.
func NewAdminServer(cfg AdminConfig) (*AdminServer, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("API key store is required")
	}
	if cfg.Clusters == nil {
		return nil, fmt.Errorf("cluster registry is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}

	return &AdminServer{
		host:     cfg.Host,
		port:     cfg.Port,
		version:  cfg.Version,
		store:    cfg.Store,
		clusters: cfg.Clusters,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// Handler builds the admin routing table. Exposed for tests.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
	})
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/admin/sessions", s.handleSessions)
	mux.HandleFunc("/admin/sessions/", s.handleSessionByToken)

	return AuthMiddleware(s.store, mux)
}

// Start begins serving in a background goroutine.
func (s *AdminServer) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting admin server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()
	return nil
}

// Stop shuts the listener down.
func (s *AdminServer) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// registerSessionRequest is the POST /admin/sessions body.
type registerSessionRequest struct {
	Name       string `json:"name"`
	Kubeconfig string `json:"kubeconfig"`
	Context    string `json:"context,omitempty"`
	TTLHours   int    `json:"ttl_hours,omitempty"`
}

// registerSessionResponse is the POST /admin/sessions reply. The full
// token appears only here; every listing masks it.
type registerSessionResponse struct {
	SessionToken string    `json:"session_token"`
	Context      string    `json:"context"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *AdminServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterSession(w, r)
	case http.MethodGet:
		s.metrics.ObserveAdmin("list_sessions", "ok")
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.clusters.List()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *AdminServer) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.ObserveAdmin("register_session", "bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Kubeconfig == "" {
		s.metrics.ObserveAdmin("register_session", "bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kubeconfig is required"})
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	clusterSession, err := s.clusters.Register(req.Name, []byte(req.Kubeconfig), req.Context, ttl)
	if err != nil {
		s.metrics.ObserveAdmin("register_session", "error")
		observability.RecordAdminAudit(r.Context(), "register_session", req.Name, "error", nil)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.metrics.ObserveAdmin("register_session", "ok")
	observability.RecordAdminAudit(r.Context(), "register_session", req.Name, "ok", map[string]interface{}{
		"context": clusterSession.Context,
	})
	writeJSON(w, http.StatusCreated, registerSessionResponse{
		SessionToken: clusterSession.Token,
		Context:      clusterSession.Context,
		ExpiresAt:    clusterSession.ExpiresAt,
	})
}

func (s *AdminServer) handleSessionByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/admin/sessions/")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session token is required"})
		return
	}

	if err := s.clusters.Delete(token); err != nil {
		s.metrics.ObserveAdmin("delete_session", "error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.metrics.ObserveAdmin("delete_session", "ok")
	observability.RecordAdminAudit(r.Context(), "delete_session", "", "ok", nil)
	w.WriteHeader(http.StatusNoContent)
}
