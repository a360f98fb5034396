package a2a

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/k8sai/pkg/apikey"
	"github.com/harunnryd/k8sai/pkg/cluster"
)

const adminTestKubeconfig = `apiVersion: v1
kind: Config
current-context: staging
clusters:
- name: staging
  cluster:
    server: https://staging.example.com:6443
contexts:
- name: staging
  context:
    cluster: staging
    user: staging-admin
users:
- name: staging-admin
  user:
    token: staging-token
`

type adminTestServer struct {
	server   *AdminServer
	clusters *cluster.Registry
	key      string
}

func setupAdminServer(t *testing.T) *adminTestServer {
	t.Helper()

	store, err := apikey.New(t.TempDir())
	require.NoError(t, err)
	record, err := store.Generate("admin")
	require.NoError(t, err)

	clusters, err := cluster.New(cluster.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	server, err := NewAdminServer(AdminConfig{
		Host:     "127.0.0.1",
		Port:     9998,
		Version:  "test",
		Store:    store,
		Clusters: clusters,
	})
	require.NoError(t, err)

	return &adminTestServer{server: server, clusters: clusters, key: record.Key}
}

func (ts *adminTestServer) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.key)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func (ts *adminTestServer) registerSession(t *testing.T) registerSessionResponse {
	t.Helper()
	body, err := json.Marshal(registerSessionRequest{
		Name:       "staging-cluster",
		Kubeconfig: adminTestKubeconfig,
	})
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/admin/sessions", string(body), true)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp registerSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAdminAuth(t *testing.T) {
	t.Run("should reject unauthenticated session listing", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodGet, "/admin/sessions", "", false)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		var response Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.NotNil(t, response.Error)
		assert.Equal(t, CodeMissingAuthHeader, response.Error.Code)
	})

	t.Run("should serve health without auth", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodGet, "/health", "", false)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"version":"test"`)
	})

	t.Run("should require auth for metrics", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodGet, "/metrics", "", false)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		w = ts.do(t, http.MethodGet, "/metrics", "", true)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAdminMetrics(t *testing.T) {
	t.Run("should expose agent listener traffic when metrics are shared", func(t *testing.T) {
		ts := setupServer(t)

		_, result := ts.send(t, "how are my pods?", "")
		require.True(t, result.Completed)

		clusters, err := cluster.New(cluster.Config{Dir: t.TempDir()})
		require.NoError(t, err)
		admin, err := NewAdminServer(AdminConfig{
			Host:     "127.0.0.1",
			Port:     9998,
			Version:  "test",
			Store:    ts.store,
			Clusters: clusters,
			Metrics:  ts.metrics,
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.Header.Set("Authorization", "Bearer "+ts.key)
		w := httptest.NewRecorder()
		admin.Handler().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `rpc_calls_total{method="message/send",status="ok"} 1`)
	})
}

func TestAdminRegisterSession(t *testing.T) {
	t.Run("should register a cluster session and return the token once", func(t *testing.T) {
		ts := setupAdminServer(t)

		resp := ts.registerSession(t)

		assert.True(t, strings.HasPrefix(resp.SessionToken, cluster.TokenPrefix))
		assert.Equal(t, "staging", resp.Context)
		assert.WithinDuration(t, time.Now().Add(cluster.DefaultTTL), resp.ExpiresAt, time.Minute)

		// The token resolves to a usable session.
		clusterSession, ok := ts.clusters.Resolve(resp.SessionToken)
		require.True(t, ok)
		assert.Equal(t, "staging-cluster", clusterSession.Name)
	})

	t.Run("should reject missing kubeconfig", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodPost, "/admin/sessions", `{"name":"x"}`, true)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "kubeconfig is required")
	})

	t.Run("should reject malformed kubeconfig", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodPost, "/admin/sessions", `{"kubeconfig":"not: [valid"}`, true)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should reject invalid JSON body", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodPost, "/admin/sessions", `{broken`, true)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid JSON body")
	})
}

func TestAdminListSessions(t *testing.T) {
	t.Run("should list sessions with masked tokens", func(t *testing.T) {
		ts := setupAdminServer(t)
		resp := ts.registerSession(t)

		w := ts.do(t, http.MethodGet, "/admin/sessions", "", true)
		require.Equal(t, http.StatusOK, w.Code)

		var listing struct {
			Sessions []cluster.Masked `json:"sessions"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		require.Len(t, listing.Sessions, 1)
		assert.Equal(t, "staging-cluster", listing.Sessions[0].Name)
		assert.NotContains(t, w.Body.String(), resp.SessionToken)
	})
}

func TestAdminDeleteSession(t *testing.T) {
	t.Run("should delete a session by token", func(t *testing.T) {
		ts := setupAdminServer(t)
		resp := ts.registerSession(t)

		w := ts.do(t, http.MethodDelete, "/admin/sessions/"+resp.SessionToken, "", true)
		assert.Equal(t, http.StatusNoContent, w.Code)

		_, ok := ts.clusters.Resolve(resp.SessionToken)
		assert.False(t, ok)
	})

	t.Run("should reject missing token", func(t *testing.T) {
		ts := setupAdminServer(t)

		w := ts.do(t, http.MethodDelete, "/admin/sessions/", "", true)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
