package cluster

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKubeconfig = `apiVersion: v1
kind: Config
current-context: staging
clusters:
- name: staging-cluster
  cluster:
    server: https://staging.example.com:6443
- name: prod-cluster
  cluster:
    server: https://prod.example.com:6443
contexts:
- name: staging
  context:
    cluster: staging-cluster
    user: staging-user
- name: prod
  context:
    cluster: prod-cluster
    user: prod-user
users:
- name: staging-user
  user:
    token: staging-token
- name: prod-user
  user:
    token: prod-token
`

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return r
}

func TestRegister(t *testing.T) {
	t.Run("should issue prefixed token and store kubeconfig", func(t *testing.T) {
		r := setupRegistry(t)

		session, err := r.Register("prod-cluster", []byte(testKubeconfig), "prod", time.Hour)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(session.Token, TokenPrefix))
		assert.Len(t, strings.TrimPrefix(session.Token, TokenPrefix), tokenLength)
		assert.Equal(t, "prod", session.Context)

		info, err := os.Stat(session.KubeconfigPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("should default to current context", func(t *testing.T) {
		r := setupRegistry(t)

		session, err := r.Register("", []byte(testKubeconfig), "", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "staging", session.Context)
		assert.Equal(t, "staging", session.Name)
	})

	t.Run("should reject unknown context", func(t *testing.T) {
		r := setupRegistry(t)

		_, err := r.Register("x", []byte(testKubeconfig), "nonexistent", time.Hour)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `context "nonexistent" not found`)
		assert.Contains(t, err.Error(), "prod, staging")
	})

	t.Run("should reject malformed kubeconfig", func(t *testing.T) {
		r := setupRegistry(t)

		_, err := r.Register("bad", []byte("not: [valid"), "", time.Hour)
		assert.ErrorContains(t, err, "invalid kubeconfig")
	})

	t.Run("should clamp ttl to the maximum", func(t *testing.T) {
		r := setupRegistry(t)

		session, err := r.Register("", []byte(testKubeconfig), "", 1000*time.Hour)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(MaxTTL), session.ExpiresAt, time.Minute)
	})

	t.Run("should default ttl when unset", func(t *testing.T) {
		r := setupRegistry(t)

		session, err := r.Register("", []byte(testKubeconfig), "", 0)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(DefaultTTL), session.ExpiresAt, time.Minute)
	})

	t.Run("should clamp ttl to a configured maximum", func(t *testing.T) {
		r, err := New(Config{Dir: t.TempDir(), MaxTTL: 24 * time.Hour})
		require.NoError(t, err)

		session, err := r.Register("", []byte(testKubeconfig), "", 100*time.Hour)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), session.ExpiresAt, time.Minute)
	})

	t.Run("should apply a configured default ttl", func(t *testing.T) {
		r, err := New(Config{Dir: t.TempDir(), DefaultTTL: 2 * time.Hour})
		require.NoError(t, err)

		session, err := r.Register("", []byte(testKubeconfig), "", 0)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(2*time.Hour), session.ExpiresAt, time.Minute)
	})
}

func TestNewConfig(t *testing.T) {
	t.Run("should reject default ttl above the maximum", func(t *testing.T) {
		_, err := New(Config{Dir: t.TempDir(), DefaultTTL: 48 * time.Hour, MaxTTL: 24 * time.Hour})
		assert.ErrorContains(t, err, "exceeds max TTL")
	})
}

func TestResolve(t *testing.T) {
	t.Run("should return registered session", func(t *testing.T) {
		r := setupRegistry(t)
		session, err := r.Register("prod-cluster", []byte(testKubeconfig), "prod", time.Hour)
		require.NoError(t, err)

		resolved, ok := r.Resolve(session.Token)
		require.True(t, ok)
		assert.Equal(t, session.KubeconfigPath, resolved.KubeconfigPath)
		assert.Equal(t, "prod", resolved.Context)
	})

	t.Run("should miss unknown token", func(t *testing.T) {
		r := setupRegistry(t)
		_, ok := r.Resolve("holmes-session-00000000000000000000000000000000")
		assert.False(t, ok)
	})

	t.Run("should expire lazily and remove kubeconfig", func(t *testing.T) {
		r := setupRegistry(t)
		session, err := r.Register("", []byte(testKubeconfig), "", time.Hour)
		require.NoError(t, err)

		// Force expiry.
		r.mu.Lock()
		expired := r.sessions[session.Token]
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		r.sessions[session.Token] = expired
		r.mu.Unlock()

		_, ok := r.Resolve(session.Token)
		assert.False(t, ok)

		_, err = os.Stat(session.KubeconfigPath)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestSweep(t *testing.T) {
	t.Run("should remove only expired sessions", func(t *testing.T) {
		r := setupRegistry(t)
		stale, err := r.Register("staging-cluster", []byte(testKubeconfig), "staging", time.Hour)
		require.NoError(t, err)
		fresh, err := r.Register("prod-cluster", []byte(testKubeconfig), "prod", time.Hour)
		require.NoError(t, err)

		r.mu.Lock()
		session := r.sessions[stale.Token]
		session.ExpiresAt = time.Now().Add(-time.Minute)
		r.sessions[stale.Token] = session
		r.mu.Unlock()

		require.NoError(t, r.Sweep())

		_, ok := r.Resolve(stale.Token)
		assert.False(t, ok)
		_, ok = r.Resolve(fresh.Token)
		assert.True(t, ok)
	})

	t.Run("should schedule the sweeper at a configured interval", func(t *testing.T) {
		r, err := New(Config{Dir: t.TempDir(), SweepInterval: time.Second})
		require.NoError(t, err)

		require.NoError(t, r.StartSweeper())
		defer r.StopSweeper()
		assert.Len(t, r.cron.Entries(), 1)
	})
}

func TestPersistence(t *testing.T) {
	t.Run("should reload sessions after restart", func(t *testing.T) {
		dir := t.TempDir()
		r1, err := New(Config{Dir: dir})
		require.NoError(t, err)
		session, err := r1.Register("prod-cluster", []byte(testKubeconfig), "prod", time.Hour)
		require.NoError(t, err)

		r2, err := New(Config{Dir: dir})
		require.NoError(t, err)

		resolved, ok := r2.Resolve(session.Token)
		require.True(t, ok)
		assert.Equal(t, "prod", resolved.Context)
	})

	t.Run("should drop expired sessions on load", func(t *testing.T) {
		dir := t.TempDir()
		r1, err := New(Config{Dir: dir})
		require.NoError(t, err)
		session, err := r1.Register("", []byte(testKubeconfig), "", time.Hour)
		require.NoError(t, err)

		r1.mu.Lock()
		expired := r1.sessions[session.Token]
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		r1.sessions[session.Token] = expired
		require.NoError(t, r1.save())
		r1.mu.Unlock()

		r2, err := New(Config{Dir: dir})
		require.NoError(t, err)
		_, ok := r2.Resolve(session.Token)
		assert.False(t, ok)
	})
}

func TestList(t *testing.T) {
	t.Run("should mask tokens", func(t *testing.T) {
		r := setupRegistry(t)
		session, err := r.Register("prod-cluster", []byte(testKubeconfig), "prod", time.Hour)
		require.NoError(t, err)

		listed := r.List()
		require.Len(t, listed, 1)
		assert.Equal(t, "prod", listed[0].Context)
		assert.Equal(t, "prod-cluster", listed[0].Name)
		assert.True(t, strings.HasPrefix(listed[0].TokenSuffix, "..."))
		assert.NotEqual(t, session.Token, listed[0].TokenSuffix)
	})
}

func TestDelete(t *testing.T) {
	t.Run("should remove session and file", func(t *testing.T) {
		r := setupRegistry(t)
		session, err := r.Register("", []byte(testKubeconfig), "", time.Hour)
		require.NoError(t, err)

		require.NoError(t, r.Delete(session.Token))

		_, ok := r.Resolve(session.Token)
		assert.False(t, ok)
		_, err = os.Stat(session.KubeconfigPath)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("should ignore unknown token", func(t *testing.T) {
		r := setupRegistry(t)
		assert.NoError(t, r.Delete("holmes-session-unknown"))
	})
}
