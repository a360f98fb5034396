// Package cluster manages registered cluster sessions: an uploaded
// kubeconfig plus a chosen context, addressable by an opaque session
// token with a bounded lifetime. Commands for a session are pinned to
// its kubeconfig file, so one server can serve many clusters without
// the callers sharing credentials.
package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/harunnryd/k8sai/internal/observability"
)

const (
	// TokenPrefix starts every session token.
	TokenPrefix = "holmes-session-"

	// DefaultTTL applies when registration does not name a lifetime.
	DefaultTTL = 24 * time.Hour

	// MaxTTL caps requested lifetimes.
	MaxTTL = 168 * time.Hour

	// DefaultSweepInterval is the expiry sweeper cadence.
	DefaultSweepInterval = 10 * time.Minute

	tokenLength       = 32
	indexFileName     = "sessions.yaml"
	kubeconfigsSubdir = "kubeconfigs"
)

// Session is one registered cluster.
type Session struct {
	Token          string    `yaml:"token" json:"token"`
	Name           string    `yaml:"name" json:"name"`
	Context        string    `yaml:"context" json:"context"`
	KubeconfigPath string    `yaml:"kubeconfig_path" json:"kubeconfig_path"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
	ExpiresAt      time.Time `yaml:"expires_at" json:"expires_at"`
}

// Expired reports whether the session's lifetime has passed.
func (s Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Masked is a Session safe to list: the token is reduced to its tail.
type Masked struct {
	TokenSuffix string    `json:"token_suffix"`
	Name        string    `json:"name"`
	Context     string    `json:"context"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Config holds registry configuration. Zero values fall back to the
// package defaults.
type Config struct {
	// Dir roots the registry; empty means ~/.k8sai/clusters.
	Dir string

	// DefaultTTL applies when registration does not name a lifetime.
	DefaultTTL time.Duration

	// MaxTTL caps requested lifetimes.
	MaxTTL time.Duration

	// SweepInterval is the cadence of the expiry sweeper.
	SweepInterval time.Duration
}

// Registry holds cluster sessions backed by a directory: one
// kubeconfig file per session plus a yaml index.
type Registry struct {
	dir           string
	defaultTTL    time.Duration
	maxTTL        time.Duration
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]Session // by token

	cron *cron.Cron
}

// New loads (or initializes) the registry described by cfg. Sessions
// already expired on disk are dropped during load.
func New(cfg Config) (*Registry, error) {
	dir := cfg.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".k8sai", "clusters")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = MaxTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		return nil, fmt.Errorf("default TTL %s exceeds max TTL %s", cfg.DefaultTTL, cfg.MaxTTL)
	}
	if err := os.MkdirAll(filepath.Join(dir, kubeconfigsSubdir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cluster directory: %w", err)
	}

	r := &Registry{
		dir:           dir,
		defaultTTL:    cfg.DefaultTTL,
		maxTTL:        cfg.MaxTTL,
		sweepInterval: cfg.SweepInterval,
		sessions:      make(map[string]Session),
	}
	if err := r.load(); err != nil {
		return nil, err
	}

	observability.SetClusterSessions(len(r.sessions))
	return r, nil
}

// Register validates the kubeconfig, stores it under a fresh session
// token, and returns the session. An empty contextName selects the
// kubeconfig's current context. The TTL is clamped to the registry's
// maximum; zero means the registry's default.
func (r *Registry) Register(name string, kubeconfig []byte, contextName string, ttl time.Duration) (Session, error) {
	config, err := clientcmd.Load(kubeconfig)
	if err != nil {
		return Session{}, fmt.Errorf("invalid kubeconfig: %w", err)
	}

	if contextName == "" {
		contextName = config.CurrentContext
	}
	if contextName == "" {
		return Session{}, fmt.Errorf("kubeconfig has no current context; a context name is required")
	}
	if _, ok := config.Contexts[contextName]; !ok {
		available := make([]string, 0, len(config.Contexts))
		for name := range config.Contexts {
			available = append(available, name)
		}
		sort.Strings(available)
		return Session{}, fmt.Errorf("context %q not found in kubeconfig (available: %s)",
			contextName, strings.Join(available, ", "))
	}

	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if ttl > r.maxTTL {
		ttl = r.maxTTL
	}

	secret, err := gonanoid.New(tokenLength)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}
	token := TokenPrefix + secret

	kubeconfigPath := filepath.Join(r.dir, kubeconfigsSubdir, secret+".yaml")
	if err := clientcmd.WriteToFile(*config, kubeconfigPath); err != nil {
		return Session{}, fmt.Errorf("failed to store kubeconfig: %w", err)
	}
	if err := os.Chmod(kubeconfigPath, 0600); err != nil {
		os.Remove(kubeconfigPath)
		return Session{}, fmt.Errorf("failed to restrict kubeconfig permissions: %w", err)
	}

	if name == "" {
		name = contextName
	}

	now := time.Now().UTC()
	session := Session{
		Token:          token,
		Name:           name,
		Context:        contextName,
		KubeconfigPath: kubeconfigPath,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	r.mu.Lock()
	r.sessions[token] = session
	count := len(r.sessions)
	err = r.save()
	r.mu.Unlock()

	if err != nil {
		r.mu.Lock()
		delete(r.sessions, token)
		r.mu.Unlock()
		os.Remove(kubeconfigPath)
		return Session{}, err
	}

	observability.SetClusterSessions(count)
	log.Info().
		Str("name", name).
		Str("context", contextName).
		Time("expires_at", session.ExpiresAt).
		Msg("Cluster session registered")
	return session, nil
}

// Resolve returns the session for a token. An expired session is
// removed on the spot and reported as absent.
func (r *Registry) Resolve(token string) (Session, bool) {
	r.mu.RLock()
	session, ok := r.sessions[token]
	r.mu.RUnlock()

	if !ok {
		return Session{}, false
	}
	if session.Expired() {
		if err := r.Delete(token); err != nil {
			log.Warn().Err(err).Msg("Failed to remove expired cluster session")
		}
		return Session{}, false
	}
	return session, true
}

// Delete removes a session and its stored kubeconfig. Unknown tokens
// are a no-op.
func (r *Registry) Delete(token string) error {
	r.mu.Lock()
	session, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
	}
	count := len(r.sessions)
	var err error
	if ok {
		err = r.save()
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if removeErr := os.Remove(session.KubeconfigPath); removeErr != nil && !os.IsNotExist(removeErr) {
		log.Warn().Err(removeErr).Str("path", session.KubeconfigPath).Msg("Failed to remove kubeconfig file")
	}

	observability.SetClusterSessions(count)
	return err
}

// List returns masked sessions sorted by creation time.
func (r *Registry) List() []Masked {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Masked, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, Masked{
			TokenSuffix: maskToken(session.Token),
			Name:        session.Name,
			Context:     session.Context,
			CreatedAt:   session.CreatedAt,
			ExpiresAt:   session.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep removes every expired session.
func (r *Registry) Sweep() error {
	r.mu.Lock()
	var expired []Session
	for token, session := range r.sessions {
		if session.Expired() {
			expired = append(expired, session)
			delete(r.sessions, token)
		}
	}
	count := len(r.sessions)
	var err error
	if len(expired) > 0 {
		err = r.save()
	}
	r.mu.Unlock()

	for _, session := range expired {
		if removeErr := os.Remove(session.KubeconfigPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Warn().Err(removeErr).Str("path", session.KubeconfigPath).Msg("Failed to remove kubeconfig file")
		}
	}

	if len(expired) > 0 {
		log.Info().Int("swept", len(expired)).Msg("Expired cluster sessions swept")
		observability.RecordClusterSessionsSwept(len(expired))
		observability.SetClusterSessions(count)
	}
	return err
}

// StartSweeper schedules sweeps at the registry's sweep interval.
func (r *Registry) StartSweeper() error {
	if r.cron != nil {
		return fmt.Errorf("sweeper is already running")
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.sweepInterval), func() {
		if err := r.Sweep(); err != nil {
			log.Error().Err(err).Msg("Cluster session sweep failed")
		}
	}); err != nil {
		r.cron = nil
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	r.cron.Start()

	log.Info().Dur("interval", r.sweepInterval).Msg("Cluster session sweeper started")
	return nil
}

// StopSweeper cancels scheduled sweeps.
func (r *Registry) StopSweeper() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.cron = nil
}

// load reads the index, dropping entries that are expired or whose
// kubeconfig file is gone.
func (r *Registry) load() error {
	data, err := os.ReadFile(filepath.Join(r.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session index: %w", err)
	}

	var sessions []Session
	if err := yaml.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("failed to parse session index: %w", err)
	}

	for _, session := range sessions {
		if session.Token == "" || session.Expired() {
			continue
		}
		if _, err := os.Stat(session.KubeconfigPath); err != nil {
			continue
		}
		r.sessions[session.Token] = session
	}
	return nil
}

// save writes the index atomically. Caller holds r.mu.
func (r *Registry) save() error {
	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })

	data, err := yaml.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal session index: %w", err)
	}

	path := filepath.Join(r.dir, indexFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session index: %w", err)
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "..." + token[len(token)-4:]
}
