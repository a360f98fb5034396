// Package apikey manages the server's API keys: generation, storage,
// revocation, and bearer validation. Keys live in a JSON file with
// owner-only permissions; extra keys can be injected through the
// environment for bootstrapping.
package apikey

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const (
	// KeyPrefix starts every generated key.
	KeyPrefix = "sk-k8sai"

	// EnvExtraKeys names the environment variable holding additional
	// comma-separated keys accepted alongside the stored ones.
	EnvExtraKeys = "K8S_AI_AUTH_KEYS"

	secretLength = 16
	keysFileName = "keys.json"
)

// Record is one stored key.
type Record struct {
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Masked is a Record safe to list: the secret is reduced to its tail.
type Masked struct {
	Name       string     `json:"name"`
	KeySuffix  string     `json:"key_suffix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Store holds API keys backed by a JSON file.
type Store struct {
	path string

	mu      sync.RWMutex
	records map[string]Record // by name
	envKeys []string
}

// New loads (or initializes) the store at dir/keys.json. Extra keys
// from EnvExtraKeys are accepted for validation but never persisted.
func New(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".k8sai")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	s := &Store{
		path:    filepath.Join(dir, keysFileName),
		records: make(map[string]Record),
		envKeys: parseEnvKeys(os.Getenv(EnvExtraKeys)),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Generate creates and persists a new key for the given owner name.
func (s *Store) Generate(name string) (Record, error) {
	sanitized := sanitizeName(name)
	if sanitized == "" {
		return Record{}, fmt.Errorf("key name must contain at least one letter or digit")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[sanitized]; exists {
		return Record{}, fmt.Errorf("key %q already exists; revoke it first", sanitized)
	}

	secret, err := gonanoid.New(secretLength)
	if err != nil {
		return Record{}, fmt.Errorf("failed to generate key secret: %w", err)
	}

	record := Record{
		Name:      sanitized,
		Key:       fmt.Sprintf("%s-%s-%s", KeyPrefix, sanitized, secret),
		CreatedAt: time.Now().UTC(),
	}
	s.records[sanitized] = record

	if err := s.save(); err != nil {
		delete(s.records, sanitized)
		return Record{}, err
	}

	log.Info().Str("name", sanitized).Msg("API key generated")
	return record, nil
}

// Revoke removes a key by owner name or by the full key itself.
func (s *Store) Revoke(nameOrKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanitized := sanitizeName(nameOrKey)
	if _, exists := s.records[sanitized]; !exists {
		if strings.HasPrefix(nameOrKey, KeyPrefix) {
			for name, record := range s.records {
				if record.Key == nameOrKey {
					sanitized = name
					break
				}
			}
		}
		if _, exists := s.records[sanitized]; !exists {
			return fmt.Errorf("no key named %q", sanitized)
		}
	}
	delete(s.records, sanitized)

	if err := s.save(); err != nil {
		return err
	}
	log.Info().Str("name", sanitized).Msg("API key revoked")
	return nil
}

// List returns masked records sorted by name.
func (s *Store) List() []Masked {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Masked, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, Masked{
			Name:       record.Name,
			KeySuffix:  maskKey(record.Key),
			CreatedAt:  record.CreatedAt,
			LastUsedAt: record.LastUsedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate reports whether the presented key is accepted, either from
// the store or from the environment extras. Comparison is constant
// time per candidate.
func (s *Store) Validate(key string) bool {
	if key == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if subtle.ConstantTimeCompare([]byte(record.Key), []byte(key)) == 1 {
			return true
		}
	}
	for _, envKey := range s.envKeys {
		if subtle.ConstantTimeCompare([]byte(envKey), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// AddExtra accepts one more key for validation without persisting it.
// Extra keys survive reloads.
func (s *Store) AddExtra(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envKeys = append(s.envKeys, key)
}

// Touch records a successful use of the key. Unknown keys (including
// environment extras) are a no-op.
func (s *Store) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, record := range s.records {
		if subtle.ConstantTimeCompare([]byte(record.Key), []byte(key)) == 1 {
			now := time.Now().UTC()
			record.LastUsedAt = &now
			s.records[name] = record

			if err := s.save(); err != nil {
				log.Warn().Err(err).Msg("Failed to persist key usage timestamp")
			}
			return
		}
	}
}

// Reload re-reads the backing file, picking up external edits.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the backing file into memory. Caller holds s.mu when
// invoked outside New.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = make(map[string]Record)
			return nil
		}
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse key file: %w", err)
	}

	loaded := make(map[string]Record, len(records))
	for _, record := range records {
		if record.Name == "" || record.Key == "" {
			continue
		}
		loaded[record.Name] = record
	}
	s.records = loaded
	return nil
}

// save writes the key file atomically with owner-only permissions.
func (s *Store) save() error {
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace key file: %w", err)
	}
	return nil
}

// sanitizeName lowercases and reduces a name to [a-z0-9-], collapsing
// runs of other characters into single dashes.
func sanitizeName(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}

func parseEnvKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}
