package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/internal/tracing"
)

// Manager maps external session keys to Conversation instances,
// creating them lazily on first reference and mirroring every turn to
// a per-session JSONL file so CLI conversations survive restarts.
// In-memory state is the source of truth during an invocation.
type Manager struct {
	sessionsDir string

	mu            sync.Mutex
	conversations map[string]*Conversation
	fileLocks     map[string]*sync.Mutex
}

// New creates a Manager rooted at sessionsDir (default
// ~/.k8sai/sessions).
func New(sessionsDir string) (*Manager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".k8sai", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{
		sessionsDir:   sessionsDir,
		conversations: make(map[string]*Conversation),
		fileLocks:     make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")
	m.updateActiveSessionsMetric()

	return m, nil
}

// validateSessionKey rejects keys that could escape the sessions
// directory. Keys are caller-supplied opaque strings.
func validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) sessionPath(sessionKey string) string {
	return filepath.Join(m.sessionsDir, sessionKey+".jsonl")
}

func (m *Manager) updateActiveSessionsMetric() {
	sessions, err := m.ListSessions()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (m *Manager) fileLock(sessionKey string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, exists := m.fileLocks[sessionKey]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.fileLocks[sessionKey] = lock
	return lock
}

// GetOrCreate resolves a session key to its Conversation, creating an
// empty one on first reference. Existing JSONL history is loaded so a
// restarted process continues where it left off.
func (m *Manager) GetOrCreate(ctx context.Context, sessionKey string) (*Conversation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"k8sai.session",
		"session.get_or_create",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sessionKey).Logger()

	if err := validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.mu.Lock()
	if conv, exists := m.conversations[sessionKey]; exists {
		m.mu.Unlock()
		return conv, nil
	}
	m.mu.Unlock()

	start := time.Now()
	turns, err := m.loadTurns(ctx, sessionKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.RecordSessionLoad(time.Since(start))

	conv := &Conversation{
		sessionKey: sessionKey,
		createdAt:  time.Now(),
		turns:      turns,
		mirror: func(turn Turn) error {
			return m.appendTurn(sessionKey, turn)
		},
	}

	m.mu.Lock()
	// Another caller may have raced us here; keep the first instance so
	// every invocation for a key shares one Conversation.
	if existing, exists := m.conversations[sessionKey]; exists {
		m.mu.Unlock()
		return existing, nil
	}
	m.conversations[sessionKey] = conv
	m.mu.Unlock()

	logger.Debug().Int("turns", len(turns)).Msg("Session resolved")
	m.updateActiveSessionsMetric()

	return conv, nil
}

// End discards a session: its in-memory conversation and its JSONL
// file. Subsequent GetOrCreate calls start from an empty log.
func (m *Manager) End(ctx context.Context, sessionKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"k8sai.session",
		"session.end",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sessionKey).Logger()

	if err := validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := m.fileLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.conversations, sessionKey)
	delete(m.fileLocks, sessionKey)
	m.mu.Unlock()

	if err := os.Remove(m.sessionPath(sessionKey)); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	m.updateActiveSessionsMetric()
	logger.Info().Msg("Session ended")

	return nil
}

// appendTurn writes one turn to the session's JSONL mirror.
func (m *Manager) appendTurn(sessionKey string, turn Turn) error {
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	lock := m.fileLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(m.sessionPath(sessionKey), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Entry{SessionKey: sessionKey, Turn: turn})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	return nil
}

// loadTurns reads a session's JSONL file, skipping corrupt lines with
// a warning.
func (m *Manager) loadTurns(ctx context.Context, sessionKey string) ([]Turn, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sessionKey).Logger()

	path := m.sessionPath(sessionKey)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if err := entry.Turn.Validate(); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Invalid turn, skipping")
			continue
		}

		turns = append(turns, entry.Turn)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	return repairTrailingToolCalls(turns, logger), nil
}

// repairTrailingToolCalls drops a trailing assistant turn whose tool
// calls were never answered, plus any partial results after it. A crash
// between mirroring the assistant turn and its tool results would
// otherwise resume the conversation with an unanswered call, and the
// model is never invoked with one.
func repairTrailingToolCalls(turns []Turn, logger zerolog.Logger) []Turn {
	idx := -1
scan:
	for i := len(turns) - 1; i >= 0; i-- {
		switch turns[i].Role {
		case RoleTool:
			continue
		case RoleAssistant:
			if len(turns[i].ToolCalls) > 0 {
				idx = i
			}
			break scan
		default:
			break scan
		}
	}
	if idx == -1 {
		return turns
	}

	answered := make(map[string]bool)
	for _, turn := range turns[idx+1:] {
		answered[turn.ToolCallID] = true
	}
	for _, call := range turns[idx].ToolCalls {
		if !answered[call.ID] {
			logger.Warn().
				Int("dropped", len(turns)-idx).
				Str("tool_call_id", call.ID).
				Msg("Dropping trailing turns with unanswered tool call")
			return turns[:idx]
		}
	}
	return turns
}

// ListSessions lists all persisted session keys.
func (m *Manager) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}

	return sessions, nil
}

// Info describes a persisted session.
type Info struct {
	SessionKey   string    `json:"session_key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	TurnCount    int       `json:"turn_count"`
}

// GetSessionInfo returns metadata about a persisted session.
func (m *Manager) GetSessionInfo(sessionKey string) (Info, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return Info{}, err
	}

	stat, err := os.Stat(m.sessionPath(sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, fmt.Errorf("session does not exist")
		}
		return Info{}, fmt.Errorf("failed to stat session file: %w", err)
	}

	turns, err := m.loadTurns(context.Background(), sessionKey)
	if err != nil {
		return Info{}, err
	}

	return Info{
		SessionKey:   sessionKey,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
		TurnCount:    len(turns),
	}, nil
}

// Dir returns the sessions directory.
func (m *Manager) Dir() string {
	return m.sessionsDir
}

// Close releases in-memory state. Persisted files are left intact.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.conversations = make(map[string]*Conversation)
	m.fileLocks = make(map[string]*sync.Mutex)
	m.mu.Unlock()

	log.Info().Msg("Session manager closed")
	return nil
}
