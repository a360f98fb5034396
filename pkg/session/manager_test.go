package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestGetOrCreate(t *testing.T) {
	t.Run("should create empty conversation on first reference", func(t *testing.T) {
		m := setupManager(t)

		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)

		assert.Equal(t, "ops-1", conv.SessionKey())
		assert.Equal(t, 0, conv.Len())
	})

	t.Run("should return same instance for same key", func(t *testing.T) {
		m := setupManager(t)

		a, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		b, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)

		assert.Same(t, a, b)
	})

	t.Run("should reject unsafe session keys", func(t *testing.T) {
		m := setupManager(t)

		for _, key := range []string{"", "../etc", "a/b", "a\\b", "nul\x00"} {
			_, err := m.GetOrCreate(context.Background(), key)
			assert.Error(t, err, "key %q", key)
		}
	})

	t.Run("should load persisted turns after restart", func(t *testing.T) {
		dir := t.TempDir()

		m1, err := New(dir)
		require.NoError(t, err)
		conv, err := m1.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("list pods")))
		require.NoError(t, conv.Append(AssistantTurn("two pods running", nil)))
		m1.Close()

		m2, err := New(dir)
		require.NoError(t, err)
		defer m2.Close()
		reloaded, err := m2.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)

		turns := reloaded.Snapshot()
		require.Len(t, turns, 2)
		assert.Equal(t, RoleUser, turns[0].Role)
		assert.Equal(t, "list pods", turns[0].Content)
		assert.Equal(t, RoleAssistant, turns[1].Role)
	})

	t.Run("should skip corrupt lines on load", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ops-1.jsonl")
		content := `{"sessionKey":"ops-1","turn":{"role":"user","content":"hello","timestamp":"2026-01-02T03:04:05Z"}}
not json at all
{"sessionKey":"ops-1","turn":{"role":"assistant","content":"hi","timestamp":"2026-01-02T03:04:06Z"}}
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		m, err := New(dir)
		require.NoError(t, err)
		defer m.Close()

		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		assert.Equal(t, 2, conv.Len())
	})

	t.Run("should drop a trailing assistant turn with unanswered tool calls on load", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ops-1.jsonl")
		// A crash after mirroring the assistant turn but before all its
		// tool results leaves call_2 unanswered.
		content := `{"sessionKey":"ops-1","turn":{"role":"user","content":"restart the pod","timestamp":"2026-01-02T03:04:05Z"}}
{"sessionKey":"ops-1","turn":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","name":"kubectl","arguments":{}},{"id":"call_2","name":"kubectl","arguments":{}}],"timestamp":"2026-01-02T03:04:06Z"}}
{"sessionKey":"ops-1","turn":{"role":"tool","content":"pod deleted","tool_call_id":"call_1","timestamp":"2026-01-02T03:04:07Z"}}
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		m, err := New(dir)
		require.NoError(t, err)
		defer m.Close()

		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)

		turns := conv.Snapshot()
		require.Len(t, turns, 1)
		assert.Equal(t, RoleUser, turns[0].Role)
	})

	t.Run("should keep fully answered tool exchanges on load", func(t *testing.T) {
		dir := t.TempDir()

		m1, err := New(dir)
		require.NoError(t, err)
		conv, err := m1.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("list pods")))
		require.NoError(t, conv.Append(AssistantTurn("", []ToolCall{{ID: "call_1", Name: "kubectl", Arguments: map[string]interface{}{}}})))
		require.NoError(t, conv.Append(ToolResultTurn("call_1", "pod-a Running")))
		require.NoError(t, conv.Append(AssistantTurn("one pod running", nil)))
		m1.Close()

		m2, err := New(dir)
		require.NoError(t, err)
		defer m2.Close()
		reloaded, err := m2.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		assert.Equal(t, 4, reloaded.Len())
	})

	t.Run("should keep a history ending in answered tool results", func(t *testing.T) {
		dir := t.TempDir()

		m1, err := New(dir)
		require.NoError(t, err)
		conv, err := m1.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("list pods")))
		require.NoError(t, conv.Append(AssistantTurn("", []ToolCall{{ID: "call_1", Name: "kubectl", Arguments: map[string]interface{}{}}})))
		require.NoError(t, conv.Append(ToolResultTurn("call_1", "pod-a Running")))
		m1.Close()

		m2, err := New(dir)
		require.NoError(t, err)
		defer m2.Close()
		reloaded, err := m2.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		assert.Equal(t, 3, reloaded.Len())
	})
}

func TestEnd(t *testing.T) {
	t.Run("should discard conversation and file", func(t *testing.T) {
		m := setupManager(t)

		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("hello")))

		require.NoError(t, m.End(context.Background(), "ops-1"))

		sessions, err := m.ListSessions()
		require.NoError(t, err)
		assert.Empty(t, sessions)

		fresh, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		assert.Equal(t, 0, fresh.Len())
	})

	t.Run("should be idempotent for unknown sessions", func(t *testing.T) {
		m := setupManager(t)
		assert.NoError(t, m.End(context.Background(), "never-created"))
	})
}

func TestConversationAppend(t *testing.T) {
	t.Run("should preserve append order in snapshot", func(t *testing.T) {
		m := setupManager(t)
		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)

		require.NoError(t, conv.Append(UserTurn("list pods")))
		require.NoError(t, conv.Append(AssistantTurn("", []ToolCall{{ID: "call_1", Name: "kubectl", Arguments: map[string]interface{}{"cmd": "get pods"}}})))
		require.NoError(t, conv.Append(ToolResultTurn("call_1", "pod-a Running")))
		require.NoError(t, conv.Append(AssistantTurn("one pod running", nil)))

		turns := conv.Snapshot()
		require.Len(t, turns, 4)
		assert.Equal(t, []string{RoleUser, RoleAssistant, RoleTool, RoleAssistant}, []string{
			turns[0].Role, turns[1].Role, turns[2].Role, turns[3].Role,
		})
		assert.Equal(t, "call_1", turns[1].ToolCalls[0].ID)
		assert.Equal(t, "call_1", turns[2].ToolCallID)
	})

	t.Run("should reject invalid turns", func(t *testing.T) {
		m := setupManager(t)
		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)

		assert.Error(t, conv.Append(Turn{Role: RoleUser}))
		assert.Error(t, conv.Append(Turn{Role: RoleTool, Content: "out"}))
		assert.Error(t, conv.Append(Turn{Role: "oracle", Content: "hm"}))
		assert.Error(t, conv.Append(Turn{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "kubectl"}}}))
	})

	t.Run("snapshot should be a copy", func(t *testing.T) {
		m := setupManager(t)
		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("hello")))

		snap := conv.Snapshot()
		snap[0].Content = "mutated"

		assert.Equal(t, "hello", conv.Snapshot()[0].Content)
	})
}

func TestArchiver(t *testing.T) {
	t.Run("should compress and remove archived session", func(t *testing.T) {
		m := setupManager(t)
		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("hello")))

		a := NewArchiver(m, 0, 0)
		require.NoError(t, a.ArchiveNow("ops-1"))

		sessions, err := m.ListSessions()
		require.NoError(t, err)
		assert.Empty(t, sessions)

		archived, err := a.ListArchived()
		require.NoError(t, err)
		assert.Equal(t, []string{"ops-1"}, archived)
	})

	t.Run("sweep should leave fresh sessions alone", func(t *testing.T) {
		m := setupManager(t)
		conv, err := m.GetOrCreate(context.Background(), "ops-1")
		require.NoError(t, err)
		require.NoError(t, conv.Append(UserTurn("hello")))

		a := NewArchiver(m, 0, 0)
		require.NoError(t, a.Sweep())

		sessions, err := m.ListSessions()
		require.NoError(t, err)
		assert.Equal(t, []string{"ops-1"}, sessions)
	})
}
