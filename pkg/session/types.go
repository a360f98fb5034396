package session

import (
	"fmt"
	"time"
)

// Turn roles. A conversation is an ordered log of user input, assistant
// replies, and tool results.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model-issued request to invoke a registered tool.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Turn is one immutable record in a conversation. The role determines
// which fields are meaningful: user turns carry Content; assistant
// turns carry Content and an ordered, possibly empty ToolCalls list;
// tool turns carry Content and the ToolCallID they answer.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Validate checks the structural rules for a turn.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser:
		if t.Content == "" {
			return fmt.Errorf("user turn content cannot be empty")
		}
	case RoleAssistant:
		// An assistant turn may carry only tool calls, only text, or both.
		if t.Content == "" && len(t.ToolCalls) == 0 {
			return fmt.Errorf("assistant turn must carry text or tool calls")
		}
		for i, tc := range t.ToolCalls {
			if tc.ID == "" {
				return fmt.Errorf("tool call %d has empty id", i)
			}
			if tc.Name == "" {
				return fmt.Errorf("tool call %d has empty name", i)
			}
		}
	case RoleTool:
		if t.ToolCallID == "" {
			return fmt.Errorf("tool turn must reference a tool call id")
		}
	case "":
		return fmt.Errorf("turn role cannot be empty")
	default:
		return fmt.Errorf("unknown turn role %q", t.Role)
	}
	return nil
}

// UserTurn builds a user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(text string, calls []ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: text, ToolCalls: calls, Timestamp: time.Now()}
}

// ToolResultTurn builds a tool result turn answering one tool call.
func ToolResultTurn(toolCallID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: toolCallID, Timestamp: time.Now()}
}

// Entry is the on-disk JSONL record for one turn.
type Entry struct {
	SessionKey string `json:"sessionKey"`
	Turn       Turn   `json:"turn"`
}
