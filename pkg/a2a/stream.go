package a2a

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/k8sai/internal/tracing"
	"github.com/harunnryd/k8sai/pkg/agent"
)

// handleStream runs one message/stream request over a WebSocket: the
// client sends a single JSON-RPC request, the server emits status
// frames while the loop progresses, then the final message, then
// closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	var request Request
	if err := conn.ReadJSON(&request); err != nil {
		_ = conn.WriteJSON(StreamEvent{
			Kind:   "status",
			Status: "failed",
			Error:  &Error{Code: CodeParseError, Message: "Parse error"},
		})
		return
	}
	if request.JSONRPC != "2.0" || request.Method != "message/stream" {
		s.metrics.ObserveRPC(request.Method, "invalid_request")
		_ = conn.WriteJSON(StreamEvent{
			Kind:   "status",
			Status: "failed",
			Error:  &Error{Code: CodeInvalidRequest, Message: "Expected a message/stream request"},
		})
		return
	}

	params, rpcErr := s.parseSendParams(request)
	if rpcErr != nil {
		s.metrics.ObserveRPC(request.Method, "invalid_request")
		_ = conn.WriteJSON(StreamEvent{Kind: "status", Status: "failed", Error: rpcErr})
		return
	}

	sessionKey := params.Message.ContextID
	if sessionKey == "" {
		sessionKey = "a2a-" + uuid.NewString()
	}

	// WriteJSON is not safe for concurrent use; the observer runs on
	// the loop goroutine.
	var writeMu sync.Mutex
	send := func(event StreamEvent) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to write stream event")
		}
	}

	send(StreamEvent{Kind: "status", Status: "working"})

	ctx := tracing.NewRequestContext(r.Context())
	result, err := s.runInvocation(ctx, sessionKey, params, func(ev agent.StepEvent) {
		switch ev.Type {
		case "assistant":
			if len(ev.Text) > 0 {
				send(StreamEvent{Kind: "status", Status: "working", Note: "thinking"})
			}
		case "tool_result":
			note := "tool executed"
			if ev.ToolCall != nil {
				note = fmt.Sprintf("ran %s", ev.ToolCall.Name)
				if ev.IsError {
					note = fmt.Sprintf("%s failed", ev.ToolCall.Name)
				}
			}
			send(StreamEvent{Kind: "status", Status: "working", Note: note})
		}
	})
	if err != nil {
		s.metrics.ObserveRPC(request.Method, "error")
		s.logger.Error().Err(err).Str("session_key", sessionKey).Msg("message/stream failed")
		send(StreamEvent{
			Kind:   "status",
			Status: "failed",
			Error:  &Error{Code: CodeInternalError, Message: err.Error()},
		})
		return
	}

	status := "completed"
	if !result.Completed {
		status = "failed"
	}
	send(StreamEvent{Kind: "status", Status: status})

	final := TextMessage("agent", result.Response, sessionKey)
	send(StreamEvent{Kind: "message", Message: &final})

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
