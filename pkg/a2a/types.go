package a2a

import "encoding/json"

// JSON-RPC 2.0 error codes, plus the auth extensions carried over the
// same envelope.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603

	// Auth failures ride outside the reserved JSON-RPC range so
	// clients can distinguish them from protocol errors.
	CodeInvalidAPIKey     = -32001
	CodeMissingAuthHeader = -32002
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NewResponse builds a success response.
func NewResponse(id, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id interface{}, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// NewAuthErrorResponse builds an auth failure response with the
// auth_error marker in data.
func NewAuthErrorResponse(code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    map[string]interface{}{"auth_error": true},
		},
	}
}

// Part is one piece of message content. Only text parts are produced
// and consumed today.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message is one conversational message on the wire.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`

	// ContextID carries the conversation key across requests. The
	// server mints one on the first message and echoes it back.
	ContextID string `json:"contextId,omitempty"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	out := ""
	for _, part := range m.Parts {
		if part.Kind == "text" {
			out += part.Text
		}
	}
	return out
}

// TextMessage builds a single-part text message.
func TextMessage(role, text, contextID string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{{Kind: "text", Text: text}},
		ContextID: contextID,
	}
}

// SendParams are the parameters of message/send and message/stream.
type SendParams struct {
	Message Message `json:"message"`

	// ClusterToken selects a registered cluster session; commands run
	// during this invocation are pinned to its kubeconfig and context.
	ClusterToken string `json:"clusterToken,omitempty"`
}

// SendResult is the result of message/send.
type SendResult struct {
	Message   Message `json:"message"`
	Completed bool    `json:"completed"`
	Steps     int     `json:"steps"`
}

// StreamEvent is one frame on a message/stream WebSocket.
type StreamEvent struct {
	// Kind is "status" while the run progresses or "message" for the
	// final reply.
	Kind string `json:"kind"`

	// Status is "working", "completed", or "failed" on status frames.
	Status string `json:"status,omitempty"`

	// Note describes tool activity on working frames.
	Note string `json:"note,omitempty"`

	Message *Message `json:"message,omitempty"`
	Error   *Error   `json:"error,omitempty"`
}
