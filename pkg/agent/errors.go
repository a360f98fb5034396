package agent

import (
	"errors"
	"strings"
)

// Fatal run errors. When one of these comes back from Run, no partial
// assistant turn has been appended to the conversation; the caller can
// retry the same prompt on an intact history.
var (
	// ErrModelUnavailable means the provider could not be reached or
	// kept failing after retries.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrMalformedResponse means the provider returned something that
	// could not be interpreted as an assistant turn.
	ErrMalformedResponse = errors.New("malformed model response")
)

// IsRetryable reports whether a provider error is worth retrying:
// transient network failures, rate limits, and server-side errors.
// Malformed responses and auth failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}

	return false
}
