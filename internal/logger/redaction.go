package logger

import (
	"io"
	"regexp"
)

// Redactor masks credential material before it reaches a log sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the credential shapes this
// system handles: issued API keys, cluster session tokens, bearer
// headers, provider keys, and kubeconfig secrets.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Issued API keys and cluster session tokens
			regexp.MustCompile(`sk-k8sai-[a-zA-Z0-9-]+-[a-zA-Z0-9_-]{8,}`),
			regexp.MustCompile(`holmes-session-[a-zA-Z0-9_-]{16,}`),

			// Provider API keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Bearer headers
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Kubeconfig credential fields
			regexp.MustCompile(`client-key-data:\s*[A-Za-z0-9+/=]+`),
			regexp.MustCompile(`client-certificate-data:\s*[A-Za-z0-9+/=]+`),
			regexp.MustCompile(`certificate-authority-data:\s*[A-Za-z0-9+/=]+`),

			// Generic credentials
			regexp.MustCompile(`password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern registers an extra redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every credential match in s with a placeholder.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the caller's byte count; the redacted form may differ in length.
	return len(p), nil
}
