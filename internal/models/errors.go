package models

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrorKind is the taxonomy bucket for a surfaced failure.
type ErrorKind string

const (
	ErrorNetwork  ErrorKind = "network"
	ErrorTimeout  ErrorKind = "timeout"
	ErrorHeadless ErrorKind = "headless"
	ErrorParsing  ErrorKind = "parsing"
	ErrorAI       ErrorKind = "ai"
	ErrorAuth     ErrorKind = "auth"
	ErrorUnknown  ErrorKind = "unknown"
)

// ErrorRecord is one append-only error-log row. Every absorbed failure
// produces exactly one record.
type ErrorRecord struct {
	RunID      string            `json:"run_id,omitempty"`
	UserID     *int64            `json:"user_id,omitempty"`
	SourceID   *int64            `json:"source_id,omitempty"`
	SourceURL  string            `json:"source_url"`
	ArticleURL string            `json:"article_url,omitempty"`
	Kind       ErrorKind         `json:"kind"`
	Message    string            `json:"message"`
	Method     string            `json:"method,omitempty"`
	Step       string            `json:"step,omitempty"`
	RetryCount int               `json:"retry_count"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewRunID returns a fresh ULID string used to correlate log lines and
// error records belonging to one pipeline run.
func NewRunID() string {
	return ulid.Make().String()
}

type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Tag attaches a taxonomy kind to err so Classify returns it unchanged.
// Call sites that know what failed tag explicitly; Classify's heuristics are
// the fallback for untagged errors.
func Tag(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Classify maps an error to its taxonomy kind. Tagged errors win; otherwise
// typed network and deadline errors are checked, then message heuristics.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}

	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrorTimeout
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "authentication", "invalid api key"):
		return ErrorAuth
	case containsAny(msg, "chrome", "chromedp", "browser", "devtools", "headless", "xvfb", "target crashed"):
		return ErrorHeadless
	case containsAny(msg, "llm", "anthropic", "openai", "rate limit", "completion"):
		return ErrorAI
	case containsAny(msg, "connection refused", "connection reset", "no such host", "dns", "tls", "unexpected eof", "status code", "bad gateway"):
		return ErrorNetwork
	case containsAny(msg, "parse", "selector", "unmarshal", "invalid json", "malformed", "syntax"):
		return ErrorParsing
	default:
		return ErrorUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
