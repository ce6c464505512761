package llmstream

import (
	"fmt"
	"strings"
)

// BackendError is the base error type for failures reported by a backend.
type BackendError struct {
	Message    string
	Cause      error
	StatusCode int
	Code       string
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// RateLimitError indicates the backend throttled the request.
type RateLimitError struct{ BackendError }

// ServerError indicates a transient server-side failure (5xx).
type ServerError struct{ BackendError }

// AuthError indicates invalid or missing credentials. Never transient.
type AuthError struct{ BackendError }

// InvalidRequestError indicates the request itself was rejected. Never
// transient.
type InvalidRequestError struct{ BackendError }

// StreamProtocolError indicates a malformed or erroring event stream. It is
// fatal for the turn: the assembler aborts and nothing retries it.
type StreamProtocolError struct {
	Message string
	Cause   error
}

func (e *StreamProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream protocol error: %s: %v", e.Message, e.Cause)
	}
	return "stream protocol error: " + e.Message
}

func (e *StreamProtocolError) Unwrap() error {
	return e.Cause
}

// ConfigError indicates a misconfigured client or backend.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// rateLimitPhrases are message fragments that mark an error as rate limiting
// even when no status code or error code survived the backend boundary.
var rateLimitPhrases = []string{
	"rate limit",
	"rate-limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
}

// IsTransient reports whether an error is safe to retry: HTTP 429, a
// rate-limit error code, a rate-limit phrase in the message, or a 5xx
// server error. Everything else, including stream protocol errors, is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *AuthError, *InvalidRequestError, *StreamProtocolError, *ConfigError:
		return false
	case *BackendError:
		if e.StatusCode == 429 || e.StatusCode >= 500 {
			return true
		}
		if strings.Contains(strings.ToLower(e.Code), "rate_limit") {
			return true
		}
	}
	return hasRateLimitPhrase(err.Error())
}

func hasRateLimitPhrase(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
