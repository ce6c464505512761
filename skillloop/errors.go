package skillloop

import (
	"fmt"
	"strings"
)

// MalformedEnvelopeError reports assistant content that failed to parse as a
// control envelope. Corrected conversationally, bounded retries.
type MalformedEnvelopeError struct {
	Detail string
	Raw    string
}

func (e *MalformedEnvelopeError) Error() string {
	return "malformed control envelope: " + e.Detail
}

// PhaseViolationError reports an illegal phase transition. Corrected
// conversationally, bounded retries.
type PhaseViolationError struct {
	Detail string
}

func (e *PhaseViolationError) Error() string {
	return "phase transition violation: " + e.Detail
}

// ToolNotAllowedError reports tool calls outside the envelope's
// allowed_tools list.
type ToolNotAllowedError struct {
	Tools []string
}

func (e *ToolNotAllowedError) Error() string {
	return "tool calls not listed in allowed_tools: " + strings.Join(e.Tools, ", ")
}

// ToolUseDisallowedError reports tool calls made while the envelope set
// allow_tool_use to false.
type ToolUseDisallowedError struct{}

func (e *ToolUseDisallowedError) Error() string {
	return "tool use explicitly disallowed by control envelope"
}

// InfiniteLoopError reports a runaway sequence of identical tool calls that
// persisted after correction.
type InfiniteLoopError struct {
	Tool string
}

func (e *InfiniteLoopError) Error() string {
	return fmt.Sprintf("infinite tool-call loop detected: %s", e.Tool)
}

// CorrectionLimitError escalates a conversationally-corrected failure kind
// once its shared bounded counter is exceeded. Err carries the typed error
// of the final offense.
type CorrectionLimitError struct {
	Kind   string
	Count  int
	Detail string
	Err    error
}

func (e *CorrectionLimitError) Error() string {
	return fmt.Sprintf("correction limit exceeded after %d attempts (%s): %s", e.Count, e.Kind, e.Detail)
}

func (e *CorrectionLimitError) Unwrap() error {
	return e.Err
}
