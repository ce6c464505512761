package llmstream

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// StreamAssembler folds an ordered sequence of wire events into one complete
// assistant turn. A single assembler may be reused across turns; the
// once-per-kind drift warnings persist across reuse, per-turn accumulation
// state does not.
//
// The assembler never retries: a stream-level error aborts the turn
// immediately, and retrying the backend call is the caller's job.
type StreamAssembler struct {
	logger      *zap.Logger
	warnedKinds map[string]bool
}

// NewStreamAssembler creates a StreamAssembler. A nil logger disables
// logging.
func NewStreamAssembler(logger *zap.Logger) *StreamAssembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamAssembler{
		logger:      logger,
		warnedKinds: make(map[string]bool),
	}
}

// turnState is the per-turn accumulation state.
type turnState struct {
	output     strings.Builder
	input      strings.Builder
	refusal    strings.Builder
	calls      map[string]*ToolCall
	callOrder  []string
	usage      Usage
	finalUsage *Usage
}

// Assemble consumes events until the stream completes, the channel closes,
// an error event arrives, or ctx is cancelled. It returns the reconstructed
// assistant message and the turn's usage counters.
func (a *StreamAssembler) Assemble(ctx context.Context, events <-chan WireEvent) (Message, Usage, error) {
	state := &turnState{calls: make(map[string]*ToolCall)}

	for {
		select {
		case <-ctx.Done():
			return Message{}, Usage{}, ctx.Err()
		case event, ok := <-events:
			if !ok {
				return a.finish(state)
			}
			done, err := a.apply(state, event)
			if err != nil {
				return Message{}, Usage{}, err
			}
			if done {
				return a.finish(state)
			}
		}
	}
}

// apply folds one event into the turn state. It returns done=true on the
// terminal completed event.
func (a *StreamAssembler) apply(state *turnState, event WireEvent) (bool, error) {
	switch event.Kind {
	case EventTextDelta:
		state.output.WriteString(event.Delta)

	case EventInputTextDelta:
		// Echoed prompt text; kept out of the assistant content.
		state.input.WriteString(event.Delta)

	case EventRefusalDelta:
		state.refusal.WriteString(event.Delta)

	case EventToolCallCreated:
		call := state.callFor(event.CallID)
		if event.ToolName != "" {
			call.Name = event.ToolName
		}

	case EventToolCallArgsDelta:
		if _, known := state.calls[event.CallID]; !known {
			// A backend may emit argument fragments before the formal
			// created event. Open the call rather than dropping data.
			a.logger.Warn("argument delta for unknown tool call",
				zap.String("call_id", event.CallID))
		}
		call := state.callFor(event.CallID)
		call.ArgumentsText += event.Delta

	case EventUsageDelta:
		if event.Usage != nil {
			state.usage = state.usage.Add(*event.Usage)
		}

	case EventUsageFinal:
		if event.Usage != nil {
			u := *event.Usage
			state.finalUsage = &u
		}

	case EventCompleted:
		return true, nil

	case EventError:
		return false, &StreamProtocolError{Message: "backend reported stream error", Cause: event.Err}

	case EventOther:
		a.warnUnknownKind(event.RawKind)

	default:
		a.warnUnknownKind(string(event.Kind))
	}
	return false, nil
}

// callFor returns the accumulator for a call id, creating it in first-seen
// order if needed.
func (s *turnState) callFor(id string) *ToolCall {
	if call, ok := s.calls[id]; ok {
		return call
	}
	call := &ToolCall{ID: id}
	s.calls[id] = call
	s.callOrder = append(s.callOrder, id)
	return call
}

// finish builds the final message and usage from accumulated state.
func (a *StreamAssembler) finish(state *turnState) (Message, Usage, error) {
	content := state.output.String()
	if content == "" && state.refusal.Len() > 0 {
		// A refusal with no content stands in for content so the caller
		// can still parse and report it.
		content = state.refusal.String()
	}

	msg := Message{Role: RoleAssistant, Content: content}
	for _, id := range state.callOrder {
		msg.ToolCalls = append(msg.ToolCalls, *state.calls[id])
	}

	usage := state.usage
	if state.finalUsage != nil {
		// A terminal summary carries absolute values; prefer it over
		// accumulated deltas.
		usage = *state.finalUsage
	}
	return msg, usage.Normalize(), nil
}

// warnUnknownKind logs one warning per unrecognized event kind prefix so
// protocol drift surfaces without flooding the log.
func (a *StreamAssembler) warnUnknownKind(raw string) {
	prefix := kindPrefix(raw)
	if a.warnedKinds[prefix] {
		return
	}
	a.warnedKinds[prefix] = true
	a.logger.Warn("ignoring unrecognized stream event kind",
		zap.String("kind", raw),
		zap.String("prefix", prefix))
}

// kindPrefix reduces a dotted provider event tag to its leading two
// segments.
func kindPrefix(raw string) string {
	parts := strings.SplitN(raw, ".", 3)
	if len(parts) <= 2 {
		return raw
	}
	return parts[0] + "." + parts[1]
}
