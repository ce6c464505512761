package skillloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alexezh/shadow-sub001/llmstream"
)

// DegradedKind marks a non-fatal degraded outcome.
type DegradedKind string

const (
	DegradedNone           DegradedKind = ""
	DegradedMaxIterations  DegradedKind = "max_iterations"
	DegradedEmptyResponses DegradedKind = "empty_responses"
)

// LoopOptions configures one orchestration loop.
type LoopOptions struct {
	Model              string
	Backend            string
	SystemPrompt       string // installed once, on the first turn of an empty conversation
	ToolDefs           []llmstream.ToolDefinition
	RequireEnvelope    bool
	MaxIterations      int           // model turns per Run
	MaxCorrections     int           // shared conversational-correction budget
	MaxEmptyTurns      int           // consecutive empty turns before degrading
	MaxToolResultChars int           // tool output truncation bound
	TurnTimeout        time.Duration // wall clock per backend call, 0 disables
}

// DefaultLoopOptions returns the default configuration: envelope mode on,
// 100 iterations, 5 corrections, 3 empty turns.
func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		RequireEnvelope:    true,
		MaxIterations:      100,
		MaxCorrections:     5,
		MaxEmptyTurns:      3,
		MaxToolResultChars: 20000,
	}
}

func (o LoopOptions) withDefaults() LoopOptions {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 100
	}
	if o.MaxCorrections <= 0 {
		o.MaxCorrections = 5
	}
	if o.MaxEmptyTurns <= 0 {
		o.MaxEmptyTurns = 3
	}
	if o.MaxToolResultChars <= 0 {
		o.MaxToolResultChars = 20000
	}
	return o
}

// Outcome is the result of one loop run. Degraded outcomes (iteration
// budget, empty responses) are values, not errors; Usage carries what was
// accumulated during this run either way.
type Outcome struct {
	Response string
	Envelope *ControlEnvelope
	Usage    llmstream.Usage
	Degraded DegradedKind
}

// Loop is the turn-taking driver for one logical request: it calls the
// backend, assembles the stream, decodes and validates the envelope, gates
// and executes tool calls, and decides whether to continue, correct, or
// terminate.
//
// A Loop may be reused across sequential runs (the chain driver does), but
// never across concurrent conversations.
type Loop struct {
	client     *llmstream.Client
	dispatcher ToolDispatcher
	policy     llmstream.RetryPolicy
	opts       LoopOptions
	emitter    *EventEmitter
	logger     *zap.Logger
}

// NewLoop creates a Loop. A nil opts uses DefaultLoopOptions.
func NewLoop(client *llmstream.Client, dispatcher ToolDispatcher, opts *LoopOptions) *Loop {
	resolved := DefaultLoopOptions()
	if opts != nil {
		resolved = opts.withDefaults()
	}
	return &Loop{
		client:     client,
		dispatcher: dispatcher,
		policy:     llmstream.DefaultRetryPolicy(),
		opts:       resolved,
		emitter:    NewEventEmitter(256),
		logger:     zap.NewNop(),
	}
}

// SetLogger installs a logger for the loop and its retry policy.
func (l *Loop) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.logger = logger
	l.policy.Logger = logger
}

// SetRetryPolicy overrides the backend retry policy.
func (l *Loop) SetRetryPolicy(policy llmstream.RetryPolicy) {
	if policy.Logger == nil {
		policy.Logger = l.logger
	}
	l.policy = policy
}

// Events returns the observability event channel.
func (l *Loop) Events() <-chan LoopEvent {
	return l.emitter.Events()
}

// Close closes the event channel.
func (l *Loop) Close() {
	l.emitter.Close()
}

// assembledTurn pairs one reassembled assistant message with its usage.
type assembledTurn struct {
	msg   llmstream.Message
	usage llmstream.Usage
}

// Run drives one logical request to completion. userInput, when non-empty,
// is appended as a user message before the first model call.
func (l *Loop) Run(ctx context.Context, conv *ConversationState, userInput string) (*Outcome, error) {
	if l.opts.SystemPrompt != "" && conv.Len() == 0 {
		conv.AppendMessage(llmstream.SystemMessage(l.opts.SystemPrompt))
	}
	if userInput != "" {
		conv.AppendMessage(llmstream.UserMessage(userInput))
	}

	// Per-run mutable state; never shared across runs or conversations.
	gate := NewToolGate(l.logger)
	assembler := llmstream.NewStreamAssembler(l.logger)
	corrections := 0
	loopDetections := 0
	emptyTurns := 0
	var runUsage llmstream.Usage

	for iteration := 0; iteration < l.opts.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		l.emitter.Emit(EventTurnStart, conv.ID(), map[string]interface{}{"iteration": iteration})

		msg, usage, err := l.callBackend(ctx, assembler, conv)
		if err != nil {
			return nil, err
		}
		usage = usage.Normalize()
		conv.AppendMessage(msg)
		conv.AddUsage(usage)
		runUsage = runUsage.Add(usage)

		l.emitter.Emit(EventTurnEnd, conv.ID(), map[string]interface{}{
			"content_len": len(msg.Content),
			"tool_calls":  len(msg.ToolCalls),
		})

		var env *ControlEnvelope
		if msg.Content != "" {
			parsed, perr := ParseEnvelope(msg.Content)
			if perr == nil {
				env = parsed
			} else if l.opts.RequireEnvelope && len(msg.ToolCalls) == 0 {
				if fatal := l.correct(conv, &corrections, "malformed_envelope",
					"Your response was not a valid control envelope. Respond with exactly one JSON object carrying the phase, control, and envelope fields and no other text.",
					perr); fatal != nil {
					return nil, fatal
				}
				continue
			}
			// Unparseable content alongside tool calls falls through to
			// the gate, which synthesizes an action envelope.
		}

		if env != nil && l.opts.RequireEnvelope {
			if violation := ValidateTransition(conv.LastPhase(), env.Phase); violation != "" {
				if fatal := l.correct(conv, &corrections, "phase_violation",
					"Phase transition violation: "+violation+". Follow the analysis/action/final protocol.",
					&PhaseViolationError{Detail: violation}); fatal != nil {
					return nil, fatal
				}
				continue
			}
		}

		if len(msg.ToolCalls) > 0 {
			emptyTurns = 0
			verdict := gate.Review(env, msg.ToolCalls)
			env = verdict.Envelope
			for _, reminder := range verdict.Reminders {
				conv.AppendMessage(llmstream.SystemMessage(reminder))
			}

			// A fully-rejected turn stays phase-neutral, like any other
			// corrected turn.
			if len(verdict.Rejections) > 0 {
				if fatal := l.handleRejections(conv, verdict, &corrections, &loopDetections); fatal != nil {
					return nil, fatal
				}
				continue
			}
			if env != nil {
				conv.SetLastPhase(env.Phase)
			}

			// Sequential execution, in the order the calls were received.
			// A failing tool is reported back to the model, not fatal.
			for _, call := range verdict.Approved {
				l.emitter.Emit(EventToolCallStart, conv.ID(), map[string]interface{}{
					"tool":    call.Name,
					"call_id": call.ID,
				})
				output, terr := l.dispatcher.Execute(ctx, call.Name, call.ArgumentsText)
				if terr != nil {
					output = fmt.Sprintf("Tool error (%s): %v", call.Name, terr)
					l.logger.Warn("tool execution failed",
						zap.String("tool", call.Name), zap.Error(terr))
				}
				conv.AppendMessage(llmstream.ToolMessage(call.ID, TruncateOutput(output, l.opts.MaxToolResultChars)))
				l.emitter.Emit(EventToolCallEnd, conv.ID(), map[string]interface{}{
					"call_id": call.ID,
					"error":   terr != nil,
				})
			}
			continue
		}

		// No tool calls this turn.
		if !l.opts.RequireEnvelope {
			if msg.Content != "" {
				return &Outcome{Response: msg.Content, Envelope: env, Usage: runUsage}, nil
			}
			if outcome := l.emptyTurn(conv, &emptyTurns, runUsage); outcome != nil {
				return outcome, nil
			}
			continue
		}

		if env == nil {
			if outcome := l.emptyTurn(conv, &emptyTurns, runUsage); outcome != nil {
				return outcome, nil
			}
			continue
		}

		emptyTurns = 0
		conv.SetLastPhase(env.Phase)
		if env.Phase == PhaseFinal {
			return &Outcome{Response: env.Envelope.Content, Envelope: env, Usage: runUsage}, nil
		}
		conv.AppendMessage(llmstream.SystemMessage(
			"Continue working. Emit a final-phase envelope when the task is complete."))
	}

	l.emitter.Emit(EventDegraded, conv.ID(), map[string]interface{}{"reason": string(DegradedMaxIterations)})
	l.logger.Warn("iteration budget exhausted", zap.Int("max_iterations", l.opts.MaxIterations))
	return &Outcome{Response: "max iterations reached", Degraded: DegradedMaxIterations, Usage: runUsage}, nil
}

// callBackend performs one streaming backend call under the retry policy
// and reassembles the turn. Stream protocol errors are not transient, so
// they propagate without retry.
func (l *Loop) callBackend(ctx context.Context, assembler *llmstream.StreamAssembler, conv *ConversationState) (llmstream.Message, llmstream.Usage, error) {
	req := llmstream.Request{
		Model:    l.opts.Model,
		Backend:  l.opts.Backend,
		Messages: conv.Messages(),
		ToolDefs: l.opts.ToolDefs,
	}
	turn, err := llmstream.Retry(ctx, l.policy, func(ctx context.Context) (assembledTurn, error) {
		callCtx := ctx
		if l.opts.TurnTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, l.opts.TurnTimeout)
			defer cancel()
		}
		events, err := l.client.Stream(callCtx, req)
		if err != nil {
			return assembledTurn{}, err
		}
		msg, usage, err := assembler.Assemble(callCtx, events)
		if err != nil {
			return assembledTurn{}, err
		}
		return assembledTurn{msg: msg, usage: usage}, nil
	})
	if err != nil {
		return llmstream.Message{}, llmstream.Usage{}, err
	}
	return turn.msg, turn.usage, nil
}

// handleRejections records rejected tool calls and their corrective
// messages, bounding both the shared correction counter and repeated loop
// detections.
func (l *Loop) handleRejections(conv *ConversationState, verdict Verdict, corrections, loopDetections *int) error {
	for _, rej := range verdict.Rejections {
		conv.AppendMessage(llmstream.ToolMessage(rej.Call.ID, rej.Reason))
	}
	for _, correction := range verdict.Corrections {
		conv.AppendMessage(llmstream.SystemMessage(correction))
	}

	kind := "tool_rejected"
	if verdict.LoopDetected {
		kind = "infinite_loop"
		*loopDetections++
		l.emitter.Emit(EventLoopDetected, conv.ID(), map[string]interface{}{"tool": verdict.LoopTool})
		if *loopDetections > 1 {
			// Corrected once already; a recurrence is fatal.
			return &InfiniteLoopError{Tool: verdict.LoopTool}
		}
	}

	*corrections++
	l.emitter.Emit(EventCorrection, conv.ID(), map[string]interface{}{"kind": kind})
	if *corrections > l.opts.MaxCorrections {
		if verdict.LoopDetected {
			return &InfiniteLoopError{Tool: verdict.LoopTool}
		}
		var cause error
		if verdict.Vetoed {
			cause = &ToolUseDisallowedError{}
		} else {
			names := make([]string, 0, len(verdict.Rejections))
			for _, rej := range verdict.Rejections {
				names = append(names, rej.Call.Name)
			}
			cause = &ToolNotAllowedError{Tools: names}
		}
		return &CorrectionLimitError{Kind: kind, Count: *corrections, Detail: verdict.Corrections[0], Err: cause}
	}
	return nil
}

// emptyTurn counts a contentless turn, degrading the run once the
// consecutive budget is exceeded. Returns nil while the run should keep
// looping.
func (l *Loop) emptyTurn(conv *ConversationState, emptyTurns *int, runUsage llmstream.Usage) *Outcome {
	*emptyTurns++
	if *emptyTurns > l.opts.MaxEmptyTurns {
		l.emitter.Emit(EventDegraded, conv.ID(), map[string]interface{}{"reason": string(DegradedEmptyResponses)})
		l.logger.Warn("model produced no content", zap.Int("empty_turns", *emptyTurns))
		return &Outcome{Response: "model produced no content", Degraded: DegradedEmptyResponses, Usage: runUsage}
	}
	conv.AppendMessage(llmstream.SystemMessage("Your last response was empty. Produce a response."))
	return nil
}

// correct appends a corrective system message, bounded by the shared
// correction counter. Returns the escalated fatal error once the counter is
// exceeded.
func (l *Loop) correct(conv *ConversationState, corrections *int, kind, message string, cause error) error {
	*corrections++
	l.emitter.Emit(EventCorrection, conv.ID(), map[string]interface{}{"kind": kind})
	if *corrections > l.opts.MaxCorrections {
		return &CorrectionLimitError{Kind: kind, Count: *corrections, Detail: cause.Error(), Err: cause}
	}
	l.logger.Debug("injecting corrective message",
		zap.String("kind", kind), zap.Int("count", *corrections))
	conv.AppendMessage(llmstream.SystemMessage(message))
	return nil
}
