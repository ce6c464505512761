package skillloop

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alexezh/shadow-sub001/llmstream"
)

// recentCallWindowSize bounds the FIFO of tool-call turn signatures used for
// loop detection.
const recentCallWindowSize = 3

// Rejection is a structured refusal of one proposed tool call. Reason is
// reported back to the model as a tool message.
type Rejection struct {
	Call   llmstream.ToolCall
	Reason string
}

// Verdict is the gate's ruling over one turn's proposed tool calls.
//
// Reminders are advisory messages injected after lenient recoveries
// (synthesized or coerced envelopes); they do not count against the
// correction budget. Corrections accompany Rejections and do.
type Verdict struct {
	Approved     []llmstream.ToolCall
	Rejections   []Rejection
	Reminders    []string
	Corrections  []string
	Envelope     *ControlEnvelope
	Synthesized  bool
	Coerced      bool
	Vetoed       bool
	LoopDetected bool
	LoopTool     string
}

// ToolGate enforces which tool calls are permitted under the current
// envelope and detects runaway repetition. One gate serves one loop run;
// its signature window must never be shared across conversations.
type ToolGate struct {
	logger *zap.Logger
	window []string
}

// NewToolGate creates a gate with an empty signature window.
func NewToolGate(logger *zap.Logger) *ToolGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolGate{logger: logger}
}

// Review applies the gating rules to one turn. env may be nil when the
// assistant produced tool calls without a parseable envelope.
func (g *ToolGate) Review(env *ControlEnvelope, calls []llmstream.ToolCall) Verdict {
	v := Verdict{Envelope: env}
	if len(calls) == 0 {
		return v
	}

	if env == nil {
		// Lenient recovery policy: tool calls without an envelope get a
		// synthesized action envelope permitting exactly the proposed
		// calls, plus a reminder. Logged so the policy is visible.
		names := make([]string, 0, len(calls))
		for _, call := range calls {
			names = append(names, call.Name)
		}
		v.Envelope = &ControlEnvelope{
			Phase:    PhaseAction,
			Control:  EnvelopeControl{AllowedTools: names},
			Envelope: EnvelopeBody{Type: "synthesized"},
		}
		v.Synthesized = true
		v.Reminders = append(v.Reminders,
			"Reminder: every turn must carry a control envelope. An action envelope was synthesized for your tool calls this time; include one yourself from now on.")
		g.logger.Warn("synthesized action envelope for unenveloped tool calls",
			zap.Strings("tools", names))
	} else if env.Phase != PhaseAction {
		// Tool calls outside an action phase: coerce the phase in place
		// and remind the model of the contract.
		g.logger.Warn("coercing envelope phase to action for tool calls",
			zap.String("declared_phase", string(env.Phase)))
		env.Phase = PhaseAction
		v.Coerced = true
		v.Reminders = append(v.Reminders,
			"Reminder: tool calls are only legal in an action phase envelope. The phase was coerced to action this time.")
	}

	effective := v.Envelope

	// Every tool-call turn feeds the detection window, rejected or not.
	g.push(turnSignature(calls))

	if effective.Control.AllowToolUse != nil && !*effective.Control.AllowToolUse {
		v.Vetoed = true
		for _, call := range calls {
			v.Rejections = append(v.Rejections, Rejection{
				Call:   call,
				Reason: fmt.Sprintf("Rejected tool call: %s — tool use explicitly disallowed by control.allow_tool_use", call.Name),
			})
		}
		v.Corrections = append(v.Corrections,
			"Your envelope set allow_tool_use to false but you issued tool calls. Either allow tool use or respond without tools.")
		return v
	}

	var disallowed []string
	for _, call := range calls {
		if effective.AllowsTool(call.Name) {
			v.Approved = append(v.Approved, call)
		} else {
			disallowed = append(disallowed, call.Name)
			v.Rejections = append(v.Rejections, Rejection{
				Call:   call,
				Reason: fmt.Sprintf("Rejected tool call: %s not listed in control.allowed_tools for this turn", call.Name),
			})
		}
	}
	if len(disallowed) > 0 {
		v.Corrections = append(v.Corrections, fmt.Sprintf(
			"The following tool calls were rejected because they are not in your declared allowed_tools: %s. Declare the tools you need in your next action envelope.",
			strings.Join(disallowed, ", ")))
		return v
	}

	// Loop detection over the whole turn's signature.
	if g.repeating() {
		v.LoopDetected = true
		v.LoopTool = calls[0].Name
		v.Approved = nil
		for _, call := range calls {
			v.Rejections = append(v.Rejections, Rejection{
				Call:   call,
				Reason: fmt.Sprintf("Rejected tool call: %s — infinite loop detected, identical call repeated %d times", call.Name, recentCallWindowSize),
			})
		}
		v.Corrections = append(v.Corrections,
			"You are repeating the same tool call with the same arguments. Try a different approach or finish the task.")
		g.logger.Warn("tool-call loop detected", zap.String("tool", v.LoopTool))
	}
	return v
}

// turnSignature concatenates every call's name and raw arguments, in order.
func turnSignature(calls []llmstream.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, call.Name+":"+call.ArgumentsText)
	}
	return strings.Join(parts, ";")
}

// push appends a signature to the bounded FIFO window.
func (g *ToolGate) push(sig string) {
	g.window = append(g.window, sig)
	if len(g.window) > recentCallWindowSize {
		g.window = g.window[1:]
	}
}

// repeating reports whether the window is full of identical signatures.
func (g *ToolGate) repeating() bool {
	if len(g.window) < recentCallWindowSize {
		return false
	}
	for _, sig := range g.window[1:] {
		if sig != g.window[0] {
			return false
		}
	}
	return true
}
