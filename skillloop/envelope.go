package skillloop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase gates whether tool calls are legal in a turn.
type Phase string

const (
	PhaseAnalysis Phase = "analysis"
	PhaseAction   Phase = "action"
	PhaseFinal    Phase = "final"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAnalysis, PhaseAction, PhaseFinal:
		return true
	}
	return false
}

// EnvelopeControl declares what the model may do this turn.
type EnvelopeControl struct {
	AllowedTools []string `json:"allowed_tools"`
	AllowToolUse *bool    `json:"allow_tool_use,omitempty"`
}

// EnvelopeBody carries the turn's payload.
type EnvelopeBody struct {
	Type     string          `json:"type"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ControlEnvelope is the mandatory structured wrapper around every assistant
// turn: exactly one JSON object, no markdown fencing, no extra top-level
// keys required (unknown extras are ignored).
type ControlEnvelope struct {
	Phase    Phase           `json:"phase"`
	Control  EnvelopeControl `json:"control"`
	Envelope EnvelopeBody    `json:"envelope"`
}

// AllowsTool reports whether a tool name is permitted by the envelope's
// allowed_tools list. An empty list permits everything.
func (e *ControlEnvelope) AllowsTool(name string) bool {
	if len(e.Control.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range e.Control.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// envelopeWire mirrors ControlEnvelope with pointer fields so missing
// sections are distinguishable from empty ones.
type envelopeWire struct {
	Phase    *string          `json:"phase"`
	Control  *EnvelopeControl `json:"control"`
	Envelope *EnvelopeBody    `json:"envelope"`
}

// ParseEnvelope decodes assistant text content as a control envelope. The
// phase, control, and envelope fields are all required.
func ParseEnvelope(raw string) (*ControlEnvelope, error) {
	trimmed := strings.TrimSpace(raw)
	var wire envelopeWire
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, &MalformedEnvelopeError{Detail: fmt.Sprintf("not a JSON envelope: %v", err), Raw: raw}
	}
	if wire.Phase == nil {
		return nil, &MalformedEnvelopeError{Detail: "missing required field: phase", Raw: raw}
	}
	if wire.Control == nil {
		return nil, &MalformedEnvelopeError{Detail: "missing required field: control", Raw: raw}
	}
	if wire.Envelope == nil {
		return nil, &MalformedEnvelopeError{Detail: "missing required field: envelope", Raw: raw}
	}
	phase := Phase(*wire.Phase)
	if !phase.Valid() {
		return nil, &MalformedEnvelopeError{Detail: fmt.Sprintf("unknown phase %q", *wire.Phase), Raw: raw}
	}
	return &ControlEnvelope{
		Phase:    phase,
		Control:  *wire.Control,
		Envelope: *wire.Envelope,
	}, nil
}

// legalTransitions lists the accepted phase successions. A final phase ends
// the skill step; a new chain turn restarts at analysis.
var legalTransitions = map[Phase][]Phase{
	PhaseAnalysis: {PhaseAction, PhaseFinal},
	PhaseAction:   {PhaseAnalysis, PhaseFinal},
	PhaseFinal:    {PhaseAnalysis},
}

// ValidateTransition returns a human-readable violation description, or ""
// when the transition from prev to next is legal. A nil prev (first turn)
// accepts any phase.
func ValidateTransition(prev *Phase, next Phase) string {
	if prev == nil {
		return ""
	}
	for _, allowed := range legalTransitions[*prev] {
		if allowed == next {
			return ""
		}
	}
	if *prev == next {
		return fmt.Sprintf("phase %q may not repeat without an intervening analysis phase", next)
	}
	return fmt.Sprintf("illegal phase transition %q -> %q", *prev, next)
}

// StepCompletion is the structured payload a final envelope may embed to
// chain into the next skill step.
type StepCompletion struct {
	NextStep   string
	NextPrompt string
}

// stepCompletionWire tolerates both snake_case and camelCase field names.
type stepCompletionWire struct {
	NextStep        *string `json:"next_step"`
	NextStepCamel   *string `json:"nextStep"`
	NextPrompt      *string `json:"next_prompt"`
	NextPromptCamel *string `json:"nextPrompt"`
}

// ParseStepCompletion decodes a step-completion object from envelope
// content. It returns nil when the content is not such an object.
func ParseStepCompletion(content string) *StepCompletion {
	var wire stepCompletionWire
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &wire); err != nil {
		return nil
	}
	sc := &StepCompletion{}
	switch {
	case wire.NextStep != nil:
		sc.NextStep = *wire.NextStep
	case wire.NextStepCamel != nil:
		sc.NextStep = *wire.NextStepCamel
	}
	switch {
	case wire.NextPrompt != nil:
		sc.NextPrompt = *wire.NextPrompt
	case wire.NextPromptCamel != nil:
		sc.NextPrompt = *wire.NextPromptCamel
	}
	if sc.NextStep == "" && sc.NextPrompt == "" {
		return nil
	}
	return sc
}

// StepCard summarizes the currently active skill step. Observability only.
type StepCard struct {
	Step    string `json:"step"`
	Summary string `json:"summary,omitempty"`
}

// StepCardFromMetadata extracts a step card from envelope metadata, either
// under a "step_card" key or as the metadata object itself.
func StepCardFromMetadata(metadata json.RawMessage) *StepCard {
	if len(metadata) == 0 {
		return nil
	}
	var wrapped struct {
		StepCard *StepCard `json:"step_card"`
	}
	if err := json.Unmarshal(metadata, &wrapped); err == nil && wrapped.StepCard != nil && wrapped.StepCard.Step != "" {
		return wrapped.StepCard
	}
	var direct StepCard
	if err := json.Unmarshal(metadata, &direct); err == nil && direct.Step != "" {
		return &direct
	}
	return nil
}
