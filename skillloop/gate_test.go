package skillloop

import (
	"strings"
	"testing"

	"github.com/alexezh/shadow-sub001/llmstream"
)

func actionEnvelope(allowed ...string) *ControlEnvelope {
	return &ControlEnvelope{
		Phase:    PhaseAction,
		Control:  EnvelopeControl{AllowedTools: allowed},
		Envelope: EnvelopeBody{Type: "text"},
	}
}

func call(id, name, args string) llmstream.ToolCall {
	return llmstream.ToolCall{ID: id, Name: name, ArgumentsText: args}
}

func TestGateApprovesAllowedCalls(t *testing.T) {
	gate := NewToolGate(nil)
	v := gate.Review(actionEnvelope("read"), []llmstream.ToolCall{call("c1", "read", `{"a":1}`)})
	if len(v.Approved) != 1 || len(v.Rejections) != 0 {
		t.Fatalf("verdict = %+v", v)
	}
	if v.Synthesized || v.Coerced || v.LoopDetected {
		t.Errorf("unexpected flags in %+v", v)
	}
}

func TestGateSynthesizesEnvelopeForBareToolCalls(t *testing.T) {
	gate := NewToolGate(nil)
	calls := []llmstream.ToolCall{call("c1", "read", `{}`), call("c2", "write", `{}`)}
	v := gate.Review(nil, calls)
	if !v.Synthesized {
		t.Fatal("expected a synthesized envelope")
	}
	if v.Envelope == nil || v.Envelope.Phase != PhaseAction {
		t.Fatalf("envelope = %+v", v.Envelope)
	}
	if got := v.Envelope.Control.AllowedTools; len(got) != 2 || got[0] != "read" || got[1] != "write" {
		t.Errorf("allowed_tools = %v", got)
	}
	if len(v.Approved) != 2 {
		t.Errorf("approved = %v", v.Approved)
	}
	if len(v.Reminders) != 1 {
		t.Errorf("reminders = %v", v.Reminders)
	}
	if len(v.Corrections) != 0 {
		t.Errorf("synthesis must not consume the correction budget: %v", v.Corrections)
	}
}

func TestGateCoercesNonActionPhase(t *testing.T) {
	gate := NewToolGate(nil)
	env := &ControlEnvelope{Phase: PhaseAnalysis, Envelope: EnvelopeBody{Type: "text"}}
	v := gate.Review(env, []llmstream.ToolCall{call("c1", "read", `{}`)})
	if !v.Coerced {
		t.Fatal("expected phase coercion")
	}
	if env.Phase != PhaseAction {
		t.Errorf("phase = %q, want action (coerced in place)", env.Phase)
	}
	if len(v.Approved) != 1 {
		t.Errorf("approved = %v", v.Approved)
	}
	if len(v.Reminders) != 1 {
		t.Errorf("reminders = %v", v.Reminders)
	}
}

func TestGateVetoesWhenToolUseDisallowed(t *testing.T) {
	gate := NewToolGate(nil)
	disallow := false
	env := &ControlEnvelope{
		Phase:    PhaseAction,
		Control:  EnvelopeControl{AllowToolUse: &disallow},
		Envelope: EnvelopeBody{Type: "text"},
	}
	v := gate.Review(env, []llmstream.ToolCall{call("c1", "read", `{}`), call("c2", "write", `{}`)})
	if len(v.Approved) != 0 {
		t.Errorf("approved = %v, want none", v.Approved)
	}
	if len(v.Rejections) != 2 {
		t.Fatalf("rejections = %v", v.Rejections)
	}
	if !strings.Contains(v.Rejections[0].Reason, "allow_tool_use") {
		t.Errorf("reason = %q", v.Rejections[0].Reason)
	}
	if len(v.Corrections) != 1 {
		t.Errorf("corrections = %v", v.Corrections)
	}
}

func TestGateRejectsUnlistedTools(t *testing.T) {
	gate := NewToolGate(nil)
	calls := []llmstream.ToolCall{call("c1", "read", `{}`), call("c2", "delete", `{}`)}
	v := gate.Review(actionEnvelope("read"), calls)
	if len(v.Approved) != 1 || v.Approved[0].Name != "read" {
		t.Errorf("approved = %v", v.Approved)
	}
	if len(v.Rejections) != 1 || v.Rejections[0].Call.Name != "delete" {
		t.Fatalf("rejections = %v", v.Rejections)
	}
	if !strings.Contains(v.Rejections[0].Reason, "allowed_tools") {
		t.Errorf("reason = %q", v.Rejections[0].Reason)
	}
	if len(v.Corrections) != 1 || !strings.Contains(v.Corrections[0], "delete") {
		t.Errorf("corrections = %v", v.Corrections)
	}
}

func TestGateDetectsLoopOnThirdIdenticalTurn(t *testing.T) {
	gate := NewToolGate(nil)
	calls := []llmstream.ToolCall{call("c1", "read", `{"start":1}`)}

	for i := 0; i < 2; i++ {
		v := gate.Review(actionEnvelope("read"), calls)
		if v.LoopDetected {
			t.Fatalf("turn %d: premature loop detection", i+1)
		}
		if len(v.Approved) != 1 {
			t.Fatalf("turn %d: approved = %v", i+1, v.Approved)
		}
	}

	v := gate.Review(actionEnvelope("read"), calls)
	if !v.LoopDetected {
		t.Fatal("third identical turn should trip loop detection")
	}
	if v.LoopTool != "read" {
		t.Errorf("loop tool = %q", v.LoopTool)
	}
	if len(v.Approved) != 0 {
		t.Errorf("approved = %v, want none after detection", v.Approved)
	}
	if len(v.Rejections) != 1 {
		t.Errorf("rejections = %v", v.Rejections)
	}
}

func TestGateDifferentArgumentsResetDetection(t *testing.T) {
	gate := NewToolGate(nil)
	same := []llmstream.ToolCall{call("c1", "read", `{"start":1}`)}
	different := []llmstream.ToolCall{call("c2", "read", `{"start":2}`)}

	gate.Review(actionEnvelope("read"), same)
	gate.Review(actionEnvelope("read"), same)
	if v := gate.Review(actionEnvelope("read"), different); v.LoopDetected {
		t.Fatal("changed arguments must not count as a loop")
	}
	if v := gate.Review(actionEnvelope("read"), same); v.LoopDetected {
		t.Fatal("window was broken by the different turn")
	}
}

func TestGateRejectedTurnsFeedDetectionWindow(t *testing.T) {
	gate := NewToolGate(nil)
	calls := []llmstream.ToolCall{call("c1", "read", `{"start":1}`)}
	disallow := false
	vetoed := &ControlEnvelope{
		Phase:    PhaseAction,
		Control:  EnvelopeControl{AllowToolUse: &disallow},
		Envelope: EnvelopeBody{Type: "text"},
	}

	gate.Review(actionEnvelope("read"), calls)
	gate.Review(vetoed, calls)
	if v := gate.Review(actionEnvelope("read"), calls); !v.LoopDetected {
		t.Error("vetoed turn should have counted toward the window")
	}
}

func TestGateNoCallsNoVerdict(t *testing.T) {
	gate := NewToolGate(nil)
	v := gate.Review(actionEnvelope(), nil)
	if len(v.Approved) != 0 || len(v.Rejections) != 0 || len(v.Reminders) != 0 {
		t.Errorf("verdict = %+v", v)
	}
}
