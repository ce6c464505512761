package skillloop

import (
	"testing"

	"github.com/alexezh/shadow-sub001/llmstream"
)

func TestConversationAppendAndCopy(t *testing.T) {
	conv := NewConversationState()
	if conv.ID() == "" {
		t.Error("conversation should have an id")
	}
	conv.AppendMessage(llmstream.SystemMessage("be helpful"))
	conv.AppendMessage(llmstream.UserMessage("hi"))

	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	msgs[0].Content = "mutated"
	if conv.Messages()[0].Content != "be helpful" {
		t.Error("Messages must return a copy")
	}
	if conv.Len() != 2 {
		t.Errorf("Len = %d", conv.Len())
	}
}

func TestConversationUsageAccumulates(t *testing.T) {
	conv := NewConversationState()
	conv.AddUsage(llmstream.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	conv.AddUsage(llmstream.Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27})

	got := conv.Usage()
	if got.PromptTokens != 30 || got.CompletionTokens != 12 || got.TotalTokens != 42 {
		t.Errorf("usage = %+v", got)
	}
	if got.TotalTokens != got.PromptTokens+got.CompletionTokens {
		t.Errorf("total %d != prompt %d + completion %d", got.TotalTokens, got.PromptTokens, got.CompletionTokens)
	}
}

func TestConversationLastPhaseCopy(t *testing.T) {
	conv := NewConversationState()
	if conv.LastPhase() != nil {
		t.Error("fresh conversation should have no phase")
	}
	conv.SetLastPhase(PhaseAnalysis)
	p := conv.LastPhase()
	if p == nil || *p != PhaseAnalysis {
		t.Fatalf("phase = %v", p)
	}
	*p = PhaseFinal
	if got := conv.LastPhase(); got == nil || *got != PhaseAnalysis {
		t.Error("LastPhase must return a copy")
	}
}

func TestConversationDiagnostics(t *testing.T) {
	conv := NewConversationState()
	conv.AppendMessage(llmstream.UserMessage("hi"))
	conv.AddUsage(llmstream.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})

	diags := conv.Diagnostics()
	if len(diags) != 2 {
		t.Fatalf("diagnostics = %d entries", len(diags))
	}
	if diags[0].Kind != "message" || diags[1].Kind != "usage" {
		t.Errorf("kinds = %q, %q", diags[0].Kind, diags[1].Kind)
	}
}
