package skillloop

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alexezh/shadow-sub001/llmstream"
)

func TestRegistryDispatcherExecute(t *testing.T) {
	reg := NewRegistryDispatcher()
	reg.Register(RegisteredTool{
		Definition: llmstream.ToolDefinition{Name: "echo", Description: "echoes input"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return "", err
			}
			return payload.Text, nil
		},
	})

	out, err := reg.Execute(context.Background(), "echo", `{"text":"hello"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestRegistryDispatcherUnknownTool(t *testing.T) {
	reg := NewRegistryDispatcher()
	if _, err := reg.Execute(context.Background(), "missing", `{}`); err == nil {
		t.Fatal("expected an error for an unregistered tool")
	} else if !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("error = %v", err)
	}
}

func TestRegistryDispatcherDefinitions(t *testing.T) {
	reg := NewRegistryDispatcher()
	reg.Register(RegisteredTool{Definition: llmstream.ToolDefinition{Name: "a"}})
	reg.Register(RegisteredTool{Definition: llmstream.ToolDefinition{Name: "b"}})
	reg.Unregister("a")

	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "b" {
		t.Errorf("definitions = %+v", defs)
	}
	names := reg.Names()
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("names = %v", names)
	}
}

func TestTruncateOutput(t *testing.T) {
	short := "small output"
	if got := TruncateOutput(short, 100); got != short {
		t.Errorf("short output modified: %q", got)
	}
	if got := TruncateOutput(short, 0); got != short {
		t.Errorf("zero limit must disable truncation: %q", got)
	}

	long := strings.Repeat("a", 300) + strings.Repeat("z", 300)
	got := TruncateOutput(long, 100)
	if !strings.HasPrefix(got, strings.Repeat("a", 50)) {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(got, strings.Repeat("z", 50)) {
		t.Error("tail not preserved")
	}
	if !strings.Contains(got, "500 characters removed") {
		t.Errorf("elision marker wrong: %q", got)
	}
}
