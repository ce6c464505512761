package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexezh/shadow-sub001/llmstream"
	"github.com/alexezh/shadow-sub001/skillloop"
)

const envelopeProtocolPrompt = `Every response you produce must be exactly one JSON object with this shape and no other text:

{"phase": "analysis|action|final",
 "control": {"allowed_tools": ["..."], "allow_tool_use": true},
 "envelope": {"type": "text", "content": "..."}}

Rules:
- Use an analysis phase to think, an action phase to call tools, and a final phase to deliver the result.
- Tool calls are only legal in an action phase, and only tools named in control.allowed_tools may be called.
- After an action phase, return to analysis or go final. Do not repeat a phase.
- To chain into another step, make the final envelope's content a JSON object with next_step and next_prompt fields.`

func buildSystemPrompt(extra string) string {
	if extra == "" {
		return envelopeProtocolPrompt
	}
	return envelopeProtocolPrompt + "\n\n" + extra
}

// demoDocument is the in-memory line store the demo tools operate on.
type demoDocument struct {
	lines []string
}

func newDemoDocument() *demoDocument {
	return &demoDocument{lines: []string{
		"# Shadow Notes",
		"",
		"The quick brown fox jumps over the lazy dog.",
		"Pack my box with five dozen liquor jugs.",
		"How vexingly quick daft zebras jump.",
	}}
}

func (d *demoDocument) rangeText(start, end int) (string, error) {
	if start < 1 || end < start || start > len(d.lines) {
		return "", fmt.Errorf("invalid range %d-%d for a %d line document", start, end, len(d.lines))
	}
	if end > len(d.lines) {
		end = len(d.lines)
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, d.lines[i-1])
	}
	return b.String(), nil
}

func (d *demoDocument) replaceRange(start, end int, text string) error {
	if start < 1 || end < start || start > len(d.lines) || end > len(d.lines) {
		return fmt.Errorf("invalid range %d-%d for a %d line document", start, end, len(d.lines))
	}
	replacement := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	updated := make([]string, 0, len(d.lines)-(end-start+1)+len(replacement))
	updated = append(updated, d.lines[:start-1]...)
	updated = append(updated, replacement...)
	updated = append(updated, d.lines[end:]...)
	d.lines = updated
	return nil
}

func registerDocumentTools(reg *skillloop.RegistryDispatcher, doc *demoDocument) {
	reg.Register(skillloop.RegisteredTool{
		Definition: llmstream.ToolDefinition{
			Name:        "get_document_range",
			Description: "Read a range of lines from the document. Lines are 1-indexed and inclusive.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"start": map[string]interface{}{"type": "integer", "description": "first line to read"},
					"end":   map[string]interface{}{"type": "integer", "description": "last line to read"},
				},
				"required": []string{"start", "end"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var p struct {
				Start int `json:"start"`
				End   int `json:"end"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return "", fmt.Errorf("bad arguments: %w", err)
			}
			return doc.rangeText(p.Start, p.End)
		},
	})

	reg.Register(skillloop.RegisteredTool{
		Definition: llmstream.ToolDefinition{
			Name:        "replace_document_range",
			Description: "Replace a range of lines in the document with new text. Lines are 1-indexed and inclusive.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"start": map[string]interface{}{"type": "integer", "description": "first line to replace"},
					"end":   map[string]interface{}{"type": "integer", "description": "last line to replace"},
					"text":  map[string]interface{}{"type": "string", "description": "replacement text, newline separated"},
				},
				"required": []string{"start", "end", "text"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var p struct {
				Start int    `json:"start"`
				End   int    `json:"end"`
				Text  string `json:"text"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return "", fmt.Errorf("bad arguments: %w", err)
			}
			if err := doc.replaceRange(p.Start, p.End, p.Text); err != nil {
				return "", err
			}
			return fmt.Sprintf("Replaced lines %d-%d. Document now has %d lines.", p.Start, p.End, len(doc.lines)), nil
		},
	})
}
