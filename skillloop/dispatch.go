package skillloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alexezh/shadow-sub001/llmstream"
)

// ToolDispatcher resolves approved tool calls. Implementations own the
// actual effects (document storage, history, search); the orchestration
// loop only sees this interface and reports failures back to the model as
// tool messages rather than aborting the turn.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, argumentsText string) (string, error)
}

// ToolHandler executes one tool with its raw JSON arguments.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// RegisteredTool pairs a tool definition with its handler.
type RegisteredTool struct {
	Definition llmstream.ToolDefinition
	Handler    ToolHandler
}

// RegistryDispatcher is a mutex-guarded, map-backed ToolDispatcher for hosts
// that register tools in-process.
type RegistryDispatcher struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewRegistryDispatcher creates an empty registry.
func NewRegistryDispatcher() *RegistryDispatcher {
	return &RegistryDispatcher{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool.
func (r *RegistryDispatcher) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool.
func (r *RegistryDispatcher) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Definitions returns all tool definitions for sending to the backend.
func (r *RegistryDispatcher) Definitions() []llmstream.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llmstream.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// Names returns the names of all registered tools.
func (r *RegistryDispatcher) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute runs a registered tool. The arguments text is passed through as
// raw JSON; it has already survived stream reassembly by the time it gets
// here.
func (r *RegistryDispatcher) Execute(ctx context.Context, name string, argumentsText string) (string, error) {
	r.mu.RLock()
	tool := r.tools[name]
	r.mu.RUnlock()
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(ctx, json.RawMessage(argumentsText))
}

// TruncateOutput bounds tool output before it is fed back to the model,
// keeping the head and tail around an elision marker.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[Tool output truncated: %d characters removed from the middle. Re-run with more targeted parameters if you need the elided part.]\n\n", removed) +
		output[len(output)-half:]
}
