package llmstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmBackend wraps a gollm.LLM instance and implements Backend. It
// translates Request into a gollm prompt and normalizes gollm output into
// wire events.
type GollmBackend struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmBackend.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. When empty, gollm reads it from environment
// variables.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmBackend creates a GollmBackend for the given provider
// ("openai", "anthropic", ...).
func NewGollmBackend(provider, model string, opts ...GollmOption) (*GollmBackend, error) {
	cfg := &gollmConfig{
		model:       model,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(cfg.model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the retry policy owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmBackend{provider: provider, llm: llm, model: cfg.model}, nil
}

// NewGollmBackendFromLLM wraps an existing gollm.LLM instance.
func NewGollmBackendFromLLM(provider string, llm gollm.LLM) *GollmBackend {
	return &GollmBackend{provider: provider, llm: llm}
}

// Name returns the provider identifier.
func (b *GollmBackend) Name() string {
	return b.provider
}

// Stream sends the request and returns a channel of wire events. When the
// underlying provider cannot stream, the full response is emitted as a
// single text delta followed by the terminal events.
func (b *GollmBackend) Stream(ctx context.Context, req Request) (<-chan WireEvent, error) {
	prompt := b.translateRequest(req)
	b.applyRequestOptions(req)

	ch := make(chan WireEvent, 64)

	if !b.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			text, err := b.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- WireEvent{Kind: EventError, Err: b.translateError(err)}
				return
			}
			// Some gollm providers return tool calls as trailing JSON in
			// the text; surface those as proper tool-call events.
			cleaned, calls := extractTextToolCalls(text)
			if cleaned != "" {
				ch <- WireEvent{Kind: EventTextDelta, Delta: cleaned}
			}
			for _, call := range calls {
				ch <- WireEvent{Kind: EventToolCallCreated, CallID: call.ID, ToolName: call.Name}
				ch <- WireEvent{Kind: EventToolCallArgsDelta, CallID: call.ID, Delta: call.ArgumentsText}
			}
			b.emitTerminal(ch, req, len(text))
		}()
		return ch, nil
	}

	stream, err := b.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, b.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		outputLen := 0
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- WireEvent{Kind: EventError, Err: b.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			ch <- WireEvent{Kind: EventTextDelta, Delta: token.Text}
			outputLen += len(token.Text)
		}
		b.emitTerminal(ch, req, outputLen)
	}()

	return ch, nil
}

// emitTerminal emits the usage summary and completion marker. gollm does
// not expose provider usage counters, so the summary is estimated from
// text length.
func (b *GollmBackend) emitTerminal(ch chan<- WireEvent, req Request, outputLen int) {
	usage := Usage{
		PromptTokens:     estimatePromptTokens(req),
		CompletionTokens: outputLen / 4,
	}.Normalize()
	ch <- WireEvent{Kind: EventUsageFinal, Usage: &usage}
	ch <- WireEvent{Kind: EventCompleted}
}

// translateRequest converts a Request into a gollm prompt. System messages
// become the system prompt; prior assistant and tool turns are folded into
// the prompt body as bracketed context lines.
func (b *GollmBackend) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Assistant tool call %s]: %s(%s)", tc.ID, tc.Name, tc.ArgumentsText))
			}
		case RoleTool:
			parts = append(parts, "[Tool Result "+msg.ToolCallID+"]: "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (b *GollmBackend) applyRequestOptions(req Request) {
	if req.Model != "" {
		b.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		b.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		b.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// translateError classifies a gollm error into the typed hierarchy based on
// message content, since gollm flattens provider errors to strings.
func (b *GollmBackend) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	base := BackendError{Message: msg, Cause: err}
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		base.StatusCode = 401
		return &AuthError{BackendError: base}
	case strings.Contains(lower, "429") || hasRateLimitPhrase(lower):
		base.StatusCode = 429
		return &RateLimitError{BackendError: base}
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request"):
		base.StatusCode = 400
		return &InvalidRequestError{BackendError: base}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server"):
		base.StatusCode = 500
		return &ServerError{BackendError: base}
	default:
		return &base
	}
}

// extractTextToolCalls pulls a trailing tool-call array out of generated
// text. Returns the remaining text and the parsed calls.
func extractTextToolCalls(text string) (string, []ToolCall) {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return text, nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return text, nil
	}

	calls := make([]ToolCall, 0, len(rawCalls))
	for _, rc := range rawCalls {
		calls = append(calls, ToolCall{
			ID:            "call_" + uuid.New().String()[:8],
			Name:          rc.Name,
			ArgumentsText: string(rc.Arguments),
		})
	}
	return strings.TrimSpace(text[:start]), calls
}

// estimatePromptTokens approximates prompt size from message text length.
func estimatePromptTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
