// Package llmstream is the backend-facing layer of the orchestration engine.
//
// It defines a vendor-neutral wire-event union for streaming model output,
// assembles those events into complete assistant turns, classifies backend
// errors into a typed hierarchy, and retries transient failures with
// backoff. Concrete backends implement the Backend interface; a gollm-based
// adapter (github.com/teilomillet/gollm) is provided for production use.
//
// # Architecture
//
//   - WireEvent: closed tagged union over every event kind a streaming
//     backend can emit (text deltas, tool-call fragments, usage, errors).
//   - StreamAssembler: folds an ordered event sequence into one
//     (Message, Usage) pair per assistant turn.
//   - RetryPolicy: bounded retry with backoff for transient backend errors.
//   - Client: routes requests to named backends through stream middleware.
//
// # Quick Start
//
//	backend, _ := llmstream.NewGollmBackend("openai", "gpt-4o-mini")
//	client := llmstream.NewClient(llmstream.WithBackend("openai", backend))
//
//	events, _ := client.Stream(ctx, llmstream.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []llmstream.Message{llmstream.UserMessage("Hello")},
//	})
//	msg, usage, _ := llmstream.NewStreamAssembler(nil).Assemble(ctx, events)
package llmstream
