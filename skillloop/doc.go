// Package skillloop implements the phase-gated agent orchestration loop.
//
// Every assistant turn carries a control envelope: a JSON wrapper declaring
// the turn's phase (analysis, action, final) and the tools the model is
// permitted to call this turn. The loop streams a backend turn, decodes the
// envelope, validates the phase transition, gates proposed tool calls,
// executes approved calls through an external dispatcher, and decides
// whether to continue, correct the model conversationally, or terminate.
//
// The ChainDriver layers skill chaining on top: a final envelope may embed a
// step-completion payload naming the next step and its prompt, which the
// driver feeds back as the next user turn until the chain ends or the
// follow-up budget runs out.
//
// # Quick Start
//
//	client := llmstream.NewClient(llmstream.WithBackend("openai", backend))
//	dispatcher := skillloop.NewRegistryDispatcher()
//	loop := skillloop.NewLoop(client, dispatcher, nil)
//
//	conv := skillloop.NewConversationState()
//	driver := skillloop.NewChainDriver(loop)
//	result, err := driver.Run(ctx, conv, systemPrompt, "Reformat section 2")
//
// None of the stateful types (ConversationState, Loop, ToolGate) are safe
// for concurrent use; give every concurrent conversation its own instances.
package skillloop
