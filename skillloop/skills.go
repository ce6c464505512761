package skillloop

import (
	"context"

	"go.uber.org/zap"

	"github.com/alexezh/shadow-sub001/llmstream"
)

// defaultMaxFollowUps bounds how many chained follow-up steps one chain run
// may take after the initial prompt.
const defaultMaxFollowUps = 12

// StepRecord captures one completed skill step for observability.
type StepRecord struct {
	Step     string
	Prompt   string
	Usage    llmstream.Usage
	Card     *StepCard
	Degraded DegradedKind
}

// ChainResult is the terminal result of a chain run: the last step's
// response, summed usage across all steps, and per-step records.
type ChainResult struct {
	Response string
	Usage    llmstream.Usage
	Steps    []StepRecord
}

// ChainDriver runs multi-step skills over one shared conversation. Each
// step is a full loop run; a final envelope whose content is a
// step-completion object (next_step / next_prompt) chains into the next
// step, feeding only next_prompt back as user input.
type ChainDriver struct {
	loop         *Loop
	maxFollowUps int
	logger       *zap.Logger
}

// NewChainDriver creates a driver over an existing loop.
func NewChainDriver(loop *Loop) *ChainDriver {
	return &ChainDriver{
		loop:         loop,
		maxFollowUps: defaultMaxFollowUps,
		logger:       zap.NewNop(),
	}
}

// SetLogger installs a logger.
func (d *ChainDriver) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d.logger = logger
}

// SetMaxFollowUps overrides the follow-up budget. Values below 1 are
// ignored.
func (d *ChainDriver) SetMaxFollowUps(n int) {
	if n >= 1 {
		d.maxFollowUps = n
	}
}

// Run drives a skill chain to completion. systemPrompt, when non-empty, is
// installed once at the start of an empty conversation; initialPrompt is the
// first step's user input.
//
// The chain ends when a step's final response is not a step-completion
// object with a next prompt, when a step degrades, or when the follow-up
// budget runs out. Degradation and budget exhaustion end the chain with the
// last response rather than an error.
func (d *ChainDriver) Run(ctx context.Context, conv *ConversationState, systemPrompt, initialPrompt string) (*ChainResult, error) {
	if systemPrompt != "" && conv.Len() == 0 {
		conv.AppendMessage(llmstream.SystemMessage(systemPrompt))
	}

	result := &ChainResult{}
	prompt := initialPrompt
	stepName := "initial"
	followUps := 0

	for {
		outcome, err := d.loop.Run(ctx, conv, prompt)
		if err != nil {
			return nil, err
		}

		record := StepRecord{
			Step:     stepName,
			Prompt:   prompt,
			Usage:    outcome.Usage,
			Degraded: outcome.Degraded,
		}
		if outcome.Envelope != nil {
			record.Card = StepCardFromMetadata(outcome.Envelope.Envelope.Metadata)
		}
		result.Steps = append(result.Steps, record)
		result.Usage = result.Usage.Add(outcome.Usage)
		result.Response = outcome.Response

		d.loop.emitter.Emit(EventChainStep, conv.ID(), map[string]interface{}{
			"step":      stepName,
			"degraded":  string(outcome.Degraded),
			"followups": followUps,
		})

		if outcome.Degraded != DegradedNone {
			d.logger.Warn("chain ended by degraded step",
				zap.String("step", stepName), zap.String("reason", string(outcome.Degraded)))
			return result, nil
		}

		// Chaining requires both fields; a payload naming only one ends
		// the chain with this step's response.
		completion := ParseStepCompletion(outcome.Response)
		if completion == nil || completion.NextStep == "" || completion.NextPrompt == "" {
			return result, nil
		}
		if followUps >= d.maxFollowUps {
			d.logger.Warn("follow-up budget exhausted",
				zap.Int("max_follow_ups", d.maxFollowUps), zap.String("next_step", completion.NextStep))
			return result, nil
		}

		followUps++
		prompt = completion.NextPrompt
		stepName = completion.NextStep
		d.logger.Info("chaining into next step",
			zap.String("step", stepName), zap.Int("followups", followUps))
	}
}
