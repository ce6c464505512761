// Command shadowloop runs the phase-gated orchestration engine against a
// live backend, with a small in-memory document tool set for the model to
// work on.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alexezh/shadow-sub001/config"
	"github.com/alexezh/shadow-sub001/llmstream"
	"github.com/alexezh/shadow-sub001/skillloop"
)

var (
	flagConfig  string
	flagModel   string
	flagSystem  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "shadowloop [prompt]",
	Short: "Run a phase-gated agent loop against a language-model backend",
	Long: `shadowloop drives a skill chain over a streaming LLM backend: every
assistant turn is a structured control envelope, tool calls are gated by the
envelope's declarations, and multi-step skills chain through step-completion
objects.`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "shadowloop.yaml", "path to the YAML config file")
	rootCmd.Flags().StringVarP(&flagModel, "model", "m", "", "override the configured model")
	rootCmd.Flags().StringVarP(&flagSystem, "system", "s", "", "extra system prompt text")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "stream loop events to stderr")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagModel != "" {
		cfg.Backend.Model = flagModel
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var backendOpts []llmstream.GollmOption
	if key := cfg.ResolveAPIKey(); key != "" {
		backendOpts = append(backendOpts, llmstream.WithAPIKey(key))
	}
	if cfg.Backend.MaxTokens > 0 {
		backendOpts = append(backendOpts, llmstream.WithMaxTokens(cfg.Backend.MaxTokens))
	}
	if cfg.Backend.Temperature != nil {
		backendOpts = append(backendOpts, llmstream.WithTemperature(*cfg.Backend.Temperature))
	}
	backend, err := llmstream.NewGollmBackend(cfg.Backend.Provider, cfg.Backend.Model, backendOpts...)
	if err != nil {
		return err
	}

	client := llmstream.NewClient(
		llmstream.WithBackend(cfg.Backend.Provider, backend),
		llmstream.WithStreamMiddleware(loggingMiddleware(logger)),
	)

	dispatcher := skillloop.NewRegistryDispatcher()
	registerDocumentTools(dispatcher, newDemoDocument())

	opts := skillloop.LoopOptions{
		Model:           cfg.Backend.Model,
		SystemPrompt:    buildSystemPrompt(flagSystem),
		ToolDefs:        dispatcher.Definitions(),
		RequireEnvelope: cfg.Loop.RequireEnvelope,
		MaxIterations:   cfg.Loop.MaxIterations,
		MaxCorrections:  cfg.Loop.MaxCorrections,
		MaxEmptyTurns:   cfg.Loop.MaxEmptyTurns,
		TurnTimeout:     cfg.TurnTimeout(),
	}
	loop := skillloop.NewLoop(client, dispatcher, &opts)
	loop.SetLogger(logger)
	loop.SetRetryPolicy(llmstream.RetryPolicy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay(),
		Logger:       logger,
	})

	if flagVerbose {
		go printEvents(loop.Events())
	}

	driver := skillloop.NewChainDriver(loop)
	driver.SetLogger(logger)
	driver.SetMaxFollowUps(cfg.Loop.MaxFollowUps)

	conv := skillloop.NewConversationState()
	result, err := driver.Run(cmd.Context(), conv, "", args[0])
	loop.Close()
	if err != nil {
		return err
	}

	fmt.Println(result.Response)
	fmt.Fprintf(os.Stderr, "\n%d step(s), %d prompt + %d completion = %d tokens\n",
		len(result.Steps),
		result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens)
	for _, step := range result.Steps {
		if step.Degraded != skillloop.DegradedNone {
			fmt.Fprintf(os.Stderr, "step %q ended degraded: %s\n", step.Step, step.Degraded)
		}
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("bad log level %q: %w", cfg.Level, err)
		}
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// loggingMiddleware logs each streaming backend call.
func loggingMiddleware(logger *zap.Logger) llmstream.StreamMiddleware {
	return func(ctx context.Context, req llmstream.Request, next func(context.Context, llmstream.Request) (<-chan llmstream.WireEvent, error)) (<-chan llmstream.WireEvent, error) {
		logger.Debug("backend stream call",
			zap.String("backend", req.Backend),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Int("tools", len(req.ToolDefs)))
		events, err := next(ctx, req)
		if err != nil {
			logger.Warn("backend stream call failed", zap.Error(err))
		}
		return events, err
	}
}

func printEvents(events <-chan skillloop.LoopEvent) {
	for ev := range events {
		fmt.Fprintf(os.Stderr, "[%s] %s %v\n", ev.At.Format("15:04:05.000"), ev.Kind, ev.Data)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
