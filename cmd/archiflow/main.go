// Package main provides the CLI entry point for Archiflow: an in-process
// agent-runtime fabric that wires a message broker, a prompt preprocessor,
// a runtime tool executor, and an LLM-backed session agent around a single
// conversational session.
//
// # Basic usage
//
//	archiflow run --message "list the files in this directory"
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key used by the session's LLM provider.
//   - ARCHIFLOW_MODEL: overrides the default Claude model.
//   - ARCHIFLOW_OTEL_ENDPOINT: OTLP collector endpoint; tracing is a no-op
//     when unset.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archiflow-dev/archiflow/internal/agent"
	"github.com/archiflow-dev/archiflow/internal/anthropicprovider"
	"github.com/archiflow-dev/archiflow/internal/broker"
	"github.com/archiflow-dev/archiflow/internal/controller"
	"github.com/archiflow-dev/archiflow/internal/observability"
	"github.com/archiflow-dev/archiflow/internal/runtime"
	"github.com/archiflow-dev/archiflow/internal/tools"
	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := newRootCommand(logger)
	if err := root.Execute(); err != nil {
		logger.Error("archiflow: command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:     "archiflow",
		Short:   "Archiflow agent-runtime fabric",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.AddCommand(newRunCommand(logger))
	return root
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var (
		message      string
		workdir      string
		homedir      string
		model        string
		apiKey       string
		otelEndpoint string
		sessionID    string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single conversational turn through the agent runtime end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" && len(args) > 0 {
				message = args[0]
			}
			if message == "" {
				return fmt.Errorf("archiflow run: --message (or a positional argument) is required")
			}
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			if apiKey == "" {
				return fmt.Errorf("archiflow run: ANTHROPIC_API_KEY is required")
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			if workdir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("archiflow run: resolve working directory: %w", err)
				}
				workdir = wd
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runSession(ctx, sessionConfig{
				Message:      message,
				WorkingDir:   workdir,
				HomeDir:      homedir,
				Model:        model,
				APIKey:       apiKey,
				OTELEndpoint: otelEndpoint,
				SessionID:    sessionID,
				Timeout:      timeout,
				Logger:       logger,
			})
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "user message to send as the first turn")
	cmd.Flags().StringVar(&workdir, "workdir", "", "session working directory (defaults to cwd)")
	cmd.Flags().StringVar(&homedir, "homedir", "", "global config directory (defaults to os.UserHomeDir)")
	cmd.Flags().StringVar(&model, "model", os.Getenv("ARCHIFLOW_MODEL"), "Anthropic model override (defaults to $ARCHIFLOW_MODEL)")
	cmd.Flags().StringVar(&apiKey, "anthropic-api-key", "", "Anthropic API key (defaults to $ANTHROPIC_API_KEY)")
	cmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", os.Getenv("ARCHIFLOW_OTEL_ENDPOINT"), "OTLP collector endpoint; empty disables tracing")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id (defaults to a generated UUID)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to wait for the turn to finish")

	return cmd
}

type sessionConfig struct {
	Message      string
	WorkingDir   string
	HomeDir      string
	Model        string
	APIKey       string
	OTELEndpoint string
	SessionID    string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// runSession wires the broker, runtime executor, LLM provider, session
// agent, and controller together, publishes one UserMessage, and blocks
// until the turn reaches a terminal client-visible outcome.
func runSession(ctx context.Context, cfg sessionConfig) error {
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "archiflow",
		Endpoint:    cfg.OTELEndpoint,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	bus := broker.New(
		broker.WithLogger(cfg.Logger),
		broker.WithMetrics(metrics),
	)
	defer bus.Stop()

	registry := runtime.NewRegistry()
	builtins := []runtime.Tool{tools.ReadFileTool{}, tools.ExecTool{}}
	for _, t := range builtins {
		registry.Register(t)
	}
	toolSpecs := make([]llm.FunctionSpec, len(builtins))
	for i, t := range builtins {
		toolSpecs[i] = llm.FunctionSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
	}

	executor := runtime.New(registry, bus, runtime.Config{Metrics: metrics, Logger: cfg.Logger})
	executor.Subscribe(cfg.SessionID, runtime.SessionContext{WorkingDirectory: cfg.WorkingDir})

	provider, err := anthropicprovider.New(anthropicprovider.Config{APIKey: cfg.APIKey, DefaultModel: cfg.Model})
	if err != nil {
		return fmt.Errorf("archiflow run: build provider: %w", err)
	}

	sessionAgent := agent.NewSessionAgent(agent.SessionAgentConfig{
		SessionID:    cfg.SessionID,
		Provider:     provider,
		Model:        cfg.Model,
		SystemPrompt: "You are Archiflow, an agent with read_file and exec tools for working in the current project.",
		Tools:        toolSpecs,
		Logger:       cfg.Logger,
	})

	ctrl, err := controller.New(controller.Config{
		SessionID:        cfg.SessionID,
		Agent:            sessionAgent,
		Bus:              bus,
		WorkingDirectory: cfg.WorkingDir,
		HomeDirectory:    cfg.HomeDir,
		Provider:         provider,
		Model:            cfg.Model,
		Tracer:           tracer,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("archiflow run: build controller: %w", err)
	}
	defer ctrl.Close()

	done := make(chan struct{})
	_, _, clientTopic := events.Topics(cfg.SessionID)
	bus.Subscribe(clientTopic, func(msg events.Message) error {
		switch payload := msg.Payload.(type) {
		case events.LLMRespondMessage:
			fmt.Println(payload.Content)
			close(done)
		case events.AgentFinishedMessage:
			fmt.Fprintln(os.Stderr, "archiflow: turn ended:", payload.Reason)
			close(done)
		case events.ErrorObservation:
			fmt.Fprintln(os.Stderr, "archiflow: error:", payload.Content)
			close(done)
		case events.ToolResultMirror:
			fmt.Fprintf(os.Stderr, "archiflow: tool %s -> %s\n", payload.Name, payload.Status)
		case events.PromptRefinedNotification:
			fmt.Fprintln(os.Stderr, "archiflow: prompt refined for clarity")
		}
		return nil
	})

	agentTopic, _, _ := events.Topics(cfg.SessionID)
	if _, err := bus.Publish(ctx, agentTopic, events.UserMessage{SessionID: cfg.SessionID, Content: cfg.Message}); err != nil {
		return fmt.Errorf("archiflow run: publish user message: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	select {
	case <-done:
		return nil
	case <-timeoutCtx.Done():
		return fmt.Errorf("archiflow run: %w waiting for turn to finish", timeoutCtx.Err())
	}
}
