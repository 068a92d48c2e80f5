// Package agent runs the tool-calling assistant for one conversation turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/mercabot/internal/providers"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/tools"
	"github.com/nextlevelbuilder/mercabot/internal/tracing"
)

// ErrMaxIterations is returned when the model keeps calling tools.
var ErrMaxIterations = errors.New("agent: max tool iterations reached")

// Request is the input of one agent invocation.
type Request struct {
	UserID  string
	Message string
	// History is the conversation so far, oldest first, without Message.
	History []store.Entry
}

// Agent produces a reply for a user message.
type Agent interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Config holds the model settings for a Loop.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	SystemPrompt  string
}

// Loop is the think → act → observe loop over a provider and a tool registry.
type Loop struct {
	provider providers.Provider
	tools    *tools.Registry
	cfg      Config
}

func NewLoop(p providers.Provider, registry *tools.Registry, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = fallbackPrompt
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Loop{provider: p, tools: registry, cfg: cfg}
}

func (l *Loop) Invoke(ctx context.Context, req Request) (reply string, err error) {
	ctx, span := tracing.Start(ctx, "agent.invoke",
		attribute.String("user_id", sessions.MaskUserID(req.UserID)),
		attribute.Int("history", len(req.History)),
	)
	defer func() { tracing.End(span, err) }()

	ctx = tools.WithUserID(ctx, req.UserID)

	text, imageURL := ExtractMediaURL(req.Message)
	if imageURL != "" {
		slog.Info("agent: media detected", "user_id", sessions.MaskUserID(req.UserID))
	}
	messages := buildMessages(l.cfg.SystemPrompt, req.History, text, imageURL)
	toolDefs := l.tools.ProviderDefs()

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		slog.Debug("agent: iteration", "user_id", sessions.MaskUserID(req.UserID), "iteration", iteration, "messages", len(messages))

		start := time.Now()
		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    l.cfg.Model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   l.cfg.MaxTokens,
				providers.OptTemperature: l.cfg.Temperature,
			},
		})
		if err != nil {
			return "", fmt.Errorf("LLM call failed (iteration %d): %w", iteration, err)
		}
		slog.Debug("agent: llm response", "iteration", iteration, "tool_calls", len(resp.ToolCalls), "duration", time.Since(start))

		if len(resp.ToolCalls) == 0 {
			return SanitizeAssistantContent(resp.Content), nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, l.runTools(ctx, resp.ToolCalls)...)
	}
	return "", ErrMaxIterations
}

// runTools executes the calls concurrently and returns the tool messages in
// call order.
func (l *Loop) runTools(ctx context.Context, calls []providers.ToolCall) []providers.Message {
	results := make([]*tools.Result, len(calls))
	var g errgroup.Group
	for i, tc := range calls {
		g.Go(func() error {
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "tool", tc.Name, "args_len", len(argsJSON), "parallel", len(calls) > 1)

			tctx, span := tracing.Start(ctx, "tool."+tc.Name)
			res := l.tools.Execute(tctx, tc.Name, tc.Arguments)
			var spanErr error
			if res.IsError {
				spanErr = res.Err
				if spanErr == nil {
					spanErr = errors.New(truncate(res.ForLLM, 200))
				}
				slog.Warn("tool error", "tool", tc.Name, "error", truncate(res.ForLLM, 200))
			}
			tracing.End(span, spanErr)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	msgs := make([]providers.Message, len(calls))
	for i, tc := range calls {
		msgs[i] = providers.Message{
			Role:       "tool",
			Content:    results[i].ForLLM,
			ToolCallID: tc.ID,
		}
	}
	return msgs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
