// Package agent runs the conversation loop: model calls interleaved
// with tool executions until the model answers in plain text or the
// step budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/internal/tracing"
	"github.com/harunnryd/k8sai/pkg/session"
	"github.com/harunnryd/k8sai/pkg/tools"
)

const (
	// DefaultMaxSteps bounds the number of model calls per invocation.
	DefaultMaxSteps = 10

	// DefaultMaxRetries bounds attempts per model call.
	DefaultMaxRetries = 3

	// BudgetExhaustedMessage is the reply when the loop runs out of
	// steps before the model produces a final answer.
	BudgetExhaustedMessage = "I was not able to complete the task within the allowed number of steps. " +
		"You can continue by sending another message."

	// TimeoutMessage is the reply when the invocation deadline expires
	// before the model produces a final answer.
	TimeoutMessage = "I was not able to complete the task within the allowed time. " +
		"You can continue by sending another message."
)

// StepEvent reports loop progress to an observer.
type StepEvent struct {
	// Type is "assistant" for a model turn or "tool_result" for a
	// completed tool execution.
	Type string `json:"type"`

	// Step is the 1-based model call number.
	Step int `json:"step"`

	Text     string            `json:"text,omitempty"`
	ToolCall *session.ToolCall `json:"tool_call,omitempty"`
	Result   string            `json:"result,omitempty"`
	IsError  bool              `json:"is_error,omitempty"`
}

// Config holds loop configuration.
type Config struct {
	Provider Provider
	Registry *tools.Registry

	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	// MaxSteps bounds model calls per Run, default DefaultMaxSteps.
	MaxSteps int

	// MaxRetries bounds attempts per model call, default
	// DefaultMaxRetries.
	MaxRetries int

	Logger zerolog.Logger
}

// Result is the outcome of one Run.
type Result struct {
	// Response is the final assistant text shown to the user.
	Response string `json:"response"`

	// Completed is false when the loop stopped on the step budget
	// rather than a plain-text answer.
	Completed bool `json:"completed"`

	// Steps is the number of model calls made.
	Steps int `json:"steps"`

	// ToolCalls lists every tool call executed, in order.
	ToolCalls []session.ToolCall `json:"tool_calls,omitempty"`

	Usage TokenUsage `json:"usage"`
}

// Loop drives the model/tool conversation for one session at a time.
// Same-session serialization is the caller's responsibility (pkg/lane).
type Loop struct {
	provider   Provider
	registry   *tools.Registry
	model      string
	temp       float64
	maxTokens  int
	system     string
	maxSteps   int
	maxRetries int
	logger     zerolog.Logger
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &Loop{
		provider:   cfg.Provider,
		registry:   cfg.Registry,
		model:      cfg.Model,
		temp:       cfg.Temperature,
		maxTokens:  cfg.MaxTokens,
		system:     cfg.SystemPrompt,
		maxSteps:   cfg.MaxSteps,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
	}, nil
}

// Run appends the prompt to the conversation and drives model calls
// and tool executions until the model answers without tool calls or
// the step budget runs out.
//
// A fatal error (model unavailable after retries, malformed response)
// is returned without appending a partial assistant turn: the prompt
// stays in the conversation and the same request can be retried. Tool
// failures never abort the run; they are folded into the conversation
// for the model to react to. An expired context deadline ends the run
// like step-budget exhaustion: a notice turn, a nil error, and a
// conversation that stays usable.
func (l *Loop) Run(ctx context.Context, conv *session.Conversation, prompt string) (Result, error) {
	return l.RunWithObserver(ctx, conv, prompt, nil)
}

// RunWithObserver is Run with a progress callback. The observer is
// called synchronously from the loop goroutine.
func (l *Loop) RunWithObserver(ctx context.Context, conv *session.Conversation, prompt string, observe func(StepEvent)) (Result, error) {
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx, conv.SessionKey())
	} else {
		ctx = tracing.WithSessionKey(ctx, conv.SessionKey())
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"k8sai.agent",
		"agent.run",
		attribute.String("session_key", conv.SessionKey()),
		attribute.String("model", l.model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger).With().Str("session_key", conv.SessionKey()).Logger()

	start := time.Now()

	if prompt == "" {
		return Result{}, fmt.Errorf("prompt cannot be empty")
	}
	if err := conv.Append(session.UserTurn(prompt)); err != nil {
		return Result{}, fmt.Errorf("failed to record user turn: %w", err)
	}

	result := Result{}
	modelSpecs := l.registry.ModelSpecs()

	for step := 1; step <= l.maxSteps; step++ {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return l.finishTimedOut(conv, result, logger, start)
			}
			observability.RecordAgentRun("canceled", time.Since(start), result.Steps)
			return Result{}, ctx.Err()
		default:
		}

		response, err := l.callWithRetry(ctx, Request{
			Model:        l.model,
			Turns:        conv.Snapshot(),
			Tools:        modelSpecs,
			Temperature:  l.temp,
			MaxTokens:    l.maxTokens,
			SystemPrompt: l.system,
		})
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return l.finishTimedOut(conv, result, logger, start)
			}
			logger.Error().Int("step", step).Err(err).Msg("Model call failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordAgentRun("error", time.Since(start), result.Steps)
			return Result{}, err
		}

		result.Steps = step
		if response.Usage != nil {
			result.Usage.InputTokens += response.Usage.InputTokens
			result.Usage.OutputTokens += response.Usage.OutputTokens
		}

		if err := conv.Append(session.AssistantTurn(response.Text, response.ToolCalls)); err != nil {
			return Result{}, fmt.Errorf("failed to record assistant turn: %w", err)
		}
		if observe != nil {
			observe(StepEvent{Type: "assistant", Step: step, Text: response.Text})
		}

		if len(response.ToolCalls) == 0 {
			result.Response = response.Text
			result.Completed = true
			logger.Info().
				Int("steps", step).
				Int("tool_calls", len(result.ToolCalls)).
				Msg("Run completed")
			observability.RecordAgentRun("completed", time.Since(start), step)
			return result, nil
		}

		// Execute every requested call before the next model call, in
		// emission order. Each call gets exactly one result turn.
		for i := range response.ToolCalls {
			toolCall := response.ToolCalls[i]
			execResult := l.registry.Execute(ctx, toolCall.Name, toolCall.Arguments)

			if err := conv.Append(session.ToolResultTurn(toolCall.ID, execResult.Content)); err != nil {
				return Result{}, fmt.Errorf("failed to record tool result: %w", err)
			}
			result.ToolCalls = append(result.ToolCalls, toolCall)

			if observe != nil {
				observe(StepEvent{
					Type:     "tool_result",
					Step:     step,
					ToolCall: &toolCall,
					Result:   execResult.Content,
					IsError:  execResult.IsError,
				})
			}
		}
	}

	// Budget exhausted. The conversation keeps everything done so far;
	// the notice becomes the visible reply.
	if err := conv.Append(session.AssistantTurn(BudgetExhaustedMessage, nil)); err != nil {
		return Result{}, fmt.Errorf("failed to record budget notice: %w", err)
	}
	result.Response = BudgetExhaustedMessage
	result.Completed = false

	logger.Warn().Int("max_steps", l.maxSteps).Msg("Step budget exhausted")
	observability.RecordAgentRun("budget_exhausted", time.Since(start), result.Steps)
	return result, nil
}

// finishTimedOut closes a run whose deadline expired the same way the
// step budget does: the notice becomes a real assistant turn and the
// conversation stays usable.
func (l *Loop) finishTimedOut(conv *session.Conversation, result Result, logger zerolog.Logger, start time.Time) (Result, error) {
	if err := conv.Append(session.AssistantTurn(TimeoutMessage, nil)); err != nil {
		return Result{}, fmt.Errorf("failed to record timeout notice: %w", err)
	}
	result.Response = TimeoutMessage
	result.Completed = false

	logger.Warn().Int("steps", result.Steps).Msg("Invocation deadline expired")
	observability.RecordAgentRun("timeout", time.Since(start), result.Steps)
	return result, nil
}

// callWithRetry calls the provider with exponential backoff on
// transient failures.
func (l *Loop) callWithRetry(ctx context.Context, request Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		callStart := time.Now()
		response, err := l.provider.Call(ctx, request)
		observability.RecordModelCall(l.provider.Provider(), time.Since(callStart), err == nil)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == l.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s.
		delay := time.Duration(1<<attempt) * time.Second
		l.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call")
		observability.RecordModelRetry(l.provider.Provider())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w: max retries (%d) exceeded: %v", ErrModelUnavailable, l.maxRetries, lastErr)
}
