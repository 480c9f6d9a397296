// Package chat drives the request loop for one interpreter conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/interp"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
	"github.com/wststone/Local-Code-Interpreter/internal/parser"
)

// ErrMaxTurns is returned when a turn exhausts its follow-up budget while
// the model is still requesting function calls.
var ErrMaxTurns = errors.New("max turns exceeded")

// StreamClient issues streaming chat-completion requests. *openai.Client
// satisfies it.
type StreamClient interface {
	ChatCompletionsStream(ctx context.Context, req *openai.ChatRequest, handler openai.StreamHandler) (*openai.StreamSummary, error)
}

// StreamCallbacks wires streaming lifecycle hooks for the UI layer.
type StreamCallbacks struct {
	// OnStreamStart fires before each streaming request.
	OnStreamStart func(model string) error
	// OnHistory receives the display history after every fragment.
	OnHistory func(h history.History) error
	// OnStreamComplete fires after each response finishes.
	OnStreamComplete func(summary openai.StreamSummary) error
}

// Runner executes user turns against an OpenAI-compatible gateway.
type Runner struct {
	// Client issues streaming requests. Required.
	Client StreamClient
	// Parser dispatches stream fragments. Required.
	Parser *parser.Parser
	// Model is the provider model id for requests.
	Model string
	// MaxTurns bounds follow-up requests within one user turn.
	MaxTurns int
	// Functions is the function table advertised to the model.
	Functions []openai.FunctionSpec
	// Temperature overrides the sampling temperature when set.
	Temperature *float64
	// Callbacks wires optional UI hooks.
	Callbacks *StreamCallbacks
}

// TurnResult captures the outcome of one user turn.
type TurnResult struct {
	// History is the display history after the turn.
	History history.History
	// NumTurns is the number of model responses processed.
	NumTurns int
	// Usage aggregates token usage across responses.
	Usage openai.Usage
	// HasUsage reports whether Usage was populated.
	HasUsage bool
	// Duration is the total turn runtime.
	Duration time.Duration
	// Exited reports that the parser stopped the turn after an error
	// notice was appended to the history.
	Exited bool
}

// RunTurn sends one user input and processes responses until the model
// stops requesting function calls.
func (r *Runner) RunTurn(ctx context.Context, input string, h history.History, session *interp.Session) (*TurnResult, error) {
	if r.Client == nil {
		return nil, errors.New("client is required")
	}
	if r.Parser == nil {
		return nil, errors.New("parser is required")
	}
	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}

	session.AppendUserMessage(input)
	h = append(h, history.Exchange{User: input})

	result := &TurnResult{}
	startTime := time.Now()

	for turn := 0; turn < maxTurns; turn++ {
		req := &openai.ChatRequest{
			Model:       r.Model,
			Messages:    session.Messages(),
			Functions:   r.Functions,
			Temperature: r.Temperature,
		}
		if len(req.Functions) > 0 {
			req.FunctionCall = "auto"
		}

		if callback := r.onStreamStart(); callback != nil {
			if err := callback(r.Model); err != nil {
				return nil, fmt.Errorf("stream start callback: %w", err)
			}
		}

		session.SetFinishReason("")
		exit := false
		summary, err := r.Client.ChatCompletionsStream(ctx, req, func(event openai.StreamResponse) error {
			if exit {
				// The parser already appended an error notice; drain
				// the rest of the stream without dispatching.
				return nil
			}
			h, exit = r.Parser.ParseResponse(ctx, event, h, session)
			if callback := r.onHistory(); callback != nil {
				if err := callback(h); err != nil {
					return fmt.Errorf("history callback: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			result.History = h
			result.Duration = time.Since(startTime)
			return result, fmt.Errorf("stream request: %w", err)
		}

		result.NumTurns++
		if summary.HasUsage {
			accumulateUsage(&result.Usage, summary.Usage)
			result.HasUsage = true
		}

		if callback := r.onStreamComplete(); callback != nil {
			if err := callback(*summary); err != nil {
				return nil, fmt.Errorf("stream complete callback: %w", err)
			}
		}

		if exit {
			result.History = h
			result.Exited = true
			result.Duration = time.Since(startTime)
			return result, nil
		}

		// A function_call finish means the execution output was appended
		// to the conversation and the model owes a follow-up response.
		if session.FinishReason() != parser.FinishReasonFunctionCall {
			result.History = h
			result.Duration = time.Since(startTime)
			return result, nil
		}
	}

	result.History = h
	result.Duration = time.Since(startTime)
	return result, fmt.Errorf("%w: %d", ErrMaxTurns, maxTurns)
}

func (r *Runner) onStreamStart() func(string) error {
	if r.Callbacks == nil {
		return nil
	}
	return r.Callbacks.OnStreamStart
}

func (r *Runner) onHistory() func(history.History) error {
	if r.Callbacks == nil {
		return nil
	}
	return r.Callbacks.OnHistory
}

func (r *Runner) onStreamComplete() func(openai.StreamSummary) error {
	if r.Callbacks == nil {
		return nil
	}
	return r.Callbacks.OnStreamComplete
}

// accumulateUsage adds usage counters in place.
func accumulateUsage(total *openai.Usage, usage openai.Usage) {
	total.PromptTokens += usage.PromptTokens
	total.CompletionTokens += usage.CompletionTokens
	total.TotalTokens += usage.TotalTokens
}
