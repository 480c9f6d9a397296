package chat

import (
	"context"
	"testing"

	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/interp"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
	"github.com/wststone/Local-Code-Interpreter/internal/parser"
	"github.com/wststone/Local-Code-Interpreter/internal/testutil"
)

// scriptedClient replays one fragment list per streaming request.
type scriptedClient struct {
	responses [][]openai.StreamResponse
	requests  []*openai.ChatRequest
}

func (c *scriptedClient) ChatCompletionsStream(_ context.Context, req *openai.ChatRequest, handler openai.StreamHandler) (*openai.StreamSummary, error) {
	c.requests = append(c.requests, req)
	call := len(c.requests) - 1
	if call < len(c.responses) {
		for _, event := range c.responses[call] {
			if err := handler(event); err != nil {
				return nil, err
			}
		}
	}
	return &openai.StreamSummary{
		Usage:    openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		HasUsage: true,
	}, nil
}

type fakeBackend struct {
	executed []string
	response string
}

func (f *fakeBackend) Functions() map[string]kernel.CodeFunc {
	return map[string]kernel.CodeFunc{
		"execute_code": func(_ context.Context, code string) (string, []kernel.DisplayItem, error) {
			f.executed = append(f.executed, code)
			return f.response, []kernel.DisplayItem{{Kind: "stdout", Text: f.response}}, nil
		},
	}
}

func (f *fakeBackend) Restart() error { return nil }

func strPtr(value string) *string { return &value }

func textResponse(text string, finishReason string) []openai.StreamResponse {
	return []openai.StreamResponse{
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{Role: "assistant"}}}},
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{Content: strPtr(text)}}}},
		{Choices: []openai.StreamChoice{{FinishReason: strPtr(finishReason)}}},
	}
}

func functionCallResponse(args string) []openai.StreamResponse {
	return []openai.StreamResponse{
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{
			Role: "assistant",
			FunctionCall: &openai.StreamFunctionCallDelta{
				Name:      strPtr("execute_code"),
				Arguments: strPtr(""),
			},
		}}}},
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{
			FunctionCall: &openai.StreamFunctionCallDelta{Arguments: strPtr(args)},
		}}}},
		{Choices: []openai.StreamChoice{{FinishReason: strPtr("function_call")}}},
	}
}

func newRunner(testingHandle *testing.T, client StreamClient) (*Runner, *interp.Session, *fakeBackend) {
	backend := &fakeBackend{response: "42\n"}
	session := interp.New(interp.Options{ID: "test", Backend: backend})
	runner := &Runner{
		Client:    client,
		Parser:    parser.New(testingHandle.TempDir()),
		Model:     "gpt-4-0613",
		MaxTurns:  4,
		Functions: openai.DefaultFunctions(),
	}
	return runner, session, backend
}

func TestRunTurnPlainTextResponse(testingHandle *testing.T) {
	client := &scriptedClient{responses: [][]openai.StreamResponse{
		textResponse("Hello there.", "stop"),
	}}
	runner, session, _ := newRunner(testingHandle, client)

	result, err := runner.RunTurn(context.Background(), "hi", nil, session)
	testutil.RequireNoError(testingHandle, err, "run turn")
	testutil.RequireEqual(testingHandle, result.NumTurns, 1, "turn count mismatch")
	testutil.RequireEqual(testingHandle, len(client.requests), 1, "request count mismatch")
	testutil.RequireEqual(testingHandle, result.History[0].User, "hi", "user row mismatch")
	testutil.RequireEqual(testingHandle, result.History[0].Bot, "Hello there.", "bot row mismatch")
	testutil.RequireTrue(testingHandle, result.HasUsage, "usage must be reported")
	testutil.RequireEqual(testingHandle, result.Usage.TotalTokens, 15, "usage mismatch")

	// The request advertises the function table.
	req := client.requests[0]
	testutil.RequireEqual(testingHandle, len(req.Functions), 1, "function table mismatch")
	testutil.RequireEqual(testingHandle, req.FunctionCall, any("auto"), "function call mode mismatch")
}

func TestRunTurnFollowsUpAfterFunctionCall(testingHandle *testing.T) {
	client := &scriptedClient{responses: [][]openai.StreamResponse{
		functionCallResponse(`{"code": "print(42)"}`),
		textResponse("The answer is 42.", "stop"),
	}}
	runner, session, backend := newRunner(testingHandle, client)

	result, err := runner.RunTurn(context.Background(), "compute", nil, session)
	testutil.RequireNoError(testingHandle, err, "run turn")
	testutil.RequireEqual(testingHandle, result.NumTurns, 2, "turn count mismatch")
	testutil.RequireEqual(testingHandle, backend.executed, []string{"print(42)"}, "executed code mismatch")
	testutil.RequireEqual(testingHandle, result.Usage.TotalTokens, 30, "usage must accumulate")

	// The follow-up request carries the function exchange.
	second := client.requests[1]
	sawFunctionRole := false
	for _, message := range second.Messages {
		if message.Role == "function" {
			sawFunctionRole = true
		}
	}
	testutil.RequireTrue(testingHandle, sawFunctionRole, "follow-up must include the function response")

	// The display history shows the finalized code and the final text.
	last := result.History[len(result.History)-1]
	testutil.RequireEqual(testingHandle, last.Bot, "The answer is 42.", "final text mismatch")
	testutil.RequireStringContains(testingHandle, result.History[0].Bot, "🟢Working:", "finalized block missing")
}

func TestRunTurnStopsOnParserExit(testingHandle *testing.T) {
	client := &scriptedClient{responses: [][]openai.StreamResponse{
		{
			{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{
				Role: "assistant",
				FunctionCall: &openai.StreamFunctionCallDelta{
					Name:      strPtr("rm_rf"),
					Arguments: strPtr(""),
				},
			}}}},
			// Fragments after the error notice must be ignored.
			{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{Content: strPtr("ignored")}}}},
		},
	}}
	runner, session, _ := newRunner(testingHandle, client)

	result, err := runner.RunTurn(context.Background(), "compute", nil, session)
	testutil.RequireNoError(testingHandle, err, "run turn")
	testutil.RequireTrue(testingHandle, result.Exited, "expected parser exit")
	testutil.RequireEqual(testingHandle, len(client.requests), 1, "no follow-up after exit")
	testutil.RequireStringContains(
		testingHandle,
		result.History[len(result.History)-1].Bot,
		"does not exist: rm_rf",
		"expected error notice",
	)
}

func TestRunTurnEnforcesMaxTurns(testingHandle *testing.T) {
	// Every response requests another function call.
	responses := make([][]openai.StreamResponse, 4)
	for i := range responses {
		responses[i] = functionCallResponse(`{"code": "print(1)"}`)
	}
	client := &scriptedClient{responses: responses}
	runner, session, _ := newRunner(testingHandle, client)

	_, err := runner.RunTurn(context.Background(), "loop", nil, session)
	if err == nil {
		testingHandle.Fatal("expected max turns error")
	}
	testutil.RequireStringContains(testingHandle, err.Error(), "max turns exceeded", "error mismatch")
}

func TestRunTurnInvokesCallbacks(testingHandle *testing.T) {
	client := &scriptedClient{responses: [][]openai.StreamResponse{
		textResponse("Hi.", "stop"),
	}}
	runner, session, _ := newRunner(testingHandle, client)

	var starts, histories, completes int
	runner.Callbacks = &StreamCallbacks{
		OnStreamStart: func(model string) error {
			starts++
			testutil.RequireEqual(testingHandle, model, "gpt-4-0613", "model mismatch")
			return nil
		},
		OnHistory: func(history.History) error {
			histories++
			return nil
		},
		OnStreamComplete: func(openai.StreamSummary) error {
			completes++
			return nil
		},
	}

	_, err := runner.RunTurn(context.Background(), "hi", nil, session)
	testutil.RequireNoError(testingHandle, err, "run turn")
	testutil.RequireEqual(testingHandle, starts, 1, "start callback count mismatch")
	testutil.RequireEqual(testingHandle, completes, 1, "complete callback count mismatch")
	testutil.RequireTrue(testingHandle, histories >= 3, "history callback must fire per fragment")
}

func TestRunTurnRequiresClientAndParser(testingHandle *testing.T) {
	session := interp.New(interp.Options{})
	_, err := (&Runner{}).RunTurn(context.Background(), "hi", nil, session)
	testutil.RequireError(testingHandle, err, "expected missing client error")

	_, err = (&Runner{Client: &scriptedClient{}}).RunTurn(context.Background(), "hi", nil, session)
	testutil.RequireError(testingHandle, err, "expected missing parser error")
}
