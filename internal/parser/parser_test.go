package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/interp"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
	"github.com/wststone/Local-Code-Interpreter/internal/testutil"
)

// fakeBackend records executed code and returns canned results.
type fakeBackend struct {
	// executed collects code strings passed to the registry functions.
	executed []string
	// response is the model text returned by executions.
	response string
	// display is the display output returned by executions.
	display []kernel.DisplayItem
	// err forces executions to fail when set.
	err error
	// restarts counts Restart calls.
	restarts int
}

func (f *fakeBackend) run(_ context.Context, code string) (string, []kernel.DisplayItem, error) {
	f.executed = append(f.executed, code)
	if f.err != nil {
		return "", nil, f.err
	}
	return f.response, f.display, nil
}

func (f *fakeBackend) Functions() map[string]kernel.CodeFunc {
	return map[string]kernel.CodeFunc{
		"execute_code": f.run,
		"python":       f.run,
	}
}

func (f *fakeBackend) Restart() error {
	f.restarts++
	return nil
}

// newTestSession builds a session wired to the fake backend.
func newTestSession(backend *fakeBackend) *interp.Session {
	return interp.New(interp.Options{ID: "test-session", Backend: backend})
}

func strPtr(value string) *string {
	return &value
}

// roleFragment announces the assistant role.
func roleFragment(role string) openai.StreamResponse {
	return openai.StreamResponse{Choices: []openai.StreamChoice{{
		Delta: openai.StreamDelta{Role: role},
	}}}
}

// contentFragment streams assistant text.
func contentFragment(text string) openai.StreamResponse {
	return openai.StreamResponse{Choices: []openai.StreamChoice{{
		Delta: openai.StreamDelta{Content: strPtr(text)},
	}}}
}

// functionNameFragment announces a function call target.
func functionNameFragment(name string) openai.StreamResponse {
	return openai.StreamResponse{Choices: []openai.StreamChoice{{
		Delta: openai.StreamDelta{
			Role: "assistant",
			FunctionCall: &openai.StreamFunctionCallDelta{
				Name:      strPtr(name),
				Arguments: strPtr(""),
			},
		},
	}}}
}

// functionArgsFragment streams raw argument text.
func functionArgsFragment(args string) openai.StreamResponse {
	return openai.StreamResponse{Choices: []openai.StreamChoice{{
		Delta: openai.StreamDelta{
			FunctionCall: &openai.StreamFunctionCallDelta{Arguments: strPtr(args)},
		},
	}}}
}

// finishFragment signals the end of a response.
func finishFragment(reason string) openai.StreamResponse {
	return openai.StreamResponse{Choices: []openai.StreamChoice{{
		Delta:        openai.StreamDelta{},
		FinishReason: strPtr(reason),
	}}}
}

func TestParseResponseIgnoresEmptyFragments(testingHandle *testing.T) {
	parser := New(testingHandle.TempDir())
	session := newTestSession(&fakeBackend{})
	h := history.History{{User: "hi"}}

	got, exit := parser.ParseResponse(context.Background(), openai.StreamResponse{}, h, session)
	testutil.RequireEqual(testingHandle, exit, false, "exit mismatch")
	testutil.RequireEqual(testingHandle, len(got), 1, "history must be unchanged")
}

func TestParseResponseAccumulatesContent(testingHandle *testing.T) {
	parser := New(testingHandle.TempDir())
	session := newTestSession(&fakeBackend{})
	h := history.History{{User: "hi"}}

	for _, fragment := range []openai.StreamResponse{
		roleFragment("assistant"),
		contentFragment("Hello "),
		contentFragment("world"),
	} {
		var exit bool
		h, exit = parser.ParseResponse(context.Background(), fragment, h, session)
		testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")
	}

	testutil.RequireEqual(testingHandle, session.Content(), "Hello world", "accumulated content mismatch")
	testutil.RequireEqual(testingHandle, h[len(h)-1].Bot, "Hello world", "history mirror mismatch")
}

func TestParseResponseFinishStopFlushesContent(testingHandle *testing.T) {
	parser := New(testingHandle.TempDir())
	session := newTestSession(&fakeBackend{})
	h := history.History{{User: "hi"}}

	var exit bool
	h, exit = parser.ParseResponse(context.Background(), contentFragment("All done."), h, session)
	testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")
	h, exit = parser.ParseResponse(context.Background(), finishFragment("stop"), h, session)
	testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")

	testutil.RequireEqual(testingHandle, session.FinishReason(), "stop", "finish reason mismatch")
	messages := session.Messages()
	last := messages[len(messages)-1]
	testutil.RequireEqual(testingHandle, last.Role, "assistant", "flushed role mismatch")
	testutil.RequireEqual(testingHandle, last.Content, any("All done."), "flushed content mismatch")
	// Per-response state resets after the finish fragment.
	testutil.RequireEqual(testingHandle, session.Content(), "", "content must reset")
}

func TestParseResponseRejectsUnknownFunction(testingHandle *testing.T) {
	parser := New(testingHandle.TempDir())
	session := newTestSession(&fakeBackend{})
	h := history.History{{User: "hi"}}

	h, exit := parser.ParseResponse(context.Background(), functionNameFragment("rm_rf"), h, session)
	testutil.RequireEqual(testingHandle, exit, true, "expected exit for unknown function")
	testutil.RequireStringContains(
		testingHandle,
		h[len(h)-1].Bot,
		"does not exist: rm_rf",
		"expected unknown-function notice",
	)
}

func TestParseResponseRendersWorkingCodeBlock(testingHandle *testing.T) {
	parser := New(testingHandle.TempDir())
	session := newTestSession(&fakeBackend{})
	h := history.History{{User: "compute", Bot: "Sure."}}

	fragments := []openai.StreamResponse{
		functionNameFragment("execute_code"),
		functionArgsFragment(`{"code": "pri`),
		functionArgsFragment(`nt(42)`),
	}
	for _, fragment := range fragments {
		var exit bool
		h, exit = parser.ParseResponse(context.Background(), fragment, h, session)
		testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")
	}

	bot := h[len(h)-1].Bot
	testutil.RequireStringContains(testingHandle, bot, "Sure.", "snapshot text must survive")
	testutil.RequireStringContains(testingHandle, bot, "🔴Working:", "expected working marker")
	testutil.RequireStringContains(testingHandle, bot, "print(42)", "expected streamed code")
	// Re-rendering must not duplicate the block.
	testutil.RequireEqual(testingHandle, strings.Count(bot, "🔴Working:"), 1, "working block duplicated")
}

func TestParseResponseExecutesCompletedFunctionCall(testingHandle *testing.T) {
	backend := &fakeBackend{
		response: "42\n",
		display:  []kernel.DisplayItem{{Kind: "stdout", Text: "42\n"}},
	}
	parser := New(testingHandle.TempDir())
	session := newTestSession(backend)
	session.AppendUserMessage("compute")
	h := history.History{{User: "compute"}}

	fragments := []openai.StreamResponse{
		functionNameFragment("execute_code"),
		functionArgsFragment(`{"code": "print(42)"}`),
		finishFragment(FinishReasonFunctionCall),
	}
	var exit bool
	for _, fragment := range fragments {
		h, exit = parser.ParseResponse(context.Background(), fragment, h, session)
		testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")
	}

	testutil.RequireEqual(testingHandle, backend.executed, []string{"print(42)"}, "executed code mismatch")
	testutil.RequireEqual(testingHandle, session.FinishReason(), FinishReasonFunctionCall, "finish reason mismatch")

	// The conversation records the call and its response.
	messages := session.Messages()
	testutil.RequireEqual(testingHandle, len(messages), 4, "conversation length mismatch")
	call := messages[2]
	testutil.RequireTrue(testingHandle, call.FunctionCall != nil, "expected function call message")
	testutil.RequireEqual(testingHandle, call.FunctionCall.Name, "execute_code", "call name mismatch")
	response := messages[3]
	testutil.RequireEqual(testingHandle, response.Role, "function", "response role mismatch")
	testutil.RequireEqual(testingHandle, response.Content, any("42\n"), "response content mismatch")

	// The display history shows the finalized block plus output, and a
	// fresh row is open for the follow-up response.
	testutil.RequireEqual(testingHandle, len(h), 2, "history rows mismatch")
	testutil.RequireStringContains(testingHandle, h[0].Bot, "🟢Working:", "expected finalized marker")
	testutil.RequireStringContains(testingHandle, h[0].Bot, "42", "expected output rendering")
	testutil.RequireEqual(testingHandle, h[1], history.Exchange{}, "expected fresh empty row")

	// Accumulation resets for the next response.
	testutil.RequireEqual(testingHandle, session.FunctionArgs(), "", "arguments must reset")
	testutil.RequireEqual(testingHandle, session.FunctionName(), "", "function name must reset")
}

func TestParseResponseHandlesHallucinatedPythonCall(testingHandle *testing.T) {
	backend := &fakeBackend{response: "ok"}
	parser := New(testingHandle.TempDir())
	session := newTestSession(backend)
	h := history.History{{User: "compute"}}

	fragments := []openai.StreamResponse{
		functionNameFragment("python"),
		functionArgsFragment("import math\n"),
		functionArgsFragment("print(math.pi)"),
	}
	var exit bool
	for _, fragment := range fragments {
		h, exit = parser.ParseResponse(context.Background(), fragment, h, session)
		testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")
	}

	// Raw argument text renders directly as code.
	testutil.RequireStringContains(testingHandle, h[len(h)-1].Bot, "import math\nprint(math.pi)", "expected raw code rendering")

	h, exit = parser.ParseResponse(context.Background(), finishFragment(FinishReasonFunctionCall), h, session)
	testutil.RequireEqual(testingHandle, exit, false, "unexpected exit")
	testutil.RequireEqual(testingHandle, backend.executed, []string{"import math\nprint(math.pi)"}, "executed code mismatch")
}

func TestParseResponseReportsInvalidArguments(testingHandle *testing.T) {
	backend := &fakeBackend{}
	parser := New(testingHandle.TempDir())
	session := newTestSession(backend)
	h := history.History{{User: "compute"}}

	fragments := []openai.StreamResponse{
		functionNameFragment("execute_code"),
		functionArgsFragment(`{"code": "print(42)`),
	}
	var exit bool
	for _, fragment := range fragments {
		h, exit = parser.ParseResponse(context.Background(), fragment, h, session)
	}

	h, exit = parser.ParseResponse(context.Background(), finishFragment(FinishReasonFunctionCall), h, session)
	testutil.RequireEqual(testingHandle, exit, true, "expected exit for invalid arguments")
	testutil.RequireStringContains(testingHandle, h[len(h)-1].Bot, "invalid function arguments", "expected argument notice")
	testutil.RequireEqual(testingHandle, len(backend.executed), 0, "nothing must execute")
}

func TestParseResponseReportsBackendErrors(testingHandle *testing.T) {
	backend := &fakeBackend{err: errors.New("interpreter unavailable")}
	parser := New(testingHandle.TempDir())
	session := newTestSession(backend)
	h := history.History{{User: "compute"}}

	fragments := []openai.StreamResponse{
		functionNameFragment("execute_code"),
		functionArgsFragment(`{"code": "print(42)"}`),
	}
	var exit bool
	for _, fragment := range fragments {
		h, exit = parser.ParseResponse(context.Background(), fragment, h, session)
	}

	h, exit = parser.ParseResponse(context.Background(), finishFragment(FinishReasonFunctionCall), h, session)
	testutil.RequireEqual(testingHandle, exit, true, "expected exit for backend error")
	testutil.RequireStringContains(testingHandle, h[len(h)-1].Bot, "interpreter unavailable", "expected backend error notice")
}

func TestParseResponseSkipsNullContent(testingHandle *testing.T) {
	parser := New(testingHandle.TempDir())
	session := newTestSession(&fakeBackend{})
	h := history.History{{User: "hi", Bot: "existing"}}

	// A function-call fragment carries null content; the content strategy
	// must not fire and wipe the history row.
	h, _ = parser.ParseResponse(context.Background(), functionNameFragment("execute_code"), h, session)
	testutil.RequireEqual(testingHandle, session.Content(), "", "content must stay empty")
	testutil.RequireStringContains(testingHandle, h[0].Bot, "existing", "history row must be preserved")
}
