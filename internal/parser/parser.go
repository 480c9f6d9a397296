// Package parser turns streamed chat-completion fragments into accumulated
// session state, display history updates, and code execution.
//
// Each fragment's first choice passes through a fixed sequence of
// independent predicate/action strategies. Strategies hold no state of
// their own; everything accumulates in the interpreter session.
package parser

import (
	"context"
	"fmt"

	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/interp"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
)

// hallucinatedPythonFunction names the pseudo-function some models invent.
// Its arguments arrive as bare code text rather than a JSON object.
const hallucinatedPythonFunction = "python"

// FinishReasonFunctionCall is the finish reason that triggers execution.
const FinishReasonFunctionCall = "function_call"

// Parser dispatches stream fragments for one conversation.
type Parser struct {
	// outputDir receives image artifacts rendered into the history.
	outputDir string
}

// New constructs a parser that saves display artifacts under outputDir.
func New(outputDir string) *Parser {
	return &Parser{outputDir: outputDir}
}

// strategy is one predicate/action pair applied to a stream choice.
type strategy interface {
	// supports reports whether the choice carries this strategy's field.
	supports(choice openai.StreamChoice) bool
	// execute applies the action and returns the updated history and
	// exit flag.
	execute(ctx context.Context, p *Parser, choice openai.StreamChoice, session *interp.Session, h history.History, exit bool) (history.History, bool)
}

// strategies is the fixed dispatch order for every fragment.
var strategies = []strategy{
	roleStrategy{},
	contentStrategy{},
	functionNameStrategy{},
	functionArgsStrategy{},
	finishReasonStrategy{},
}

// ParseResponse applies every supporting strategy to the fragment's first
// choice. It returns the updated display history and whether the
// conversation should stop.
func (p *Parser) ParseResponse(ctx context.Context, fragment openai.StreamResponse, h history.History, session *interp.Session) (history.History, bool) {
	exit := false
	if len(fragment.Choices) == 0 {
		return h, exit
	}
	choice := fragment.Choices[0]
	for _, s := range strategies {
		if !s.supports(choice) {
			continue
		}
		h, exit = s.execute(ctx, p, choice, session, h, exit)
	}
	return h, exit
}

// roleStrategy records the assistant role announced on the first delta.
type roleStrategy struct{}

func (roleStrategy) supports(choice openai.StreamChoice) bool {
	return choice.Delta.Role != ""
}

func (roleStrategy) execute(_ context.Context, _ *Parser, choice openai.StreamChoice, session *interp.Session, h history.History, exit bool) (history.History, bool) {
	session.SetAssistantRole(choice.Delta.Role)
	return h, exit
}

// contentStrategy accumulates streamed assistant text and mirrors it into
// the last history row. Function-call fragments carry a null content that
// is skipped here.
type contentStrategy struct{}

func (contentStrategy) supports(choice openai.StreamChoice) bool {
	return choice.Delta.Content != nil
}

func (contentStrategy) execute(_ context.Context, _ *Parser, choice openai.StreamChoice, session *interp.Session, h history.History, exit bool) (history.History, bool) {
	session.AddContent(*choice.Delta.Content)
	h = h.SetBot(session.Content())
	return h, exit
}

// functionNameStrategy records the call target and validates it against
// the execution backend's registry.
type functionNameStrategy struct{}

func (functionNameStrategy) supports(choice openai.StreamChoice) bool {
	return choice.Delta.FunctionCall != nil && choice.Delta.FunctionCall.Name != nil
}

func (functionNameStrategy) execute(_ context.Context, _ *Parser, choice openai.StreamChoice, session *interp.Session, h history.History, exit bool) (history.History, bool) {
	session.SetFunctionName(*choice.Delta.FunctionCall.Name)
	session.SnapshotHistory(h)

	if lookupFunction(session) == nil {
		h = h.AppendNotice(fmt.Sprintf(
			"The model attempted to call a function that does not exist: %s\n", session.FunctionName(),
		))
		exit = true
	}
	return h, exit
}

// functionArgsStrategy accumulates raw argument text and live-renders the
// in-progress code block when enough of the payload has arrived.
type functionArgsStrategy struct{}

func (functionArgsStrategy) supports(choice openai.StreamChoice) bool {
	return choice.Delta.FunctionCall != nil && choice.Delta.FunctionCall.Arguments != nil
}

func (functionArgsStrategy) execute(_ context.Context, _ *Parser, choice openai.StreamChoice, session *interp.Session, h history.History, exit bool) (history.History, bool) {
	session.AddFunctionArgs(*choice.Delta.FunctionCall.Arguments)
	session.EnsureSnapshot(h)

	var code string
	if session.FunctionName() == hallucinatedPythonFunction {
		// Hallucinated calls stream bare code, not JSON.
		code = session.FunctionArgs()
	} else {
		extracted, ok := ExtractCode(session.FunctionArgs(), false)
		if !ok {
			return h, exit
		}
		code = extracted
	}

	block := history.WorkingCodeBlock(code)
	session.SetDisplayCodeBlock(block)
	h = session.HistoryFromSnapshot().AppendBot(block)
	return h, exit
}

// finishReasonStrategy flushes accumulated text, executes a completed
// function call, and resets per-response state.
type finishReasonStrategy struct{}

func (finishReasonStrategy) supports(choice openai.StreamChoice) bool {
	return choice.FinishReason != nil
}

func (finishReasonStrategy) execute(ctx context.Context, p *Parser, choice openai.StreamChoice, session *interp.Session, h history.History, exit bool) (history.History, bool) {
	session.FlushAssistantText()
	session.SetFinishReason(*choice.FinishReason)

	if session.FinishReason() == FinishReasonFunctionCall {
		code, ok := finalCode(session)
		if !ok {
			h = h.AppendNotice(fmt.Sprintf(
				"The model generated invalid function arguments: %s", session.FunctionArgs(),
			))
			return h, true
		}

		session.EnsureSnapshot(h)
		block := history.FinishedCodeBlock(code)
		session.SetDisplayCodeBlock(block)
		h = session.HistoryFromSnapshot().AppendBot(block)

		fn := lookupFunction(session)
		if fn == nil {
			h = h.AppendNotice(fmt.Sprintf(
				"The model attempted to call a function that does not exist: %s\n", session.FunctionName(),
			))
			return h, true
		}

		response, items, err := fn(ctx, code)
		if err != nil {
			h = h.AppendNotice(fmt.Sprintf("Execution backend error: %v", err))
			return h, true
		}

		session.AppendFunctionExchange(response)

		h, err = h.AppendFunctionResponse(items, p.outputDir)
		if err != nil {
			h = h.AppendNotice(fmt.Sprintf("Rendering execution output failed: %v", err))
			return h, true
		}
		// Open a fresh row so the follow-up response does not overwrite
		// the rendered execution output.
		h = append(h, history.Exchange{})
	}

	session.ResetResponse()
	return h, exit
}

// finalCode extracts the completed code string for execution.
func finalCode(session *interp.Session) (string, bool) {
	if session.FunctionName() == hallucinatedPythonFunction {
		return session.FunctionArgs(), session.FunctionArgs() != ""
	}
	return ExtractCode(session.FunctionArgs(), true)
}

// lookupFunction resolves the session's call target in the backend registry.
func lookupFunction(session *interp.Session) kernel.CodeFunc {
	backend := session.Backend()
	if backend == nil {
		return nil
	}
	return backend.Functions()[session.FunctionName()]
}
