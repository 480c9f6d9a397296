// Package streamjson emits NDJSON events for non-interactive print mode.
package streamjson

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
)

// InitEvent announces a new run before any model output.
type InitEvent struct {
	// Type is always "system".
	Type string `json:"type"`
	// Subtype is always "init".
	Subtype string `json:"subtype"`
	// SessionID scopes the run to a session.
	SessionID string `json:"session_id"`
	// Model is the provider model id in use.
	Model string `json:"model"`
	// WorkDir is the kernel working directory.
	WorkDir string `json:"work_dir,omitempty"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
}

// DeltaEvent carries one streamed chunk of assistant text.
type DeltaEvent struct {
	// Type is always "assistant_delta".
	Type string `json:"type"`
	// Text is the streamed text chunk.
	Text string `json:"text"`
	// SessionID scopes the event to a session.
	SessionID string `json:"session_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
}

// CodeEvent announces code the model asked to execute.
type CodeEvent struct {
	// Type is always "code".
	Type string `json:"type"`
	// Function is the called function name.
	Function string `json:"function"`
	// Code is the extracted code string.
	Code string `json:"code"`
	// SessionID scopes the event to a session.
	SessionID string `json:"session_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
}

// ExecutionEvent reports the outcome of one code execution.
type ExecutionEvent struct {
	// Type is always "execution".
	Type string `json:"type"`
	// Output is the text fed back to the model.
	Output string `json:"output"`
	// Images lists saved image artifact paths.
	Images []string `json:"images,omitempty"`
	// IsError reports whether execution failed.
	IsError bool `json:"is_error"`
	// SessionID scopes the event to a session.
	SessionID string `json:"session_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
}

// ResultEvent is the terminal event for a run.
type ResultEvent struct {
	// Type is always "result".
	Type string `json:"type"`
	// Subtype is "success" or "error".
	Subtype string `json:"subtype"`
	// IsError reports whether the run failed.
	IsError bool `json:"is_error"`
	// DurationMS is the total runtime in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// NumTurns is the number of model responses processed.
	NumTurns int `json:"num_turns"`
	// Result contains the final assistant text.
	Result string `json:"result,omitempty"`
	// SessionID scopes the run to a session.
	SessionID string `json:"session_id"`
	// Usage contains aggregated token usage when the gateway reports it.
	Usage *openai.Usage `json:"usage,omitempty"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
	// Errors holds error messages for error subtypes.
	Errors []string `json:"errors,omitempty"`
}

// Writer emits events as JSON Lines.
type Writer struct {
	writer io.Writer
}

// NewWriter constructs an NDJSON event writer.
func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

// Write emits a single event as a JSON line.
func (w *Writer) Write(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream-json event: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write stream-json event: %w", err)
	}
	return nil
}

// NewUUID returns a new UUID string for events.
func NewUUID() string {
	return uuid.NewString()
}

// NewInitEvent builds the run announcement event.
func NewInitEvent(sessionID string, model string, workDir string) InitEvent {
	return InitEvent{
		Type:      "system",
		Subtype:   "init",
		SessionID: sessionID,
		Model:     model,
		WorkDir:   workDir,
		UUID:      NewUUID(),
	}
}

// NewDeltaEvent wraps one streamed text chunk.
func NewDeltaEvent(sessionID string, text string) DeltaEvent {
	return DeltaEvent{
		Type:      "assistant_delta",
		Text:      text,
		SessionID: sessionID,
		UUID:      NewUUID(),
	}
}

// NewCodeEvent wraps code the model asked to execute.
func NewCodeEvent(sessionID string, function string, code string) CodeEvent {
	return CodeEvent{
		Type:      "code",
		Function:  function,
		Code:      code,
		SessionID: sessionID,
		UUID:      NewUUID(),
	}
}

// NewExecutionEvent wraps one execution outcome.
func NewExecutionEvent(sessionID string, output string, images []string, isError bool) ExecutionEvent {
	return ExecutionEvent{
		Type:      "execution",
		Output:    output,
		Images:    images,
		IsError:   isError,
		SessionID: sessionID,
		UUID:      NewUUID(),
	}
}

// NewResultEvent builds the terminal event for a run.
func NewResultEvent(sessionID string, result string, numTurns int, durationMS int64, usage *openai.Usage, errs []string) ResultEvent {
	subtype := "success"
	if len(errs) > 0 {
		subtype = "error"
	}
	return ResultEvent{
		Type:       "result",
		Subtype:    subtype,
		IsError:    len(errs) > 0,
		DurationMS: durationMS,
		NumTurns:   numTurns,
		Result:     result,
		SessionID:  sessionID,
		Usage:      usage,
		UUID:       NewUUID(),
		Errors:     errs,
	}
}
