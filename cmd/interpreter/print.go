package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wststone/Local-Code-Interpreter/internal/chat"
	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/interp"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
	"github.com/wststone/Local-Code-Interpreter/internal/streamjson"
)

// eventBackend wraps the kernel so print mode can emit code and execution
// events around each call.
type eventBackend struct {
	inner     interp.Backend
	writer    *streamjson.Writer
	sessionID string
}

func (b *eventBackend) Functions() map[string]kernel.CodeFunc {
	wrapped := make(map[string]kernel.CodeFunc)
	for name, fn := range b.inner.Functions() {
		name, fn := name, fn
		wrapped[name] = func(ctx context.Context, code string) (string, []kernel.DisplayItem, error) {
			if err := b.writer.Write(streamjson.NewCodeEvent(b.sessionID, name, code)); err != nil {
				return "", nil, err
			}
			output, items, err := fn(ctx, code)
			images := make([]string, 0, len(items))
			for _, item := range items {
				if item.Path != "" {
					images = append(images, item.Path)
				}
			}
			if writeErr := b.writer.Write(streamjson.NewExecutionEvent(b.sessionID, output, images, err != nil)); writeErr != nil {
				return "", nil, writeErr
			}
			return output, items, err
		}
	}
	return wrapped
}

func (b *eventBackend) Restart() error {
	return b.inner.Restart()
}

// runPrintMode executes one prompt non-interactively.
func runPrintMode(cmd *cobra.Command, opts *options, run *runContext, args []string) error {
	prompt, err := resolvePrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	switch opts.OutputFormat {
	case "text", "":
		return runPrintText(opts, run, prompt)
	case "stream-json":
		return runPrintStreamJSON(opts, run, prompt)
	default:
		return fmt.Errorf("unknown output format: %s", opts.OutputFormat)
	}
}

// resolvePrompt reads the prompt from args, or stdin when piped.
func resolvePrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt required in print mode")
	}
	return prompt, nil
}

// runPrintText streams assistant output as plain text.
func runPrintText(opts *options, run *runContext, prompt string) error {
	printer := newHistoryStreamPrinter(os.Stdout)
	run.Runner.Callbacks = &chat.StreamCallbacks{OnHistory: printer.OnHistory}

	previousLen := len(run.Session.Messages())
	ctx, cancel := withInterrupt(context.Background(), nil)
	defer cancel()
	result, err := run.Runner.RunTurn(ctx, prompt, nil, run.Session)
	printer.EnsureNewline()
	if err != nil {
		return err
	}
	if result.Exited {
		return errors.New(lastBotText(result.History))
	}
	return persistTurn(run.Store, run.Session, previousLen)
}

// runPrintStreamJSON streams NDJSON events to stdout.
func runPrintStreamJSON(opts *options, run *runContext, prompt string) error {
	writer := streamjson.NewWriter(os.Stdout)
	sessionID := run.Session.ID()

	if err := writer.Write(streamjson.NewInitEvent(sessionID, run.Model, run.Kernel.WorkDir())); err != nil {
		return err
	}

	// Rebuild the session around a backend that reports executions.
	session := interp.New(interp.Options{
		ID:      sessionID,
		Backend: &eventBackend{inner: run.Kernel, writer: writer, sessionID: sessionID},
	})
	session.LoadMessages(run.Session.Messages())

	// Assistant text reaches the event stream through history growth.
	var lastText string
	run.Runner.Callbacks = &chat.StreamCallbacks{
		OnHistory: func(h history.History) error {
			text := session.Content()
			if text == lastText {
				return nil
			}
			delta := text
			if strings.HasPrefix(text, lastText) {
				delta = strings.TrimPrefix(text, lastText)
			}
			lastText = text
			if delta == "" {
				return nil
			}
			return writer.Write(streamjson.NewDeltaEvent(sessionID, delta))
		},
	}

	previousLen := len(session.Messages())
	startTime := time.Now()
	ctx, cancel := withInterrupt(context.Background(), nil)
	defer cancel()
	result, err := run.Runner.RunTurn(ctx, prompt, nil, session)

	var errs []string
	if err != nil {
		errs = append(errs, err.Error())
	}
	if result != nil && result.Exited {
		errs = append(errs, lastBotText(result.History))
	}

	numTurns := 0
	finalText := ""
	usage := usagePointer(result)
	if result != nil {
		numTurns = result.NumTurns
		finalText = lastBotText(result.History)
	}
	if writeErr := writer.Write(streamjson.NewResultEvent(
		sessionID, finalText, numTurns, time.Since(startTime).Milliseconds(), usage, errs,
	)); writeErr != nil {
		return writeErr
	}
	if err != nil {
		return err
	}

	if persistErr := persistTurn(run.Store, session, previousLen); persistErr != nil {
		return persistErr
	}
	return nil
}

// usagePointer extracts reported usage from a turn result.
func usagePointer(result *chat.TurnResult) *openai.Usage {
	if result == nil || !result.HasUsage {
		return nil
	}
	usage := result.Usage
	return &usage
}

// lastBotText returns the last non-empty bot row, which holds the final
// response or the last error notice.
func lastBotText(h history.History) string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Bot != "" {
			return h[i].Bot
		}
	}
	return ""
}
