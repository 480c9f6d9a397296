package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/wststone/Local-Code-Interpreter/internal/chat"
	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
)

// historyStreamPrinter prints display history growth as it streams. The
// last row's bot text only ever grows or gets re-rendered, so printing the
// suffix keeps the terminal in sync with code blocks and text alike.
type historyStreamPrinter struct {
	// out is the output writer for assistant text.
	out io.Writer
	// printed is what has been written for the current row.
	printed string
	// row is the index of the row being printed.
	row int
}

func newHistoryStreamPrinter(out io.Writer) *historyStreamPrinter {
	return &historyStreamPrinter{out: out, row: -1}
}

// Reset clears state before a new turn begins.
func (p *historyStreamPrinter) Reset() {
	p.printed = ""
	p.row = -1
}

// OnHistory prints whatever the latest history row added since last call.
func (p *historyStreamPrinter) OnHistory(h history.History) error {
	if len(h) == 0 {
		return nil
	}
	last := len(h) - 1
	bot := h[last].Bot
	if last != p.row {
		// A new row opened; whatever it holds is unprinted.
		if p.row >= 0 && p.printed != "" {
			fmt.Fprintln(p.out)
		}
		p.row = last
		p.printed = ""
	}
	if bot == p.printed {
		return nil
	}
	if strings.HasPrefix(bot, p.printed) {
		fmt.Fprint(p.out, strings.TrimPrefix(bot, p.printed))
	} else {
		// A re-render replaced the row, typically a code block update.
		// Start it on a fresh line rather than redrawing the screen.
		fmt.Fprint(p.out, "\n"+bot)
	}
	p.printed = bot
	return nil
}

// EnsureNewline terminates a streaming line if one is in progress.
func (p *historyStreamPrinter) EnsureNewline() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.out)
	}
}

// runInteractive reads prompts from stdin and maintains a live session.
func runInteractive(opts *options, run *runContext) error {
	reader := bufio.NewScanner(os.Stdin)
	printer := newHistoryStreamPrinter(os.Stdout)
	run.Runner.Callbacks = &chat.StreamCallbacks{OnHistory: printer.OnHistory}

	var h history.History
	for {
		fmt.Fprint(os.Stdout, "\n> ")
		if !reader.Scan() {
			break
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		if handled, output, quit, clear := handleSlashCommand(line, run); handled {
			if output != "" {
				fmt.Fprintln(os.Stdout, output)
			}
			if quit {
				return nil
			}
			if clear {
				h = nil
			}
			continue
		}

		printer.Reset()
		previousLen := len(run.Session.Messages())
		ctx, cancel := withInterrupt(context.Background(), nil)
		result, err := run.Runner.RunTurn(ctx, line, h, run.Session)
		cancel()
		printer.EnsureNewline()
		if err != nil {
			fmt.Fprintln(os.Stderr, formatInteractiveError(err))
			if result != nil {
				h = result.History
			}
			continue
		}
		h = result.History
		if opts.Verbose && result.HasUsage {
			fmt.Fprintf(os.Stderr, "[tokens: %d]\n", result.Usage.TotalTokens)
		}

		if err := persistTurn(run.Store, run.Session, previousLen); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return nil
}

// handleSlashCommand routes /restart, /upload, and /quit. The returned
// handled flag distinguishes commands from ordinary prompts; clear reports
// that the display history must be discarded (only /restart does).
func handleSlashCommand(line string, run *runContext) (handled bool, output string, quit bool, clear bool) {
	if !strings.HasPrefix(line, "/") {
		return false, "", false, false
	}
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false, "", false, false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit":
		return true, "", true, false
	case "restart":
		if run.Store != nil {
			if err := run.Store.ResetSession(run.Session.ID()); err != nil {
				return true, fmt.Sprintf("Restart failed: %v", err), false, false
			}
		}
		// Session.Restart recreates the kernel working directory after
		// the store removed it.
		if err := run.Session.Restart(); err != nil {
			return true, fmt.Sprintf("Restart failed: %v", err), false, false
		}
		return true, "Kernel restarted.", false, true
	case "upload":
		if len(parts) < 2 {
			return true, "Usage: /upload <path>", false, false
		}
		target, err := uploadFile(run.Kernel, strings.Join(parts[1:], " "))
		if err != nil {
			return true, fmt.Sprintf("Upload failed: %v", err), false, false
		}
		return true, fmt.Sprintf("Uploaded to %s", target), false, false
	default:
		return true, fmt.Sprintf("Unknown command: /%s", parts[0]), false, false
	}
}

// uploadFile copies a local file into the kernel working directory so
// generated code can read it by name.
func uploadFile(k *kernel.Kernel, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	target := filepath.Join(k.WorkDir(), filepath.Base(path))
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return target, nil
}

// withInterrupt builds a context that is cancelled on SIGINT.
func withInterrupt(parent context.Context, onInterrupt func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})

	go func() {
		select {
		case <-interrupt:
			if onInterrupt != nil {
				onInterrupt()
			}
			cancel()
		case <-done:
			return
		}
	}()

	return ctx, func() {
		close(done)
		signal.Stop(interrupt)
		cancel()
	}
}

// formatInteractiveError normalizes common errors for TTY output.
func formatInteractiveError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.Is(err, chat.ErrMaxTurns):
		return "Max turns exceeded."
	default:
		return err.Error()
	}
}

// isTerminal reports whether stdin and stdout are TTYs.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
