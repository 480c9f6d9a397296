package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
)

// Exchange is one rendered conversation row: the user's text and the bot's
// accumulated reply (text, code blocks, and execution output).
type Exchange struct {
	// User is the user input for this row. Empty for injected rows such
	// as error notices.
	User string
	// Bot is the rendered bot side of the row.
	Bot string
}

// History is the ordered display history for a conversation.
type History []Exchange

// Clone returns a deep copy so in-progress rendering can restart from a
// stable snapshot.
func (h History) Clone() History {
	copied := make(History, len(h))
	copy(copied, h)
	return copied
}

// AppendBot appends text to the bot side of the last exchange.
func (h History) AppendBot(text string) History {
	if len(h) == 0 {
		return append(h, Exchange{Bot: text})
	}
	h[len(h)-1].Bot += text
	return h
}

// SetBot replaces the bot side of the last exchange.
func (h History) SetBot(text string) History {
	if len(h) == 0 {
		return append(h, Exchange{Bot: text})
	}
	h[len(h)-1].Bot = text
	return h
}

// AppendNotice appends a standalone bot-only row, used for error notices.
func (h History) AppendNotice(text string) History {
	return append(h, Exchange{Bot: text})
}

// WorkingCodeBlock renders an in-progress code block.
func WorkingCodeBlock(code string) string {
	return fmt.Sprintf("\n🔴Working:\n```python\n%s\n```", code)
}

// FinishedCodeBlock renders a finalized code block.
func FinishedCodeBlock(code string) string {
	return fmt.Sprintf("\n🟢Working:\n```python\n%s\n```", code)
}

// AppendFunctionResponse renders execution output onto the last exchange.
// Image artifacts are copied into outputDir and referenced as markdown.
func (h History) AppendFunctionResponse(items []kernel.DisplayItem, outputDir string) (History, error) {
	var builder strings.Builder
	for _, item := range items {
		switch item.Kind {
		case "stdout", "text":
			builder.WriteString(fmt.Sprintf("\n✅Terminal output:\n```\n%s\n```", strings.TrimRight(item.Text, "\n")))
		case "error":
			builder.WriteString(fmt.Sprintf("\n❌Terminal output:\n```\n%s\n```", strings.TrimRight(kernel.StripANSI(item.Text), "\n")))
		case "image/png", "image/jpeg":
			saved, err := saveImage(item, outputDir)
			if err != nil {
				return h, err
			}
			builder.WriteString(fmt.Sprintf("\n![output](%s)", saved))
		}
	}
	if builder.Len() == 0 {
		return h, nil
	}
	return h.AppendBot(builder.String()), nil
}

// saveImage copies an execution artifact into the session output directory.
// Artifact names carry a uuid so earlier rows keep referencing their own
// images across executions.
func saveImage(item kernel.DisplayItem, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	ext := filepath.Ext(item.Path)
	if ext == "" {
		ext = ".png"
	}
	target := filepath.Join(outputDir, fmt.Sprintf("output_%s%s", uuid.NewString(), ext))
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return "", fmt.Errorf("read image artifact: %w", err)
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return "", fmt.Errorf("save image artifact: %w", err)
	}
	return target, nil
}
