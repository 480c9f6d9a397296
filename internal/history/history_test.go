package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/testutil"
)

func TestCloneIsIndependent(testingHandle *testing.T) {
	original := History{{User: "hi", Bot: "hello"}}
	copied := original.Clone()
	copied = copied.SetBot("changed")

	testutil.RequireEqual(testingHandle, original[0].Bot, "hello", "clone must not alias the original")
	testutil.RequireEqual(testingHandle, copied[0].Bot, "changed", "clone must carry the edit")
}

func TestAppendBotGrowsLastRow(testingHandle *testing.T) {
	h := History{{User: "hi", Bot: "Hello"}}
	h = h.AppendBot(" world")
	testutil.RequireEqual(testingHandle, h[0].Bot, "Hello world", "appended text mismatch")

	// Appending to an empty history opens a bot-only row.
	var empty History
	empty = empty.AppendBot("notice")
	testutil.RequireEqual(testingHandle, len(empty), 1, "row count mismatch")
	testutil.RequireEqual(testingHandle, empty[0], Exchange{Bot: "notice"}, "opened row mismatch")
}

func TestAppendNoticeAddsStandaloneRow(testingHandle *testing.T) {
	h := History{{User: "hi", Bot: "hello"}}
	h = h.AppendNotice("something went wrong")

	testutil.RequireEqual(testingHandle, len(h), 2, "row count mismatch")
	testutil.RequireEqual(testingHandle, h[0].Bot, "hello", "existing row must be untouched")
	testutil.RequireEqual(testingHandle, h[1], Exchange{Bot: "something went wrong"}, "notice row mismatch")
}

func TestCodeBlockRendering(testingHandle *testing.T) {
	working := WorkingCodeBlock("print(1)")
	testutil.RequireStringContains(testingHandle, working, "🔴Working:", "working marker missing")
	testutil.RequireStringContains(testingHandle, working, "```python\nprint(1)\n```", "fenced code missing")

	finished := FinishedCodeBlock("print(1)")
	testutil.RequireStringContains(testingHandle, finished, "🟢Working:", "finished marker missing")
	testutil.RequireStringContains(testingHandle, finished, "```python\nprint(1)\n```", "fenced code missing")
}

func TestAppendFunctionResponseRendersTextAndErrors(testingHandle *testing.T) {
	h := History{{User: "run", Bot: "🟢Working:"}}
	items := []kernel.DisplayItem{
		{Kind: "stdout", Text: "42\n"},
		{Kind: "error", Text: "\x1b[31mTraceback\x1b[0m: boom\n"},
	}

	h, err := h.AppendFunctionResponse(items, testingHandle.TempDir())
	testutil.RequireNoError(testingHandle, err, "append function response")
	testutil.RequireStringContains(testingHandle, h[0].Bot, "✅Terminal output:\n```\n42\n```", "stdout block missing")
	testutil.RequireStringContains(testingHandle, h[0].Bot, "❌Terminal output:", "error marker missing")
	testutil.RequireStringContains(testingHandle, h[0].Bot, "Traceback: boom", "error text missing")
	testutil.RequireTrue(
		testingHandle,
		!containsANSI(h[0].Bot),
		"error rendering must strip ANSI escapes",
	)
}

func TestAppendFunctionResponseCopiesImages(testingHandle *testing.T) {
	sourceDir := testingHandle.TempDir()
	outputDir := filepath.Join(testingHandle.TempDir(), "outputs")
	source := filepath.Join(sourceDir, "figure.png")
	testutil.RequireNoError(testingHandle, os.WriteFile(source, []byte("png-bytes"), 0o600), "write source image")

	h := History{{User: "plot"}}
	h, err := h.AppendFunctionResponse([]kernel.DisplayItem{{Kind: "image/png", Path: source}}, outputDir)
	testutil.RequireNoError(testingHandle, err, "append function response")

	target := renderedImagePath(testingHandle, h[0].Bot)
	testutil.RequireEqual(testingHandle, filepath.Dir(target), outputDir, "artifact dir mismatch")
	testutil.RequireEqual(testingHandle, filepath.Ext(target), ".png", "artifact extension mismatch")
	data, err := os.ReadFile(target)
	testutil.RequireNoError(testingHandle, err, "read copied image")
	testutil.RequireEqual(testingHandle, string(data), "png-bytes", "copied image content mismatch")
}

func TestAppendFunctionResponseKeepsEarlierArtifacts(testingHandle *testing.T) {
	sourceDir := testingHandle.TempDir()
	outputDir := filepath.Join(testingHandle.TempDir(), "outputs")
	first := filepath.Join(sourceDir, "first.png")
	second := filepath.Join(sourceDir, "second.png")
	testutil.RequireNoError(testingHandle, os.WriteFile(first, []byte("FIRST"), 0o600), "write first image")
	testutil.RequireNoError(testingHandle, os.WriteFile(second, []byte("SECOND"), 0o600), "write second image")

	h := History{{User: "plot one"}}
	h, err := h.AppendFunctionResponse([]kernel.DisplayItem{{Kind: "image/png", Path: first}}, outputDir)
	testutil.RequireNoError(testingHandle, err, "first response")
	firstTarget := renderedImagePath(testingHandle, h[0].Bot)

	h = append(h, Exchange{User: "plot two"})
	h, err = h.AppendFunctionResponse([]kernel.DisplayItem{{Kind: "image/png", Path: second}}, outputDir)
	testutil.RequireNoError(testingHandle, err, "second response")
	secondTarget := renderedImagePath(testingHandle, h[1].Bot)

	// Each row keeps referencing its own artifact.
	testutil.RequireTrue(testingHandle, firstTarget != secondTarget, "artifacts must not collide")
	data, err := os.ReadFile(firstTarget)
	testutil.RequireNoError(testingHandle, err, "read first artifact")
	testutil.RequireEqual(testingHandle, string(data), "FIRST", "first artifact content mismatch")
	data, err = os.ReadFile(secondTarget)
	testutil.RequireNoError(testingHandle, err, "read second artifact")
	testutil.RequireEqual(testingHandle, string(data), "SECOND", "second artifact content mismatch")
}

// renderedImagePath extracts the markdown image target from a bot row.
func renderedImagePath(testingHandle *testing.T, bot string) string {
	testingHandle.Helper()
	const marker = "![output]("
	start := strings.Index(bot, marker)
	if start < 0 {
		testingHandle.Fatalf("image markdown missing in %q", bot)
	}
	rest := bot[start+len(marker):]
	end := strings.Index(rest, ")")
	if end < 0 {
		testingHandle.Fatalf("unterminated image markdown in %q", bot)
	}
	return rest[:end]
}

func TestAppendFunctionResponseIgnoresEmptyItems(testingHandle *testing.T) {
	h := History{{User: "run", Bot: "before"}}
	h, err := h.AppendFunctionResponse(nil, testingHandle.TempDir())
	testutil.RequireNoError(testingHandle, err, "append function response")
	testutil.RequireEqual(testingHandle, h[0].Bot, "before", "row must be unchanged")
}

func containsANSI(text string) bool {
	return kernel.StripANSI(text) != text
}
