package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrEmptyCode is returned when an execution request carries no code.
var ErrEmptyCode = errors.New("code is empty")

// DisplayItem is one piece of output produced by an execution, addressed to
// the display layer rather than the model.
type DisplayItem struct {
	// Kind classifies the payload: stdout, text, error, image/png, image/jpeg.
	Kind string
	// Text holds inline output for textual kinds.
	Text string
	// Path references a saved artifact for image kinds.
	Path string
}

// CodeFunc executes code and returns text for the model plus display output.
type CodeFunc func(ctx context.Context, code string) (string, []DisplayItem, error)

// Kernel runs Python code in a per-session working directory.
//
// Each execution appends the submitted code to a session script so state
// (variables, imports) carries across calls, mirroring an interactive
// interpreter. Image files written to the working directory during a call
// are collected as display artifacts.
type Kernel struct {
	// workDir is the session working directory for code and artifacts.
	workDir string
	// pythonBin is the interpreter binary, typically "python3".
	pythonBin string
	// timeout bounds a single execution.
	timeout time.Duration
	// maxOutputBytes caps captured stdout/stderr.
	maxOutputBytes int
	// cells holds previously executed code cells for state carry-over.
	cells []string
}

// Options configures a Kernel.
type Options struct {
	// WorkDir is the session working directory. Required.
	WorkDir string
	// PythonBin overrides the interpreter binary.
	PythonBin string
	// Timeout bounds a single execution. Zero means no.
	Timeout time.Duration
	// MaxOutputBytes caps captured output. Zero applies the default.
	MaxOutputBytes int
}

// defaultMaxOutputBytes bounds captured stdout/stderr per execution.
const defaultMaxOutputBytes = 64 * 1024

// New constructs a Kernel and creates its working directory.
func New(opts Options) (*Kernel, error) {
	if opts.WorkDir == "" {
		return nil, errors.New("work dir is required")
	}
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	pythonBin := opts.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	return &Kernel{
		workDir:        opts.WorkDir,
		pythonBin:      pythonBin,
		timeout:        opts.Timeout,
		maxOutputBytes: maxOutput,
	}, nil
}

// WorkDir returns the session working directory.
func (k *Kernel) WorkDir() string {
	return k.workDir
}

// Functions returns the callable registry the model may invoke. The
// "python" alias covers hallucinated calls whose arguments are bare code.
func (k *Kernel) Functions() map[string]CodeFunc {
	return map[string]CodeFunc{
		"execute_code": k.Execute,
		"python":       k.Execute,
	}
}

// Execute runs a code cell and returns model text plus display output.
func (k *Kernel) Execute(ctx context.Context, code string) (string, []DisplayItem, error) {
	if code == "" {
		return "", nil, ErrEmptyCode
	}

	imagesBefore, err := k.listImages()
	if err != nil {
		return "", nil, err
	}

	script, err := k.writeScript(code)
	if err != nil {
		return "", nil, err
	}

	runCtx := ctx
	if k.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, k.pythonBin, script)
	cmd.Dir = k.workDir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		return "", nil, fmt.Errorf("execution cancelled: %w", runCtx.Err())
	}

	outText := truncateBytes(stdout.String(), k.maxOutputBytes)
	errText := StripANSI(truncateBytes(stderr.String(), k.maxOutputBytes))

	var display []DisplayItem
	if outText != "" {
		display = append(display, DisplayItem{Kind: "stdout", Text: outText})
	}
	if errText != "" {
		display = append(display, DisplayItem{Kind: "error", Text: errText})
	}

	imagesAfter, err := k.listImages()
	if err != nil {
		return "", nil, err
	}
	for _, image := range newImages(imagesBefore, imagesAfter) {
		display = append(display, DisplayItem{
			Kind: imageKind(image),
			Path: filepath.Join(k.workDir, image),
		})
	}

	// The executed cell joins the session state only on success so a
	// failing cell does not poison subsequent runs.
	if runErr == nil {
		k.cells = append(k.cells, code)
	}

	text := buildModelText(outText, errText, len(newImages(imagesBefore, imagesAfter)))
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return "", nil, fmt.Errorf("run interpreter: %w", runErr)
		}
	}
	return text, display, nil
}

// Restart clears interpreter state and the working directory contents.
func (k *Kernel) Restart() error {
	k.cells = nil
	if err := os.MkdirAll(k.workDir, 0o755); err != nil {
		return fmt.Errorf("recreate work dir: %w", err)
	}
	entries, err := os.ReadDir(k.workDir)
	if err != nil {
		return fmt.Errorf("read work dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(k.workDir, entry.Name())); err != nil {
			return fmt.Errorf("clear work dir: %w", err)
		}
	}
	return nil
}

// writeScript materializes accumulated cells plus the new cell as a script.
//
// Prior cells are replayed with their stdout suppressed so only the new
// cell's output is captured.
func (k *Kernel) writeScript(code string) (string, error) {
	var builder bytes.Buffer
	if len(k.cells) > 0 {
		builder.WriteString("import contextlib as _ctx, io as _io\n")
		builder.WriteString("with _ctx.redirect_stdout(_io.StringIO()):\n")
		for _, cell := range k.cells {
			builder.WriteString(indentCell(cell))
		}
	}
	builder.WriteString(code)
	builder.WriteString("\n")

	path := filepath.Join(k.workDir, ".cell.py")
	if err := os.WriteFile(path, builder.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write code cell: %w", err)
	}
	return path, nil
}

// indentCell indents every line of a cell for the replay block.
func indentCell(cell string) string {
	var builder bytes.Buffer
	start := 0
	for i := 0; i <= len(cell); i++ {
		if i == len(cell) || cell[i] == '\n' {
			line := cell[start:i]
			if line != "" {
				builder.WriteString("    ")
				builder.WriteString(line)
			}
			builder.WriteByte('\n')
			start = i + 1
		}
	}
	return builder.String()
}

// listImages returns image file names currently in the working directory.
func (k *Kernel) listImages() (map[string]bool, error) {
	entries, err := os.ReadDir(k.workDir)
	if err != nil {
		return nil, fmt.Errorf("read work dir: %w", err)
	}
	images := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageKind(entry.Name()) != "" {
			images[entry.Name()] = true
		}
	}
	return images, nil
}

// newImages returns names present after execution but not before.
func newImages(before map[string]bool, after map[string]bool) []string {
	var created []string
	for name := range after {
		if !before[name] {
			created = append(created, name)
		}
	}
	return created
}

// imageKind maps a file name to its display kind, or empty when not an image.
func imageKind(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}
