package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/wststone/Local-Code-Interpreter/internal/chat"
	"github.com/wststone/Local-Code-Interpreter/internal/history"
)

// historyMsg carries an updated display history into the TUI event loop.
type historyMsg struct {
	// History is the current display history snapshot.
	History history.History
}

// turnDoneMsg signals a completed turn with its result.
type turnDoneMsg struct {
	// Result is the turn result to reconcile state.
	Result *chat.TurnResult
}

// turnErrorMsg reports an error that occurred during a turn.
type turnErrorMsg struct {
	// Err is the underlying turn error.
	Err error
}

// tuiModel drives the full-screen terminal UI.
type tuiModel struct {
	// opts holds CLI options.
	opts *options
	// run bundles the runner, session, kernel, and store.
	run *runContext
	// history is the display history rendered in the chat pane.
	history history.History
	// chatView renders the conversation.
	chatView viewport.Model
	// input collects user input for new turns.
	input textarea.Model
	// markdownRenderer formats finished rows when available.
	markdownRenderer *glamour.TermRenderer
	// statusText is the bottom status line.
	statusText string
	// totalTokens accumulates reported usage across turns.
	totalTokens int
	// autoScroll keeps the chat viewport pinned to the bottom.
	autoScroll bool
	// width tracks the terminal width.
	width int
	// height tracks the terminal height.
	height int
	// running indicates an in-flight turn.
	running bool
	// turnCh delivers turn messages into the update loop.
	turnCh chan tea.Msg
	// cancel cancels the current turn when present.
	cancel context.CancelFunc
	// quitting indicates a user-requested exit.
	quitting bool
}

// runTUI starts the full-screen terminal UI.
func runTUI(opts *options, run *runContext) error {
	program := tea.NewProgram(newTUIModel(opts, run), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// newTUIModel constructs the initial TUI state.
func newTUIModel(opts *options, run *runContext) *tuiModel {
	input := textarea.New()
	input.Placeholder = "Ask for an analysis, a plot, a computation..."
	input.Focus()
	input.CharLimit = 0
	input.Prompt = "> "
	input.SetHeight(3)
	input.SetWidth(20)

	chatView := viewport.New(20, 10)

	var renderer *glamour.TermRenderer
	if glam, err := glamour.NewTermRenderer(glamour.WithAutoStyle()); err == nil {
		renderer = glam
	}

	return &tuiModel{
		opts:             opts,
		run:              run,
		chatView:         chatView,
		input:            input,
		markdownRenderer: renderer,
		statusText:       "Enter: send | Ctrl+J: newline | /restart /upload /quit | Ctrl+C: cancel | Ctrl+Q: quit",
		autoScroll:       true,
	}
}

// Init starts the blinking cursor for the input field.
func (m *tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles UI events and turn updates.
func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(typed)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case historyMsg:
		m.history = typed.History
		m.refreshChat()
		return m, m.listenTurn()
	case turnDoneMsg:
		m.finishTurn(typed.Result)
		return m, nil
	case turnErrorMsg:
		m.finishError(typed.Err)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the full UI layout.
func (m *tuiModel) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}
	header := m.renderHeader()
	chat := m.renderPane(m.chatView.View(), m.width)
	input := m.renderPane(m.input.View(), m.width)
	status := m.renderStatus()
	return lipgloss.JoinVertical(lipgloss.Left, header, chat, input, status)
}

// handleKey routes keyboard input and submissions.
func (m *tuiModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		if m.running {
			m.cancelTurn()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case "ctrl+q":
		m.quitting = true
		return m, tea.Quit
	case "ctrl+j":
		m.input.InsertString("\n")
		return m, nil
	case "pgup":
		m.autoScroll = false
		m.chatView.LineUp(10)
		return m, nil
	case "pgdown":
		m.chatView.LineDown(10)
		if m.chatView.AtBottom() {
			m.autoScroll = true
		}
		return m, nil
	}

	if key.Type == tea.KeyEnter && !key.Alt {
		return m.submitInput()
	}
	if key.Type == tea.KeyEnter {
		m.input.InsertString("\n")
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

// submitInput sends the current input as a new user turn.
func (m *tuiModel) submitInput() (tea.Model, tea.Cmd) {
	if m.running {
		m.statusText = "Wait for the current response or cancel with Ctrl+C."
		return m, nil
	}
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	m.input.SetValue("")
	m.statusText = ""

	if handled, output, quit, clear := handleSlashCommand(value, m.run); handled {
		if quit {
			m.quitting = true
			return m, tea.Quit
		}
		if clear {
			m.history = nil
			m.refreshChat()
		}
		m.statusText = output
		return m, nil
	}

	m.running = true
	m.statusText = "Thinking..."
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.turnCh = make(chan tea.Msg, 128)

	cmd := m.startTurn(ctx, value)
	return m, tea.Batch(cmd, m.listenTurn())
}

// startTurn launches the turn and feeds updates into the turn channel.
func (m *tuiModel) startTurn(ctx context.Context, input string) tea.Cmd {
	run := m.run
	h := m.history.Clone()
	turnCh := m.turnCh
	previousLen := len(run.Session.Messages())

	return func() tea.Msg {
		run.Runner.Callbacks = &chat.StreamCallbacks{
			OnHistory: func(current history.History) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case turnCh <- historyMsg{History: current.Clone()}:
				}
				return nil
			},
		}

		result, err := run.Runner.RunTurn(ctx, input, h, run.Session)
		if err != nil {
			turnCh <- turnErrorMsg{Err: err}
			close(turnCh)
			return nil
		}
		if persistErr := persistTurn(run.Store, run.Session, previousLen); persistErr != nil {
			turnCh <- turnErrorMsg{Err: persistErr}
			close(turnCh)
			return nil
		}
		turnCh <- turnDoneMsg{Result: result}
		close(turnCh)
		return nil
	}
}

// listenTurn waits for the next turn message.
func (m *tuiModel) listenTurn() tea.Cmd {
	if m.turnCh == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.turnCh
		if !ok {
			return nil
		}
		return msg
	}
}

// finishTurn reconciles state after a completed turn.
func (m *tuiModel) finishTurn(result *chat.TurnResult) {
	m.running = false
	m.statusText = ""
	m.cancel = nil
	if result == nil {
		return
	}
	m.history = result.History
	if result.HasUsage {
		m.totalTokens += result.Usage.TotalTokens
	}
	m.refreshChat()
}

// finishError surfaces a turn failure in the status line.
func (m *tuiModel) finishError(err error) {
	m.running = false
	m.statusText = formatInteractiveError(err)
	m.cancel = nil
}

// cancelTurn cancels an in-flight turn.
func (m *tuiModel) cancelTurn() {
	if m.cancel != nil {
		m.cancel()
	}
	m.statusText = "Cancelled."
}

// refreshChat rebuilds the chat viewport content.
func (m *tuiModel) refreshChat() {
	var builder strings.Builder
	userStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	botStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	for _, row := range m.history {
		if row.User != "" {
			builder.WriteString(userStyle.Render("YOU:"))
			builder.WriteString("\n" + row.User + "\n\n")
		}
		if row.Bot != "" {
			builder.WriteString(botStyle.Render("INTERPRETER:"))
			builder.WriteString("\n" + m.renderMarkdown(row.Bot) + "\n\n")
		}
	}
	m.chatView.SetContent(builder.String())
	if m.autoScroll {
		m.chatView.GotoBottom()
	}
}

// renderMarkdown converts markdown into terminal output when possible.
func (m *tuiModel) renderMarkdown(content string) string {
	if m.markdownRenderer == nil {
		return content
	}
	rendered, err := m.markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// applyWindowSize recalculates the layout for a new window size.
func (m *tuiModel) applyWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 1
	statusHeight := 1
	inputHeight := m.input.Height() + 2
	chatHeight := m.height - headerHeight - statusHeight - inputHeight - 2
	if chatHeight < 4 {
		chatHeight = 4
	}

	m.chatView.Width = m.width - 4
	m.chatView.Height = chatHeight
	m.input.SetWidth(m.width - 4)

	m.refreshChat()
}

// renderHeader builds the top status line.
func (m *tuiModel) renderHeader() string {
	style := lipgloss.NewStyle().Bold(true)
	header := fmt.Sprintf("Local Code Interpreter | session %s | model %s", m.run.Session.ID(), m.run.Model)
	if m.running {
		header += " | running"
	}
	return style.Render(padRight(header, m.width))
}

// renderStatus returns the bottom status line.
func (m *tuiModel) renderStatus() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	text := m.statusText
	if text == "" {
		text = "Ready"
	}
	if m.totalTokens > 0 {
		text = fmt.Sprintf("%s | tokens:%d", text, m.totalTokens)
	}
	return style.Render(padRight(text, m.width))
}

// renderPane formats a bordered pane.
func (m *tuiModel) renderPane(content string, width int) string {
	style := lipgloss.NewStyle().Border(asciiBorder()).Padding(0, 1)
	return style.Width(width - 2).Render(content)
}

// asciiBorder avoids Unicode border dependencies.
func asciiBorder() lipgloss.Border {
	return lipgloss.Border{
		Top:         "-",
		Bottom:      "-",
		Left:        "|",
		Right:       "|",
		TopLeft:     "+",
		TopRight:    "+",
		BottomLeft:  "+",
		BottomRight: "+",
	}
}

// padRight pads a string with spaces to the target width.
func padRight(value string, width int) string {
	runes := []rune(value)
	if len(runes) >= width {
		return value
	}
	return value + strings.Repeat(" ", width-len(runes))
}
