package interp

import (
	"strings"

	"github.com/google/uuid"

	"github.com/wststone/Local-Code-Interpreter/internal/history"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
)

// DefaultSystemPrompt is the conversation seed for new sessions.
const DefaultSystemPrompt = "You are an AI code interpreter. " +
	"Your goal is to help users do a variety of jobs by executing Python code. " +
	"You should first analyze the problem, then write code to solve it, and " +
	"respond based on the execution output. Prefer matplotlib for plots and " +
	"save figures as files in the working directory."

// defaultMaxResponseWords bounds function responses stored in the
// conversation so repeated large outputs do not exhaust the context window.
const defaultMaxResponseWords = 500

// Backend is the execution surface a session drives: a function registry
// for completed calls and a restart hook. *kernel.Kernel satisfies it.
type Backend interface {
	Functions() map[string]kernel.CodeFunc
	Restart() error
}

// Session accumulates streamed response state and owns the conversation for
// one interpreter session.
//
// Per-response fields (role, content, function name, arguments, display
// code block) accumulate across stream fragments and reset when a response
// finishes. The finish reason survives the reset so the chat loop can
// decide whether to issue a follow-up request.
type Session struct {
	// id scopes working and output directories for this session.
	id string
	// backend executes code for completed function calls.
	backend Backend
	// systemPrompt seeds and re-seeds the conversation.
	systemPrompt string
	// maxResponseWords truncates stored function responses.
	maxResponseWords int

	// messages is the ordered conversation sent to the model.
	messages []openai.Message

	// assistantRole is the role name announced on the first delta.
	assistantRole string
	// content accumulates streamed assistant text.
	content strings.Builder
	// functionName is the announced function call target.
	functionName string
	// functionArgs accumulates the raw argument string.
	functionArgs strings.Builder
	// displayCodeBlock is the currently rendered code block.
	displayCodeBlock string
	// finishReason records why the fragment stream stopped.
	finishReason string
	// snapshot is the display history taken when a function call began.
	snapshot history.History
}

// Options configures a new Session.
type Options struct {
	// ID overrides the generated session id.
	ID string
	// Backend is the execution backend. Required for function calls.
	Backend Backend
	// SystemPrompt overrides the default conversation seed.
	SystemPrompt string
	// MaxResponseWords overrides the function response bound.
	MaxResponseWords int
}

// New constructs a session with a seeded conversation.
func New(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxWords := opts.MaxResponseWords
	if maxWords <= 0 {
		maxWords = defaultMaxResponseWords
	}
	session := &Session{
		id:               id,
		backend:          opts.Backend,
		systemPrompt:     systemPrompt,
		maxResponseWords: maxWords,
	}
	session.messages = []openai.Message{{Role: "system", Content: systemPrompt}}
	return session
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Backend returns the execution backend, which may be nil.
func (s *Session) Backend() Backend {
	return s.backend
}

// Messages returns the conversation to include in the next request.
func (s *Session) Messages() []openai.Message {
	return s.messages
}

// LoadMessages replaces the conversation, used when resuming a session.
// A stored log without a leading system message keeps the current seed.
func (s *Session) LoadMessages(messages []openai.Message) {
	if len(messages) == 0 {
		return
	}
	if messages[0].Role != "system" {
		s.messages = append(s.messages[:1:1], messages...)
		return
	}
	s.messages = append([]openai.Message(nil), messages...)
}

// AppendUserMessage adds a user turn to the conversation.
func (s *Session) AppendUserMessage(text string) {
	s.messages = append(s.messages, openai.Message{Role: "user", Content: text})
}

// SetAssistantRole records the role announced on the first delta.
func (s *Session) SetAssistantRole(role string) {
	s.assistantRole = role
}

// AddContent appends streamed assistant text.
func (s *Session) AddContent(text string) {
	s.content.WriteString(text)
}

// Content returns the accumulated assistant text.
func (s *Session) Content() string {
	return s.content.String()
}

// SetFunctionName records the announced function call target.
func (s *Session) SetFunctionName(name string) {
	s.functionName = name
}

// FunctionName returns the announced function call target.
func (s *Session) FunctionName() string {
	return s.functionName
}

// AddFunctionArgs appends a raw argument fragment.
func (s *Session) AddFunctionArgs(text string) {
	s.functionArgs.WriteString(text)
}

// FunctionArgs returns the accumulated raw argument string.
func (s *Session) FunctionArgs() string {
	return s.functionArgs.String()
}

// SetDisplayCodeBlock stores the rendered code block for the call.
func (s *Session) SetDisplayCodeBlock(block string) {
	s.displayCodeBlock = block
}

// DisplayCodeBlock returns the rendered code block for the call.
func (s *Session) DisplayCodeBlock() string {
	return s.displayCodeBlock
}

// SetFinishReason records why the fragment stream stopped.
func (s *Session) SetFinishReason(reason string) {
	s.finishReason = reason
}

// FinishReason returns the recorded finish reason.
func (s *Session) FinishReason() string {
	return s.finishReason
}

// SnapshotHistory stores a deep copy of the display history so code blocks
// can re-render from a stable base while arguments stream.
func (s *Session) SnapshotHistory(h history.History) {
	s.snapshot = h.Clone()
}

// EnsureSnapshot stores a snapshot if none was taken yet. The function
// name fragment normally snapshots first; this guards streams that skip it.
func (s *Session) EnsureSnapshot(h history.History) {
	if s.snapshot == nil {
		s.SnapshotHistory(h)
	}
}

// HistoryFromSnapshot returns a fresh copy of the stored snapshot.
func (s *Session) HistoryFromSnapshot() history.History {
	return s.snapshot.Clone()
}

// FlushAssistantText moves accumulated text into the conversation.
func (s *Session) FlushAssistantText() {
	text := s.content.String()
	if text == "" {
		return
	}
	role := s.assistantRole
	if role == "" {
		role = "assistant"
	}
	s.messages = append(s.messages, openai.Message{Role: role, Content: text})
}

// AppendFunctionExchange records a completed function call and its
// response in the conversation. The response is word-bounded.
func (s *Session) AppendFunctionExchange(response string) {
	role := s.assistantRole
	if role == "" {
		role = "assistant"
	}
	s.messages = append(s.messages, openai.Message{
		Role:    role,
		Content: nil,
		FunctionCall: &openai.FunctionCall{
			Name:      s.functionName,
			Arguments: s.functionArgs.String(),
		},
	})
	s.messages = append(s.messages, openai.Message{
		Role:    "function",
		Name:    s.functionName,
		Content: truncateWords(response, s.maxResponseWords),
	})
}

// ResetResponse clears per-response accumulation, keeping the finish
// reason so the chat loop can inspect it after the stream ends.
func (s *Session) ResetResponse() {
	s.assistantRole = ""
	s.content.Reset()
	s.functionName = ""
	s.functionArgs.Reset()
	s.displayCodeBlock = ""
	s.snapshot = nil
}

// Restart re-seeds the conversation and restarts the kernel.
func (s *Session) Restart() error {
	s.ResetResponse()
	s.finishReason = ""
	s.messages = []openai.Message{{Role: "system", Content: s.systemPrompt}}
	if s.backend != nil {
		return s.backend.Restart()
	}
	return nil
}

// truncateWords bounds text by word count, keeping head and tail.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	half := maxWords / 2
	head := strings.Join(words[:half], " ")
	tail := strings.Join(words[len(words)-half:], " ")
	return head + "\n...[output truncated]...\n" + tail
}
