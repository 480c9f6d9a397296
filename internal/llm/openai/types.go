package openai

// ChatRequest matches the OpenAI-compatible chat/completions request
// using the legacy functions API.
type ChatRequest struct {
	// Model is the provider model identifier.
	Model string `json:"model"`
	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`
	// Functions advertises callable functions to the model.
	Functions []FunctionSpec `json:"functions,omitempty"`
	// FunctionCall directs function usage (e.g., "auto").
	FunctionCall any `json:"function_call,omitempty"`
	// Stream toggles server-sent events in the response.
	Stream bool `json:"stream,omitempty"`
	// Temperature controls randomness, if supported by the backend.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens limits the model output, if supported by the backend.
	MaxTokens *int `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	// Role is one of system, user, assistant, or function.
	Role string `json:"role"`
	// Content carries message text. It is null on function-call messages.
	Content any `json:"content"`
	// Name identifies the function for function-role messages.
	Name string `json:"name,omitempty"`
	// FunctionCall carries an assistant function invocation.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionSpec defines a callable function for the model.
type FunctionSpec struct {
	// Name is the unique identifier for the function.
	Name string `json:"name"`
	// Description provides a natural language summary.
	Description string `json:"description,omitempty"`
	// Parameters is a JSON Schema object describing inputs.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is the function invocation payload on an assistant message.
type FunctionCall struct {
	// Name identifies which function to invoke.
	Name string `json:"name"`
	// Arguments contains a JSON string to be parsed by the function.
	Arguments string `json:"arguments"`
}

// ChatResponse matches the OpenAI-compatible chat/completions response.
type ChatResponse struct {
	// ID is the request id from the provider.
	ID string `json:"id"`
	// Choices contains the assistant messages.
	Choices []ChatChoice `json:"choices"`
	// Usage reports token counts.
	Usage Usage `json:"usage"`
}

// ChatChoice represents a single completion choice.
type ChatChoice struct {
	// Index is the choice index.
	Index int `json:"index"`
	// Message is the assistant response.
	Message Message `json:"message"`
	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason"`
}

// Usage represents token usage info.
type Usage struct {
	// PromptTokens counts input tokens.
	PromptTokens int `json:"prompt_tokens"`
	// CompletionTokens counts output tokens.
	CompletionTokens int `json:"completion_tokens"`
	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`
}
