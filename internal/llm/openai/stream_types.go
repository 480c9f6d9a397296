package openai

// StreamResponse is the OpenAI-compatible SSE response payload.
type StreamResponse struct {
	// ID is the provider request id.
	ID string `json:"id,omitempty"`
	// Model is the model identifier for the stream.
	Model string `json:"model,omitempty"`
	// Choices carries incremental delta updates.
	Choices []StreamChoice `json:"choices,omitempty"`
	// Usage reports tokens on the final payload when provided.
	Usage *Usage `json:"usage,omitempty"`
}

// StreamChoice represents a streaming choice delta.
type StreamChoice struct {
	// Index is the choice index.
	Index int `json:"index"`
	// Delta holds the incremental message update.
	Delta StreamDelta `json:"delta"`
	// FinishReason signals why generation stopped.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// StreamDelta represents incremental message content.
type StreamDelta struct {
	// Role sets the assistant role on the first delta.
	Role string `json:"role,omitempty"`
	// Content holds streamed text. A pointer distinguishes the null
	// content sent alongside function-call deltas from ordinary text.
	Content *string `json:"content,omitempty"`
	// FunctionCall streams function name and argument fragments.
	FunctionCall *StreamFunctionCallDelta `json:"function_call,omitempty"`
}

// StreamFunctionCallDelta contains incremental function call fields.
type StreamFunctionCallDelta struct {
	// Name identifies the function. Sent once on the first fragment.
	Name *string `json:"name,omitempty"`
	// Arguments contains partial JSON argument text.
	Arguments *string `json:"arguments,omitempty"`
}

// StreamHandler consumes SSE stream responses.
type StreamHandler func(event StreamResponse) error

// StreamSummary captures metadata from a streaming response.
type StreamSummary struct {
	// ID is the stream request id.
	ID string
	// Model is the model identifier.
	Model string
	// Usage reports token usage if available.
	Usage Usage
	// HasUsage reports whether Usage is populated.
	HasUsage bool
}
