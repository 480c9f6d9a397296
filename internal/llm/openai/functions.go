package openai

// ExecuteCodeFunctionName is the function the model is asked to call
// when it wants to run code.
const ExecuteCodeFunctionName = "execute_code"

// DefaultFunctions returns the function list advertised on every request.
func DefaultFunctions() []FunctionSpec {
	return []FunctionSpec{
		{
			Name: ExecuteCodeFunctionName,
			Description: "This function allows you to execute Python code and retrieve " +
				"the terminal output. If the code generates image output, the function " +
				"will return the image path instead of the raw output. The code is sent " +
				"to a Python interpreter and retains state between calls.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "The Python code text to execute.",
					},
				},
				"required": []string{"code"},
			},
		},
	}
}
