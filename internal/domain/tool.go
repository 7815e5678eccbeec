package domain

// ToolDescriptor describes a named external capability offered to the
// model. Descriptors are fetched once from the tool server at startup and
// are immutable for the process lifetime.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}
