package mcp

// ToolNamespacePrefix is the reserved prefix marking remote MCP tools.
// Remote tool names have the form mcp_{server}_{tool}; local tools are
// never prefixed, so the two sets cannot collide.
const ToolNamespacePrefix = "mcp_"

// ToolDescriptor records one discovered tool as supplied by its server.
type ToolDescriptor struct {
	// Name is the tool's original, un-namespaced name.
	Name string

	// Description is the server-supplied description.
	Description string

	// InputSchema is the JSON-Schema-like parameter description supplied
	// by the server, or nil when the server omitted one.
	InputSchema any
}

// ToolSchema is one entry of the function-calling schema surface handed
// to the LLM collaborator.
type ToolSchema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema describes a single callable function.
type FunctionSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// EmptyParameters is the schema substituted when a server supplies no
// input schema for a tool.
func EmptyParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{},
	}
}

// NamespacedToolName computes the globally unique name for a tool on a
// server: mcp_{server}_{tool}.
func NamespacedToolName(server, tool string) string {
	return ToolNamespacePrefix + server + "_" + tool
}
