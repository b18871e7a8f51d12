// Package tools implements the fixed set of in-process tools exposed to
// the model alongside remote MCP tools: an arithmetic evaluator, a
// guarded shell executor, and a clock. Every executor is a total
// function over its arguments; failures come back as "Error: ..."
// result strings, never as errors or panics.
package tools

import (
	"context"
	"log/slog"
)

// Tool is one in-process tool: its function-calling schema plus an
// executor over already-decoded arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, args map[string]any) string
}

// Local returns the built-in tool set keyed by name.
func Local(logger *slog.Logger) map[string]*Tool {
	if logger == nil {
		logger = slog.Default()
	}
	set := map[string]*Tool{}
	for _, t := range []*Tool{Calculator(), DateTime(), ShellCommand(logger)} {
		set[t.Name] = t
	}
	return set
}

// stringArg extracts an optional string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
