// Package registry merges the fixed local tool set with the dynamic
// remote set discovered from MCP servers, presenting one uniform
// schema and dispatch surface to the conversational loop.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bchat-ai/bchat/internal/mcp"
	"github.com/bchat-ai/bchat/internal/tools"
)

// Executor is one callable capability: a function-calling schema plus a
// total execute over raw JSON arguments. Local functions and remote
// MCP tools both satisfy it, so dispatch is uniform.
type Executor interface {
	Schema() mcp.ToolSchema
	Execute(ctx context.Context, argsJSON string) string
}

// Entry describes one registered tool for listing surfaces.
type Entry struct {
	Type        string `json:"type"`
	Server      string `json:"server,omitempty"`
	Description string `json:"description"`
}

// Registry is the unified tool surface. All methods are safe for
// concurrent use; the local set is fixed at construction and the
// remote set tracks the Manager's live connections.
type Registry struct {
	logger  *slog.Logger
	manager *mcp.Manager
	local   map[string]*tools.Tool
	enabled bool
}

// New builds a Registry over the manager's remote tools plus the
// built-in local set. With enabled false the registry advertises no
// schemas at all.
func New(manager *mcp.Manager, logger *slog.Logger, enabled bool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		manager: manager,
		local:   tools.Local(logger),
		enabled: enabled,
	}
}

// AllTools returns every known tool keyed by invocation name.
func (r *Registry) AllTools() map[string]Entry {
	all := make(map[string]Entry, len(r.local))
	for name, tool := range r.local {
		all[name] = Entry{Type: "local", Description: tool.Description}
	}
	for name, info := range r.manager.AllTools("") {
		all[name] = Entry{Type: "remote", Server: info.Server, Description: info.Description}
	}
	return all
}

// ToolSchemas returns the function-calling schemas for every tool,
// local first in name order, then the manager's aggregated remote
// schemas. An empty slice when tools are disabled.
func (r *Registry) ToolSchemas() []mcp.ToolSchema {
	if !r.enabled {
		return []mcp.ToolSchema{}
	}

	names := make([]string, 0, len(r.local))
	for name := range r.local {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]mcp.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, localExecutor{r.local[name]}.Schema())
	}
	return append(schemas, r.manager.ToolSchemas()...)
}

// ListTools returns invocation names: local names plus every remote
// name when no filter is given, or only the filtered server's remote
// names otherwise.
func (r *Registry) ListTools(serverFilter string) []string {
	var names []string
	if serverFilter == "" {
		for name := range r.local {
			names = append(names, name)
		}
	}
	for name := range r.manager.AllTools(serverFilter) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteTool dispatches a tool call by name with raw JSON arguments.
// It is a total function: every failure, including an unknown name,
// comes back as an "Error: ..." result string.
func (r *Registry) ExecuteTool(ctx context.Context, name, argsJSON string) string {
	executor, ok := r.lookup(name)
	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
	return executor.Execute(ctx, argsJSON)
}

// lookup resolves a name to its capability: the local map first, then
// the remote namespace by prefix.
func (r *Registry) lookup(name string) (Executor, bool) {
	if tool, ok := r.local[name]; ok {
		return localExecutor{tool}, true
	}
	if strings.HasPrefix(name, mcp.ToolNamespacePrefix) {
		return remoteExecutor{registry: r, name: name}, true
	}
	return nil, false
}

// decodeArgs parses a JSON arguments payload, treating empty input as
// an empty object.
func decodeArgs(argsJSON string) (map[string]any, error) {
	if strings.TrimSpace(argsJSON) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// localExecutor adapts an in-process tool to the capability interface.
type localExecutor struct {
	tool *tools.Tool
}

func (l localExecutor) Schema() mcp.ToolSchema {
	return mcp.ToolSchema{
		Type: "function",
		Function: mcp.FunctionSchema{
			Name:        l.tool.Name,
			Description: l.tool.Description,
			Parameters:  l.tool.Parameters,
		},
	}
}

func (l localExecutor) Execute(ctx context.Context, argsJSON string) string {
	args, err := decodeArgs(argsJSON)
	if err != nil {
		return fmt.Sprintf("Error: Invalid arguments: %v", err)
	}
	return l.tool.Run(ctx, args)
}

// remoteExecutor adapts a namespaced MCP tool to the capability
// interface, delegating to the manager's dispatch.
type remoteExecutor struct {
	registry *Registry
	name     string
}

func (r remoteExecutor) Schema() mcp.ToolSchema {
	for _, schema := range r.registry.manager.ToolSchemas() {
		if schema.Function.Name == r.name {
			return schema
		}
	}
	return mcp.ToolSchema{
		Type: "function",
		Function: mcp.FunctionSchema{Name: r.name, Parameters: mcp.EmptyParameters()},
	}
}

func (r remoteExecutor) Execute(ctx context.Context, argsJSON string) string {
	args, err := decodeArgs(argsJSON)
	if err != nil {
		return fmt.Sprintf("Error: Invalid arguments: %v", err)
	}
	result, err := r.registry.manager.CallTool(ctx, r.name, args)
	if err != nil {
		r.registry.logger.Error("tool call failed", "tool", r.name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}
