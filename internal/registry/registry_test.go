package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bchat-ai/bchat/internal/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestRegistry(enabled bool) *Registry {
	logger := testLogger()
	return New(mcp.NewManager(nil, logger), logger, enabled)
}

func TestExecuteLocalTool(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(true)
	assert.Equal(t, "4", reg.ExecuteTool(context.Background(), "calculator", `{"expression": "2 + 2"}`))
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(true)
	assert.Equal(t, "Error: Unknown tool 'frobnicate'", reg.ExecuteTool(context.Background(), "frobnicate", "{}"))
}

func TestExecuteInvalidArguments(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(true)
	out := reg.ExecuteTool(context.Background(), "calculator", `{"expression": `)
	assert.Contains(t, out, "Error: Invalid arguments")
}

func TestExecuteEmptyArguments(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(true)
	out := reg.ExecuteTool(context.Background(), "get_datetime", "")
	assert.NotContains(t, out, "Error:")
}

func TestExecuteRemoteToolNotConnected(t *testing.T) {
	t.Parallel()

	// A namespaced name routes to the manager even with no live
	// connections; the failure comes back as an error string.
	reg := newTestRegistry(true)
	out := reg.ExecuteTool(context.Background(), "mcp_ghost_echo", "{}")
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "not connected")
}

func TestExecuteMalformedRemoteName(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(true)
	out := reg.ExecuteTool(context.Background(), "mcp_", "{}")
	assert.Contains(t, out, "Error:")
}

func TestToolSchemas(t *testing.T) {
	t.Parallel()

	schemas := newTestRegistry(true).ToolSchemas()
	require.Len(t, schemas, 3)

	names := make([]string, 0, len(schemas))
	for _, schema := range schemas {
		assert.Equal(t, "function", schema.Type)
		assert.NotNil(t, schema.Function.Parameters)
		names = append(names, schema.Function.Name)
	}
	assert.Equal(t, []string{"calculator", "get_datetime", "shell_command"}, names)
}

func TestToolSchemasDisabled(t *testing.T) {
	t.Parallel()

	assert.Empty(t, newTestRegistry(false).ToolSchemas())
}

func TestListTools(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(true)

	names := reg.ListTools("")
	assert.Contains(t, names, "calculator")
	assert.Contains(t, names, "get_datetime")
	assert.Contains(t, names, "shell_command")

	// With a server filter only remote names qualify, and this server
	// has none.
	assert.Empty(t, reg.ListTools("ghost"))
}

func TestAllTools(t *testing.T) {
	t.Parallel()

	all := newTestRegistry(true).AllTools()
	require.Len(t, all, 3)
	for name, entry := range all {
		assert.Equal(t, "local", entry.Type, "tool %s", name)
		assert.NotEmpty(t, entry.Description)
	}
}
