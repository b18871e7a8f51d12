package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Status represents the lifecycle of a managed connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusCleaning is the transient state while teardown runs. It is
	// reachable from any point on failure or explicit disconnect and
	// always returns to StatusDisconnected.
	StatusCleaning Status = "cleaning"
)

const (
	clientName    = "bchat"
	clientVersion = "1.0.0"

	// connectTimeout bounds spawning the subprocess and establishing
	// the stream transport.
	connectTimeout = 30 * time.Second
	// handshakeTimeout bounds the MCP initialize handshake.
	handshakeTimeout = 10 * time.Second
	// cleanupTimeout bounds each teardown step.
	cleanupTimeout = 10 * time.Second
)

// dialFunc produces the transport used to reach a server, plus the
// underlying command for stdio servers so cleanup can force-terminate it.
// Tests substitute in-memory transports.
type dialFunc func(cfg *ServerConfig) (mcp.Transport, *exec.Cmd, error)

// stdioDial builds the default stdio transport: the configured command
// with its resolved environment, spoken to over stdin/stdout.
func stdioDial(cfg *ServerConfig) (mcp.Transport, *exec.Cmd, error) {
	if cfg.Command == "" {
		return nil, nil, fmt.Errorf("command missing for %q", cfg.Name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = cfg.Resolve()
	return &mcp.CommandTransport{Command: cmd}, cmd, nil
}

// readyTransport hands an already-established connection to the MCP
// client, so the initialize handshake runs under its own deadline,
// separate from the transport dial.
type readyTransport struct {
	conn mcp.Connection
}

func (t readyTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.conn, nil
}

// Connection owns one MCP server's subprocess and session lifecycle:
// connect, discover tools, namespace them, dispatch calls, disconnect.
// The transport and session handles are exclusively owned and never
// shared; the tool map is non-empty only while connected.
type Connection struct {
	cfg    *ServerConfig
	logger *slog.Logger
	dial   dialFunc

	// connMu serializes connect and disconnect attempts.
	connMu sync.Mutex

	// mu guards the fields below; transitions are published atomically
	// so readers never observe a half-connected state.
	mu      sync.RWMutex
	status  Status
	session *mcp.ClientSession
	conn    mcp.Connection
	cmd     *exec.Cmd
	tools   map[string]ToolDescriptor
}

// NewConnection constructs a disconnected Connection for cfg.
func NewConnection(cfg *ServerConfig, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		cfg:    cfg,
		logger: logger,
		dial:   stdioDial,
		status: StatusDisconnected,
		tools:  map[string]ToolDescriptor{},
	}
}

// Config returns the launch descriptor this connection supervises.
func (c *Connection) Config() *ServerConfig { return c.cfg }

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Connected reports whether the connection is established.
func (c *Connection) Connected() bool { return c.Status() == StatusConnected }

// Connect spawns the server subprocess, performs the MCP handshake, and
// discovers tools. It is a no-op returning true when already connected.
// Every failure path runs cleanup and returns false; the connection
// stays usable for a future retry and never panics or leaks the child.
func (c *Connection) Connect(ctx context.Context) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.Connected() {
		c.logger.Warn("server already connected", "server", c.cfg.Name)
		return true
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to MCP server", "server", c.cfg.Name)

	transport, cmd, err := c.dial(c.cfg)
	if err != nil {
		c.logger.Error("failed to build transport", "server", c.cfg.Name, "error", err)
		c.setStatus(StatusDisconnected)
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, err := transport.Connect(dialCtx)
	cancel()
	if err != nil {
		c.logger.Error("failed to connect transport", "server", c.cfg.Name, "error", err)
		forceKill(cmd)
		c.setStatus(StatusDisconnected)
		return false
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	session, err := client.Connect(hsCtx, readyTransport{conn: conn}, nil)
	cancel()
	if err != nil {
		c.logger.Error("session initialization failed", "server", c.cfg.Name, "error", err)
		c.mu.Lock()
		c.conn = conn
		c.cmd = cmd
		c.mu.Unlock()
		if cleanupErr := c.cleanup(ctx); cleanupErr != nil {
			c.logger.Error("cleanup after failed handshake", "server", c.cfg.Name, "error", cleanupErr)
		}
		return false
	}

	c.mu.Lock()
	c.session = session
	c.conn = conn
	c.cmd = cmd
	c.mu.Unlock()

	c.discoverTools(ctx, session)

	c.mu.Lock()
	c.status = StatusConnected
	toolCount := len(c.tools)
	c.mu.Unlock()

	go c.monitor(session)

	c.logger.Info("connected to MCP server", "server", c.cfg.Name, "tools", toolCount)
	return true
}

// Disconnect tears the connection down, clearing the tool map. It is a
// no-op returning true when already disconnected.
func (c *Connection) Disconnect(ctx context.Context) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.Status() == StatusDisconnected {
		c.logger.Warn("server not connected", "server", c.cfg.Name)
		return true
	}

	c.logger.Info("disconnecting from MCP server", "server", c.cfg.Name)
	if err := c.cleanup(ctx); err != nil {
		c.logger.Error("error disconnecting", "server", c.cfg.Name, "error", err)
		return false
	}
	c.logger.Info("disconnected from MCP server", "server", c.cfg.Name)
	return true
}

// cleanup releases the session first, then the transport, each under a
// bounded wait. Both steps are always attempted even if the first
// fails; the first error encountered is surfaced only after both have
// run. A timeout or cancellation logs and still force-terminates the
// subprocess rather than leaking it. The connection always ends up
// StatusDisconnected with an empty tool map.
func (c *Connection) cleanup(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	conn := c.conn
	cmd := c.cmd
	c.session = nil
	c.conn = nil
	c.cmd = nil
	c.tools = map[string]ToolDescriptor{}
	c.status = StatusCleaning
	c.mu.Unlock()

	defer c.setStatus(StatusDisconnected)

	var errs []error
	interrupted := false

	if session != nil {
		if err := closeBounded(ctx, session.Close); err != nil {
			errs = append(errs, err)
			if isInterrupted(err) {
				interrupted = true
				c.logger.Warn("session cleanup interrupted", "server", c.cfg.Name, "error", err)
			} else {
				c.logger.Error("error closing session", "server", c.cfg.Name, "error", err)
			}
		}
	}

	if conn != nil {
		if err := closeBounded(ctx, conn.Close); err != nil && !isAlreadyClosed(err) {
			errs = append(errs, err)
			if isInterrupted(err) {
				interrupted = true
				c.logger.Warn("transport cleanup interrupted, subprocess may not have terminated", "server", c.cfg.Name, "error", err)
			} else {
				c.logger.Error("error closing transport", "server", c.cfg.Name, "error", err)
			}
		}
	}

	if interrupted {
		forceKill(cmd)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// closeBounded runs close, waiting at most cleanupTimeout or until ctx
// is cancelled. The close itself keeps running in the background if the
// wait gives up; callers must treat that as a leak and force-terminate.
func closeBounded(ctx context.Context, close func() error) error {
	done := make(chan error, 1)
	go func() { done <- close() }()

	timer := time.NewTimer(cleanupTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// isInterrupted reports whether a cleanup step timed out or was
// cancelled, as opposed to failing outright.
func isInterrupted(err error) bool {
	return err == context.DeadlineExceeded || err == context.Canceled
}

// isAlreadyClosed reports a transport close that found the connection
// already released, which happens when the session tore it down first.
// Only the idempotent-close signals count; a transport that closed for
// any other reason still surfaces as a cleanup error.
func isAlreadyClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return true
	}
	msg := err.Error()
	return msg == "connection closed" || strings.HasSuffix(msg, ": connection closed")
}

// forceKill terminates the subprocess as a last resort.
func forceKill(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

// monitor clears state when the session ends behind our back, e.g. the
// server process dies. A session closed by cleanup has already been
// unregistered, so the check below makes this a no-op then.
func (c *Connection) monitor(session *mcp.ClientSession) {
	err := session.Wait()

	c.mu.Lock()
	current := c.session == session
	if current {
		c.session = nil
		c.conn = nil
		c.cmd = nil
		c.tools = map[string]ToolDescriptor{}
		c.status = StatusDisconnected
	}
	c.mu.Unlock()

	if current {
		c.logger.Warn("MCP session ended unexpectedly", "server", c.cfg.Name, "error", err)
	}
}

// discoverTools lists the server's tools and stores them under their
// namespaced names. Discovery failure leaves the tool map empty but
// does not fail the connection.
func (c *Connection) discoverTools(ctx context.Context, session *mcp.ClientSession) {
	tools := map[string]ToolDescriptor{}

	var cursor string
	for {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			c.logger.Error("failed to discover tools", "server", c.cfg.Name, "error", err)
			return
		}
		for _, tool := range res.Tools {
			namespaced := NamespacedToolName(c.cfg.Name, tool.Name)
			tools[namespaced] = ToolDescriptor{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}
			c.logger.Debug("discovered tool", "server", c.cfg.Name, "tool", namespaced)
		}
		cursor = res.NextCursor
		if cursor == "" {
			break
		}
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
}

// Tools returns a snapshot of the namespaced tool map.
func (c *Connection) Tools() map[string]ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]ToolDescriptor, len(c.tools))
	for name, desc := range c.tools {
		snapshot[name] = desc
	}
	return snapshot
}

// ToolCount returns the number of discovered tools.
func (c *Connection) ToolCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// ToolSchemas returns function-calling schemas for every discovered
// tool, with the server name folded into each description.
func (c *Connection) ToolSchemas() []ToolSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schemas := make([]ToolSchema, 0, len(c.tools))
	for namespaced, tool := range c.tools {
		parameters := tool.InputSchema
		if parameters == nil {
			parameters = EmptyParameters()
		}
		schemas = append(schemas, ToolSchema{
			Type: "function",
			Function: FunctionSchema{
				Name:        namespaced,
				Description: fmt.Sprintf("[%s] %s", c.cfg.Name, tool.Description),
				Parameters:  parameters,
			},
		})
	}
	return schemas
}

// CallTool dispatches a namespaced tool call to the server. The name
// must be one of this connection's discovered tools; dispatch against a
// disconnected server or an unknown tool returns an error. A failure
// during the call itself is returned as an "Error: ..." result string,
// consumed by the caller exactly like a successful result.
func (c *Connection) CallTool(ctx context.Context, namespaced string, args map[string]any) (string, error) {
	c.mu.RLock()
	session := c.session
	connected := c.status == StatusConnected
	_, known := c.tools[namespaced]
	c.mu.RUnlock()

	if !connected || session == nil {
		return "", &NotConnectedError{Server: c.cfg.Name}
	}

	original := strings.TrimPrefix(namespaced, ToolNamespacePrefix+c.cfg.Name+"_")
	if !known {
		return "", fmt.Errorf("tool %q not found on server %q", original, c.cfg.Name)
	}

	if args == nil {
		args = map[string]any{}
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: original, Arguments: args})
	if err != nil {
		c.logger.Error("error calling tool", "server", c.cfg.Name, "tool", namespaced, "error", err)
		return fmt.Sprintf("Error: %v", err), nil
	}

	return renderContent(result), nil
}

// renderContent concatenates a tool result's content parts into one
// string: textual parts verbatim, non-textual parts as [{type}].
func renderContent(result *mcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		switch v := item.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.ImageContent:
			parts = append(parts, "[image]")
		case *mcp.AudioContent:
			parts = append(parts, "[audio]")
		case *mcp.EmbeddedResource:
			parts = append(parts, "[resource]")
		case *mcp.ResourceLink:
			parts = append(parts, "[resource_link]")
		default:
			parts = append(parts, fmt.Sprintf("[%T]", item))
		}
	}
	return strings.Join(parts, "\n")
}

func (c *Connection) setStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}
