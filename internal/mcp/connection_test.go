package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testDialer serves a fresh in-memory MCP server per dial, standing in
// for the stdio subprocess transport.
type testDialer struct {
	tools   map[string]mcp.ToolHandler
	failure error
	wrap    func(mcp.Transport) mcp.Transport
	spawns  atomic.Int32
}

func newTestDialer(tools map[string]mcp.ToolHandler) *testDialer {
	return &testDialer{tools: tools}
}

func (d *testDialer) dial(cfg *ServerConfig) (mcp.Transport, *exec.Cmd, error) {
	if d.failure != nil {
		return nil, nil, d.failure
	}
	d.spawns.Add(1)

	server := mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: "1.0.0"}, nil)
	for name, handler := range d.tools {
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: map[string]any{"type": "object"},
		}, handler)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	var transport mcp.Transport = clientTransport
	if d.wrap != nil {
		transport = d.wrap(transport)
	}
	return transport, nil, nil
}

// brokenCloseTransport makes every Close on its connection fail while
// counting how often teardown reaches it.
type brokenCloseTransport struct {
	inner    mcp.Transport
	closeErr error
	closes   *atomic.Int32
}

func (t *brokenCloseTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &brokenCloseConn{Connection: conn, closeErr: t.closeErr, closes: t.closes}, nil
}

type brokenCloseConn struct {
	mcp.Connection
	closeErr error
	closes   *atomic.Int32
}

func (c *brokenCloseConn) Close() error {
	c.closes.Add(1)
	_ = c.Connection.Close()
	return c.closeErr
}

func staticHandler(text string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

func newTestConnection(name string, dialer *testDialer) *Connection {
	conn := NewConnection(&ServerConfig{Name: name, Command: "test"}, testLogger())
	conn.dial = dialer.dial
	return conn
}

func TestConnectionLifecycle(t *testing.T) {
	t.Parallel()

	dialer := newTestDialer(map[string]mcp.ToolHandler{
		"echo": staticHandler("hello"),
	})
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if conn.Status() != StatusDisconnected {
		t.Fatalf("initial status = %v, want disconnected", conn.Status())
	}

	if !conn.Connect(ctx) {
		t.Fatal("Connect failed")
	}
	if conn.Status() != StatusConnected {
		t.Fatalf("status = %v, want connected", conn.Status())
	}

	tools := conn.Tools()
	if _, ok := tools["mcp_alpha_echo"]; !ok {
		t.Fatalf("tool mcp_alpha_echo not discovered, have %v", tools)
	}

	result, err := conn.CallTool(ctx, "mcp_alpha_echo", map[string]any{})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result != "hello" {
		t.Fatalf("result = %q, want hello", result)
	}

	if !conn.Disconnect(ctx) {
		t.Fatal("Disconnect failed")
	}
	if conn.Status() != StatusDisconnected {
		t.Fatalf("status after disconnect = %v", conn.Status())
	}
	if len(conn.Tools()) != 0 {
		t.Fatal("tool map not cleared after disconnect")
	}

	if _, err := conn.CallTool(ctx, "mcp_alpha_echo", nil); err == nil {
		t.Fatal("CallTool after disconnect should fail")
	}
}

func TestConnectionConnectIdempotent(t *testing.T) {
	t.Parallel()

	dialer := newTestDialer(map[string]mcp.ToolHandler{"echo": staticHandler("hi")})
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if !conn.Connect(ctx) {
		t.Fatal("first Connect failed")
	}
	if !conn.Connect(ctx) {
		t.Fatal("second Connect should be a successful no-op")
	}
	if got := dialer.spawns.Load(); got != 1 {
		t.Fatalf("spawned %d servers, want 1", got)
	}
}

func TestConnectionDialFailureIsRetryable(t *testing.T) {
	t.Parallel()

	dialer := newTestDialer(map[string]mcp.ToolHandler{"echo": staticHandler("hi")})
	dialer.failure = fmt.Errorf("spawn refused")
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if conn.Connect(ctx) {
		t.Fatal("Connect should fail when dial fails")
	}
	if conn.Status() != StatusDisconnected {
		t.Fatalf("status = %v, want disconnected after failure", conn.Status())
	}

	dialer.failure = nil
	if !conn.Connect(ctx) {
		t.Fatal("retry after failure should succeed")
	}
}

func TestConnectionDisconnectWhenDisconnected(t *testing.T) {
	t.Parallel()

	conn := newTestConnection("alpha", newTestDialer(nil))
	if !conn.Disconnect(context.Background()) {
		t.Fatal("Disconnect on a disconnected connection should succeed")
	}
}

func TestConnectionCallUnknownTool(t *testing.T) {
	t.Parallel()

	dialer := newTestDialer(map[string]mcp.ToolHandler{"echo": staticHandler("hi")})
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if !conn.Connect(ctx) {
		t.Fatal("Connect failed")
	}
	if _, err := conn.CallTool(ctx, "mcp_alpha_missing", nil); err == nil {
		t.Fatal("dispatch of an undiscovered tool should fail")
	}
}

func TestConnectionToolFailureBecomesErrorString(t *testing.T) {
	t.Parallel()

	dialer := newTestDialer(map[string]mcp.ToolHandler{
		"boom": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, fmt.Errorf("kaput")
		},
	})
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if !conn.Connect(ctx) {
		t.Fatal("Connect failed")
	}
	result, err := conn.CallTool(ctx, "mcp_alpha_boom", nil)
	if err != nil {
		t.Fatalf("tool failure should not surface as an error, got %v", err)
	}
	if len(result) < 6 || result[:6] != "Error:" {
		t.Fatalf("result = %q, want an Error: string", result)
	}
}

func TestRenderContent(t *testing.T) {
	t.Parallel()

	result := &mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Text: "first"},
		&mcp.ImageContent{},
		&mcp.TextContent{Text: "second"},
	}}
	got := renderContent(result)
	want := "first\n[image]\nsecond"
	if got != want {
		t.Fatalf("renderContent = %q, want %q", got, want)
	}
}

func TestConnectionToolSchemas(t *testing.T) {
	t.Parallel()

	dialer := newTestDialer(map[string]mcp.ToolHandler{
		"echo": staticHandler("hi"),
	})
	conn := newTestConnection("alpha", dialer)
	if !conn.Connect(context.Background()) {
		t.Fatal("Connect failed")
	}

	schemas := conn.ToolSchemas()
	if len(schemas) != 1 {
		t.Fatalf("got %d schemas, want 1", len(schemas))
	}
	schema := schemas[0]
	if schema.Type != "function" {
		t.Errorf("schema type = %q", schema.Type)
	}
	if schema.Function.Name != "mcp_alpha_echo" {
		t.Errorf("schema name = %q", schema.Function.Name)
	}
	if schema.Function.Description != "[alpha] test tool echo" {
		t.Errorf("schema description = %q", schema.Function.Description)
	}
	if schema.Function.Parameters == nil {
		t.Error("schema parameters missing")
	}
}

func TestCleanupAttemptsBothLayersAndSurfacesFirstError(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("pipe burst")
	var closes atomic.Int32
	dialer := newTestDialer(map[string]mcp.ToolHandler{"echo": staticHandler("hi")})
	dialer.wrap = func(inner mcp.Transport) mcp.Transport {
		return &brokenCloseTransport{inner: inner, closeErr: closeErr, closes: &closes}
	}
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if !conn.Connect(ctx) {
		t.Fatal("Connect failed")
	}

	err := conn.cleanup(ctx)
	if !errors.Is(err, closeErr) {
		t.Fatalf("cleanup error = %v, want %v", err, closeErr)
	}
	// Session teardown reaches the connection once, and the transport
	// close must still run after the session close failed.
	if got := closes.Load(); got < 2 {
		t.Fatalf("Close reached %d times, want at least 2", got)
	}
	if conn.Status() != StatusDisconnected {
		t.Fatalf("status after failed cleanup = %v, want disconnected", conn.Status())
	}
	if len(conn.Tools()) != 0 {
		t.Fatal("tool map not cleared after failed cleanup")
	}
}

func TestDisconnectReportsCleanupFailure(t *testing.T) {
	t.Parallel()

	var closes atomic.Int32
	dialer := newTestDialer(map[string]mcp.ToolHandler{"echo": staticHandler("hi")})
	dialer.wrap = func(inner mcp.Transport) mcp.Transport {
		return &brokenCloseTransport{inner: inner, closeErr: errors.New("pipe burst"), closes: &closes}
	}
	conn := newTestConnection("alpha", dialer)
	ctx := context.Background()

	if !conn.Connect(ctx) {
		t.Fatal("Connect failed")
	}
	if conn.Disconnect(ctx) {
		t.Fatal("Disconnect should report failure when teardown errors")
	}
	if conn.Status() != StatusDisconnected {
		t.Fatalf("status = %v, want disconnected even on teardown failure", conn.Status())
	}
	if len(conn.Tools()) != 0 {
		t.Fatal("tool map not cleared")
	}
}

func TestIsAlreadyClosed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{net.ErrClosed, true},
		{fmt.Errorf("write: %w", net.ErrClosed), true},
		{errors.New("connection closed"), true},
		{errors.New("close stdin: connection closed"), true},
		{errors.New("stream closed unexpectedly by peer"), false},
		{errors.New("pipe burst"), false},
	}
	for _, tc := range cases {
		if got := isAlreadyClosed(tc.err); got != tc.want {
			t.Errorf("isAlreadyClosed(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
