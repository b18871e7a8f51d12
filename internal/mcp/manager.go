package mcp

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ToolInfo is a discovered tool together with the server that owns it.
type ToolInfo struct {
	ToolDescriptor
	Server string
}

// ServerStatus is a point-in-time summary of one configured server.
type ServerStatus struct {
	Status      Status
	ToolCount   int
	Autoconnect bool
	Command     string
	Description string
}

// Manager supervises one Connection per configured server and routes
// namespaced tool calls to the owning connection. All methods are safe
// for concurrent use.
type Manager struct {
	logger *slog.Logger

	// dial overrides the transport for every connection; tests use
	// in-memory transports here. Nil means stdio.
	dial dialFunc

	mu      sync.RWMutex
	configs map[string]*ServerConfig
	conns   map[string]*Connection
}

// NewManager builds a Manager over the given server configurations.
func NewManager(configs map[string]*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if configs == nil {
		configs = map[string]*ServerConfig{}
	}
	return &Manager{
		logger:  logger,
		configs: configs,
		conns:   map[string]*Connection{},
	}
}

// connection returns the Connection for name, creating it on first use.
// Creation is keyed by name, so concurrent callers share one instance
// and its internal lock makes connect attempts idempotent.
func (m *Manager) connection(name string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[name]; ok {
		return conn, true
	}
	cfg, ok := m.configs[name]
	if !ok {
		return nil, false
	}
	conn := NewConnection(cfg, m.logger)
	if m.dial != nil {
		conn.dial = m.dial
	}
	m.conns[name] = conn
	return conn, true
}

// ConnectServer connects the named server, reporting success. Unknown
// names fail; an already-connected server is a successful no-op.
func (m *Manager) ConnectServer(ctx context.Context, name string) bool {
	conn, ok := m.connection(name)
	if !ok {
		m.logger.Error("unknown MCP server", "server", name)
		return false
	}
	return conn.Connect(ctx)
}

// DisconnectServer disconnects the named server. Unknown or never
// connected names are successful no-ops.
func (m *Manager) DisconnectServer(ctx context.Context, name string) bool {
	m.mu.RLock()
	conn, ok := m.conns[name]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("server not connected", "server", name)
		return true
	}
	return conn.Disconnect(ctx)
}

// ConnectAutoconnect connects every server marked autoconnect, in
// parallel. Individual failures are logged by the connection and do not
// stop the others; the return value is how many servers connected.
func (m *Manager) ConnectAutoconnect(ctx context.Context) int {
	m.mu.RLock()
	var names []string
	for name, cfg := range m.configs {
		if cfg.Autoconnect {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	count := 0
	for _, name := range names {
		g.Go(func() error {
			if m.ConnectServer(gctx, name) {
				mu.Lock()
				count++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return count
}

// ReloadConfig diffs the new configuration against the current one:
// removed servers are disconnected and dropped, added or changed
// autoconnect servers are (re)connected, and untouched entries keep
// their live connections. Description-only edits do not count as
// changes, and a changed server that is not flagged autoconnect keeps
// whatever connection it has; the new config applies on its next
// manual connect.
func (m *Manager) ReloadConfig(ctx context.Context, configs map[string]*ServerConfig) {
	if configs == nil {
		configs = map[string]*ServerConfig{}
	}

	m.mu.Lock()
	var drop, reconnect []string
	for name, old := range m.configs {
		next, ok := configs[name]
		if !ok {
			drop = append(drop, name)
			continue
		}
		if !old.Equal(next) && next.Autoconnect {
			reconnect = append(reconnect, name)
		}
	}
	for name, cfg := range configs {
		if _, ok := m.configs[name]; !ok && cfg.Autoconnect {
			reconnect = append(reconnect, name)
		}
	}

	dropConns := make(map[string]*Connection, len(drop))
	for _, name := range drop {
		if conn, ok := m.conns[name]; ok {
			dropConns[name] = conn
			delete(m.conns, name)
		}
	}
	staleConns := make(map[string]*Connection, len(reconnect))
	for _, name := range reconnect {
		if conn, ok := m.conns[name]; ok {
			staleConns[name] = conn
			delete(m.conns, name)
		}
	}
	m.configs = configs
	m.mu.Unlock()

	for name, conn := range dropConns {
		if conn.Connected() {
			m.logger.Info("server removed from configuration", "server", name)
			conn.Disconnect(ctx)
		}
	}
	for name, conn := range staleConns {
		if conn.Connected() {
			m.logger.Info("server configuration changed, reconnecting", "server", name)
			conn.Disconnect(ctx)
		}
	}
	for _, name := range reconnect {
		m.mu.RLock()
		cfg, ok := m.configs[name]
		m.mu.RUnlock()
		if ok && cfg.Autoconnect {
			m.ConnectServer(ctx, name)
		}
	}
}

// Close disconnects every server. It is the shutdown counterpart of
// ConnectAutoconnect and safe to call more than once.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if conn.Connected() {
			conn.Disconnect(ctx)
		}
	}
}

// ConnectedServers returns the names of currently connected servers in
// sorted order.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, conn := range m.conns {
		if conn.Connected() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Status summarizes every configured server, connected or not.
func (m *Manager) Status() map[string]ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]ServerStatus, len(m.configs))
	for name, cfg := range m.configs {
		st := ServerStatus{
			Status:      StatusDisconnected,
			Autoconnect: cfg.Autoconnect,
			Command:     cfg.Command,
			Description: cfg.Description,
		}
		if conn, ok := m.conns[name]; ok {
			st.Status = conn.Status()
			st.ToolCount = conn.ToolCount()
		}
		statuses[name] = st
	}
	return statuses
}

// AllTools returns every discovered tool keyed by namespaced name,
// optionally restricted to one server.
func (m *Manager) AllTools(serverFilter string) map[string]ToolInfo {
	m.mu.RLock()
	conns := make(map[string]*Connection, len(m.conns))
	for name, conn := range m.conns {
		conns[name] = conn
	}
	m.mu.RUnlock()

	tools := map[string]ToolInfo{}
	for server, conn := range conns {
		if serverFilter != "" && server != serverFilter {
			continue
		}
		for namespaced, desc := range conn.Tools() {
			tools[namespaced] = ToolInfo{ToolDescriptor: desc, Server: server}
		}
	}
	return tools
}

// ToolSchemas returns function-calling schemas for every discovered
// tool across all connected servers, ordered by server name.
func (m *Manager) ToolSchemas() []ToolSchema {
	m.mu.RLock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	conns := make(map[string]*Connection, len(m.conns))
	for name, conn := range m.conns {
		conns[name] = conn
	}
	m.mu.RUnlock()

	sort.Strings(names)
	var schemas []ToolSchema
	for _, name := range names {
		schemas = append(schemas, conns[name].ToolSchemas()...)
	}
	return schemas
}

// CallTool routes a namespaced call to the owning server. A name that
// does not follow the mcp_{server}_{tool} form is a programmer error
// reported as *ToolNameError; dispatch to a server that is not
// connected yields *NotConnectedError. Failures inside the tool itself
// come back as an "Error: ..." result string with a nil error.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	server, _, err := SplitToolName(name)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	conn, ok := m.conns[server]
	m.mu.RUnlock()
	if !ok {
		return "", &NotConnectedError{Server: server}
	}
	return conn.CallTool(ctx, name, args)
}

// SplitToolName decomposes a namespaced tool name into its server and
// tool parts. Server names never contain underscores, so the first
// underscore after the prefix is the separator.
func SplitToolName(name string) (server, tool string, err error) {
	if !strings.HasPrefix(name, ToolNamespacePrefix) {
		return "", "", &ToolNameError{Name: name, Reason: "missing mcp_ prefix"}
	}
	rest := strings.TrimPrefix(name, ToolNamespacePrefix)
	server, tool, found := strings.Cut(rest, "_")
	if !found || server == "" || tool == "" {
		return "", "", &ToolNameError{Name: name, Reason: "want mcp_{server}_{tool}"}
	}
	return server, tool, nil
}
