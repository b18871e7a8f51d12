package mcp

import "fmt"

// ConfigError represents a problem with the server configuration document.
// Configuration problems are logged and degrade to an empty server set;
// they are never fatal.
type ConfigError struct {
	// Path is the configuration file that failed to load.
	Path string

	// Reason explains what is wrong with the configuration.
	Reason string

	// Cause is the underlying error (e.g. read error, parse error).
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config error at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error { return e.Cause }

// ToolNameError reports a namespaced tool name that does not follow the
// mcp_{server}_{tool} format. A malformed name is a programmer error,
// not an operational one, which is why it crosses the Manager's dispatch
// boundary as a structured error rather than a result string.
type ToolNameError struct {
	// Name is the offending tool name.
	Name string

	// Reason explains why the name is invalid.
	Reason string
}

// Error implements the error interface.
func (e *ToolNameError) Error() string {
	return fmt.Sprintf("invalid MCP tool name %q: %s", e.Name, e.Reason)
}

// NotConnectedError reports a dispatch against a server with no live
// connection.
type NotConnectedError struct {
	// Server is the server name parsed from the tool name.
	Server string
}

// Error implements the error interface.
func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("server %q not connected", e.Server)
}
