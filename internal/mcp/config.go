// Package mcp manages connections to Model Context Protocol servers.
// It provides the tool connection and dispatch core of bchat: per-server
// configuration with hot-reload, a supervised stdio subprocess per server,
// namespaced tool discovery, and a single dispatch surface aggregating
// every connected server.
package mcp

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerNameRegex validates MCP server names. Names must start with a
// letter and contain only letters, numbers, and hyphens. Underscores are
// excluded because the mcp_{server}_{tool} namespace splits on them.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,63}$`)

// ServerConfig is the launch descriptor for one external MCP server.
// Instances are immutable once loaded; a reload replaces the whole set.
type ServerConfig struct {
	// Name is the unique key for this server.
	Name string `yaml:"-"`

	// Command is the executable to run (e.g. "npx", "python").
	Command string `yaml:"command"`

	// Args are command-line arguments.
	Args []string `yaml:"args"`

	// Env contains environment overrides. Values of the form ${VAR} are
	// expanded against the process environment at resolve time.
	Env map[string]string `yaml:"env"`

	// Autoconnect connects this server automatically at startup and
	// after a reload.
	Autoconnect bool `yaml:"autoconnect"`

	// Description is a human-readable summary, shown in status output.
	Description string `yaml:"description"`
}

// Equal reports whether two configs are meaningfully identical.
// Description is excluded: changing it must not trigger a reconnect.
func (c *ServerConfig) Equal(other *ServerConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Command != other.Command || c.Autoconnect != other.Autoconnect {
		return false
	}
	if !slices.Equal(c.Args, other.Args) {
		return false
	}
	if len(c.Env) != len(other.Env) {
		return false
	}
	for k, v := range c.Env {
		if ov, ok := other.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Resolve expands ${VAR} env values against the process environment and
// merges the result over a copy of os.Environ(). Overrides win.
func (c *ServerConfig) Resolve() []string {
	expanded := make(map[string]string, len(c.Env))
	for key, value := range c.Env {
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			expanded[key] = os.Getenv(value[2 : len(value)-1])
		} else {
			expanded[key] = value
		}
	}

	env := os.Environ()
	for key, value := range expanded {
		env = append(env, key+"="+value)
	}
	return env
}

// Validate checks that the config describes a launchable server.
func (c *ServerConfig) Validate() error {
	if err := ValidateServerName(c.Name); err != nil {
		return err
	}
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

// ValidateServerName validates an MCP server name.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if strings.Contains(name, "_") {
		return fmt.Errorf("server name must not contain underscores: %s", name)
	}
	if !ServerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid server name %q: must start with a letter and contain only letters, numbers, and hyphens", name)
	}
	return nil
}

// configDocument is the on-disk shape of the server configuration file.
type configDocument struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
}

// LoadConfig reads the YAML server configuration at path. A missing file
// or malformed document degrades to an empty server set: the error is
// logged by the caller, never fatal. Individual invalid entries are
// skipped with a warning so one bad server cannot take out the rest.
func LoadConfig(path string, logger *slog.Logger) (map[string]*ServerConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("MCP config file not found", "path", path)
			return map[string]*ServerConfig{}, nil
		}
		return map[string]*ServerConfig{}, &ConfigError{Path: path, Reason: "cannot read config file", Cause: err}
	}

	var doc configDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return map[string]*ServerConfig{}, &ConfigError{Path: path, Reason: "cannot parse config file", Cause: err}
	}

	if doc.Servers == nil {
		logger.Warn("no servers defined in MCP config", "path", path)
		return map[string]*ServerConfig{}, nil
	}

	servers := make(map[string]*ServerConfig, len(doc.Servers))
	for name, cfg := range doc.Servers {
		if cfg == nil {
			logger.Warn("skipping invalid server config", "server", name)
			continue
		}
		cfg.Name = name
		if err := cfg.Validate(); err != nil {
			logger.Warn("skipping invalid server config", "server", name, "error", err)
			continue
		}
		servers[name] = cfg
	}

	logger.Info("loaded MCP server configurations", "count", len(servers), "path", path)
	return servers, nil
}
