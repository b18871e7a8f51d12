// Package commands implements the bchat command line interface: status
// inspection, tool listing, one-shot tool invocation, and a supervised
// mode that keeps connections alive under configuration hot-reload.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bchat-ai/bchat/internal/log"
	"github.com/bchat-ai/bchat/internal/mcp"
	"github.com/bchat-ai/bchat/internal/registry"
)

// DefaultConfigPath is where server definitions are read from unless
// --config overrides it.
const DefaultConfigPath = "mcp_servers.yaml"

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	noTools    bool
}

// NewRootCommand builds the bchat root command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "bchat",
		Short: "MCP tool connection and dispatch core",
		Long: `bchat supervises MCP tool servers declared in a YAML configuration,
discovers the tools they expose, and merges them with a set of built-in
local tools behind one invocation surface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", DefaultConfigPath, "MCP server configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	cmd.PersistentFlags().BoolVar(&opts.noTools, "no-tools", false, "disable all tools")

	cmd.AddCommand(newServersCommand(opts))
	cmd.AddCommand(newToolsCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// logger builds the process logger from environment defaults overridden
// by the command line, and installs it as the slog default.
func (o *options) logger() *slog.Logger {
	cfg := log.FromEnv()
	if o.logLevel != "" {
		cfg.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Format = log.Format(o.logFormat)
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}

// setup loads configuration and wires the manager and registry. A bad
// configuration file degrades to an empty server set rather than
// failing the command.
func (o *options) setup() (*mcp.Manager, *registry.Registry, *slog.Logger) {
	logger := o.logger()

	configs, err := mcp.LoadConfig(o.configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "path", o.configPath, "error", err)
	}

	manager := mcp.NewManager(configs, logger)
	reg := registry.New(manager, logger, !o.noTools)
	return manager, reg, logger
}
