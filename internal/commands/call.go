package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bchat-ai/bchat/internal/mcp"
)

// newCallCommand creates the 'bchat call' command.
func newCallCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call NAME [ARGS_JSON]",
		Short: "Invoke a tool by name",
		Long: `Invoke a local or remote tool and print its result. Remote tools use
their namespaced name; the owning server is connected on demand.

Examples:
  bchat call calculator '{"expression": "2 + 2"}'
  bchat call get_datetime
  bchat call mcp_github_search_issues '{"query": "is:open"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, reg, logger := opts.setup()
			ctx := cmd.Context()
			defer manager.Close(context.WithoutCancel(ctx))

			name := args[0]
			argsJSON := ""
			if len(args) > 1 {
				argsJSON = args[1]
			}

			if strings.HasPrefix(name, mcp.ToolNamespacePrefix) {
				server, _, err := mcp.SplitToolName(name)
				if err != nil {
					return err
				}
				if !manager.ConnectServer(ctx, server) {
					return fmt.Errorf("failed to connect to server %q", server)
				}
				logger.Debug("connected for tool call", "server", server, "tool", name)
			}

			fmt.Println(reg.ExecuteTool(ctx, name, argsJSON))
			return nil
		},
	}
}
