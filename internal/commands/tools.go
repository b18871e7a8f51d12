package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newToolsCommand creates the 'bchat tools' command.
func newToolsCommand(opts *options) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Long: `Connect to autoconnect servers (or one named server) and list every
available tool: built-in local tools plus discovered remote tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, reg, _ := opts.setup()
			ctx := cmd.Context()
			defer manager.Close(context.WithoutCancel(ctx))

			if server != "" {
				if !manager.ConnectServer(ctx, server) {
					return fmt.Errorf("failed to connect to server %q", server)
				}
			} else {
				manager.ConnectAutoconnect(ctx)
			}

			names := reg.ListTools(server)
			if len(names) == 0 {
				fmt.Println("No tools available.")
				return nil
			}

			all := reg.AllTools()
			for _, name := range names {
				entry := all[name]
				origin := "local"
				if entry.Type == "remote" {
					origin = entry.Server
				}
				fmt.Printf("%s\t(%s)\n", name, origin)
				if entry.Description != "" {
					fmt.Printf("    %s\n", entry.Description)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "list tools from one server only")
	return cmd
}
