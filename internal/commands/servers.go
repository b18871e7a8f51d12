package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// newServersCommand creates the 'bchat servers' command.
func newServersCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Show configured MCP servers",
		Long: `Show every server in the configuration file with its autoconnect
flag and description. No connections are made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, _ := opts.setup()

			statuses := manager.Status()
			if len(statuses) == 0 {
				fmt.Println("No MCP servers configured.")
				return nil
			}

			names := make([]string, 0, len(statuses))
			for name := range statuses {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				st := statuses[name]
				marker := " "
				if st.Autoconnect {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\t%s\n", marker, name, st.Status, st.Command)
				if st.Description != "" {
					fmt.Printf("    %s\n", st.Description)
				}
			}
			fmt.Println("\n* autoconnect")
			return nil
		},
	}
}
