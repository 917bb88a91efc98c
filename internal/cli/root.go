// Package cli wires the tessellate commands: serve runs the coordination
// server, import replays legacy session logs, init-keys manages API keys.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tessellate",
		Short:         "Coordination substrate for multi-agent workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newInitKeysCommand())
	return root
}
