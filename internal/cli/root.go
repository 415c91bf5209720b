// Package cli implements the macsim command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the macsim root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "macsim",
		Short:         "Run the MAC carrier scheduler against emulated collaborators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	return root
}
