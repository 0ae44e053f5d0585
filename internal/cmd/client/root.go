package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...client.Version=...".
var Version = "dev"

// NewRoot constructs a root Cobra command for the tether client.
// It registers the queue, events and version commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "tether",
		Short:        "tether client commands",
		SilenceUsage: true,
	}
	root.AddCommand(NewQueueCommand(baseURL))
	root.AddCommand(NewCacheCommand(baseURL))
	root.AddCommand(NewEventsCommand(baseURL))
	root.AddCommand(NewVersionCommand())
	return root
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tether", Version)
		},
	}
}
