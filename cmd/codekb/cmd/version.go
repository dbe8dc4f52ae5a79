package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codekb/codekb/internal/output"
	"github.com/codekb/codekb/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		Run: func(cmd *cobra.Command, _ []string) {
			output.New(cmd.OutOrStdout()).Println(version.String())
		},
	}
}
