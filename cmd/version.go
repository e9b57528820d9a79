package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version and CommitSHA can be set via:
// -ldflags="-X 'github.com/llamacompass/compass/cmd.Version=$TAG' -X 'github.com/llamacompass/compass/cmd.CommitSHA=$SHA'"
var (
	Version   string
	CommitSHA string
)

func init() {
	i, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" {
		Version = i.Main.Version
	}
	if CommitSHA == "" {
		for _, s := range i.Settings {
			if s.Key == "vcs.revision" {
				CommitSHA = s.Value
			}
		}
	}
}

func versionJSON() string {
	return fmt.Sprintf(`{"version": "%s", "commit": "%s"}`, Version, CommitSHA)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionJSON())
		},
	}
}
