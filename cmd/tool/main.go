package tool

import (
	"github.com/spf13/cobra"

	"github.com/terndb/tern/cmd/tool/wal"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified tool"
	toolExample   = "tern tool wal [flags]"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		SuggestFor: []string{"wal"},
		Example:    toolExample,
	}
)

func init() {
	Cmd.AddCommand(wal.Cmd)
}
