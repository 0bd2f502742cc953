package cmds

import (
	"github.com/spf13/cobra"
)

func AddCommands(root *cobra.Command) error {
	root.AddCommand(newBootCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newStopCmd())
	return nil
}
