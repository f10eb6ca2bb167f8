package genericclioptions

import (
	"github.com/spf13/cobra"
)

// MarkFlagsHidden hides the given inherited flags from a subcommand's help
// output without detaching them from the command tree.
func MarkFlagsHidden(sub *cobra.Command, hidden ...string) {
	f := sub.HelpFunc()
	sub.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		for _, n := range hidden {
			flag := cmd.Flags().Lookup(n)
			if flag != nil {
				flag.Hidden = true
			}
		}

		f(cmd, args)
	})
}
