package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// Not every flag of the root command applies to every subcommand, but
// moving them out of the root command would change how cobra parses the
// command line:
//
//	dapbridge --init cmds.txt serve
//
// must parse successfully even though the init flag is ignored by serve.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	// Merges the persistent flags of the parents into cmd.Flags().
	cmd.InheritedFlags()
	switch cmd.Name() {
	case "dapbridge", "help", "version", "doc", "log":
		hideAllFlags(cmd)
	case "serve":
		hideFlag(cmd, "init")
	case "attach":
		// All flags apply
	case "script":
		hideFlag(cmd, "init")
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
