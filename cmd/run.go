package cmd

import (
	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run weft",
	Long:  `This will run a weft node on the current host using the node config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		return core.Bootstrap(nodeConfigPath, logPath, verbose)
	},
	SilenceUsage: true,
	GroupID:      "weft",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringP("log", "l", "", "Also write logs to this file")
	runCmd.Flags().BoolVarP(&state.DBG_debug, "debug", "d", false, "Serve expvar, metrics and the state dump on "+state.DebugAddr)
	runCmd.Flags().BoolVar(&state.DBG_trace, "trace", false, "Write a runtime trace to trace.out")
	runCmd.Flags().BoolVarP(&state.DBG_log_route_table, "ltable", "t", false, "Outputs the route table to the console")
	runCmd.Flags().BoolVarP(&state.DBG_log_link_state, "llink", "k", false, "Outputs link state updates to the console")
}
