package cmd

import (
	"fmt"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/encodeous/weft/store"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Inspects the current state of a node started with --debug",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		result, err := core.InspectGet(cmd.Context(), addr)
		if err != nil {
			return err
		}
		fmt.Print(result)
		return nil
	},
	SilenceUsage: true,
	GroupID:      "weft",
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Lists the accounts and settlement schemes recorded in the data store of a stopped node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.LoadNodeCfg(nodeConfigPath)
		if err != nil {
			return err
		}
		if cfg.DataPath == "" {
			return fmt.Errorf("%s has no data_path", nodeConfigPath)
		}
		db, err := store.Open(cfg.DataPath)
		if err != nil {
			return err
		}
		defer db.Close()

		schemes, err := db.SettlementSchemes()
		if err != nil {
			return err
		}
		fmt.Println("Subnets:")
		for _, s := range schemes {
			fmt.Printf(" - %s: %s\n", s.V1, s.V2)
		}
		accounts, err := db.Accounts()
		if err != nil {
			return err
		}
		fmt.Println("Accounts:")
		for _, a := range accounts {
			fmt.Printf(" - %s (%s)\n", a.V1, a.V2)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringP("addr", "a", state.DebugAddr, "debug address of the node")

	inspectCmd.AddCommand(accountsCmd)
}
