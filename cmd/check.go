package cmd

import (
	"fmt"

	"github.com/encodeous/weft/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validates the node config and prints it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.LoadNodeCfg(nodeConfigPath)
		if err != nil {
			return err
		}
		// never print the private key
		cfg.Key = state.NodePrivateKey{}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println("Config is valid")
		for _, subnet := range cfg.Subnets {
			fmt.Printf("Address in %s: %s\n", subnet.Id, state.NodeAddress(cfg.AllocationScheme, subnet.Id, cfg.Id))
		}
		fmt.Println(string(out))
		return nil
	},
	SilenceUsage: true,
	GroupID:      "weft",
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
