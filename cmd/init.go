package cmd

import (
	"fmt"

	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a node configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := state.SegmentValidator(name); err != nil {
			return fmt.Errorf("invalid name %s: %w", name, err)
		}
		listen, _ := cmd.Flags().GetString("listen")
		url, _ := cmd.Flags().GetString("url")
		subnet, _ := cmd.Flags().GetString("subnet")
		dataPath, _ := cmd.Flags().GetString("data")

		nodeCfg := state.NodeCfg{
			Id:               state.NodeId(name),
			Key:              state.GenerateKey(),
			Realm:            state.RealmTest,
			AllocationScheme: string(state.RealmTest),
			Listen:           listen,
			Url:              url,
			DataPath:         dataPath,
			Subnets: []state.SubnetCfg{
				{
					Id:     state.SubnetId(subnet),
					Module: state.StubModule,
				},
			},
		}
		if err := state.NodeConfigValidator(&nodeCfg); err != nil {
			return err
		}

		outPath := cmd.Flag("output").Value.String()
		if err := state.SaveNodeCfg(outPath, &nodeCfg); err != nil {
			return err
		}
		pub, _ := nodeCfg.Key.Pubkey().MarshalText()
		fmt.Printf("Wrote %s, public key %s\n", outPath, pub)
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringP("output", "o", DefaultNodeConfigPath, "node config output file path")
	newCmd.Flags().StringP("listen", "l", "0.0.0.0:8443", "address to accept peer messages on")
	newCmd.Flags().StringP("url", "u", "http://127.0.0.1:8443", "url other nodes use to reach this node")
	newCmd.Flags().StringP("subnet", "s", "stub", "subnet to join")
	newCmd.Flags().StringP("data", "d", "data", "directory the ledger accounts are stored in")
}
