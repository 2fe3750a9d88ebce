package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	DefaultNodeConfigPath = "node.yaml"
	nodeConfigPath        = DefaultNodeConfigPath
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft Interledger Node",
	Long: `Weft is a peer-to-peer interledger node.
Nodes peer with each other inside subnets, learn the topology through signed link state updates, and forward packets along the shortest paths while keeping a double-entry ledger of every peer relationship.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Weft",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "weft",
		Title: "Weft Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&nodeConfigPath, "node-config", "n", nodeConfigPath, "node config")
}
