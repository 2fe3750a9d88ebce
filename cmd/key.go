package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var genKey = false

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Generates a new Weft Keypair. Outputs Private Key to stdout, Public Key to Stderr.",
	Long:  "Without --gen, the private key is read from stdin and only its public key is printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		privKey := state.NodePrivateKey{}
		if !genKey {
			in := bufio.NewReader(os.Stdin)
			ln, err := in.ReadString('\n')
			if err != nil {
				return err
			}
			if err := privKey.UnmarshalText([]byte(strings.TrimSpace(ln))); err != nil {
				return err
			}
		} else {
			privKey = state.GenerateKey()
			privKeyStr, err := privKey.MarshalText()
			if err != nil {
				return err
			}
			fmt.Println(string(privKeyStr))
		}

		pubKeyStr, err := privKey.Pubkey().MarshalText()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stderr, string(pubKeyStr))
		return err
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.Flags().BoolVarP(&genKey, "gen", "g", false, "Generate a new private key")
}
