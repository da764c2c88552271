// Command poold runs shielded pools: an HTTP daemon plus local commands for
// deposits, withdrawals and development artifacts.
//
// Usage:
//
//	poold setup --out artifacts          # dev proving/verifying keys
//	poold serve                          # HTTP API
//	poold deposit --token ETH --amount 1 # note goes to the wallet file
//	poold withdraw --index 0 --recipient 0x...
//
// The local commands open the same store as serve; stop the daemon first.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "poold",
		Short:         "Shielded pool daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "poold.yaml", "config file (created with defaults if missing)")
	root.AddCommand(
		serveCmd(),
		setupCmd(),
		depositCmd(),
		withdrawCmd(),
		verifyNoteCmd(),
		statsCmd(),
		walletCmd(),
	)
	return root
}
