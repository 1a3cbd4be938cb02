package cmd

import (
	"os"

	"github.com/mezonai/msig/logx"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/wallet.yml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "msig",
	Short: "Multi-chain multisig wallet",
	Long: `Command line interface for the multisig wallet daemon: create and deploy
multisig accounts, propose, sign and execute transactions across chains.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the wallet YAML config")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
