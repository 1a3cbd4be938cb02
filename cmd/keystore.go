package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/keystore"
)

var (
	keyChain      string
	keyPassword   string
	keyBase58     bool
	keyMnemonic   string
	keyPassphrase string
	keyIndex      uint32
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Local key management commands",
}

var importKeyCmd = &cobra.Command{
	Use:   "import-key <private-key>",
	Short: "Import a raw private key, hex or base58 encoded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(keyChain)
		if err != nil {
			return err
		}
		key, err := decodePrivateKey(args[0], keyBase58)
		if err != nil {
			return err
		}
		w, err := openKeys(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		addr, err := w.keys.ImportPrivateKey(code, key, password(keyPassword))
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var importMnemonicCmd = &cobra.Command{
	Use:   "import-mnemonic",
	Short: "Derive and import a key from a BIP-39 mnemonic",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(keyChain)
		if err != nil {
			return err
		}
		w, err := openKeys(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		addr, err := w.keys.ImportMnemonic(code, strings.TrimSpace(keyMnemonic), keyPassphrase, keyIndex, password(keyPassword))
		if err != nil {
			return err
		}
		path, _ := keystore.DerivationPath(code, keyIndex)
		fmt.Printf("%s\t%s\n", addr, path)
		return nil
	},
}

var newMnemonicCmd = &cobra.Command{
	Use:   "new-mnemonic",
	Short: "Print a fresh 12 word mnemonic",
	RunE: func(cmd *cobra.Command, args []string) error {
		mnemonic, err := keystore.NewMnemonic()
		if err != nil {
			return err
		}
		fmt.Println(mnemonic)
		return nil
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "list",
	Short: "List the keys of a chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(keyChain)
		if err != nil {
			return err
		}
		w, err := openKeys(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		entries, err := w.keys.List(code)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("(empty)")
			return nil
		}
		for _, e := range entries {
			created := time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339)
			fmt.Printf("%s\t%s\t%s\t%s\n", e.Address, e.Source, e.Path, created)
		}
		return nil
	},
}

var deleteKeyCmd = &cobra.Command{
	Use:   "delete <address>",
	Short: "Delete a key, the password must unlock it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(keyChain)
		if err != nil {
			return err
		}
		w, err := openKeys(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		if err := w.keys.Delete(code, args[0], password(keyPassword)); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.AddCommand(importKeyCmd, importMnemonicCmd, newMnemonicCmd, listKeysCmd, deleteKeyCmd)

	for _, c := range []*cobra.Command{importKeyCmd, importMnemonicCmd, listKeysCmd, deleteKeyCmd} {
		c.Flags().StringVar(&keyChain, "chain", "", "Chain code, e.g. eth, btc, tron, sol")
		_ = c.MarkFlagRequired("chain")
	}
	for _, c := range []*cobra.Command{importKeyCmd, importMnemonicCmd, deleteKeyCmd} {
		c.Flags().StringVar(&keyPassword, "password", "", "Keystore password, defaults to $"+passwordEnv)
	}
	importKeyCmd.Flags().BoolVar(&keyBase58, "base58", false, "The key is base58 encoded")
	importMnemonicCmd.Flags().StringVar(&keyMnemonic, "mnemonic", "", "BIP-39 mnemonic")
	importMnemonicCmd.Flags().StringVar(&keyPassphrase, "passphrase", "", "Optional BIP-39 passphrase")
	importMnemonicCmd.Flags().Uint32Var(&keyIndex, "index", 0, "Account index in the derivation path")
	_ = importMnemonicCmd.MarkFlagRequired("mnemonic")
}

func decodePrivateKey(s string, isBase58 bool) (chain.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if isBase58 {
		raw, err := base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base58 private key: %w", err)
		}
		return raw, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex private key: %w", err)
	}
	return raw, nil
}
