package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mezonai/msig/account"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/syncer"
	"github.com/mezonai/msig/types"
)

var (
	accountChain       string
	accountName        string
	accountThreshold   int
	accountMembers     []string
	accountAddressType string
	accountAddress     string
	accountInitiator   string

	deployFee      string
	deployPayer    string
	deployPassword string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Multisig account management commands",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a multisig account and invite its members",
	Long: `Create a multisig account. Members are given as name:address:uid[:pubkey];
members whose keys live in the local keystore are confirmed right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(accountChain)
		if err != nil {
			return err
		}
		members, err := parseMembers(accountMembers)
		if err != nil {
			return err
		}
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.accounts.CreateAccount(cmd.Context(), &account.CreateRequest{
			Name:          accountName,
			ChainCode:     code,
			Threshold:     accountThreshold,
			Members:       members,
			AddressType:   accountAddressType,
			Address:       accountAddress,
			InitiatorAddr: accountInitiator,
		})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List multisig accounts of a chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(accountChain)
		if err != nil {
			return err
		}
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		accounts, err := w.accounts.ListAccounts(code)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("(empty)")
			return nil
		}
		for _, a := range accounts {
			fmt.Printf("%s\t%s\t%d/%d\t%s\t%s\n", a.ID, a.Name, a.Threshold, a.MemberNum, a.Status, a.Address)
		}
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Show an account with its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.accounts.GetAccount(args[0])
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var accountConfirmCmd = &cobra.Command{
	Use:   "confirm <account-id>",
	Short: "Confirm participation with every local member key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.accounts.ConfirmParticipation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var accountDeployCmd = &cobra.Command{
	Use:   "deploy <account-id>",
	Short: "Deploy a confirmed account on chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.accounts.Deploy(cmd.Context(), args[0], &account.DeployRequest{
			Fee:      deployFee,
			Payer:    deployPayer,
			Password: password(deployPassword),
		})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var accountCancelCmd = &cobra.Command{
	Use:   "cancel <account-id>",
	Short: "Cancel an account that is not deployed yet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.accounts.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", data.Account.ID, data.Account.Status)
		return nil
	},
}

var accountRenameCmd = &cobra.Command{
	Use:   "rename <account-id> <name>",
	Short: "Rename an account locally",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		if _, err := w.accounts.Rename(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var accountFeeCmd = &cobra.Command{
	Use:   "fee",
	Short: "Show the service fee for deploying on a chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(accountChain)
		if err != nil {
			return err
		}
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		fee, err := w.accounts.ServiceFee(cmd.Context(), code)
		if err != nil {
			return err
		}
		return printJSON(fee)
	},
}

var accountDepositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Show the address service fees are paid to",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseChain(accountChain)
		if err != nil {
			return err
		}
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		addr, err := w.accounts.DepositAddress(cmd.Context(), code)
		if err != nil {
			return err
		}
		return printJSON(addr)
	},
}

var accountRecoverCmd = &cobra.Command{
	Use:   "recover [account-id]",
	Short: "Pull accounts of the local uids from the backend",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		sync, err := syncer.New(syncer.Options{
			Accounts: w.accounts,
			Queues:   w.queues,
			Backend:  w.backend,
			UIDs:     w.cfg.UIDs,
		})
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		n, err := sync.RecoverAccount(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("restored %d account(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd, accountListCmd, accountShowCmd, accountConfirmCmd,
		accountDeployCmd, accountCancelCmd, accountRenameCmd, accountFeeCmd, accountDepositCmd, accountRecoverCmd)

	for _, c := range []*cobra.Command{accountCreateCmd, accountListCmd, accountFeeCmd, accountDepositCmd} {
		c.Flags().StringVar(&accountChain, "chain", "", "Chain code, e.g. eth, btc, tron, sol")
		_ = c.MarkFlagRequired("chain")
	}

	accountCreateCmd.Flags().StringVar(&accountName, "name", "", "Account name")
	accountCreateCmd.Flags().IntVar(&accountThreshold, "threshold", 0, "Signatures required to execute a transaction")
	accountCreateCmd.Flags().StringArrayVar(&accountMembers, "member", nil, "Member as name:address:uid[:pubkey], repeatable")
	accountCreateCmd.Flags().StringVar(&accountAddressType, "address-type", "", "p2sh or p2wsh on Bitcoin-like chains")
	accountCreateCmd.Flags().StringVar(&accountAddress, "address", "", "Existing Tron account to convert")
	accountCreateCmd.Flags().StringVar(&accountInitiator, "initiator", "", "Local member address that pays for deployment")
	_ = accountCreateCmd.MarkFlagRequired("threshold")

	accountDeployCmd.Flags().StringVar(&deployFee, "fee", "", "Chain specific fee override")
	accountDeployCmd.Flags().StringVar(&deployPayer, "payer", "", "Local member paying the deployment, defaults to the initiator")
	accountDeployCmd.Flags().StringVar(&deployPassword, "password", "", "Keystore password, defaults to $"+passwordEnv)
}

func parseChain(s string) (types.ChainCode, error) {
	code, ok := types.ParseChainCode(s)
	if !ok {
		return "", fmt.Errorf("unknown chain code %q", s)
	}
	return code, nil
}

// parseMembers reads name:address:uid[:pubkey] values.
func parseMembers(values []string) ([]account.MemberInput, error) {
	members := make([]account.MemberInput, 0, len(values))
	for _, v := range values {
		parts := strings.SplitN(v, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("member %q must be name:address:uid[:pubkey]", v)
		}
		m := account.MemberInput{
			Name:    strings.TrimSpace(parts[0]),
			Address: strings.TrimSpace(parts[1]),
			UID:     strings.TrimSpace(parts[2]),
		}
		if len(parts) == 4 {
			m.Pubkey = strings.TrimSpace(parts[3])
		}
		members = append(members, m)
	}
	return members, nil
}

func printJSON(v interface{}) error {
	enc := jsonx.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
