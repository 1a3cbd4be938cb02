package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mezonai/msig/queue"
	"github.com/mezonai/msig/types"
)

var (
	proposeAccount    string
	proposeTo         string
	proposeValue      string
	proposeSymbol     string
	proposeToken      string
	proposeNotes      string
	proposeExpiration int
	proposePermission string

	queueStatuses []string
	queuePassword string
	executeFee    string
	executeBy     string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Multisig transaction queue commands",
}

var queueProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a transfer from a deployed account",
	Long: `Propose a transfer from a deployed multisig account. With a password every
local member signs right away; the proposal is sent to the other members.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.queues.Propose(cmd.Context(), &queue.ProposeRequest{
			AccountID:       proposeAccount,
			To:              proposeTo,
			Value:           proposeValue,
			Symbol:          proposeSymbol,
			TokenAddr:       proposeToken,
			Notes:           proposeNotes,
			ExpirationHours: proposeExpiration,
			Password:        password(queuePassword),
			PermissionID:    proposePermission,
		})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list [account-id]",
	Short: "List queue entries of an account, or across accounts by status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := parseQueueStatuses(queueStatuses)
		if err != nil {
			return err
		}
		if len(args) == 0 && len(statuses) == 0 {
			return fmt.Errorf("give an account id or at least one --status")
		}
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		var entries []*types.MultisigQueueEntry
		if len(args) == 1 {
			entries, err = w.queues.ListQueues(args[0])
		} else {
			entries, err = w.queues.ListQueuesByStatus(statuses...)
		}
		if err != nil {
			return err
		}
		printed := 0
		for _, q := range entries {
			if len(args) == 1 && len(statuses) > 0 && !containsStatus(statuses, q.Status) {
				continue
			}
			fmt.Printf("%s\t%s\t%s %s\t-> %s\t%s\t%s\n", q.ID, q.ChainCode, q.Value, q.Symbol, q.ToAddr, q.Status, q.TxHash)
			printed++
		}
		if printed == 0 {
			fmt.Println("(empty)")
		}
		return nil
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <queue-id>",
	Short: "Show a queue entry with its signatures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.queues.GetQueue(args[0])
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var queueSignCmd = &cobra.Command{
	Use:   "sign <queue-id>",
	Short: "Sign a queue entry with every local member key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.queues.Sign(cmd.Context(), args[0], password(queuePassword))
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <queue-id>",
	Short: "Reject a queue entry for every local member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.queues.Reject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var queueExecuteCmd = &cobra.Command{
	Use:   "execute <queue-id>",
	Short: "Broadcast a signable queue entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.queues.Execute(cmd.Context(), args[0], &queue.ExecuteRequest{
			Password: password(queuePassword),
			Fee:      executeFee,
			Executor: executeBy,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", data.Queue.ID, data.Queue.Status, data.Queue.TxHash)
		return nil
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <queue-id>",
	Short: "Cancel a queue entry that has not been submitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		data, err := w.queues.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", data.Queue.ID, data.Queue.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueProposeCmd, queueListCmd, queueShowCmd, queueSignCmd,
		queueRejectCmd, queueExecuteCmd, queueCancelCmd)

	queueProposeCmd.Flags().StringVar(&proposeAccount, "account", "", "Multisig account id")
	queueProposeCmd.Flags().StringVar(&proposeTo, "to", "", "Recipient address")
	queueProposeCmd.Flags().StringVar(&proposeValue, "value", "", "Amount in human units, e.g. 1.5")
	queueProposeCmd.Flags().StringVar(&proposeSymbol, "symbol", "", "Asset symbol, defaults to the native coin")
	queueProposeCmd.Flags().StringVar(&proposeToken, "token", "", "Token contract or mint address")
	queueProposeCmd.Flags().StringVar(&proposeNotes, "notes", "", "Free text shown to the other members")
	queueProposeCmd.Flags().IntVar(&proposeExpiration, "expiration-hours", 0, "Hours until the proposal expires, 0 for the default")
	queueProposeCmd.Flags().StringVar(&proposePermission, "permission", "", "Tron permission id to sign under")
	_ = queueProposeCmd.MarkFlagRequired("account")
	_ = queueProposeCmd.MarkFlagRequired("to")
	_ = queueProposeCmd.MarkFlagRequired("value")

	queueListCmd.Flags().StringSliceVar(&queueStatuses, "status", nil, "Filter by status, e.g. signable,submitted")

	for _, c := range []*cobra.Command{queueProposeCmd, queueSignCmd, queueExecuteCmd} {
		c.Flags().StringVar(&queuePassword, "password", "", "Keystore password, defaults to $"+passwordEnv)
	}
	queueExecuteCmd.Flags().StringVar(&executeFee, "fee", "", "Chain specific fee override")
	queueExecuteCmd.Flags().StringVar(&executeBy, "executor", "", "Local member paying the network fee")
}

func parseQueueStatuses(names []string) ([]types.QueueStatus, error) {
	var out []types.QueueStatus
	for _, name := range names {
		found := false
		for s := types.QueuePendingSignature; s <= types.QueueExpired; s++ {
			if s.String() == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown queue status %q", name)
		}
	}
	return out, nil
}

func containsStatus(statuses []types.QueueStatus, s types.QueueStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
