package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"shieldedpool/internal/artifacts"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupCmd() *cobra.Command {
	var out string
	var depth int
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the withdraw circuit and write development keys",
		Long: "Runs a single-party Groth16 setup. The resulting keys are only fit for " +
			"development and tests; production keys come from a ceremony.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return errors.New("refusing to generate single-party keys in production")
			}
			if depth == 0 {
				depth = cfg.Tree.Depth
			}
			if out == "" {
				out = cfg.Artifacts.Dir
			}
			a, err := artifacts.Setup(cfg.Artifacts.Circuit, withdraw.NewCircuit(depth))
			if err != nil {
				return err
			}
			if err := artifacts.Save(out, cfg.Artifacts.Circuit, a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s artifacts for depth %d to %s (%d constraints)\n",
				cfg.Artifacts.Circuit, depth, out, a.CCS.GetNbConstraints())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output directory (default: artifacts.dir)")
	cmd.Flags().IntVar(&depth, "depth", 0, "tree depth (default: tree.depth)")
	return cmd
}

func walletPath(a *app) string {
	return a.cfg.WalletPath
}

func loadWallet(a *app) (*zerocash.Wallet, error) {
	return zerocash.LoadOrCreateWallet(walletPath(a), filepath.Base(walletPath(a)))
}

func depositCmd() *cobra.Command {
	var token, amount string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit into a pool and store the note in the wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := loadWallet(a)
			if err != nil {
				return err
			}
			encoded, note, err := a.engine.Deposit(cmd.Context(), token, amt)
			if err != nil {
				return err
			}
			idx, err := w.AddNote(encoded)
			if err != nil {
				return err
			}
			if err := w.Save(walletPath(a)); err != nil {
				// The note only exists in this process now; print it so it is not lost.
				fmt.Fprintln(cmd.ErrOrStderr(), "WALLET SAVE FAILED, keep this note:", encoded)
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"walletIndex": idx,
				"leafIndex":   *note.LeafIndex,
				"commitment":  note.Commitment.Hex(),
				"note":        encoded,
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "ETH", "pool token")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token units")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func withdrawCmd() *cobra.Command {
	var (
		note, recipient, relayer, fee, refund string
		index                                 int
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Prove and submit a withdrawal for a wallet note",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(recipient) {
				return errors.Errorf("recipient %q is not an address", recipient)
			}
			req := pool.WithdrawRequest{Recipient: common.HexToAddress(recipient)}
			if relayer != "" {
				if !common.IsHexAddress(relayer) {
					return errors.Errorf("relayer %q is not an address", relayer)
				}
				req.Relayer = common.HexToAddress(relayer)
			}
			var err error
			if req.Fee, err = decimal.NewFromString(fee); err != nil {
				return errors.Wrap(err, "fee")
			}
			if req.Refund, err = decimal.NewFromString(refund); err != nil {
				return errors.Wrap(err, "refund")
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			w, err := loadWallet(a)
			if err != nil {
				return err
			}
			switch {
			case note != "":
				req.EncodedNote = note
				index = -1
			case index >= 0 && index < len(w.Entries):
				req.EncodedNote = w.Entries[index].Encoded
			default:
				return errors.Errorf("no note given and wallet has no entry %d", index)
			}

			res, err := a.engine.Withdraw(cmd.Context(), req)
			if err != nil {
				return err
			}
			if index >= 0 {
				if err := w.MarkNoteAsSpent(index, res.TxID); err != nil {
					return err
				}
				if err := w.Save(walletPath(a)); err != nil {
					return err
				}
			}
			return printJSON(cmd, map[string]interface{}{
				"requestId":     res.RequestID,
				"txId":          res.TxID,
				"nullifierHash": res.NullifierHash.Hex(),
				"mode":          res.Mode,
				"verified":      res.Verified,
				"proof":         hexutil.Encode(res.SerializedProof),
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "encoded note (instead of --index)")
	cmd.Flags().IntVar(&index, "index", 0, "wallet entry to spend")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&relayer, "relayer", "", "relayer address")
	cmd.Flags().StringVar(&fee, "fee", "0", "relayer fee in token units")
	cmd.Flags().StringVar(&refund, "refund", "0", "refund in token units")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func verifyNoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-note <note>",
		Short: "Check that an encoded note is well formed and consistent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			ok, err := a.engine.VerifyNote(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"valid": ok})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [token]",
		Short: "Print pool statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if len(args) == 1 {
				st, err := a.engine.PoolStats(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			}
			return printJSON(cmd, a.engine.Pools())
		},
	}
}

func walletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "List wallet notes, flagging those already spent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			w, err := loadWallet(a)
			if err != nil {
				return err
			}
			n := 0
			for _, l := range a.spent {
				n += w.CheckNoteStatusAgainstLedger(l)
			}
			if n > 0 {
				if err := w.Save(walletPath(a)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d notes newly marked spent\n", n)
			}
			type row struct {
				Index  int    `json:"index"`
				Token  string `json:"token"`
				Amount string `json:"amount"`
				Spent  bool   `json:"spent"`
				TxID   string `json:"txId,omitempty"`
			}
			rows := make([]row, 0, len(w.Entries))
			for i, e := range w.Entries {
				rows = append(rows, row{i, e.Token, e.Amount, e.Spent, e.TxID})
			}
			return printJSON(cmd, rows)
		},
	}
}
