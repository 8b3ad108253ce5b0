package main

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/proofflow/proofflow"
)

// usdfcDecimals is assumed when formatting amounts without a balance read.
const usdfcDecimals = 18

func registerPreflight(parent *cobra.Command) {
	var (
		size       int64
		newDataSet bool
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check allowances for an upload and top them up when short",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			pf, err := proofflow.NewPreflighter(a.cfg.Storage, proofflow.WithMeter(a.meter))
			if err != nil {
				return err
			}
			req := proofflow.PreflightRequest{SizeBytes: size, IncludeDataSetCreationFee: newDataSet}
			out := printer{cmd}

			if dryRun {
				s, err := pf.Check(ctx, c, req)
				if err != nil {
					return err
				}
				printSufficiency(out, s)
				return nil
			}

			res, err := pf.Preflight(ctx, c, req, statusObserver(cmd))
			if err != nil {
				return err
			}
			printSufficiency(out, res.Sufficiency)
			if res.Deposited.Sign() > 0 {
				out.Printf("deposited:            %s USDFC (tx %s)\n",
					proofflow.FormatTokenAmount(res.Deposited, usdfcDecimals), res.DepositTx.Hex())
			}
			if res.ApprovalTx != (common.Hash{}) {
				out.Printf("approval tx:          %s\n", res.ApprovalTx.Hex())
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&size, "size", 0, "size of the upload in bytes")
	cmd.Flags().BoolVar(&newDataSet, "new-dataset", false, "include the data set creation fee")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report sufficiency, issue no transactions")
	_ = cmd.MarkFlagRequired("size")
	parent.AddCommand(cmd)
}

func printSufficiency(out printer, s proofflow.Sufficiency) {
	days := "unlimited"
	if !math.IsInf(s.PersistenceDaysLeft, 1) {
		days = fmt.Sprintf("%.2f", s.PersistenceDaysLeft)
	}
	out.Printf("sufficient:           %t (rate %t, lockup %t)\n", s.IsSufficient, s.IsRateSufficient, s.IsLockupSufficient)
	out.Printf("rate allowance:       %s\n", s.RateAllowanceNeeded)
	out.Printf("lockup allowance:     %s\n", s.LockupAllowanceNeeded)
	out.Printf("deposit needed:       %s USDFC\n", proofflow.FormatTokenAmount(s.DepositAmountNeeded, usdfcDecimals))
	out.Printf("lockup remaining:     %s\n", s.CurrentLockupRemaining)
	out.Printf("persistence days:     %s\n", days)
}

func registerBalances(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "balances",
		Short: "Show FIL and USDFC balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			b, err := c.Balances(cmd.Context())
			if err != nil {
				return err
			}
			out := printer{cmd}
			out.Printf("FIL:             %s\n", b.FILFormatted())
			out.Printf("USDFC wallet:    %s\n", b.USDFCWalletFormatted())
			out.Printf("USDFC deposited: %s\n", b.USDFCDepositedFormatted())
			return nil
		},
	})
}

func registerAccount(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "account",
		Short: "Show the payments account of the client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := c.AccountInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := printer{cmd}
			out.Printf("address:        %s\n", c.Address().Hex())
			if fa, err := c.FilecoinAddress(); err == nil {
				out.Printf("filecoin:       %s\n", fa)
			}
			out.Printf("funds:          %s USDFC\n", proofflow.FormatTokenAmount(info.Funds, usdfcDecimals))
			out.Printf("locked:         %s USDFC\n", proofflow.FormatTokenAmount(info.LockupCurrent, usdfcDecimals))
			out.Printf("available:      %s USDFC\n", proofflow.FormatTokenAmount(info.Available(), usdfcDecimals))
			out.Printf("lockup rate:    %s per epoch\n", info.LockupRate)
			out.Printf("settled at:     %d\n", info.LockupLastSettledAt)
			if d := info.DaysRemaining(); !math.IsInf(d, 1) {
				out.Printf("days remaining: %.2f\n", d)
			}
			return nil
		},
	})
}

func registerDataSets(parent *cobra.Command) {
	var showPieces bool
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List the client's data sets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			sets, err := c.DataSets(cmd.Context(), c.Address())
			if err != nil {
				return err
			}
			out := printer{cmd}
			if len(sets) == 0 {
				out.Printf("no data sets\n")
				return nil
			}
			for _, ds := range sets {
				out.Printf("#%d provider=%d live=%t cdn=%t pieces=%d\n",
					ds.ID, ds.ProviderID, ds.IsLive, ds.WithCDN, len(ds.Pieces))
				if showPieces {
					for _, p := range ds.Pieces {
						out.Printf("  %d %s\n", p.ID, p.CID)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPieces, "pieces", false, "list the pieces of each data set")
	parent.AddCommand(cmd)
}

func registerDeposit(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "deposit AMOUNT",
		Short: "Deposit USDFC into the payments contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := proofflow.ParseTokenAmount(args[0], usdfcDecimals)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			obs := statusObserver(cmd)
			tx, err := c.Deposit(ctx, amount, proofflow.DepositHooks{
				OnApprovalTransaction: func(h common.Hash) { obs.OnStatus("Approving USDFC " + h.Hex()) },
				OnApprovalConfirmed:   func(h common.Hash) { obs.OnStatus("USDFC approved") },
			})
			if err != nil {
				return err
			}
			obs.OnStatus("Deposit submitted " + tx.Hash().Hex())
			if err := tx.Wait(ctx); err != nil {
				return err
			}
			printer{cmd}.Printf("deposited %s USDFC\n", args[0])
			return nil
		},
	})
}

func registerWithdraw(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "withdraw AMOUNT",
		Short: "Withdraw available USDFC from the payments contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := proofflow.ParseTokenAmount(args[0], usdfcDecimals)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			tx, err := c.Withdraw(ctx, amount)
			if err != nil {
				return err
			}
			statusObserver(cmd).OnStatus("Withdrawal submitted " + tx.Hash().Hex())
			if err := tx.Wait(ctx); err != nil {
				return err
			}
			printer{cmd}.Printf("withdrew %s USDFC\n", args[0])
			return nil
		},
	})
}

func registerApprove(parent *cobra.Command) {
	var rate, lockup string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the warm storage service for explicit allowances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rateAllowance, err := parseBaseUnits(rate)
			if err != nil {
				return err
			}
			lockupAllowance, err := proofflow.ParseTokenAmount(lockup, usdfcDecimals)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			pf, err := proofflow.NewPreflighter(a.cfg.Storage)
			if err != nil {
				return err
			}
			tx, err := c.ApproveService(ctx, proofflow.ServiceApproval{
				Service:         c.ServiceAddress(),
				RateAllowance:   rateAllowance,
				LockupAllowance: lockupAllowance,
				MaxLockupPeriod: pf.MaxLockupPeriod(),
			})
			if err != nil {
				return err
			}
			statusObserver(cmd).OnStatus("Approval submitted " + tx.Hash().Hex())
			if err := tx.Wait(ctx); err != nil {
				return err
			}
			printer{cmd}.Printf("approved %s for rate %s/epoch, lockup %s USDFC over %d epochs\n",
				c.ServiceAddress().Hex(), rateAllowance, lockup, pf.MaxLockupPeriod())
			return nil
		},
	}
	cmd.Flags().StringVar(&rate, "rate", "", "rate allowance in base units per epoch")
	cmd.Flags().StringVar(&lockup, "lockup", "", "lockup allowance in USDFC")
	_ = cmd.MarkFlagRequired("rate")
	_ = cmd.MarkFlagRequired("lockup")
	parent.AddCommand(cmd)
}

func parseBaseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", proofflow.ErrInvalidAmount, s)
	}
	return v, nil
}

func registerWatch(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "watch PIECE_CID",
		Short: "Wait until a piece shows up in one of the client's data sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			piece, err := cid.Decode(args[0])
			if err != nil {
				return fmt.Errorf("proofflow: piece cid: %w", err)
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			wd := proofflow.NewWatchdog(c,
				proofflow.WithWatchTimeout(a.cfg.Watchdog.Timeout),
				proofflow.WithPollInterval(a.cfg.Watchdog.PollInterval),
				proofflow.WithWatchMeter(a.meter),
			)
			outcome, err := wd.Wait(ctx, c.Address(), piece)
			if err != nil {
				return err
			}
			printer{cmd}.Printf("%s: %s\n", piece, outcome)
			return nil
		},
	})
}

func registerPieces(parent *cobra.Command) {
	var owner string
	cmd := &cobra.Command{
		Use:   "pieces",
		Short: "List recorded uploads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if owner == "" {
				c, err := a.dial(ctx)
				if err != nil {
					return err
				}
				owner = c.Address().Hex()
				c.Close()
			}

			store, closeStore, err := openPieceStore(ctx, a.cfg.Pieces)
			if err != nil {
				return err
			}
			defer closeStore()

			recs, err := store.List(ctx, owner)
			if err != nil {
				return err
			}
			out := printer{cmd}
			if len(recs) == 0 {
				out.Printf("no pieces recorded for %s\n", owner)
				return nil
			}
			for _, r := range recs {
				out.Printf("%s  %s  %s  %d bytes  tx=%s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.PieceCID, r.FileName, r.FileSize, r.TxHash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (default: the configured account)")
	parent.AddCommand(cmd)
}
