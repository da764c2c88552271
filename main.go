// main.go - End-to-end shielded pool scenario.
//
// This runs the whole deposit/withdraw cycle in one process:
//   - development Groth16 artifacts are generated (or loaded from ./artifacts)
//   - a relay node is started; it verifies every proof before recording the spend
//   - N depositors each put a note into the ETH pool
//   - every note is withdrawn to a fresh recipient through the relay
//   - a replay of the first note is attempted and must be refused
//
// Usage:
//
//	go run . [-n 4] [-depth 8]
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shieldedpool/internal/artifacts"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/poseidon"
	"shieldedpool/internal/relay"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

const circuitName = "withdraw"

type scenario struct {
	Depositors int
	Depth      int
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	// Artifacts skips setup when set.
	Artifacts *artifacts.Artifacts
	// ArtifactsDir caches generated keys between runs; empty disables it.
	ArtifactsDir string
	Log          *zap.Logger
}

type report struct {
	Deposits       []string
	TxIDs          []string
	ReplayRejected bool
	Chain          *zerocash.Ledger
	Stats          pool.Stats
}

func runScenario(ctx context.Context, sc scenario) (*report, error) {
	log := sc.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := poseidon.NewNative()

	art := sc.Artifacts
	if art == nil {
		var err error
		start := time.Now()
		if sc.ArtifactsDir != "" {
			art, err = artifacts.SetupOrLoad(ctx, sc.ArtifactsDir, circuitName, withdraw.NewCircuit(sc.Depth))
		} else {
			art, err = artifacts.Setup(circuitName, withdraw.NewCircuit(sc.Depth))
		}
		if err != nil {
			return nil, errors.Wrap(err, "artifacts")
		}
		log.Info("artifacts ready", zap.Int("depth", sc.Depth), zap.Duration("took", time.Since(start)))
	}

	// The relay side: its own verifier over the verifying key only.
	vkOnly := &artifacts.Artifacts{Name: circuitName, VerifyingKey: art.VerifyingKey}
	relayVerifier, err := withdraw.NewGroth16Prover(vkOnly, h, sc.Depth)
	if err != nil {
		return nil, err
	}
	chain := zerocash.NewLedger()
	backend := &pool.LedgerSubmitter{
		Ledger:              chain,
		Verifiers:           pool.VerifierFunc(func(string) withdraw.Verifier { return relayVerifier }),
		RequireVerification: true,
	}
	node := relay.NewNode("relay", "127.0.0.1:0", backend, log.Named("relay"))
	if err := node.Start(); err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = node.Shutdown(shutdownCtx)
	}()

	p, err := pool.New(pool.Config{
		Token:      "ETH",
		Depth:      sc.Depth,
		MinDeposit: sc.Amount,
		MaxDeposit: sc.Amount,
	}, pool.Deps{
		Hasher:    h,
		Artifacts: artifacts.Static{circuitName: art},
		Submitter: relay.NewClient(node.Address, "pool"),
		Logger:    log.Named("pool"),
	})
	if err != nil {
		return nil, err
	}
	// The relay accepts only roots from the pool's tree.
	backend.Roots = p
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	rep := &report{Chain: chain}
	for i := 0; i < sc.Depositors; i++ {
		encoded, note, err := p.Deposit(ctx, sc.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "deposit %d", i)
		}
		log.Info("deposit", zap.Int("depositor", i), zap.Uint64("leaf", *note.LeafIndex))
		rep.Deposits = append(rep.Deposits, encoded)
	}

	relayer := common.HexToAddress("0x00000000000000000000000000000000000000fe")
	for i, encoded := range rep.Deposits {
		recipient := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		res, err := p.Withdraw(ctx, pool.WithdrawRequest{
			EncodedNote: encoded,
			Recipient:   recipient,
			Relayer:     relayer,
			Fee:         sc.Fee,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "withdraw %d", i)
		}
		log.Info("withdrawal", zap.Int("depositor", i), zap.String("txId", res.TxID), zap.Bool("verified", res.Verified))
		rep.TxIDs = append(rep.TxIDs, res.TxID)
	}

	if len(rep.Deposits) > 0 {
		_, err := p.Withdraw(ctx, pool.WithdrawRequest{
			EncodedNote: rep.Deposits[0],
			Recipient:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		})
		rep.ReplayRejected = errors.Is(err, pool.ErrNullifierSpent)
		log.Info("replay attempt", zap.Error(err))
	}
	rep.Stats = p.Stats()
	return rep, nil
}

func main() {
	n := flag.Int("n", 4, "number of depositors")
	depth := flag.Int("depth", 8, "tree depth")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	rep, err := runScenario(context.Background(), scenario{
		Depositors:   *n,
		Depth:        *depth,
		Amount:       decimal.NewFromInt(1),
		Fee:          decimal.RequireFromString("0.01"),
		ArtifactsDir: "artifacts",
		Log:          log,
	})
	if err != nil {
		log.Fatal("scenario failed", zap.Error(err))
	}

	fmt.Printf("\n=== Scenario complete ===\n")
	fmt.Printf("deposits:        %d\n", len(rep.Deposits))
	fmt.Printf("withdrawals:     %d\n", len(rep.TxIDs))
	fmt.Printf("chain spends:    %d\n", rep.Chain.Len())
	fmt.Printf("replay rejected: %v\n", rep.ReplayRejected)
	fmt.Printf("root:            %s\n", rep.Stats.Root)
}
