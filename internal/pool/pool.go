// Package pool orchestrates deposits and withdrawals for shielded pools.
//
// A Pool serves one token. It owns the commitment tree, the note scheme and the
// prover chosen at initialization, and talks to the outside world only through
// the Submitter, NullifierRegistry and LeafStore boundaries. Encoded notes returned
// by Deposit are the depositor's responsibility; the pool keeps no copy of their
// secrets.
package pool

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shieldedpool/internal/artifacts"
	"shieldedpool/internal/field"
	"shieldedpool/internal/merkle"
	"shieldedpool/internal/poseidon"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateOperational
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateOperational:
		return "operational"
	}
	return "unknown"
}

const DefaultTokenDecimals = 18

// Config holds the per-token settings.
type Config struct {
	Token       string
	Depth       int
	RootHistory int
	MinDeposit  decimal.Decimal
	MaxDeposit  decimal.Decimal
	// TokenDecimals scales fee and refund into the integer circuit inputs.
	TokenDecimals int32
	CircuitName   string
	// AllowSimulated permits the simulated prover when no proving artifacts are
	// found. Production configurations must leave it false.
	AllowSimulated bool
	// SkipLocalVerify disables the local pairing check before submission.
	SkipLocalVerify bool
}

// Auditor records security relevant events.
type Auditor interface {
	Audit(event string, fields ...zap.Field)
}

type nopAuditor struct{}

func (nopAuditor) Audit(string, ...zap.Field) {}

// Deps are the collaborators of a pool. Hasher and Submitter are required.
type Deps struct {
	Hasher    poseidon.Hasher
	Scheme    *zerocash.Scheme
	Artifacts artifacts.Provider
	Submitter Submitter
	Registry  NullifierRegistry
	Leaves    LeafStore
	// Spent caches nullifiers this process has seen spent. Defaults to an
	// in-memory ledger.
	Spent         *zerocash.Ledger
	ProverOptions []withdraw.Groth16Option
	Logger        *zap.Logger
	Auditor       Auditor
	Recorder      Recorder
	Observer      withdraw.Observer
}

// Pool is safe for concurrent use once operational.
type Pool struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	state atomic.Int32

	tree   *merkle.Tree
	prover withdraw.Prover

	// insertMu keeps journal order equal to tree order.
	insertMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[field.Element]struct{}
}

// New validates cfg and returns a pool in StateCreated.
func New(cfg Config, deps Deps) (*Pool, error) {
	if cfg.Token == "" {
		return nil, errors.Wrap(ErrInputValidation, "empty token")
	}
	if cfg.Depth < merkle.MinDepth || cfg.Depth > merkle.MaxDepth {
		return nil, errors.Wrapf(ErrInputValidation, "depth %d", cfg.Depth)
	}
	if cfg.MinDeposit.IsNegative() || (!cfg.MaxDeposit.IsZero() && cfg.MaxDeposit.LessThan(cfg.MinDeposit)) {
		return nil, errors.Wrapf(ErrInputValidation, "deposit bounds [%s, %s]", cfg.MinDeposit, cfg.MaxDeposit)
	}
	if deps.Hasher == nil || deps.Submitter == nil {
		return nil, errors.New("pool: hasher and submitter are required")
	}
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = DefaultTokenDecimals
	}
	if cfg.CircuitName == "" {
		cfg.CircuitName = "withdraw"
	}
	if deps.Scheme == nil {
		deps.Scheme = zerocash.NewScheme(deps.Hasher)
	}
	if deps.Spent == nil {
		deps.Spent = zerocash.NewLedger()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Auditor == nil {
		deps.Auditor = nopAuditor{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	p := &Pool{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With(zap.String("token", cfg.Token)),
		inflight: make(map[field.Element]struct{}),
	}
	p.state.Store(int32(StateCreated))
	return p, nil
}

func (p *Pool) Token() string { return p.cfg.Token }

func (p *Pool) State() State { return State(p.state.Load()) }

// Initialize builds the tree, replays the leaf journal and selects the prover.
func (p *Pool) Initialize(ctx context.Context) error {
	if p.State() != StateCreated {
		return errors.Errorf("pool %s: already initialized", p.cfg.Token)
	}

	var leaves []field.Element
	if p.deps.Leaves != nil {
		var err error
		if leaves, err = p.deps.Leaves.Leaves(ctx, p.cfg.Token); err != nil {
			return errors.Wrap(err, "load leaf journal")
		}
	}
	opts := []merkle.Option{merkle.WithLogger(p.log)}
	if p.cfg.RootHistory > 0 {
		opts = append(opts, merkle.WithRootHistory(p.cfg.RootHistory))
	}
	tree, err := merkle.FromLeaves(ctx, p.cfg.Depth, p.deps.Hasher, leaves, opts...)
	if err != nil {
		return errors.Wrap(err, "build tree")
	}
	p.tree = tree
	p.state.Store(int32(StateInitialized))
	p.deps.Recorder.TreeSize(p.cfg.Token, tree.NextIndex())
	p.log.Info("tree ready",
		zap.Int("depth", p.cfg.Depth),
		zap.Uint64("leaves", tree.NextIndex()),
		zap.String("root", tree.Root().Hex()),
	)

	prover, err := p.selectProver(ctx)
	if err != nil {
		return err
	}
	p.prover = prover
	p.deps.Recorder.ProverMode(p.cfg.Token, prover.Mode())
	p.state.Store(int32(StateOperational))
	p.log.Info("pool operational", zap.String("mode", prover.Mode()))
	return nil
}

func (p *Pool) selectProver(ctx context.Context) (withdraw.Prover, error) {
	var art *artifacts.Artifacts
	if p.deps.Artifacts != nil {
		a, err := p.deps.Artifacts.Load(ctx, p.cfg.CircuitName)
		switch {
		case err == nil:
			art = a
		case errors.Is(err, artifacts.ErrNotFound):
		default:
			return nil, errors.Wrapf(ErrArtifactUnavailable, "%s: %v", p.cfg.CircuitName, err)
		}
	}

	opts := append([]withdraw.Groth16Option{
		withdraw.WithProverLogger(p.log),
		withdraw.WithObserver(p.deps.Observer),
	}, p.deps.ProverOptions...)

	if art.CanProve() {
		prover, err := withdraw.NewGroth16Prover(art, p.deps.Hasher, p.cfg.Depth, opts...)
		if err != nil {
			return nil, err
		}
		return prover, nil
	}
	if !p.cfg.AllowSimulated {
		return nil, errors.Wrapf(ErrArtifactUnavailable, "no proving artifacts for %q", p.cfg.CircuitName)
	}

	var verifier withdraw.Verifier
	if art.CanVerify() {
		v, err := withdraw.NewGroth16Prover(art, p.deps.Hasher, p.cfg.Depth, opts...)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	p.deps.Auditor.Audit("simulated_mode_enabled", zap.String("token", p.cfg.Token))
	sim, err := withdraw.NewSimulatedProver(withdraw.SimulatedConfig{
		AllowSimulated: true,
		Hasher:         p.deps.Hasher,
		Depth:          p.cfg.Depth,
		Verifier:       verifier,
		Logger:         p.log,
		Observer:       p.deps.Observer,
	})
	if err != nil {
		return nil, err
	}
	return sim, nil
}

func (p *Pool) ready() error {
	if s := p.State(); s != StateOperational {
		return errors.Wrapf(ErrNotReady, "pool %s is %s", p.cfg.Token, s)
	}
	return nil
}

func (p *Pool) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrapf(ErrInputValidation, "amount %s must be positive", amount)
	}
	if amount.LessThan(p.cfg.MinDeposit) {
		return errors.Wrapf(ErrInputValidation, "amount %s below minimum %s", amount, p.cfg.MinDeposit)
	}
	if !p.cfg.MaxDeposit.IsZero() && amount.GreaterThan(p.cfg.MaxDeposit) {
		return errors.Wrapf(ErrInputValidation, "amount %s above maximum %s", amount, p.cfg.MaxDeposit)
	}
	return nil
}

// Deposit creates a note for amount, inserts its commitment and returns the
// encoded note. The caller must store the encoded note durably.
func (p *Pool) Deposit(ctx context.Context, amount decimal.Decimal) (string, *zerocash.DepositNote, error) {
	if err := p.ready(); err != nil {
		return "", nil, err
	}
	if err := p.checkAmount(amount); err != nil {
		return "", nil, err
	}
	note, err := p.deps.Scheme.GenerateNote(amount, p.cfg.Token)
	if err != nil {
		return "", nil, errors.Wrap(err, "generate note")
	}

	idx, err := p.insert(ctx, note.Commitment)
	if err != nil {
		return "", nil, err
	}
	note = note.WithLeafIndex(idx)

	encoded, err := zerocash.Encode(note)
	if err != nil {
		return "", nil, err
	}
	p.deps.Recorder.Deposit(p.cfg.Token)
	p.deps.Recorder.TreeSize(p.cfg.Token, idx+1)
	p.deps.Auditor.Audit("deposit",
		zap.String("token", p.cfg.Token),
		zap.String("amount", amount.String()),
		zap.Uint64("leafIndex", idx),
		zap.String("commitment", note.Commitment.Hex()),
	)
	return encoded, note, nil
}

func (p *Pool) insert(ctx context.Context, leaf field.Element) (uint64, error) {
	p.insertMu.Lock()
	defer p.insertMu.Unlock()

	idx := p.tree.NextIndex()
	if idx == p.tree.Capacity() {
		return 0, errors.Wrapf(merkle.ErrTreeFull, "pool %s", p.cfg.Token)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.deps.Leaves != nil {
		if err := p.deps.Leaves.AppendLeaf(ctx, p.cfg.Token, idx, leaf); err != nil {
			return 0, errors.Wrap(err, "journal leaf")
		}
		// The leaf is journaled, so the tree must take it too.
		ctx = context.WithoutCancel(ctx)
	}
	got, err := p.tree.Insert(ctx, leaf)
	if err != nil {
		return 0, err
	}
	if got != idx {
		return 0, errors.Errorf("pool %s: inserted at %d, journaled at %d", p.cfg.Token, got, idx)
	}
	return got, nil
}

// WithdrawRequest asks to spend an encoded note. Fee and Refund are in token units
// and are scaled by TokenDecimals for the circuit.
type WithdrawRequest struct {
	EncodedNote string
	Recipient   common.Address
	Relayer     common.Address
	Fee         decimal.Decimal
	Refund      decimal.Decimal
}

type WithdrawResult struct {
	RequestID       string
	TxID            string
	NullifierHash   field.Element
	Proof           *withdraw.Proof
	SerializedProof []byte
	Mode            string
	Verified        bool
}

// Withdraw proves and submits a withdrawal. The nullifier is marked spent locally
// only after the submitter accepts it. A proof that fails local verification is
// never submitted.
func (p *Pool) Withdraw(ctx context.Context, req WithdrawRequest) (res *WithdrawResult, err error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	log := p.log.With(zap.String("requestId", requestID))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = classify(err)
			log.Warn("withdrawal failed", zap.Error(err), zap.String("outcome", outcome))
		}
		p.deps.Recorder.Withdrawal(p.cfg.Token, outcome)
	}()

	note, err := p.deps.Scheme.DecodeAndVerify(req.EncodedNote)
	if err != nil {
		return nil, err
	}
	if note.Token != p.cfg.Token {
		return nil, errors.Wrapf(ErrInputValidation, "note is for %s, pool is %s", note.Token, p.cfg.Token)
	}
	fee, refund, err := p.withdrawAmounts(note, req)
	if err != nil {
		return nil, err
	}

	if !p.acquire(note.NullifierHash) {
		return nil, ErrWithdrawalInProgress
	}
	defer p.release(note.NullifierHash)

	if spent, err := p.isSpent(ctx, note.NullifierHash); err != nil {
		return nil, err
	} else if spent {
		return nil, errors.Wrapf(ErrNullifierSpent, "%s", note.NullifierHash.Hex())
	}

	leafIndex, err := p.locate(note)
	if err != nil {
		return nil, err
	}
	mp, err := p.tree.GenerateProof(ctx, leafIndex)
	if err != nil {
		return nil, err
	}

	proof, err := p.prover.Prove(ctx, withdraw.Request{
		Note:        note,
		MerkleProof: mp,
		Recipient:   req.Recipient,
		Relayer:     req.Relayer,
		Fee:         fee,
		Refund:      refund,
	})
	if err != nil {
		return nil, err
	}

	verified := false
	if p.prover.CanVerify() && !p.cfg.SkipLocalVerify {
		ok, err := p.prover.Verify(ctx, proof)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, withdraw.ErrVerificationFailure
		}
		verified = true
	}

	raw, err := proof.MarshalBinary()
	if err != nil {
		return nil, err
	}
	txID, err := p.deps.Submitter.Submit(ctx, Submission{
		RequestID:       requestID,
		Token:           p.cfg.Token,
		SerializedProof: raw,
		PublicSignals:   proof.Signals,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrSubmission, "%v", err)
	}

	p.markSpent(ctx, log, note.NullifierHash, txID)
	p.deps.Auditor.Audit("withdrawal",
		zap.String("token", p.cfg.Token),
		zap.String("requestId", requestID),
		zap.String("txId", txID),
		zap.String("nullifierHash", note.NullifierHash.Hex()),
		zap.String("recipient", req.Recipient.Hex()),
		zap.String("mode", p.prover.Mode()),
	)
	log.Info("withdrawal submitted", zap.String("txId", txID), zap.Duration("took", time.Since(start)))

	return &WithdrawResult{
		RequestID:       requestID,
		TxID:            txID,
		NullifierHash:   note.NullifierHash,
		Proof:           proof,
		SerializedProof: raw,
		Mode:            p.prover.Mode(),
		Verified:        verified,
	}, nil
}

func (p *Pool) withdrawAmounts(note *zerocash.DepositNote, req WithdrawRequest) (*big.Int, *big.Int, error) {
	if req.Recipient == (common.Address{}) {
		return nil, nil, errors.Wrap(ErrInputValidation, "empty recipient")
	}
	if req.Fee.IsNegative() || req.Refund.IsNegative() {
		return nil, nil, errors.Wrap(ErrInputValidation, "negative fee or refund")
	}
	if req.Fee.GreaterThan(note.Amount) {
		return nil, nil, errors.Wrapf(ErrInputValidation, "fee %s exceeds note amount %s", req.Fee, note.Amount)
	}
	fee, err := p.toBaseUnits(req.Fee)
	if err != nil {
		return nil, nil, err
	}
	refund, err := p.toBaseUnits(req.Refund)
	if err != nil {
		return nil, nil, err
	}
	return fee, refund, nil
}

// toBaseUnits returns v·10^decimals and rejects fractional remainders.
func (p *Pool) toBaseUnits(v decimal.Decimal) (*big.Int, error) {
	scaled := v.Shift(p.cfg.TokenDecimals)
	if !scaled.IsInteger() {
		return nil, errors.Wrapf(ErrInputValidation, "%s has more than %d decimals", v, p.cfg.TokenDecimals)
	}
	return scaled.BigInt(), nil
}

func (p *Pool) acquire(h field.Element) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, busy := p.inflight[h]; busy {
		return false
	}
	p.inflight[h] = struct{}{}
	return true
}

func (p *Pool) release(h field.Element) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	delete(p.inflight, h)
}

func (p *Pool) isSpent(ctx context.Context, h field.Element) (bool, error) {
	if p.deps.Spent.HasNullifier(h) {
		return true, nil
	}
	if p.deps.Registry == nil {
		return false, nil
	}
	spent, err := p.deps.Registry.IsSpent(ctx, h)
	if err != nil {
		return false, errors.Wrap(err, "query nullifier registry")
	}
	return spent, nil
}

func (p *Pool) markSpent(ctx context.Context, log *zap.Logger, h field.Element, txID string) {
	err := p.deps.Spent.Append(zerocash.SpendRecord{NullifierHash: h, TxID: txID, SpentAt: time.Now().UTC()})
	if err != nil && !errors.Is(err, zerocash.ErrDoubleSpend) {
		log.Error("record spent nullifier locally", zap.Error(err))
	}
	if p.deps.Registry != nil {
		if err := p.deps.Registry.MarkSpent(ctx, h); err != nil {
			log.Error("mark nullifier spent in registry", zap.Error(err), zap.String("txId", txID))
		}
	}
}

// locate returns the leaf index of the note's commitment, using the index stored
// in the note when present.
func (p *Pool) locate(note *zerocash.DepositNote) (uint64, error) {
	if note.LeafIndex != nil {
		leaf, err := p.tree.Leaf(*note.LeafIndex)
		if err != nil {
			return 0, errors.Wrapf(ErrInputValidation, "%v", err)
		}
		if !leaf.Equal(note.Commitment) {
			return 0, errors.Wrapf(ErrInputValidation, "leaf %d does not hold the note commitment", *note.LeafIndex)
		}
		return *note.LeafIndex, nil
	}
	n := p.tree.NextIndex()
	for i := uint64(0); i < n; i++ {
		leaf, err := p.tree.Leaf(i)
		if err != nil {
			return 0, err
		}
		if leaf.Equal(note.Commitment) {
			return i, nil
		}
	}
	return 0, errors.Wrap(ErrInputValidation, "note commitment not in tree")
}

// VerifyNote checks that encoded decodes, belongs to this pool and is internally
// consistent.
func (p *Pool) VerifyNote(encoded string) (bool, error) {
	n, err := zerocash.Decode(encoded)
	if err != nil {
		return false, err
	}
	if n.Token != p.cfg.Token {
		return false, errors.Wrapf(ErrInputValidation, "note is for %s", n.Token)
	}
	return p.deps.Scheme.VerifyNote(n), nil
}

type Stats struct {
	Token      string `json:"token"`
	State      string `json:"state"`
	LeafCount  uint64 `json:"leafCount"`
	Root       string `json:"root"`
	Capacity   uint64 `json:"capacity"`
	Depth      int    `json:"depth"`
	Mode       string `json:"mode"`
	SpentCount int    `json:"spentCount"`
}

func (p *Pool) Stats() Stats {
	s := Stats{
		Token:      p.cfg.Token,
		State:      p.State().String(),
		Depth:      p.cfg.Depth,
		Capacity:   uint64(1) << uint(p.cfg.Depth),
		SpentCount: p.deps.Spent.Len(),
	}
	if p.tree != nil {
		s.LeafCount = p.tree.NextIndex()
		s.Root = p.tree.Root().Hex()
	}
	if p.prover != nil {
		s.Mode = p.prover.Mode()
	}
	return s
}

// Verifier exposes the pool's proof checker, for relays that verify before
// forwarding. It is nil until the pool is operational.
func (p *Pool) Verifier() withdraw.Verifier {
	if p.State() != StateOperational {
		return nil
	}
	return p.prover
}

// VerifierFor returns Verifier for the pool's own token and nil otherwise.
func (p *Pool) VerifierFor(token string) withdraw.Verifier {
	if token != p.cfg.Token {
		return nil
	}
	return p.Verifier()
}

// IsKnownRoot reports whether root is in the recent root history of the tree
// serving token.
func (p *Pool) IsKnownRoot(token string, root field.Element) bool {
	if token != p.cfg.Token || p.State() == StateCreated {
		return false
	}
	return p.tree.IsKnownRoot(root)
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrInputValidation), errors.Is(err, zerocash.ErrInvalidNoteFormat):
		return "invalid_input"
	case errors.Is(err, zerocash.ErrNoteIntegrity):
		return "note_integrity"
	case errors.Is(err, ErrNullifierSpent):
		return "double_spend"
	case errors.Is(err, ErrWithdrawalInProgress):
		return "in_progress"
	case errors.Is(err, withdraw.ErrWitnessGeneration):
		return "witness"
	case errors.Is(err, withdraw.ErrProofGeneration):
		return "proof"
	case errors.Is(err, withdraw.ErrVerificationFailure):
		return "verification"
	case errors.Is(err, ErrSubmission):
		return "submission"
	}
	return "error"
}
