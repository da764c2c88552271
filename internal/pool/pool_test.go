package pool

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/artifacts"
	"shieldedpool/internal/field"
	"shieldedpool/internal/merkle"
	"shieldedpool/internal/poseidon"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

const (
	testDepth   = 4
	testCircuit = "withdraw"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	relay = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

var (
	setupOnce  sync.Once
	setupA     *artifacts.Artifacts
	setupB     *artifacts.Artifacts
	setupError error
)

// testArtifacts returns two independent setups of the same circuit.
func testArtifacts(t *testing.T) (*artifacts.Artifacts, *artifacts.Artifacts) {
	t.Helper()
	setupOnce.Do(func() {
		if setupA, setupError = artifacts.Setup(testCircuit, withdraw.NewCircuit(testDepth)); setupError != nil {
			return
		}
		setupB, setupError = artifacts.Setup(testCircuit, withdraw.NewCircuit(testDepth))
	})
	require.NoError(t, setupError)
	return setupA, setupB
}

type countingObserver struct {
	proves   atomic.Int32
	verifies atomic.Int32
}

func (o *countingObserver) ObserveProve(string, time.Duration, error) { o.proves.Add(1) }
func (o *countingObserver) ObserveVerify(string, time.Duration, bool, error) {
	o.verifies.Add(1)
}

type memLeaves struct {
	mu     sync.Mutex
	leaves map[string][]field.Element
}

func (m *memLeaves) AppendLeaf(_ context.Context, token string, index uint64, leaf field.Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaves == nil {
		m.leaves = make(map[string][]field.Element)
	}
	if uint64(len(m.leaves[token])) != index {
		return errors.Errorf("out of order leaf %d", index)
	}
	m.leaves[token] = append(m.leaves[token], leaf)
	return nil
}

func (m *memLeaves) Leaves(_ context.Context, token string) ([]field.Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]field.Element(nil), m.leaves[token]...), nil
}

type harness struct {
	pool      *Pool
	ledger    *zerocash.Ledger
	submitted atomic.Int32
	obs       *countingObserver
}

func newHarness(t *testing.T, cfg Config, provider artifacts.Provider, deps Deps) *harness {
	t.Helper()
	h := &harness{ledger: zerocash.NewLedger(), obs: &countingObserver{}}
	hasher := poseidon.NewNative()
	if cfg.Token == "" {
		cfg.Token = "TOK"
	}
	if cfg.Depth == 0 {
		cfg.Depth = testDepth
	}
	cfg.CircuitName = testCircuit
	if cfg.MaxDeposit.IsZero() {
		cfg.MinDeposit = decimal.RequireFromString("0.1")
		cfg.MaxDeposit = decimal.NewFromInt(100)
	}
	deps.Hasher = hasher
	deps.Artifacts = provider
	deps.Observer = h.obs
	if deps.Scheme == nil {
		deps.Scheme = zerocash.NewDeterministicScheme(hasher, []byte(t.Name()))
	}
	var inner *LedgerSubmitter
	if deps.Submitter == nil {
		inner = &LedgerSubmitter{Ledger: h.ledger}
		deps.Submitter = SubmitterFunc(func(ctx context.Context, s Submission) (string, error) {
			h.submitted.Add(1)
			return inner.Submit(ctx, s)
		})
	}
	p, err := New(cfg, deps)
	require.NoError(t, err)
	if inner != nil {
		inner.Roots = p
	}
	h.pool = p
	return h
}

func TestPoolLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{})
	require.Equal(t, StateCreated, h.pool.State())

	_, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.True(t, errors.Is(err, ErrNotReady))

	require.NoError(t, h.pool.Initialize(ctx))
	require.Equal(t, StateOperational, h.pool.State())
	require.Error(t, h.pool.Initialize(ctx))

	st := h.pool.Stats()
	require.Equal(t, "operational", st.State)
	require.Equal(t, withdraw.ModeSimulated, st.Mode)
	require.Equal(t, uint64(16), st.Capacity)
	require.Equal(t, uint64(0), st.LeafCount)
}

func TestNewValidatesConfig(t *testing.T) {
	deps := Deps{Hasher: poseidon.NewNative(), Submitter: SubmitterFunc(nil)}
	_, err := New(Config{Depth: 4}, deps)
	require.True(t, errors.Is(err, ErrInputValidation))
	_, err = New(Config{Token: "T", Depth: 40}, deps)
	require.True(t, errors.Is(err, ErrInputValidation))
	_, err = New(Config{Token: "T", Depth: 4, MinDeposit: decimal.NewFromInt(5), MaxDeposit: decimal.NewFromInt(1)}, deps)
	require.True(t, errors.Is(err, ErrInputValidation))
	_, err = New(Config{Token: "T", Depth: 4}, Deps{Hasher: poseidon.NewNative()})
	require.Error(t, err)
}

func TestArtifactsRequiredUnlessSimulatedAllowed(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, Config{}, nil, Deps{})
	err := h.pool.Initialize(ctx)
	require.True(t, errors.Is(err, ErrArtifactUnavailable))
	require.Equal(t, StateInitialized, h.pool.State())

	h = newHarness(t, Config{}, artifacts.Static{}, Deps{})
	require.True(t, errors.Is(h.pool.Initialize(ctx), ErrArtifactUnavailable))
}

func TestDepositBounds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))

	for _, amt := range []string{"0", "-1", "0.01", "100.5"} {
		_, _, err := h.pool.Deposit(ctx, decimal.RequireFromString(amt))
		require.True(t, errors.Is(err, ErrInputValidation), "amount %s", amt)
	}
	require.Equal(t, uint64(0), h.pool.Stats().LeafCount)

	enc, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NotNil(t, note.LeafIndex)
	ok, err := h.pool.VerifyNote(enc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTreeFullDeposit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Depth: 1, AllowSimulated: true}, nil, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))
	for i := 0; i < 2; i++ {
		_, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
		require.NoError(t, err)
	}
	_, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.True(t, errors.Is(err, merkle.ErrTreeFull))
}

func TestWithdrawHappyPathGroth16(t *testing.T) {
	ctx := context.Background()
	art, _ := testArtifacts(t)
	h := newHarness(t, Config{}, artifacts.Static{testCircuit: art}, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))
	require.Equal(t, withdraw.ModeGroth16, h.pool.Stats().Mode)

	enc, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	_, _, err = h.pool.Deposit(ctx, decimal.NewFromInt(2))
	require.NoError(t, err)

	req := WithdrawRequest{
		EncodedNote: enc,
		Recipient:   alice,
		Relayer:     relay,
		Fee:         decimal.RequireFromString("0.01"),
	}
	res, err := h.pool.Withdraw(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.NotEmpty(t, res.TxID)
	require.Len(t, res.SerializedProof, withdraw.ProofSize)
	require.True(t, res.NullifierHash.Equal(note.NullifierHash))
	require.Equal(t, int32(1), h.obs.proves.Load())
	require.Equal(t, int32(1), h.submitted.Load())
	require.True(t, h.ledger.HasNullifier(note.NullifierHash))
	require.Equal(t, 1, h.pool.Stats().SpentCount)

	ok, err := h.pool.Verifier().Verify(ctx, res.Proof)
	require.NoError(t, err)
	require.True(t, ok)

	// second attempt is rejected before any proving work
	_, err = h.pool.Withdraw(ctx, req)
	require.True(t, errors.Is(err, ErrNullifierSpent))
	require.Equal(t, int32(1), h.obs.proves.Load())
	require.Equal(t, int32(1), h.submitted.Load())
}

func TestWithdrawVerificationFailureLeavesNullifier(t *testing.T) {
	ctx := context.Background()
	a, b := testArtifacts(t)
	mixed := &artifacts.Artifacts{Name: testCircuit, CCS: a.CCS, ProvingKey: a.ProvingKey, VerifyingKey: b.VerifyingKey}
	h := newHarness(t, Config{}, artifacts.Static{testCircuit: mixed}, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))

	enc, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.True(t, errors.Is(err, withdraw.ErrVerificationFailure))
	require.Equal(t, int32(0), h.submitted.Load())
	require.False(t, h.ledger.HasNullifier(note.NullifierHash))
	require.Equal(t, 0, h.pool.Stats().SpentCount)
}

func TestWithdrawSimulated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))

	enc, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(3))
	require.NoError(t, err)
	res, err := h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.NoError(t, err)
	require.Equal(t, withdraw.ModeSimulated, res.Mode)
	require.False(t, res.Verified)

	_, err = h.pool.Verifier().Verify(ctx, res.Proof)
	require.True(t, errors.Is(err, withdraw.ErrMissingArtifacts))
}

func TestSimulatedWithVerifyingKeyNeverVerifies(t *testing.T) {
	ctx := context.Background()
	a, _ := testArtifacts(t)
	vkOnly := &artifacts.Artifacts{Name: testCircuit, VerifyingKey: a.VerifyingKey}
	h := newHarness(t, Config{AllowSimulated: true}, artifacts.Static{testCircuit: vkOnly}, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))

	enc, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(3))
	require.NoError(t, err)
	res, err := h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.NoError(t, err)

	ok, err := h.pool.Verifier().Verify(ctx, res.Proof)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithdrawRejections(t *testing.T) {
	ctx := context.Background()
	registry := zerocash.NewLedger()
	h := newHarness(t, Config{AllowSimulated: true, TokenDecimals: 6}, nil, Deps{Registry: registry})
	require.NoError(t, h.pool.Initialize(ctx))

	enc, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	other := newHarness(t, Config{Token: "OTHER", AllowSimulated: true}, nil, Deps{})
	require.NoError(t, other.pool.Initialize(ctx))
	foreign, _, err := other.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	cases := map[string]struct {
		req  WithdrawRequest
		want error
	}{
		"garbage note":  {WithdrawRequest{EncodedNote: "nope", Recipient: alice}, zerocash.ErrInvalidNoteFormat},
		"wrong token":   {WithdrawRequest{EncodedNote: foreign, Recipient: alice}, ErrInputValidation},
		"no recipient":  {WithdrawRequest{EncodedNote: enc}, ErrInputValidation},
		"fee too high":  {WithdrawRequest{EncodedNote: enc, Recipient: alice, Fee: decimal.NewFromInt(2)}, ErrInputValidation},
		"fee precision": {WithdrawRequest{EncodedNote: enc, Recipient: alice, Fee: decimal.RequireFromString("0.0000001")}, ErrInputValidation},
		"negative fee":  {WithdrawRequest{EncodedNote: enc, Recipient: alice, Fee: decimal.NewFromInt(-1)}, ErrInputValidation},
		"unknown leaf":  {WithdrawRequest{EncodedNote: mustEncode(t, note.WithLeafIndex(9)), Recipient: alice}, ErrInputValidation},
		"tampered note": {WithdrawRequest{EncodedNote: mustEncode(t, tamper(note)), Recipient: alice}, zerocash.ErrNoteIntegrity},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.pool.Withdraw(ctx, c.req)
			require.True(t, errors.Is(err, c.want), "got %v", err)
		})
	}
	require.Equal(t, int32(0), h.obs.proves.Load())

	t.Run("spent in external registry", func(t *testing.T) {
		require.NoError(t, registry.MarkSpent(ctx, note.NullifierHash))
		_, err := h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
		require.True(t, errors.Is(err, ErrNullifierSpent))
		require.Equal(t, int32(0), h.obs.proves.Load())
	})
}

func mustEncode(t *testing.T, n *zerocash.DepositNote) string {
	t.Helper()
	s, err := zerocash.Encode(n)
	require.NoError(t, err)
	return s
}

func tamper(n *zerocash.DepositNote) *zerocash.DepositNote {
	c := *n
	c.Nullifier = c.Nullifier.FlipBit(1)
	return &c
}

func TestWithdrawWithoutLeafIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))

	_, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	_, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	bare := *note
	bare.LeafIndex = nil
	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: mustEncode(t, &bare), Recipient: alice})
	require.NoError(t, err)
}

func TestSubmissionFailureKeepsNoteSpendable(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	fail.Store(true)
	ledger := zerocash.NewLedger()
	inner := &LedgerSubmitter{Ledger: ledger}
	sub := SubmitterFunc(func(ctx context.Context, s Submission) (string, error) {
		if fail.Load() {
			return "", errors.New("rpc unavailable")
		}
		return inner.Submit(ctx, s)
	})
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{Submitter: sub})
	inner.Roots = h.pool
	require.NoError(t, h.pool.Initialize(ctx))

	enc, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.True(t, errors.Is(err, ErrSubmission))
	require.Equal(t, 0, h.pool.Stats().SpentCount)

	fail.Store(false)
	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.NoError(t, err)
	require.True(t, ledger.HasNullifier(note.NullifierHash))
}

func TestLedgerSubmitterRejectsForeignRoot(t *testing.T) {
	ctx := context.Background()
	art, _ := testArtifacts(t)
	h := newHarness(t, Config{}, artifacts.Static{testCircuit: art}, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))
	_, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	// A note that was never deposited, proven against a private tree of the
	// same depth with the pool's own proving key.
	hasher := poseidon.NewNative()
	note, err := zerocash.NewScheme(hasher).GenerateNote(decimal.NewFromInt(1), "TOK")
	require.NoError(t, err)
	private, err := merkle.New(testDepth, hasher)
	require.NoError(t, err)
	idx, err := private.Insert(ctx, note.Commitment)
	require.NoError(t, err)
	mp, err := private.GenerateProof(ctx, idx)
	require.NoError(t, err)
	prover, err := withdraw.NewGroth16Prover(art, hasher, testDepth)
	require.NoError(t, err)
	proof, err := prover.Prove(ctx, withdraw.Request{Note: note, MerkleProof: mp, Recipient: alice})
	require.NoError(t, err)

	ok, err := h.pool.Verifier().Verify(ctx, proof)
	require.NoError(t, err)
	require.True(t, ok, "pairing check alone accepts the proof")

	raw, err := proof.MarshalBinary()
	require.NoError(t, err)
	sub := Submission{Token: "TOK", SerializedProof: raw, PublicSignals: proof.Signals}

	chain := &LedgerSubmitter{Ledger: h.ledger, Roots: h.pool, Verifiers: h.pool, RequireVerification: true}
	_, err = chain.Submit(ctx, sub)
	require.True(t, errors.Is(err, ErrUnknownRoot), "got %v", err)
	require.False(t, h.ledger.HasNullifier(note.NullifierHash))

	_, err = (&LedgerSubmitter{Ledger: h.ledger}).Submit(ctx, sub)
	require.True(t, errors.Is(err, ErrUnknownRoot), "no root checker accepts nothing")
	require.Zero(t, h.ledger.Len())
}

func TestLedgerSubmitterChecks(t *testing.T) {
	ctx := context.Background()
	art, _ := testArtifacts(t)
	h := newHarness(t, Config{}, artifacts.Static{testCircuit: art}, Deps{})
	require.NoError(t, h.pool.Initialize(ctx))
	_, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	mp, err := h.pool.tree.GenerateProof(ctx, *note.LeafIndex)
	require.NoError(t, err)
	proof, err := h.pool.prover.Prove(ctx, withdraw.Request{
		Note: note, MerkleProof: mp, Recipient: alice, Relayer: relay, Fee: big.NewInt(10),
	})
	require.NoError(t, err)
	raw, err := proof.MarshalBinary()
	require.NoError(t, err)
	valid := Submission{Token: "TOK", SerializedProof: raw, PublicSignals: proof.Signals}

	e := NewEngine(nil)
	require.NoError(t, e.AddPool(h.pool))
	chain := &LedgerSubmitter{Ledger: zerocash.NewLedger(), Roots: e, Verifiers: e, RequireVerification: true}

	mutations := map[string]func(*withdraw.PublicSignals){
		"recipient": func(s *withdraw.PublicSignals) { s.Recipient = s.Relayer },
		"relayer":   func(s *withdraw.PublicSignals) { s.Relayer = s.Recipient },
		"fee":       func(s *withdraw.PublicSignals) { s.Fee = field.One() },
		"refund":    func(s *withdraw.PublicSignals) { s.Refund = field.One() },
	}
	for name, mutate := range mutations {
		t.Run("mismatched "+name, func(t *testing.T) {
			bad := valid
			mutate(&bad.PublicSignals)
			_, err := chain.Submit(ctx, bad)
			require.True(t, errors.Is(err, ErrSignalMismatch), "got %v", err)
		})
	}

	t.Run("root of another token", func(t *testing.T) {
		other := valid
		other.Token = "OTHER"
		_, err := chain.Submit(ctx, other)
		require.True(t, errors.Is(err, ErrUnknownRoot), "got %v", err)
	})
	require.Zero(t, chain.Ledger.Len())

	txID, err := chain.Submit(ctx, valid)
	require.NoError(t, err)
	require.NotEmpty(t, txID)
	require.True(t, chain.Ledger.HasNullifier(note.NullifierHash))

	_, err = chain.Submit(ctx, valid)
	require.True(t, errors.Is(err, zerocash.ErrDoubleSpend))
}

func TestProofTimeoutKeepsNoteSpendable(t *testing.T) {
	ctx := context.Background()
	art, _ := testArtifacts(t)
	provider := artifacts.Static{testCircuit: art}
	store := &memLeaves{}
	h := newHarness(t, Config{}, provider, Deps{
		Leaves:        store,
		ProverOptions: []withdraw.Groth16Option{withdraw.WithTimeout(time.Millisecond)},
	})
	require.NoError(t, h.pool.Initialize(ctx))
	enc, note, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.True(t, errors.Is(err, withdraw.ErrProofGeneration), "got %v", err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.Equal(t, int32(0), h.submitted.Load())
	require.False(t, h.ledger.HasNullifier(note.NullifierHash))
	require.Equal(t, 0, h.pool.Stats().SpentCount)

	restarted := newHarness(t, Config{}, provider, Deps{Leaves: store})
	require.NoError(t, restarted.pool.Initialize(ctx))
	res, err := restarted.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.True(t, restarted.ledger.HasNullifier(note.NullifierHash))
}

func TestConcurrentWithdrawSameNote(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	sub := SubmitterFunc(func(ctx context.Context, s Submission) (string, error) {
		close(entered)
		<-unblock
		return "tx-1", nil
	})
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{Submitter: sub})
	require.NoError(t, h.pool.Initialize(ctx))
	enc, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
		errc <- err
	}()
	<-entered

	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.True(t, errors.Is(err, ErrWithdrawalInProgress))

	close(unblock)
	require.NoError(t, <-errc)

	_, err = h.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.True(t, errors.Is(err, ErrNullifierSpent))
}

func TestJournalReplay(t *testing.T) {
	ctx := context.Background()
	store := &memLeaves{}
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{Leaves: store})
	require.NoError(t, h.pool.Initialize(ctx))

	var first string
	for i := 0; i < 5; i++ {
		enc, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
		require.NoError(t, err)
		if i == 0 {
			first = enc
		}
	}
	before := h.pool.Stats()

	restarted := newHarness(t, Config{AllowSimulated: true}, nil, Deps{Leaves: store})
	require.NoError(t, restarted.pool.Initialize(ctx))
	after := restarted.pool.Stats()
	require.Equal(t, before.Root, after.Root)
	require.Equal(t, uint64(5), after.LeafCount)

	_, err := restarted.pool.Withdraw(ctx, WithdrawRequest{EncodedNote: first, Recipient: alice})
	require.NoError(t, err)
}

// cancellingLeaves journals the leaf and then cancels the caller's context.
type cancellingLeaves struct {
	memLeaves
	cancel context.CancelFunc
}

func (c *cancellingLeaves) AppendLeaf(ctx context.Context, token string, index uint64, leaf field.Element) error {
	if err := c.memLeaves.AppendLeaf(ctx, token, index, leaf); err != nil {
		return err
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func TestJournaledLeafAlwaysReachesTree(t *testing.T) {
	store := &cancellingLeaves{}
	h := newHarness(t, Config{AllowSimulated: true}, nil, Deps{Leaves: store})
	require.NoError(t, h.pool.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	store.cancel = cancel
	enc, _, err := h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	store.cancel = nil

	journal, err := store.Leaves(context.Background(), "TOK")
	require.NoError(t, err)
	require.Len(t, journal, 1)
	require.Equal(t, uint64(1), h.pool.Stats().LeafCount)

	// Cancelled before journaling: neither side changes.
	_, _, err = h.pool.Deposit(ctx, decimal.NewFromInt(1))
	require.ErrorIs(t, err, context.Canceled)
	journal, err = store.Leaves(context.Background(), "TOK")
	require.NoError(t, err)
	require.Len(t, journal, 1)
	require.Equal(t, uint64(1), h.pool.Stats().LeafCount)

	_, _, err = h.pool.Deposit(context.Background(), decimal.NewFromInt(1))
	require.NoError(t, err)

	restarted := newHarness(t, Config{AllowSimulated: true}, nil, Deps{Leaves: &store.memLeaves})
	require.NoError(t, restarted.pool.Initialize(context.Background()))
	require.Equal(t, h.pool.Stats().Root, restarted.pool.Stats().Root)
	_, err = restarted.pool.Withdraw(context.Background(), WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.NoError(t, err)
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil)
	for _, tok := range []string{"BBB", "AAA"} {
		h := newHarness(t, Config{Token: tok, AllowSimulated: true}, nil, Deps{})
		require.NoError(t, e.AddPool(h.pool))
	}
	dup := newHarness(t, Config{Token: "AAA", AllowSimulated: true}, nil, Deps{})
	require.Error(t, e.AddPool(dup.pool))

	require.NoError(t, e.Initialize(ctx))

	enc, _, err := e.Deposit(ctx, "AAA", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, _, err = e.Deposit(ctx, "ZZZ", decimal.NewFromInt(1))
	require.True(t, errors.Is(err, ErrUnknownPool))

	ok, err := e.VerifyNote(enc)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.Withdraw(ctx, WithdrawRequest{EncodedNote: enc, Recipient: alice})
	require.NoError(t, err)

	stats := e.Pools()
	require.Len(t, stats, 2)
	require.Equal(t, "AAA", stats[0].Token)
	require.Equal(t, uint64(1), stats[0].LeafCount)
	require.Equal(t, 1, stats[0].SpentCount)

	st, err := e.PoolStats("BBB")
	require.NoError(t, err)
	require.Equal(t, uint64(0), st.LeafCount)
}
