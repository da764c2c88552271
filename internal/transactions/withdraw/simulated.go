package withdraw

import (
	"context"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"shieldedpool/internal/poseidon"
)

const simulatedWarning = "SIMULATED withdraw proofs: output does not prove anything and must never reach a real ledger"

// SimulatedConfig configures a SimulatedProver.
type SimulatedConfig struct {
	// AllowSimulated must be true; it is the explicit opt-in.
	AllowSimulated bool
	Hasher         poseidon.Hasher
	Depth          int
	// Verifier, when set, is used by Verify. It is normally a Groth16Prover
	// holding only a verifying key, and rejects every simulated proof.
	Verifier Verifier
	Logger   *zap.Logger
	Observer Observer
}

// SimulatedProver returns proofs whose points are H_i(signals)·G for the curve
// generators. They are on the curve and decode like real proofs but fail any
// pairing check.
type SimulatedProver struct {
	cfg SimulatedConfig
	log *zap.Logger
	obs Observer
}

func NewSimulatedProver(cfg SimulatedConfig) (*SimulatedProver, error) {
	if !cfg.AllowSimulated {
		return nil, ErrSimulatedNotAllowed
	}
	if cfg.Hasher == nil {
		return nil, errors.New("withdraw: simulated prover needs a hasher")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	log.Warn(simulatedWarning, zap.Int("depth", cfg.Depth))
	return &SimulatedProver{cfg: cfg, log: log, obs: obs}, nil
}

func (s *SimulatedProver) Mode() string { return ModeSimulated }
func (s *SimulatedProver) Depth() int   { return s.cfg.Depth }

// CanVerify is always false: no simulated proof ever verifies.
func (s *SimulatedProver) CanVerify() bool { return false }

func (s *SimulatedProver) Prove(ctx context.Context, req Request) (proof *Proof, err error) {
	start := time.Now()
	defer func() { s.obs.ObserveProve(ModeSimulated, time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, signals, err := BuildWithdrawWitness(s.cfg.Hasher, s.cfg.Depth, req)
	if err != nil {
		return nil, err
	}
	s.log.Warn(simulatedWarning, zap.String("nullifierHash", signals.NullifierHash.Hex()))
	return SimulatedProof(signals), nil
}

// Verify defers to the configured verifier, or fails with ErrMissingArtifacts.
func (s *SimulatedProver) Verify(ctx context.Context, proof *Proof) (ok bool, err error) {
	start := time.Now()
	defer func() { s.obs.ObserveVerify(ModeSimulated, time.Since(start), ok, err) }()

	if s.cfg.Verifier == nil {
		return false, errors.Wrap(ErrMissingArtifacts, "simulated mode has no verifying key")
	}
	return s.cfg.Verifier.Verify(ctx, proof)
}

// SimulatedProof derives the placeholder points for signals.
func SimulatedProof(signals PublicSignals) *Proof {
	_, _, g1, g2 := bn254.Generators()
	p := &Proof{Signals: signals}
	p.A.ScalarMultiplication(&g1, simulatedScalar("A", signals))
	p.B.ScalarMultiplication(&g2, simulatedScalar("B", signals))
	p.C.ScalarMultiplication(&g1, simulatedScalar("C", signals))
	return p
}

// simulatedScalar returns keccak256("shieldedpool/simulated/" || label || signals)
// reduced mod r, mapping 0 to 1 so no point is the identity.
func simulatedScalar(label string, signals PublicSignals) *big.Int {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte("shieldedpool/simulated/" + label))
	for _, s := range signals.Slice() {
		b := s.Bytes()
		_, _ = h.Write(b[:])
	}
	var k fr.Element
	k.SetBytes(h.Sum(nil))
	if k.IsZero() {
		k.SetOne()
	}
	return k.BigInt(new(big.Int))
}
