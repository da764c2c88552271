package withdraw

import (
	"context"
	"runtime"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/semaphore"

	"shieldedpool/internal/artifacts"
	"shieldedpool/internal/poseidon"
)

const (
	DefaultProveTimeout    = 2 * time.Minute
	DefaultVerifyCacheSize = 1024
)

type Groth16Option func(*Groth16Prover)

// WithMaxConcurrency bounds the number of proofs generated at once. The default
// is GOMAXPROCS.
func WithMaxConcurrency(n int) Groth16Option {
	return func(p *Groth16Prover) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout bounds a single Prove call, including the wait for a slot.
func WithTimeout(d time.Duration) Groth16Option {
	return func(p *Groth16Prover) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithProverLogger(l *zap.Logger) Groth16Option {
	return func(p *Groth16Prover) {
		if l != nil {
			p.log = l
		}
	}
}

func WithObserver(o Observer) Groth16Option {
	return func(p *Groth16Prover) {
		if o != nil {
			p.obs = o
		}
	}
}

// WithVerifyCacheSize sets how many successfully verified proofs are remembered.
// Zero disables the cache.
func WithVerifyCacheSize(n int) Groth16Option {
	return func(p *Groth16Prover) { p.cacheSize = n }
}

// Groth16Prover proves and verifies with real artifacts. A set holding only the
// verifying key yields a verifier whose Prove returns ErrMissingArtifacts.
type Groth16Prover struct {
	art    *artifacts.Artifacts
	hasher poseidon.Hasher
	depth  int

	sem       *semaphore.Weighted
	timeout   time.Duration
	cacheSize int
	verified  *lru.Cache[[32]byte, struct{}]

	log *zap.Logger
	obs Observer
}

func NewGroth16Prover(a *artifacts.Artifacts, h poseidon.Hasher, depth int, opts ...Groth16Option) (*Groth16Prover, error) {
	if a == nil || (!a.CanProve() && !a.CanVerify()) {
		return nil, ErrMissingArtifacts
	}
	p := &Groth16Prover{
		art:       a,
		hasher:    h,
		depth:     depth,
		sem:       semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		timeout:   DefaultProveTimeout,
		cacheSize: DefaultVerifyCacheSize,
		log:       zap.NewNop(),
		obs:       nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize > 0 {
		c, err := lru.New[[32]byte, struct{}](p.cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "verify cache")
		}
		p.verified = c
	}
	return p, nil
}

func (p *Groth16Prover) Mode() string    { return ModeGroth16 }
func (p *Groth16Prover) Depth() int      { return p.depth }
func (p *Groth16Prover) CanVerify() bool { return p.art.CanVerify() }
func (p *Groth16Prover) CanProve() bool  { return p.art.CanProve() }

type proveResult struct {
	proof groth16.Proof
	err   error
}

// Prove builds the witness and runs groth16.Prove. The call returns when ctx is
// done or the timeout expires; the abandoned computation keeps its concurrency
// slot until it finishes.
func (p *Groth16Prover) Prove(ctx context.Context, req Request) (proof *Proof, err error) {
	start := time.Now()
	defer func() { p.obs.ObserveProve(ModeGroth16, time.Since(start), err) }()

	if !p.art.CanProve() {
		return nil, errors.Wrap(ErrMissingArtifacts, "no proving key")
	}
	assignment, signals, err := BuildWithdrawWitness(p.hasher, p.depth, req)
	if err != nil {
		return nil, err
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrapf(ErrWitnessGeneration, "new witness: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, abortedProof(errors.WithMessage(err, "waiting for prover slot"))
	}

	done := make(chan proveResult, 1)
	go func() {
		defer p.sem.Release(1)
		pr, err := groth16.Prove(p.art.CCS, p.art.ProvingKey, w)
		done <- proveResult{pr, err}
	}()

	var res proveResult
	select {
	case <-ctx.Done():
		p.log.Warn("proof generation abandoned", zap.Error(ctx.Err()))
		return nil, abortedProof(ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, errors.Wrapf(ErrProofGeneration, "groth16: %v", res.err)
	}
	bp, ok := res.proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, errors.Wrapf(ErrProofGeneration, "unexpected proof type %T", res.proof)
	}
	if len(bp.Commitments) != 0 {
		return nil, errors.Wrap(ErrProofGeneration, "circuit commitments are not supported by the wire format")
	}

	p.log.Debug("withdraw proof generated",
		zap.String("nullifierHash", signals.NullifierHash.Hex()),
		zap.Duration("took", time.Since(start)),
	)
	return &Proof{A: bp.Ar, B: bp.Bs, C: bp.Krs, Signals: signals}, nil
}

// Verify runs the pairing check against the proof's public signals.
func (p *Groth16Prover) Verify(ctx context.Context, proof *Proof) (ok bool, err error) {
	start := time.Now()
	defer func() { p.obs.ObserveVerify(ModeGroth16, time.Since(start), ok, err) }()

	if !p.art.CanVerify() {
		return false, errors.Wrap(ErrMissingArtifacts, "no verifying key")
	}
	if proof == nil {
		return false, errors.Wrap(ErrInvalidProofEncoding, "nil proof")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	raw, err := proof.MarshalBinary()
	if err != nil {
		return false, err
	}
	key := sha3.Sum256(raw)
	if p.verified != nil {
		if _, hit := p.verified.Get(key); hit {
			return true, nil
		}
	}

	pw, err := frontend.NewWitness(proof.Signals.publicAssignment(p.depth), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, errors.Wrapf(ErrInvalidProofEncoding, "public witness: %v", err)
	}
	bp := &groth16_bn254.Proof{Ar: proof.A, Bs: proof.B, Krs: proof.C}
	if err := groth16.Verify(bp, p.art.VerifyingKey, pw); err != nil {
		p.log.Debug("pairing check failed",
			zap.String("nullifierHash", proof.Signals.NullifierHash.Hex()),
			zap.Error(err),
		)
		return false, nil
	}
	if p.verified != nil {
		p.verified.Add(key, struct{}{})
	}
	return true, nil
}

// abortedError is a proof generation failure caused by ctx. It matches both
// ErrProofGeneration and the context error.
type abortedError struct {
	cause error
}

func abortedProof(cause error) error {
	return errors.WithStack(&abortedError{cause: cause})
}

func (e *abortedError) Error() string {
	return ErrProofGeneration.Error() + ": " + e.cause.Error()
}

func (e *abortedError) Is(target error) bool { return target == ErrProofGeneration }

func (e *abortedError) Cause() error  { return e.cause }
func (e *abortedError) Unwrap() error { return e.cause }
