package withdraw

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	ModeGroth16   = "groth16"
	ModeSimulated = "simulated"
)

var (
	ErrMissingArtifacts     = errors.New("withdraw: missing circuit artifacts")
	ErrWitnessGeneration    = errors.New("withdraw: witness generation failed")
	ErrProofGeneration      = errors.New("withdraw: proof generation failed")
	ErrVerificationFailure  = errors.New("withdraw: proof verification failed")
	ErrInvalidProofEncoding = errors.New("withdraw: invalid proof encoding")
	ErrSimulatedNotAllowed  = errors.New("withdraw: simulated proofs are not enabled")
)

// Verifier checks withdrawal proofs. A false result with a nil error means the
// pairing check ran and failed; ErrMissingArtifacts means it could not run.
type Verifier interface {
	Verify(ctx context.Context, p *Proof) (bool, error)
}

// Prover produces and checks withdrawal proofs.
type Prover interface {
	Verifier
	Prove(ctx context.Context, req Request) (*Proof, error)
	// CanVerify reports whether Verify can return true for a valid proof.
	CanVerify() bool
	Mode() string
	Depth() int
}

// Observer receives timing for each proving and verification call.
type Observer interface {
	ObserveProve(mode string, took time.Duration, err error)
	ObserveVerify(mode string, took time.Duration, ok bool, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveProve(string, time.Duration, error)        {}
func (nopObserver) ObserveVerify(string, time.Duration, bool, error) {}
