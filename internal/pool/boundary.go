package pool

import (
	"context"

	"shieldedpool/internal/field"
	"shieldedpool/internal/transactions/withdraw"
)

// Submission is what the pool hands to the ledger side after a proof is built.
type Submission struct {
	RequestID       string                 `json:"requestId"`
	Token           string                 `json:"token"`
	SerializedProof []byte                 `json:"proof"`
	PublicSignals   withdraw.PublicSignals `json:"publicSignals"`
}

// Submitter delivers a withdrawal to the ledger and returns its transaction id.
type Submitter interface {
	Submit(ctx context.Context, s Submission) (string, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, s Submission) (string, error)

func (f SubmitterFunc) Submit(ctx context.Context, s Submission) (string, error) {
	return f(ctx, s)
}

// RootChecker reports whether root is a recent root of the token's tree.
type RootChecker interface {
	IsKnownRoot(token string, root field.Element) bool
}

// VerifierSource returns the proof checker for a token, or nil if it has none.
type VerifierSource interface {
	VerifierFor(token string) withdraw.Verifier
}

// VerifierFunc adapts a function to VerifierSource.
type VerifierFunc func(token string) withdraw.Verifier

func (f VerifierFunc) VerifierFor(token string) withdraw.Verifier { return f(token) }

// NullifierRegistry is the authoritative spent set, or a view of it.
type NullifierRegistry interface {
	IsSpent(ctx context.Context, nullifierHash field.Element) (bool, error)
	MarkSpent(ctx context.Context, nullifierHash field.Element) error
}

// LeafStore journals commitments per token so a tree can be rebuilt on restart.
type LeafStore interface {
	AppendLeaf(ctx context.Context, token string, index uint64, leaf field.Element) error
	Leaves(ctx context.Context, token string) ([]field.Element, error)
}

// Recorder receives pool events for metrics.
type Recorder interface {
	Deposit(token string)
	Withdrawal(token, outcome string)
	TreeSize(token string, leaves uint64)
	ProverMode(token, mode string)
}

type nopRecorder struct{}

func (nopRecorder) Deposit(string)            {}
func (nopRecorder) Withdrawal(string, string) {}
func (nopRecorder) TreeSize(string, uint64)   {}
func (nopRecorder) ProverMode(string, string) {}
