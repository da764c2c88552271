package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

// LedgerSubmitter is a local stand-in for the ledger side. It decodes the proof,
// checks the submitted signals and the root, verifies the proof when a verifier
// is available, rejects known nullifiers and appends the spend to a
// zerocash.Ledger.
type LedgerSubmitter struct {
	Ledger *zerocash.Ledger
	// Roots decides which roots a proof may be against. A submitter without it
	// accepts nothing.
	Roots     RootChecker
	Verifiers VerifierSource
	// RequireVerification rejects submissions when the verifier is missing or
	// cannot run.
	RequireVerification bool
}

func (s *LedgerSubmitter) Submit(ctx context.Context, sub Submission) (string, error) {
	proof, err := withdraw.DecodeProof(sub.SerializedProof)
	if err != nil {
		return "", err
	}
	if proof.Signals != sub.PublicSignals {
		return "", ErrSignalMismatch
	}
	if s.Roots == nil || !s.Roots.IsKnownRoot(sub.Token, proof.Signals.Root) {
		return "", errors.Wrapf(ErrUnknownRoot, "%s root %s", sub.Token, proof.Signals.Root.Hex())
	}

	var verifier withdraw.Verifier
	if s.Verifiers != nil {
		verifier = s.Verifiers.VerifierFor(sub.Token)
	}
	if verifier != nil {
		ok, err := verifier.Verify(ctx, proof)
		switch {
		case err != nil && (s.RequireVerification || !errors.Is(err, withdraw.ErrMissingArtifacts)):
			return "", err
		case err == nil && !ok:
			return "", withdraw.ErrVerificationFailure
		}
	} else if s.RequireVerification {
		return "", withdraw.ErrMissingArtifacts
	}

	txID := uuid.NewString()
	err = s.Ledger.Append(zerocash.SpendRecord{
		NullifierHash: proof.Signals.NullifierHash,
		TxID:          txID,
		SpentAt:       time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}
