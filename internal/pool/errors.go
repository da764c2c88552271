package pool

import "github.com/pkg/errors"

var (
	ErrInputValidation      = errors.New("pool: invalid input")
	ErrArtifactUnavailable  = errors.New("pool: circuit artifacts unavailable")
	ErrNullifierSpent       = errors.New("pool: nullifier already spent")
	ErrNotReady             = errors.New("pool: not operational")
	ErrUnknownPool          = errors.New("pool: unknown token")
	ErrWithdrawalInProgress = errors.New("pool: withdrawal for this note already in progress")
	ErrSubmission           = errors.New("pool: submission failed")
	ErrUnknownRoot          = errors.New("pool: unknown merkle root")
	ErrSignalMismatch       = errors.New("pool: submission signals do not match the proof")
)
