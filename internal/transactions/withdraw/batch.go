package withdraw

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// VerifyBatch verifies proofs in parallel. results[i] is the outcome for
// proofs[i]. The first error (for example ErrMissingArtifacts) cancels the rest.
func VerifyBatch(ctx context.Context, v Verifier, proofs []*Proof) ([]bool, error) {
	results := make([]bool, len(proofs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range proofs {
		i, p := i, p
		g.Go(func() error {
			ok, err := v.Verify(ctx, p)
			if err != nil {
				return err
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
