package merkle

import (
	"github.com/pkg/errors"

	"shieldedpool/internal/field"
	"shieldedpool/internal/poseidon"
)

var ErrMalformedProof = errors.New("merkle: malformed proof")

// Proof is a membership proof. PathIndices[i] is 0 when the running node is the
// left child at level i and 1 when it is the right child.
type Proof struct {
	Root         field.Element   `json:"root"`
	PathElements []field.Element `json:"pathElements"`
	PathIndices  []uint8         `json:"pathIndices"`
	LeafIndex    uint64          `json:"leafIndex"`
}

func (p *Proof) Depth() int { return len(p.PathElements) }

// Fold hashes leaf up the path and returns the resulting root. It does not compare
// against p.Root.
func (p *Proof) Fold(h poseidon.Hasher, leaf field.Element) (field.Element, error) {
	if len(p.PathElements) != len(p.PathIndices) {
		return field.Element{}, errors.Wrapf(ErrMalformedProof, "%d elements, %d indices",
			len(p.PathElements), len(p.PathIndices))
	}
	cur := leaf
	for i, sib := range p.PathElements {
		switch p.PathIndices[i] {
		case 0:
			cur = h.Hash2(cur, sib)
		case 1:
			cur = h.Hash2(sib, cur)
		default:
			return field.Element{}, errors.Wrapf(ErrMalformedProof, "path index %d is %d", i, p.PathIndices[i])
		}
	}
	return cur, nil
}

// Check reports whether leaf folds to p.Root. It does not consult any root history.
func (p *Proof) Check(h poseidon.Hasher, leaf field.Element) bool {
	r, err := p.Fold(h, leaf)
	return err == nil && r.Equal(p.Root)
}

// IndexFromPath recomputes the leaf index encoded by PathIndices.
func (p *Proof) IndexFromPath() uint64 {
	var idx uint64
	for i := len(p.PathIndices) - 1; i >= 0; i-- {
		idx = idx<<1 | uint64(p.PathIndices[i]&1)
	}
	return idx
}
