package withdraw

import (
	"github.com/consensys/gnark/frontend"

	"shieldedpool/internal/poseidon"
)

// Circuit proves knowledge of (secret, nullifier) whose commitment is a leaf under
// Root, and binds the withdrawal parameters to the proof.
type Circuit struct {
	// Public
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Relayer       frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	Refund        frontend.Variable `gnark:",public"`

	// Private
	Secret       frontend.Variable
	Nullifier    frontend.Variable
	PathElements []frontend.Variable
	PathIndices  []frontend.Variable
}

// NewCircuit returns an empty circuit for a tree of the given depth, ready for
// compilation or assignment.
func NewCircuit(depth int) *Circuit {
	return &Circuit{
		PathElements: make([]frontend.Variable, depth),
		PathIndices:  make([]frontend.Variable, depth),
	}
}

func (c *Circuit) Depth() int { return len(c.PathElements) }

func (c *Circuit) Define(api frontend.API) error {
	h := poseidon.NewGadget(api)

	// (1) Nullifier hash
	api.AssertIsEqual(c.NullifierHash, h.Hash1(c.Nullifier))

	// (2) Commitment and Merkle membership
	cur := h.Hash2(c.Secret, c.Nullifier)
	for i := range c.PathElements {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], c.PathElements[i], cur)
		right := api.Select(c.PathIndices[i], cur, c.PathElements[i])
		cur = h.Hash2(left, right)
	}
	api.AssertIsEqual(c.Root, cur)

	// (3) Bind the remaining public inputs so they cannot be swapped after proving
	for _, v := range []frontend.Variable{c.Recipient, c.Relayer, c.Fee, c.Refund} {
		sq := api.Mul(v, v)
		api.AssertIsEqual(sq, api.Mul(v, v))
	}
	return nil
}
