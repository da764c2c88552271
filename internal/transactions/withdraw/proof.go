package withdraw

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"

	"shieldedpool/internal/field"
)

const (
	wordSize = 32
	// ProofWords is the number of 32-byte words in the wire format: 8 for the
	// points, 6 for the public signals.
	ProofWords = 14
	// ProofSize is the length of a serialized proof.
	ProofSize = ProofWords * wordSize
)

// PublicSignals are the public inputs of the withdraw circuit, in circuit order.
type PublicSignals struct {
	Root          field.Element `json:"root"`
	NullifierHash field.Element `json:"nullifierHash"`
	Recipient     field.Element `json:"recipient"`
	Relayer       field.Element `json:"relayer"`
	Fee           field.Element `json:"fee"`
	Refund        field.Element `json:"refund"`
}

// Slice returns the signals in wire order.
func (s PublicSignals) Slice() []field.Element {
	return []field.Element{s.Root, s.NullifierHash, s.Recipient, s.Relayer, s.Fee, s.Refund}
}

// assign returns a circuit with the public inputs set and the private slices
// sized for depth.
func (s PublicSignals) assign(depth int) *Circuit {
	c := NewCircuit(depth)
	c.Root = s.Root.BigInt()
	c.NullifierHash = s.NullifierHash.BigInt()
	c.Recipient = s.Recipient.BigInt()
	c.Relayer = s.Relayer.BigInt()
	c.Fee = s.Fee.BigInt()
	c.Refund = s.Refund.BigInt()
	return c
}

// publicAssignment is assign with zeroed private inputs, for public witnesses.
func (s PublicSignals) publicAssignment(depth int) *Circuit {
	c := s.assign(depth)
	c.Secret, c.Nullifier = 0, 0
	for i := range c.PathElements {
		c.PathElements[i], c.PathIndices[i] = 0, 0
	}
	return c
}

var _ frontend.Circuit = (*Circuit)(nil)

// Proof is a Groth16 proof over BN254 with its public signals.
type Proof struct {
	A       bn254.G1Affine
	B       bn254.G2Affine
	C       bn254.G1Affine
	Signals PublicSignals
}

// MarshalBinary encodes the proof as 14 big-endian 32-byte words:
// A.x, A.y, B.x0, B.x1, B.y0, B.y1, C.x, C.y, root, nullifierHash, recipient,
// relayer, fee, refund.
func (p *Proof) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, ProofSize)
	for _, c := range []fp.Element{p.A.X, p.A.Y, p.B.X.A0, p.B.X.A1, p.B.Y.A0, p.B.Y.A1, p.C.X, p.C.Y} {
		b := c.Bytes()
		out = append(out, b[:]...)
	}
	for _, s := range p.Signals.Slice() {
		b := s.Bytes()
		out = append(out, b[:]...)
	}
	return out, nil
}

// UnmarshalBinary decodes the MarshalBinary format. It rejects coordinates not
// below the base field modulus, signals not below the scalar field modulus and
// points that are not on the curve.
func (p *Proof) UnmarshalBinary(data []byte) error {
	if len(data) != ProofSize {
		return errors.Wrapf(ErrInvalidProofEncoding, "got %d bytes, want %d", len(data), ProofSize)
	}
	word := func(i int) []byte { return data[i*wordSize : (i+1)*wordSize] }

	var q Proof
	coords := []*fp.Element{&q.A.X, &q.A.Y, &q.B.X.A0, &q.B.X.A1, &q.B.Y.A0, &q.B.Y.A1, &q.C.X, &q.C.Y}
	for i, c := range coords {
		if err := c.SetBytesCanonical(word(i)); err != nil {
			return errors.Wrapf(ErrInvalidProofEncoding, "coordinate %d: %v", i, err)
		}
	}
	if !q.A.IsOnCurve() || !q.C.IsOnCurve() {
		return errors.Wrap(ErrInvalidProofEncoding, "G1 point not on curve")
	}
	if !q.B.IsOnCurve() || !q.B.IsInSubGroup() {
		return errors.Wrap(ErrInvalidProofEncoding, "G2 point not on curve or not in subgroup")
	}

	sigs := []*field.Element{
		&q.Signals.Root, &q.Signals.NullifierHash, &q.Signals.Recipient,
		&q.Signals.Relayer, &q.Signals.Fee, &q.Signals.Refund,
	}
	for i, s := range sigs {
		e, err := field.FromBytesCanonical(word(len(coords) + i))
		if err != nil {
			return errors.Wrapf(ErrInvalidProofEncoding, "signal %d: %v", i, err)
		}
		*s = e
	}
	*p = q
	return nil
}

// Equal compares points and signals.
func (p *Proof) Equal(o *Proof) bool {
	if p == nil || o == nil {
		return p == o
	}
	if !p.A.Equal(&o.A) || !p.B.Equal(&o.B) || !p.C.Equal(&o.C) {
		return false
	}
	a, b := p.Signals.Slice(), o.Signals.Slice()
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// DecodeProof is UnmarshalBinary into a new Proof.
func DecodeProof(data []byte) (*Proof, error) {
	p := new(Proof)
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}
