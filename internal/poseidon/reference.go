package poseidon

import (
	"math/big"

	"shieldedpool/internal/field"
)

// Reference is a direct math/big transcription of the permutation. It is slow and
// exists to cross-check the native backend.
type Reference struct {
	q *big.Int
}

func NewReference() *Reference {
	return &Reference{q: field.Modulus()}
}

func (r *Reference) Name() string { return BackendReference }

func (r *Reference) Hash1(x field.Element) field.Element {
	return r.hash(x.BigInt())
}

func (r *Reference) Hash2(a, b field.Element) field.Element {
	return r.hash(a.BigInt(), b.BigInt())
}

func (r *Reference) HashN(xs []field.Element) (field.Element, error) {
	return hashN(r, xs)
}

// HashBig hashes one or two arbitrary integers, reducing them mod p first.
func (r *Reference) HashBig(xs ...*big.Int) (field.Element, error) {
	switch {
	case len(xs) == 0:
		return field.Element{}, ErrEmptyInput
	case len(xs) > 2:
		return field.Element{}, ErrTooManyInputs
	}
	in := make([]*big.Int, len(xs))
	for i, x := range xs {
		in[i] = new(big.Int).Mod(x, r.q)
	}
	return r.hash(in...), nil
}

func (r *Reference) hash(in ...*big.Int) field.Element {
	p := getParams(len(in) + 1)
	t := p.t
	s := make([]*big.Int, t)
	s[0] = new(big.Int)
	for j, x := range in {
		s[j+1] = new(big.Int).Set(x)
	}

	five := big.NewInt(5)
	for rd := 0; rd < p.rounds(); rd++ {
		for j := 0; j < t; j++ {
			s[j].Add(s[j], p.rcBig[rd][j])
			s[j].Mod(s[j], r.q)
		}
		if p.isFullRound(rd) {
			for j := 0; j < t; j++ {
				s[j].Exp(s[j], five, r.q)
			}
		} else {
			s[0].Exp(s[0], five, r.q)
		}
		next := make([]*big.Int, t)
		for i := 0; i < t; i++ {
			acc := new(big.Int)
			for j := 0; j < t; j++ {
				acc.Add(acc, new(big.Int).Mul(p.mdsBig[i][j], s[j]))
			}
			next[i] = acc.Mod(acc, r.q)
		}
		s = next
	}
	return field.FromBigInt(s[0])
}
