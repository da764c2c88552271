package poseidon

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"shieldedpool/internal/field"
)

// Native runs the permutation on gnark-crypto field elements.
type Native struct {
	p2, p3 *params
}

func NewNative() *Native {
	return &Native{p2: getParams(2), p3: getParams(3)}
}

func (n *Native) Name() string { return BackendNative }

func (n *Native) Hash1(x field.Element) field.Element {
	s := []fr.Element{{}, x.Fr()}
	permute(n.p2, s)
	return field.FromFr(s[0])
}

func (n *Native) Hash2(a, b field.Element) field.Element {
	s := []fr.Element{{}, a.Fr(), b.Fr()}
	permute(n.p3, s)
	return field.FromFr(s[0])
}

func (n *Native) HashN(xs []field.Element) (field.Element, error) {
	return hashN(n, xs)
}

// permute applies the width-len(s) permutation in place. Lane 0 is the capacity.
func permute(p *params, s []fr.Element) {
	t := len(s)
	tmp := make([]fr.Element, t)
	for r := 0; r < p.rounds(); r++ {
		for j := 0; j < t; j++ {
			s[j].Add(&s[j], &p.rc[r][j])
		}
		if p.isFullRound(r) {
			for j := 0; j < t; j++ {
				sbox(&s[j])
			}
		} else {
			sbox(&s[0])
		}
		for i := 0; i < t; i++ {
			var acc, m fr.Element
			for j := 0; j < t; j++ {
				m.Mul(&p.mds[i][j], &s[j])
				acc.Add(&acc, &m)
			}
			tmp[i] = acc
		}
		copy(s, tmp)
	}
}

// sbox sets x to x^5.
func sbox(x *fr.Element) {
	var x2 fr.Element
	x2.Square(x)
	x2.Square(&x2)
	x.Mul(x, &x2)
}
