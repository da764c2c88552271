package poseidon

import (
	"github.com/consensys/gnark/frontend"
)

// Gadget evaluates the permutation inside a gnark circuit. Its outputs match the
// native backend for the same inputs.
type Gadget struct {
	api frontend.API
}

func NewGadget(api frontend.API) *Gadget {
	return &Gadget{api: api}
}

func (g *Gadget) Hash1(x frontend.Variable) frontend.Variable {
	return g.permute(getParams(2), []frontend.Variable{0, x})
}

func (g *Gadget) Hash2(a, b frontend.Variable) frontend.Variable {
	return g.permute(getParams(3), []frontend.Variable{0, a, b})
}

// HashN mirrors Hasher.HashN. It panics on empty input, which is a circuit
// construction bug rather than a witness error.
func (g *Gadget) HashN(xs ...frontend.Variable) frontend.Variable {
	if len(xs) == 0 {
		panic(ErrEmptyInput)
	}
	if len(xs) == 1 {
		return g.Hash1(xs[0])
	}
	acc := xs[0]
	for _, x := range xs[1:] {
		acc = g.Hash2(acc, x)
	}
	return acc
}

func (g *Gadget) permute(p *params, s []frontend.Variable) frontend.Variable {
	api := g.api
	t := len(s)
	for r := 0; r < p.rounds(); r++ {
		for j := 0; j < t; j++ {
			s[j] = api.Add(s[j], p.rcBig[r][j])
		}
		if p.isFullRound(r) {
			for j := 0; j < t; j++ {
				s[j] = g.sbox(s[j])
			}
		} else {
			s[0] = g.sbox(s[0])
		}
		next := make([]frontend.Variable, t)
		for i := 0; i < t; i++ {
			acc := api.Mul(p.mdsBig[i][0], s[0])
			for j := 1; j < t; j++ {
				acc = api.Add(acc, api.Mul(p.mdsBig[i][j], s[j]))
			}
			next[i] = acc
		}
		s = next
	}
	return s[0]
}

func (g *Gadget) sbox(x frontend.Variable) frontend.Variable {
	x2 := g.api.Mul(x, x)
	x4 := g.api.Mul(x2, x2)
	return g.api.Mul(x4, x)
}
