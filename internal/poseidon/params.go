package poseidon

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
)

const (
	// FullRounds is RF, split evenly before and after the partial rounds.
	FullRounds = 8
	// fieldBits is the bit length of the BN254 scalar field.
	fieldBits = 254
)

// partialRounds is RP per state width, as in circomlib.
var partialRounds = map[int]int{2: 56, 3: 57}

// params holds the round constants and the MDS matrix of one state width in both
// representations used by the backends.
type params struct {
	t  int
	rp int

	rcBig  [][]*big.Int
	mdsBig [][]*big.Int

	rc  [][]fr.Element
	mds [][]fr.Element
}

func (p *params) rounds() int { return FullRounds + p.rp }

// isFullRound reports whether round r applies the S-box to every lane.
func (p *params) isFullRound(r int) bool {
	return r < FullRounds/2 || r >= FullRounds/2+p.rp
}

var (
	paramsOnce sync.Once
	paramsVal  map[int]*params
)

// getParams returns the parameters for state width t (2 or 3).
func getParams(t int) *params {
	paramsOnce.Do(func() {
		paramsVal = make(map[int]*params, len(partialRounds))
		for w, rp := range partialRounds {
			paramsVal[w] = deriveParams(w, rp)
		}
	})
	p, ok := paramsVal[t]
	if !ok {
		panic(errors.Errorf("poseidon: no parameters for width %d", t))
	}
	return p
}

// deriveParams regenerates the circomlib BN254 constants with the Grain LFSR of the
// Poseidon paper (x^5 S-box, prime field, n = 254).
//
// Round constants are n-bit draws rejected when >= p. The MDS matrix is the Cauchy
// matrix M[i][j] = 1/(x_i + y_j) where x and y are the next 2t draws, taken without
// rejection and reduced mod p.
func deriveParams(t, rp int) *params {
	q := fr.Modulus()
	g := newGrain(t, FullRounds, rp)
	p := &params{t: t, rp: rp}

	rounds := FullRounds + rp
	p.rcBig = make([][]*big.Int, rounds)
	p.rc = make([][]fr.Element, rounds)
	for r := 0; r < rounds; r++ {
		p.rcBig[r] = make([]*big.Int, t)
		p.rc[r] = make([]fr.Element, t)
		for j := 0; j < t; j++ {
			c := g.fieldElement(q)
			p.rcBig[r][j] = c
			p.rc[r][j].SetBigInt(c)
		}
	}

	xy := make([]*big.Int, 2*t)
	for i := range xy {
		xy[i] = g.bits(fieldBits)
		xy[i].Mod(xy[i], q)
	}
	p.mdsBig = make([][]*big.Int, t)
	p.mds = make([][]fr.Element, t)
	for i := 0; i < t; i++ {
		p.mdsBig[i] = make([]*big.Int, t)
		p.mds[i] = make([]fr.Element, t)
		for j := 0; j < t; j++ {
			d := new(big.Int).Add(xy[i], xy[t+j])
			d.Mod(d, q)
			inv := new(big.Int).ModInverse(d, q)
			p.mdsBig[i][j] = inv
			p.mds[i][j].SetBigInt(inv)
		}
	}
	return p
}

// grain is the 80-bit self-shrinking LFSR used to generate Poseidon parameters.
type grain struct {
	state [80]byte
	pos   int
}

func newGrain(t, rf, rp int) *grain {
	g := new(grain)
	i := 0
	put := func(v, width int) {
		for b := width - 1; b >= 0; b-- {
			g.state[i] = byte(v>>uint(b)) & 1
			i++
		}
	}
	put(1, 2) // prime field
	put(0, 4) // x^alpha S-box
	put(fieldBits, 12)
	put(t, 12)
	put(rf, 10)
	put(rp, 10)
	for ; i < len(g.state); i++ {
		g.state[i] = 1
	}
	for k := 0; k < 160; k++ {
		g.clock()
	}
	return g
}

func (g *grain) clock() byte {
	s := func(k int) byte { return g.state[(g.pos+k)%80] }
	b := s(62) ^ s(51) ^ s(38) ^ s(23) ^ s(13) ^ s(0)
	g.state[g.pos] = b
	g.pos = (g.pos + 1) % 80
	return b
}

// bit returns the next output bit: pairs are read and the second bit is kept only
// when the first is set.
func (g *grain) bit() byte {
	for {
		if g.clock() == 1 {
			return g.clock()
		}
		g.clock()
	}
}

// bits reads n output bits, most significant first.
func (g *grain) bits(n int) *big.Int {
	v := new(big.Int)
	for i := 0; i < n; i++ {
		v.Lsh(v, 1)
		if g.bit() == 1 {
			v.SetBit(v, 0, 1)
		}
	}
	return v
}

func (g *grain) fieldElement(q *big.Int) *big.Int {
	for {
		if v := g.bits(fieldBits); v.Cmp(q) < 0 {
			return v
		}
	}
}

// RoundConstant returns the constant added to lane j in round r of the width-t
// permutation.
func RoundConstant(t, r, j int) *big.Int {
	return new(big.Int).Set(getParams(t).rcBig[r][j])
}

// MDS returns entry (i, j) of the width-t mixing matrix.
func MDS(t, i, j int) *big.Int {
	return new(big.Int).Set(getParams(t).mdsBig[i][j])
}
