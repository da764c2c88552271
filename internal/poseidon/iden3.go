package poseidon

import (
	"math/big"

	iden3 "github.com/iden3/go-iden3-crypto/poseidon"

	"shieldedpool/internal/field"
)

// Iden3 delegates to go-iden3-crypto, the circomlib-compatible implementation.
// Hash1 and Hash2 are poseidon([x]) and poseidon([a, b]) as computed by circomlib.
type Iden3 struct{}

func NewIden3() *Iden3 { return &Iden3{} }

func (Iden3) Name() string { return BackendIden3 }

func (h Iden3) Hash1(x field.Element) field.Element {
	return h.hash(x.BigInt())
}

func (h Iden3) Hash2(a, b field.Element) field.Element {
	return h.hash(a.BigInt(), b.BigInt())
}

func (h Iden3) HashN(xs []field.Element) (field.Element, error) {
	return hashN(h, xs)
}

// hash panics if the library rejects the inputs, which field elements always
// satisfy.
func (Iden3) hash(in ...*big.Int) field.Element {
	out, err := iden3.Hash(in)
	if err != nil {
		panic(err)
	}
	return field.FromBigInt(out)
}
