// Package poseidon implements the Poseidon hash over the BN254 scalar field.
//
// Parameters are those of circomlib: x^5 S-box, 8 full rounds, 56 partial rounds at
// width 2 (one input) and 57 at width 3 (two inputs), zero capacity lane, output lane
// 0. Hashes therefore match circomlib circuits and go-iden3-crypto. Three backends are
// provided and are required to agree bit for bit:
//
//   - "native": gnark-crypto field elements in Montgomery form (the default)
//   - "reference": a plain math/big rendition of the same rounds
//   - "iden3": github.com/iden3/go-iden3-crypto/poseidon
//
// The same permutation is available inside gnark circuits through Gadget.
package poseidon

import (
	"github.com/pkg/errors"

	"shieldedpool/internal/field"
)

const (
	BackendNative    = "native"
	BackendReference = "reference"
	BackendIden3     = "iden3"
)

var (
	ErrEmptyInput     = errors.New("poseidon: empty input")
	ErrUnknownBackend = errors.New("poseidon: unknown backend")
	ErrTooManyInputs  = errors.New("poseidon: too many inputs for one permutation")
)

// Hasher is the hash primitive shared by the tree, the note scheme and the
// witness builder.
type Hasher interface {
	// Hash1 hashes a single element with the width-2 permutation.
	Hash1(x field.Element) field.Element
	// Hash2 compresses two elements with the width-3 permutation. Order matters.
	Hash2(a, b field.Element) field.Element
	// HashN folds xs left to right with Hash2. A single element is hashed with Hash1.
	HashN(xs []field.Element) (field.Element, error)
	// Name returns the backend name.
	Name() string
}

// New returns the backend registered under name. An empty name selects the native
// backend.
func New(name string) (Hasher, error) {
	switch name {
	case "", BackendNative:
		return NewNative(), nil
	case BackendReference:
		return NewReference(), nil
	case BackendIden3:
		return NewIden3(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}
}

// Backends lists the accepted backend names.
func Backends() []string {
	return []string{BackendNative, BackendReference, BackendIden3}
}

func hashN(h Hasher, xs []field.Element) (field.Element, error) {
	switch len(xs) {
	case 0:
		return field.Element{}, ErrEmptyInput
	case 1:
		return h.Hash1(xs[0]), nil
	}
	acc := xs[0]
	for _, x := range xs[1:] {
		acc = h.Hash2(acc, x)
	}
	return acc, nil
}
