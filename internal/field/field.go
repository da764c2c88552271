// Package field implements arithmetic over the BN254 scalar field.
//
// Every circuit signal, commitment, nullifier and Merkle node in the pool is an
// Element. Elements are stored as fixed-width 256-bit values (four 64-bit limbs in
// Montgomery form, backed by gnark-crypto) and are always reduced into [0, p).
//
// Constructors taking arbitrary integers or byte strings reduce modulo p. Decoders
// for externally supplied data (FromHex, FromBytesCanonical) reject values >= p
// instead, so that a non-canonical encoding can never alias another value.
package field

import (
	"encoding/hex"
	"io"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
)

// Bytes is the size of a serialized element.
const Bytes = fr.Bytes

// HexLen is the length of the canonical hex encoding.
const HexLen = 2 * Bytes

var (
	ErrNonCanonical = errors.New("field: value is not smaller than the modulus")
	ErrInvalidHex   = errors.New("field: invalid hex encoding")
	ErrInvalidSize  = errors.New("field: invalid byte length")
)

// Element is a value of the BN254 scalar field. The zero value is 0.
type Element fr.Element

// Modulus returns a copy of the field modulus p.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Zero returns the additive identity.
func Zero() Element {
	return Element{}
}

// One returns the multiplicative identity.
func One() Element {
	var z fr.Element
	z.SetOne()
	return Element(z)
}

// NewElement returns v as a field element.
func NewElement(v uint64) Element {
	var z fr.Element
	z.SetUint64(v)
	return Element(z)
}

// FromFr wraps a gnark-crypto element.
func FromFr(v fr.Element) Element {
	return Element(v)
}

// FromBigInt reduces v modulo p. Negative values map to their canonical
// non-negative representative.
func FromBigInt(v *big.Int) Element {
	var z fr.Element
	z.SetBigInt(v)
	return Element(z)
}

// FromBytes interprets b as a big-endian integer and reduces it modulo p.
func FromBytes(b []byte) Element {
	var z fr.Element
	z.SetBytes(b)
	return Element(z)
}

// FromBytesCanonical decodes exactly Bytes big-endian bytes and rejects values >= p.
func FromBytesCanonical(b []byte) (Element, error) {
	if len(b) != Bytes {
		return Element{}, errors.Wrapf(ErrInvalidSize, "got %d bytes, want %d", len(b), Bytes)
	}
	var z fr.Element
	if err := z.SetBytesCanonical(b); err != nil {
		return Element{}, ErrNonCanonical
	}
	return Element(z), nil
}

// FromHex decodes the canonical encoding produced by Hex: exactly HexLen hex digits,
// zero padded, no 0x prefix, value < p.
func FromHex(s string) (Element, error) {
	if len(s) != HexLen {
		return Element{}, errors.Wrapf(ErrInvalidHex, "got %d characters, want %d", len(s), HexLen)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Element{}, errors.Wrap(ErrInvalidHex, err.Error())
	}
	return FromBytesCanonical(b)
}

// ParseHex is a lenient variant of FromHex accepting an optional 0x prefix and
// fewer than HexLen digits. Values >= p are still rejected.
func ParseHex(s string) (Element, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) == 0 || len(s) > HexLen {
		return Element{}, errors.Wrapf(ErrInvalidHex, "bad length %d", len(s))
	}
	if len(s) < HexLen {
		s = strings.Repeat("0", HexLen-len(s)) + s
	}
	return FromHex(strings.ToLower(s))
}

// Random samples an element uniformly from [0, p) using r.
//
// Draws are 32 bytes with the top two bits cleared (p < 2^254); a draw >= p is
// discarded and redrawn, so the result carries no modular bias.
func Random(r io.Reader) (Element, error) {
	var buf [Bytes]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Element{}, errors.Wrap(err, "field: read randomness")
		}
		buf[0] &= 0x3f
		e, err := FromBytesCanonical(buf[:])
		if err == nil {
			return e, nil
		}
	}
}

// Fr returns the underlying gnark-crypto element.
func (e Element) Fr() fr.Element {
	return fr.Element(e)
}

// Bytes returns the 32-byte big-endian encoding.
func (e Element) Bytes() [Bytes]byte {
	z := fr.Element(e)
	return z.Bytes()
}

// Hex returns the canonical 64-character lowercase hex encoding.
func (e Element) Hex() string {
	b := e.Bytes()
	return hex.EncodeToString(b[:])
}

// BigInt returns e as a new big.Int in [0, p).
func (e Element) BigInt() *big.Int {
	z := fr.Element(e)
	return z.BigInt(new(big.Int))
}

// String returns the decimal representation.
func (e Element) String() string {
	z := fr.Element(e)
	return z.String()
}

func (e Element) Equal(o Element) bool {
	a, b := fr.Element(e), fr.Element(o)
	return a.Equal(&b)
}

func (e Element) IsZero() bool {
	z := fr.Element(e)
	return z.IsZero()
}

func (e Element) Add(o Element) Element {
	var z fr.Element
	a, b := fr.Element(e), fr.Element(o)
	z.Add(&a, &b)
	return Element(z)
}

func (e Element) Sub(o Element) Element {
	var z fr.Element
	a, b := fr.Element(e), fr.Element(o)
	z.Sub(&a, &b)
	return Element(z)
}

func (e Element) Mul(o Element) Element {
	var z fr.Element
	a, b := fr.Element(e), fr.Element(o)
	z.Mul(&a, &b)
	return Element(z)
}

// Inverse returns 1/e, or 0 when e is 0.
func (e Element) Inverse() Element {
	var z fr.Element
	a := fr.Element(e)
	z.Inverse(&a)
	return Element(z)
}

// FlipBit returns e with bit i (0 = least significant) of its canonical encoding
// toggled, reduced modulo p.
func (e Element) FlipBit(i int) Element {
	v := e.BigInt()
	v.SetBit(v, i, v.Bit(i)^1)
	return FromBigInt(v)
}

// MarshalText implements encoding.TextMarshaler using the canonical hex form.
func (e Element) MarshalText() ([]byte, error) {
	return []byte(e.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler; it accepts only canonical hex.
func (e *Element) UnmarshalText(b []byte) error {
	v, err := FromHex(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}
