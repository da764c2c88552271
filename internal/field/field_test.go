package field

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestReduction(t *testing.T) {
	p := Modulus()

	t.Run("modulus reduces to zero", func(t *testing.T) {
		require.True(t, FromBigInt(p).IsZero())
	})

	t.Run("p+1 reduces to one", func(t *testing.T) {
		v := new(big.Int).Add(p, big.NewInt(1))
		require.True(t, FromBigInt(v).Equal(One()))
	})

	t.Run("negative values wrap", func(t *testing.T) {
		got := FromBigInt(big.NewInt(-1))
		want := new(big.Int).Sub(p, big.NewInt(1))
		require.Equal(t, 0, got.BigInt().Cmp(want))
	})

	t.Run("oversized byte strings reduce", func(t *testing.T) {
		b := bytes.Repeat([]byte{0xff}, 40)
		want := new(big.Int).Mod(new(big.Int).SetBytes(b), p)
		require.Equal(t, 0, FromBytes(b).BigInt().Cmp(want))
	})
}

func TestHexEncoding(t *testing.T) {
	e := NewElement(0xabcdef)
	h := e.Hex()
	require.Len(t, h, HexLen)
	require.True(t, strings.HasSuffix(h, "abcdef"))
	require.True(t, strings.HasPrefix(h, "0000"))

	back, err := FromHex(h)
	require.NoError(t, err)
	require.True(t, back.Equal(e))

	t.Run("rejects modulus", func(t *testing.T) {
		ph := Modulus().Text(16)
		ph = strings.Repeat("0", HexLen-len(ph)) + ph
		_, err := FromHex(ph)
		require.True(t, errors.Is(err, ErrNonCanonical))
	})

	t.Run("rejects short and prefixed input", func(t *testing.T) {
		_, err := FromHex("abcdef")
		require.True(t, errors.Is(err, ErrInvalidHex))
		_, err = FromHex("0x" + h[2:])
		require.Error(t, err)
	})

	t.Run("lenient parse", func(t *testing.T) {
		v, err := ParseHex("0xABCDEF")
		require.NoError(t, err)
		require.True(t, v.Equal(e))
	})
}

func TestTextMarshaling(t *testing.T) {
	e := NewElement(42)
	txt, err := e.MarshalText()
	require.NoError(t, err)

	var back Element
	require.NoError(t, back.UnmarshalText(txt))
	require.True(t, back.Equal(e))
	require.Error(t, back.UnmarshalText([]byte("zz")))
}

func TestRandomIsInRange(t *testing.T) {
	p := Modulus()
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		e, err := Random(rand.Reader)
		require.NoError(t, err)
		require.Equal(t, -1, e.BigInt().Cmp(p))
		seen[e.Hex()] = true
	}
	require.Len(t, seen, 64)
}

func TestRandomRejectsOutOfRangeDraws(t *testing.T) {
	// first draw is all ones (>= p after masking), second is 7
	var src bytes.Buffer
	src.Write(bytes.Repeat([]byte{0xff}, Bytes))
	second := make([]byte, Bytes)
	second[Bytes-1] = 7
	src.Write(second)

	e, err := Random(&src)
	require.NoError(t, err)
	require.True(t, e.Equal(NewElement(7)))

	_, err = Random(&src)
	require.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	a, b := NewElement(6), NewElement(7)
	require.True(t, a.Mul(b).Equal(NewElement(42)))
	require.True(t, a.Add(b).Equal(NewElement(13)))
	require.True(t, b.Sub(a).Equal(One()))
	require.True(t, a.Mul(a.Inverse()).Equal(One()))
	require.True(t, a.FlipBit(0).Equal(NewElement(7)))
}
