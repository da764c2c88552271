// note.go - Deposit notes and their external encoding.

package zerocash

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"shieldedpool/internal/field"
)

const (
	// NoteTag prefixes every encoded note.
	NoteTag = "zcnote"
	// NoteVersion is the highest encoding version this package reads and the one
	// it writes.
	NoteVersion = 1
)

var (
	ErrInvalidNoteFormat = errors.New("zerocash: invalid note format")
	ErrNoteIntegrity     = errors.New("zerocash: note commitment or nullifier hash mismatch")
)

// DepositNote is a single deposit. Secret and Nullifier are the spending
// credentials; Commitment and NullifierHash are derived from them.
type DepositNote struct {
	Commitment    field.Element
	NullifierHash field.Element
	Secret        field.Element
	Nullifier     field.Element
	Amount        decimal.Decimal
	Token         string
	Timestamp     time.Time
	LeafIndex     *uint64 // set once the commitment is in the tree
}

// WithLeafIndex returns a copy of n with the leaf index set.
func (n *DepositNote) WithLeafIndex(i uint64) *DepositNote {
	c := *n
	c.LeafIndex = &i
	return &c
}

// noteJSON is the payload inside an encoded note. Unknown fields are ignored on
// decode so later versions can add to it.
type noteJSON struct {
	Commitment    string  `json:"commitment"`
	NullifierHash string  `json:"nullifierHash"`
	Secret        string  `json:"secret"`
	Nullifier     string  `json:"nullifier"`
	Amount        string  `json:"amount"`
	Token         string  `json:"token"`
	Timestamp     string  `json:"timestamp"`
	LeafIndex     *uint64 `json:"leafIndex,omitempty"`
}

// Encode returns "zcnote-v1-<base64url(JSON)>".
func Encode(n *DepositNote) (string, error) {
	if n == nil {
		return "", errors.New("zerocash: nil note")
	}
	payload, err := json.Marshal(noteJSON{
		Commitment:    n.Commitment.Hex(),
		NullifierHash: n.NullifierHash.Hex(),
		Secret:        n.Secret.Hex(),
		Nullifier:     n.Nullifier.Hex(),
		Amount:        n.Amount.String(),
		Token:         n.Token,
		Timestamp:     n.Timestamp.UTC().Format(time.RFC3339Nano),
		LeafIndex:     n.LeafIndex,
	})
	if err != nil {
		return "", errors.Wrap(err, "zerocash: marshal note")
	}
	return NoteTag + "-v" + strconv.Itoa(NoteVersion) + "-" + base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode parses an encoded note. It checks format and field ranges only; use
// DecodeAndVerify before trusting the result.
func Decode(s string) (*DepositNote, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), NoteTag+"-v")
	if !ok {
		return nil, errors.Wrap(ErrInvalidNoteFormat, "missing tag")
	}
	ver, payload, ok := strings.Cut(rest, "-")
	if !ok {
		return nil, errors.Wrap(ErrInvalidNoteFormat, "missing version separator")
	}
	v, err := strconv.Atoi(ver)
	if err != nil || v < 1 {
		return nil, errors.Wrapf(ErrInvalidNoteFormat, "bad version %q", ver)
	}
	if v > NoteVersion {
		return nil, errors.Wrapf(ErrInvalidNoteFormat, "unsupported version %d", v)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidNoteFormat, "payload: %v", err)
	}
	var j noteJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, errors.Wrapf(ErrInvalidNoteFormat, "payload: %v", err)
	}

	n := &DepositNote{Token: j.Token, LeafIndex: j.LeafIndex}
	for _, f := range []struct {
		name string
		in   string
		out  *field.Element
	}{
		{"commitment", j.Commitment, &n.Commitment},
		{"nullifierHash", j.NullifierHash, &n.NullifierHash},
		{"secret", j.Secret, &n.Secret},
		{"nullifier", j.Nullifier, &n.Nullifier},
	} {
		if f.in == "" {
			return nil, errors.Wrapf(ErrInvalidNoteFormat, "missing %s", f.name)
		}
		e, err := field.FromHex(f.in)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidNoteFormat, "%s: %v", f.name, err)
		}
		*f.out = e
	}

	if j.Token == "" {
		return nil, errors.Wrap(ErrInvalidNoteFormat, "missing token")
	}
	if j.Amount == "" {
		return nil, errors.Wrap(ErrInvalidNoteFormat, "missing amount")
	}
	if n.Amount, err = decimal.NewFromString(j.Amount); err != nil {
		return nil, errors.Wrapf(ErrInvalidNoteFormat, "amount: %v", err)
	}
	if j.Timestamp == "" {
		return nil, errors.Wrap(ErrInvalidNoteFormat, "missing timestamp")
	}
	if n.Timestamp, err = time.Parse(time.RFC3339Nano, j.Timestamp); err != nil {
		return nil, errors.Wrapf(ErrInvalidNoteFormat, "timestamp: %v", err)
	}
	return n, nil
}
