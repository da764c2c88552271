// wallet.go - Local custody of encoded notes.
//
// A Wallet is a JSON file holding the encoded notes a user received from deposits,
// with a spent flag per note. The pool never reads a wallet back; it exists for
// the CLI and the demo.

package zerocash

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// WalletEntry is one stored note.
type WalletEntry struct {
	Encoded string `json:"note"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	Spent   bool   `json:"spent"`
	TxID    string `json:"txId,omitempty"`
}

type Wallet struct {
	Name    string         `json:"name"`
	Entries []*WalletEntry `json:"entries"`
}

func NewWallet(name string) *Wallet {
	return &Wallet{Name: name}
}

// LoadWallet loads a wallet from a JSON file.
func LoadWallet(path string) (*Wallet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var w Wallet
	if err := json.NewDecoder(f).Decode(&w); err != nil {
		return nil, errors.Wrapf(err, "decode wallet %s", path)
	}
	return &w, nil
}

// LoadOrCreateWallet loads path, or returns an empty wallet named name if the file
// does not exist yet.
func LoadOrCreateWallet(path, name string) (*Wallet, error) {
	w, err := LoadWallet(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewWallet(name), nil
	}
	return w, err
}

// Save writes the wallet to a JSON file. The file is created with owner-only
// permissions since it contains spending secrets.
func (w *Wallet) Save(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(w)
}

// AddNote stores an encoded note and returns its index.
func (w *Wallet) AddNote(encoded string) (int, error) {
	n, err := Decode(encoded)
	if err != nil {
		return -1, err
	}
	w.Entries = append(w.Entries, &WalletEntry{
		Encoded: encoded,
		Token:   n.Token,
		Amount:  n.Amount.String(),
	})
	return len(w.Entries) - 1, nil
}

// MarkNoteAsSpent marks a note as spent by its index.
func (w *Wallet) MarkNoteAsSpent(noteIndex int, txID string) error {
	if noteIndex < 0 || noteIndex >= len(w.Entries) {
		return errors.Errorf("invalid note index: %d", noteIndex)
	}
	w.Entries[noteIndex].Spent = true
	w.Entries[noteIndex].TxID = txID
	return nil
}

// GetUnspentNotes returns the indices of notes that haven't been spent yet,
// optionally restricted to one token.
func (w *Wallet) GetUnspentNotes(token string) []int {
	var out []int
	for i, e := range w.Entries {
		if e.Spent || (token != "" && e.Token != token) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// CheckNoteStatusAgainstLedger flags notes whose nullifier hash is in the ledger.
// It returns the number of notes newly marked spent.
func (w *Wallet) CheckNoteStatusAgainstLedger(l *Ledger) int {
	marked := 0
	for _, e := range w.Entries {
		if e.Spent {
			continue
		}
		n, err := Decode(e.Encoded)
		if err != nil {
			continue
		}
		if l.HasNullifier(n.NullifierHash) {
			e.Spent = true
			marked++
		}
	}
	return marked
}
