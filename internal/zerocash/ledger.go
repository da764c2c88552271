// ledger.go - Local spent-nullifier ledger.
//
// The Ledger records nullifier hashes that this process has seen spent, together
// with the submission that spent them. It is a cache in front of the external
// registry and is persisted as a single JSON file.

package zerocash

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"shieldedpool/internal/field"
)

var ErrDoubleSpend = errors.New("zerocash: double-spend detected: nullifier hash already in ledger")

// SpendRecord is one ledger entry.
type SpendRecord struct {
	NullifierHash field.Element `json:"nullifierHash"`
	TxID          string        `json:"txId,omitempty"`
	SpentAt       time.Time     `json:"spentAt"`
}

// Ledger is an append-only set of spent nullifier hashes. It is safe for
// concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	spent   map[field.Element]int
	records []SpendRecord
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{spent: make(map[field.Element]int)}
}

// OpenLedger loads the ledger persisted at path, or starts an empty one if the
// file does not exist. Every append is written back to path.
func OpenLedger(path string) (*Ledger, error) {
	l, err := LoadLedgerFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		l = NewLedger()
	} else if err != nil {
		return nil, err
	}
	l.path = path
	return l, nil
}

// IsSpent reports whether h has been recorded.
func (l *Ledger) IsSpent(_ context.Context, h field.Element) (bool, error) {
	return l.HasNullifier(h), nil
}

// MarkSpent records h without a transaction id.
func (l *Ledger) MarkSpent(_ context.Context, h field.Element) error {
	return l.Append(SpendRecord{NullifierHash: h, SpentAt: time.Now().UTC()})
}

// Append records a spend. It returns ErrDoubleSpend if the nullifier hash is
// already present. On a persisted ledger the record is kept only if the file
// write succeeds.
func (l *Ledger) Append(r SpendRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.spent[r.NullifierHash]; ok {
		return errors.Wrap(ErrDoubleSpend, r.NullifierHash.Hex())
	}
	l.spent[r.NullifierHash] = len(l.records)
	l.records = append(l.records, r)
	if l.path == "" {
		return nil
	}
	if err := l.saveLocked(l.path); err != nil {
		// the spend is not durable, so it did not happen
		delete(l.spent, r.NullifierHash)
		l.records = l.records[:len(l.records)-1]
		return err
	}
	return nil
}

func (l *Ledger) HasNullifier(h field.Element) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.spent[h]
	return ok
}

// Records returns a copy of all entries in insertion order.
func (l *Ledger) Records() []SpendRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]SpendRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// SaveToFile writes the ledger as indented JSON, overwriting path.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.saveLocked(path)
}

func (l *Ledger) saveLocked(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create ledger file")
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.records); err != nil {
		f.Close()
		return errors.Wrap(err, "write ledger file")
	}
	return errors.Wrap(f.Close(), "close ledger file")
}

// LoadLedgerFromFile reads a ledger written by SaveToFile.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []SpendRecord
	if err := json.NewDecoder(f).Decode(&records); err != nil {
		return nil, errors.Wrapf(err, "decode ledger %s", path)
	}
	l := NewLedger()
	for _, r := range records {
		if _, dup := l.spent[r.NullifierHash]; dup {
			return nil, errors.Wrapf(ErrDoubleSpend, "ledger file %s", path)
		}
		l.spent[r.NullifierHash] = len(l.records)
		l.records = append(l.records, r)
	}
	return l, nil
}
