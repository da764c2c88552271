// Package store persists the leaf journal and the spent-nullifier registry in
// LevelDB.
package store

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"shieldedpool/internal/field"
)

var ErrOutOfOrder = errors.New("store: leaf appended out of order")

const (
	leafPrefix      = "leaf/"
	leafCountPrefix = "leafcount/"
	nullifierPrefix = "nullifier/"
)

// LevelDB implements pool.LeafStore and pool.NullifierRegistry.
type LevelDB struct {
	db  *leveldb.DB
	log *zap.Logger

	// appendMu serializes the count check with the batch write.
	appendMu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string, log *zap.Logger) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return wrap(db, log), nil
}

// OpenMemory returns a database that lives only in memory.
func OpenMemory(log *zap.Logger) (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory leveldb")
	}
	return wrap(db, log), nil
}

func wrap(db *leveldb.DB, log *zap.Logger) *LevelDB {
	if log == nil {
		log = zap.NewNop()
	}
	return &LevelDB{db: db, log: log}
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}

func leafKey(token string, index uint64) []byte {
	k := make([]byte, 0, len(leafPrefix)+len(token)+1+8)
	k = append(k, leafPrefix...)
	k = append(k, token...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, index)
}

func leafCountKey(token string) []byte {
	return []byte(leafCountPrefix + token)
}

func nullifierKey(h field.Element) []byte {
	return []byte(nullifierPrefix + h.Hex())
}

// LeafCount returns the number of journaled leaves for token.
func (s *LevelDB) LeafCount(token string) (uint64, error) {
	v, err := s.db.Get(leafCountKey(token), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.Errorf("store: corrupt leaf count for %s", token)
	}
	return binary.BigEndian.Uint64(v), nil
}

// AppendLeaf journals leaf at index. index must equal the current leaf count.
func (s *LevelDB) AppendLeaf(ctx context.Context, token string, index uint64, leaf field.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	n, err := s.LeafCount(token)
	if err != nil {
		return err
	}
	if index != n {
		return errors.Wrapf(ErrOutOfOrder, "%s: index %d, expected %d", token, index, n)
	}
	b := leaf.Bytes()
	batch := new(leveldb.Batch)
	batch.Put(leafKey(token, index), b[:])
	batch.Put(leafCountKey(token), binary.BigEndian.AppendUint64(nil, n+1))
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "journal leaf %d of %s", index, token)
	}
	return nil
}

// Leaves returns the journal for token in insertion order.
func (s *LevelDB) Leaves(ctx context.Context, token string) ([]field.Element, error) {
	n, err := s.LeafCount(token)
	if err != nil {
		return nil, err
	}
	out := make([]field.Element, 0, n)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(leafPrefix+token+"/")), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := binary.BigEndian.Uint64(iter.Key()[len(iter.Key())-8:])
		if idx != uint64(len(out)) {
			return nil, errors.Errorf("store: gap in %s journal at %d", token, len(out))
		}
		e, err := field.FromBytesCanonical(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "leaf %d of %s", idx, token)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if uint64(len(out)) != n {
		return nil, errors.Errorf("store: %s journal has %d leaves, count says %d", token, len(out), n)
	}
	return out, nil
}

func (s *LevelDB) IsSpent(_ context.Context, h field.Element) (bool, error) {
	return s.db.Has(nullifierKey(h), nil)
}

// MarkSpent records h with the current time. Marking twice keeps the first time.
func (s *LevelDB) MarkSpent(_ context.Context, h field.Element) error {
	key := nullifierKey(h)
	ok, err := s.db.Has(key, nil)
	if err != nil || ok {
		return err
	}
	ts, _ := time.Now().UTC().MarshalText()
	if err := s.db.Put(key, ts, nil); err != nil {
		return errors.Wrap(err, "mark nullifier spent")
	}
	s.log.Debug("nullifier marked spent", zap.String("nullifierHash", h.Hex()))
	return nil
}

// SpentAt returns when h was marked spent.
func (s *LevelDB) SpentAt(h field.Element) (time.Time, bool, error) {
	v, err := s.db.Get(nullifierKey(h), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var t time.Time
	if err := t.UnmarshalText(v); err != nil {
		return time.Time{}, false, errors.Wrap(err, "corrupt spend time")
	}
	return t, true, nil
}

// SpentCount counts recorded nullifiers.
func (s *LevelDB) SpentCount() (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(nullifierPrefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}
