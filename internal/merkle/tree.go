// Package merkle implements the append-only incremental Merkle tree that holds
// deposit commitments.
//
// Inserts use the filled-subtrees rule, so each insert costs depth hashes. Every
// node written on an insert path is also kept in a per-level arena, which lets
// GenerateProof read siblings directly instead of recomputing subtrees. A bounded
// history of recent roots is retained so that proofs built against a slightly stale
// root still verify.
package merkle

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"shieldedpool/internal/field"
	"shieldedpool/internal/poseidon"
)

const (
	MinDepth = 1
	MaxDepth = 32

	// DefaultRootHistory is the number of roots (current one included) accepted by
	// IsKnownRoot.
	DefaultRootHistory = 30

	zeroSeed = "shieldedpool"
)

var (
	ErrInvalidDepth    = errors.New("merkle: depth out of range")
	ErrTreeFull        = errors.New("merkle: tree is full")
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

// ZeroValue returns the canonical empty leaf: Hash1(keccak256("shieldedpool") mod p).
func ZeroValue(h poseidon.Hasher) field.Element {
	k := sha3.NewLegacyKeccak256()
	_, _ = k.Write([]byte(zeroSeed))
	return h.Hash1(field.FromBytes(k.Sum(nil)))
}

type Option func(*Tree)

// WithRootHistory sets how many recent roots remain valid. Values below 1 are
// ignored.
func WithRootHistory(n int) Option {
	return func(t *Tree) {
		if n > 0 {
			t.window = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) {
		if l != nil {
			t.log = l
		}
	}
}

// Tree is safe for concurrent use. Insert is serialized; reads run in parallel with
// each other but not with an insert.
type Tree struct {
	mu sync.RWMutex

	hasher poseidon.Hasher
	depth  int
	log    *zap.Logger

	nextIndex uint64
	filled    []field.Element
	zeros     []field.Element
	root      field.Element

	// nodes[level][index]; level 0 holds the leaves.
	nodes [][]field.Element

	window    int
	roots     []field.Element
	rootHead  int
	rootCount int
}

// New returns an empty tree of the given depth.
func New(depth int, h poseidon.Hasher, opts ...Option) (*Tree, error) {
	if depth < MinDepth || depth > MaxDepth {
		return nil, errors.Wrapf(ErrInvalidDepth, "depth %d not in [%d, %d]", depth, MinDepth, MaxDepth)
	}
	if h == nil {
		return nil, errors.New("merkle: nil hasher")
	}
	t := &Tree{
		hasher: h,
		depth:  depth,
		log:    zap.NewNop(),
		window: DefaultRootHistory,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.zeros = make([]field.Element, depth+1)
	t.zeros[0] = ZeroValue(h)
	for i := 0; i < depth; i++ {
		t.zeros[i+1] = h.Hash2(t.zeros[i], t.zeros[i])
	}
	t.filled = make([]field.Element, depth)
	copy(t.filled, t.zeros[:depth])
	t.nodes = make([][]field.Element, depth+1)
	t.root = t.zeros[depth]
	t.roots = make([]field.Element, t.window)
	t.pushRoot(t.root)
	return t, nil
}

// FromLeaves rebuilds a tree by inserting leaves in order, e.g. when replaying a
// persisted journal.
func FromLeaves(ctx context.Context, depth int, h poseidon.Hasher, leaves []field.Element, opts ...Option) (*Tree, error) {
	t, err := New(depth, h, opts...)
	if err != nil {
		return nil, err
	}
	for i, leaf := range leaves {
		if _, err := t.Insert(ctx, leaf); err != nil {
			return nil, errors.Wrapf(err, "replay leaf %d", i)
		}
	}
	return t, nil
}

// Insert appends leaf and returns its index.
func (t *Tree) Insert(ctx context.Context, leaf field.Element) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextIndex == t.capacity() {
		return 0, errors.Wrapf(ErrTreeFull, "capacity %d", t.capacity())
	}

	index := t.nextIndex
	cur := leaf
	idx := index
	for level := 0; level < t.depth; level++ {
		t.setNode(level, idx, cur)
		var left, right field.Element
		if idx%2 == 0 {
			t.filled[level] = cur
			left, right = cur, t.zeros[level]
		} else {
			left, right = t.filled[level], cur
		}
		cur = t.hasher.Hash2(left, right)
		idx >>= 1
	}
	t.setNode(t.depth, 0, cur)

	t.root = cur
	t.pushRoot(cur)
	t.nextIndex++

	t.log.Debug("leaf inserted",
		zap.Uint64("index", index),
		zap.String("root", cur.Hex()),
	)
	return index, nil
}

// GenerateProof returns the authentication path for leafIndex against the current
// root.
func (t *Tree) GenerateProof(ctx context.Context, leafIndex uint64) (*Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if leafIndex >= t.nextIndex {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, %d leaves", leafIndex, t.nextIndex)
	}

	p := &Proof{
		Root:         t.root,
		PathElements: make([]field.Element, t.depth),
		PathIndices:  make([]uint8, t.depth),
		LeafIndex:    leafIndex,
	}
	idx := leafIndex
	for level := 0; level < t.depth; level++ {
		p.PathIndices[level] = uint8(idx & 1)
		p.PathElements[level] = t.node(level, idx^1)
		idx >>= 1
	}
	return p, nil
}

// VerifyProof reports whether leaf folds up proof to proof.Root and that root is
// the current root or still in the history window.
func (t *Tree) VerifyProof(leaf field.Element, proof *Proof) bool {
	if proof == nil || len(proof.PathElements) != t.depth || len(proof.PathIndices) != t.depth {
		return false
	}
	computed, err := proof.Fold(t.hasher, leaf)
	if err != nil || !computed.Equal(proof.Root) {
		return false
	}
	return t.IsKnownRoot(proof.Root)
}

// IsKnownRoot reports whether root is one of the last retained roots.
func (t *Tree) IsKnownRoot(root field.Element) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := 0; i < t.rootCount; i++ {
		pos := (t.rootHead - i + t.window) % t.window
		if t.roots[pos].Equal(root) {
			return true
		}
	}
	return false
}

func (t *Tree) Root() field.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

func (t *Tree) NextIndex() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextIndex
}

// Capacity returns 2^depth.
func (t *Tree) Capacity() uint64 { return t.capacity() }

func (t *Tree) Depth() int { return t.depth }

// Zero returns the empty-subtree value at level.
func (t *Tree) Zero(level int) field.Element { return t.zeros[level] }

// Leaf returns the leaf stored at index.
func (t *Tree) Leaf(index uint64) (field.Element, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= t.nextIndex {
		return field.Element{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, %d leaves", index, t.nextIndex)
	}
	return t.nodes[0][index], nil
}

func (t *Tree) capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

func (t *Tree) pushRoot(r field.Element) {
	if t.rootCount > 0 {
		t.rootHead = (t.rootHead + 1) % t.window
	}
	t.roots[t.rootHead] = r
	if t.rootCount < t.window {
		t.rootCount++
	}
}

// setNode writes the arena entry. Indices on a level only ever grow by one, or
// rewrite the last entry.
func (t *Tree) setNode(level int, idx uint64, v field.Element) {
	row := t.nodes[level]
	if idx < uint64(len(row)) {
		row[idx] = v
		return
	}
	t.nodes[level] = append(row, v)
}

// node returns the arena entry or the zero value of the level for subtrees that
// hold no leaf yet.
func (t *Tree) node(level int, idx uint64) field.Element {
	row := t.nodes[level]
	if idx < uint64(len(row)) {
		return row[idx]
	}
	return t.zeros[level]
}
