package pool

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shieldedpool/internal/field"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

// Engine routes calls to the pool of each token.
type Engine struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	log   *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{pools: make(map[string]*Pool), log: log}
}

// AddPool registers p. Tokens must be unique.
func (e *Engine) AddPool(p *Pool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pools[p.Token()]; dup {
		return errors.Errorf("pool for %s already registered", p.Token())
	}
	e.pools[p.Token()] = p
	return nil
}

// Initialize initializes every pool still in StateCreated.
func (e *Engine) Initialize(ctx context.Context) error {
	for _, p := range e.all() {
		if p.State() != StateCreated {
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			return errors.Wrapf(err, "initialize pool %s", p.Token())
		}
	}
	return nil
}

func (e *Engine) Pool(token string) (*Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[token]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPool, "%q", token)
	}
	return p, nil
}

func (e *Engine) Deposit(ctx context.Context, token string, amount decimal.Decimal) (string, *zerocash.DepositNote, error) {
	p, err := e.Pool(token)
	if err != nil {
		return "", nil, err
	}
	return p.Deposit(ctx, amount)
}

// Withdraw routes by the token recorded in the note.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	n, err := zerocash.Decode(req.EncodedNote)
	if err != nil {
		return nil, err
	}
	p, err := e.Pool(n.Token)
	if err != nil {
		return nil, err
	}
	return p.Withdraw(ctx, req)
}

func (e *Engine) VerifyNote(encoded string) (bool, error) {
	n, err := zerocash.Decode(encoded)
	if err != nil {
		return false, err
	}
	p, err := e.Pool(n.Token)
	if err != nil {
		return false, err
	}
	return p.VerifyNote(encoded)
}

func (e *Engine) PoolStats(token string) (Stats, error) {
	p, err := e.Pool(token)
	if err != nil {
		return Stats{}, err
	}
	return p.Stats(), nil
}

// Pools returns stats for every pool, sorted by token.
func (e *Engine) Pools() []Stats {
	var out []Stats
	for _, p := range e.all() {
		out = append(out, p.Stats())
	}
	return out
}

// IsKnownRoot checks root against the tree of token's pool.
func (e *Engine) IsKnownRoot(token string, root field.Element) bool {
	p, err := e.Pool(token)
	if err != nil {
		return false
	}
	return p.IsKnownRoot(token, root)
}

func (e *Engine) VerifierFor(token string) withdraw.Verifier {
	p, err := e.Pool(token)
	if err != nil {
		return nil
	}
	return p.VerifierFor(token)
}

func (e *Engine) all() []*Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token() < out[j].Token() })
	return out
}
