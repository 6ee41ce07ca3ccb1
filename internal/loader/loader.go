// Package loader implements the write-through AccountLoader: a cache from
// account address to account record backed by the layer-1 RPC read path.
package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/certen/rollup-coordinator/internal/rollup"
)

// ChainReader is the read-side capability the loader needs from the layer-1
// client. It is a narrow subset of chain.Layer1Client so this package does
// not depend on the concrete RPC implementation.
type ChainReader interface {
	GetAccount(ctx context.Context, addr rollup.Address) (rollup.AccountRecord, error)
}

// AccountLoader is a read-through, write-explicit cache from address to
// account record. Only the Sequencer and its Executor touch it.
type AccountLoader struct {
	mu    sync.RWMutex
	cache map[rollup.Address]rollup.AccountRecord
	chain ChainReader
}

// New constructs a loader backed by the given chain reader.
func New(chain ChainReader) (*AccountLoader, error) {
	if chain == nil {
		return nil, ErrNilChainReader
	}
	return &AccountLoader{
		cache: make(map[rollup.Address]rollup.AccountRecord),
		chain: chain,
	}, nil
}

// Get returns the cached record if present; otherwise it queries layer-1,
// inserts the result, and returns it. A layer-1 miss surfaces as
// ErrAccountUnknown and is not cached as a negative result.
func (l *AccountLoader) Get(ctx context.Context, addr rollup.Address) (rollup.AccountRecord, error) {
	l.mu.RLock()
	if rec, ok := l.cache[addr]; ok {
		l.mu.RUnlock()
		return rec.Clone(), nil
	}
	l.mu.RUnlock()

	rec, err := l.chain.GetAccount(ctx, addr)
	if err != nil {
		return rollup.AccountRecord{}, fmt.Errorf("%w: %s: %v", ErrAccountUnknown, addrHex(addr), err)
	}

	l.Put(addr, rec)
	return rec, nil
}

// Put explicitly writes (and overwrites) a record in the cache.
func (l *AccountLoader) Put(addr rollup.Address, rec rollup.AccountRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[addr] = rec.Clone()
}

// Peek returns the cached record without touching layer-1; the tests use it
// to inspect cache contents.
func (l *AccountLoader) Peek(addr rollup.Address) (rollup.AccountRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.cache[addr]
	return rec, ok
}

func addrHex(addr rollup.Address) string {
	return fmt.Sprintf("%x", addr[:])
}
