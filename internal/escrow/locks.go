package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// keyedLocks serializes state-changing calls per order identifier. Entries
// are reference-counted and removed once the last holder releases, so the
// map does not grow with the number of identifiers ever seen.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[common.Hash]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id common.Hash) (unlock func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[common.Hash]*lockEntry)
	}
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
