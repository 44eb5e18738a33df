// Package dedup implements the time-windowed membership cache from spec
// §4.2 (C2): two bounded sets keyed by block hash and transaction id, each
// with a per-entry TTL. It is an optimization only — correctness depends on
// the database's primary keys, not on this cache — so a cold cache (e.g.
// right after restart) just costs a few redundant upserts.
package dedup

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultCapacity = 1_000_000

// Cache holds the two TTL sets. Safe for concurrent use; the underlying
// expirable LRU guards its own state with a mutex, so callers never need to
// coordinate across goroutines.
type Cache struct {
	blocks *lru.LRU[string, struct{}]
	txs    *lru.LRU[string, struct{}]
}

// New builds a Cache whose entries expire after ttl. Capacity bounds memory
// use under sustained high block rate; once full, the LRU evicts the oldest
// entry regardless of TTL, which only risks a spurious re-processing of a
// truly old block/tx — never a missed duplicate check, since persistence is
// idempotent.
func New(ttl time.Duration) *Cache {
	return &Cache{
		blocks: lru.NewLRU[string, struct{}](defaultCapacity, nil, ttl),
		txs:    lru.NewLRU[string, struct{}](defaultCapacity, nil, ttl),
	}
}

// SeenBlock reports whether hash was already observed within the TTL
// window, inserting it if absent (spec §4.2's seen_block contract).
func (c *Cache) SeenBlock(hash string) bool {
	if _, ok := c.blocks.Get(hash); ok {
		return true
	}
	c.blocks.Add(hash, struct{}{})
	return false
}

// SeenTx reports whether id was already observed within the TTL window,
// inserting it if absent (spec §4.2's seen_tx contract).
func (c *Cache) SeenTx(id string) bool {
	if _, ok := c.txs.Get(id); ok {
		return true
	}
	c.txs.Add(id, struct{}{})
	return false
}

// Len reports the current block/tx set sizes, used by the metrics surface
// (C9) to report cache memory pressure.
func (c *Cache) Len() (blocks, txs int) {
	return c.blocks.Len(), c.txs.Len()
}
