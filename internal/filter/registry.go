package filter

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kasdex/kasdex/internal/model"
)

// TagStore is the slice of the storage layer the registry needs: upserting
// a tag provider row and getting its id back. Kept minimal so this package
// never imports internal/storage.
type TagStore interface {
	UpsertTagProvider(ctx context.Context, tp model.TagProvider) (int64, error)
}

// tagKey is the (tag, module) identity spec §4.3 upserts and caches on.
type tagKey struct {
	tag    string
	module string
}

// Registry bootstraps the tag catalog from a compiled filter config and
// caches (tag, module) -> id for O(1) lookup during ingestion, per spec
// §4.3's "Registry bootstrap". The cache is read-mostly: reads never block
// each other.
type Registry struct {
	mu    sync.RWMutex
	cache map[tagKey]int64
	log   *zap.Logger
}

// NewRegistry builds an empty Registry; call Bootstrap before use.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{cache: make(map[tagKey]int64), log: log}
}

// Bootstrap upserts a TagProvider row for every enabled rule in fc and
// populates the lookup cache. Must run before the pipeline starts
// classifying transactions.
func (r *Registry) Bootstrap(ctx context.Context, store TagStore, fc *FileConfig) error {
	for _, rule := range fc.sortedEnabledRules() {
		if rule.Tag == "" {
			continue
		}
		id, err := store.UpsertTagProvider(ctx, model.TagProvider{
			Tag:         rule.Tag,
			Module:      rule.Module,
			Category:    rule.Category,
			Repository:  rule.Repository,
			Description: rule.Description,
		})
		if err != nil {
			return fmt.Errorf("upsert tag provider %s/%s: %w", rule.Tag, rule.Module, err)
		}
		r.mu.Lock()
		r.cache[tagKey{tag: rule.Tag, module: rule.Module}] = id
		r.mu.Unlock()
	}
	return nil
}

// Lookup returns the cached tag id for (tag, module). A miss logs a
// warning and returns (0, false), which callers treat as tag_ref = none
// (spec §4.3: "missing or disabled tags cause the filter engine to emit
// tag = none and log a warning").
func (r *Registry) Lookup(tag, module string) (int64, bool) {
	if tag == "" {
		return 0, false
	}
	r.mu.RLock()
	id, ok := r.cache[tagKey{tag: tag, module: module}]
	r.mu.RUnlock()
	if !ok && r.log != nil {
		r.log.Warn("tag lookup miss", zap.String("tag", tag), zap.String("module", module))
	}
	return id, ok
}
