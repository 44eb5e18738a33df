package filter

import (
	"sync/atomic"

	"github.com/kasdex/kasdex/internal/model"
)

// Classifier ties a compiled Engine to a bootstrapped Registry, producing
// the FilterDecision the mapping layer attaches to each transaction. The
// engine is held behind an atomic pointer so a config-file reload can swap
// it in without ever blocking a concurrent classify stage (spec §4.3's
// hot-reload requirement).
type Classifier struct {
	engine   atomic.Pointer[Engine]
	registry *Registry
}

// NewClassifier pairs an engine and registry built from the same config.
func NewClassifier(engine *Engine, registry *Registry) *Classifier {
	c := &Classifier{registry: registry}
	c.engine.Store(engine)
	return c
}

// SetEngine swaps in a newly compiled Engine, taking effect for every
// Decide call made after this returns. Used by the filter-config watcher.
func (c *Classifier) SetEngine(engine *Engine) {
	c.engine.Store(engine)
}

// Decide runs the filter engine against a transaction id and payload and
// resolves the matched tag to its registry id. Returns the decision plus
// the payload to persist: the original payload when StorePayload is true,
// nil otherwise (spec §4.3's "payload bytes are cleared before mapping").
func (c *Classifier) Decide(txidHex string, payload []byte) (model.FilterDecision, []byte) {
	_, tag, module, storePayload, matched := c.engine.Load().Match(txidHex, payload)

	decision := model.FilterDecision{StorePayload: storePayload}
	if matched {
		if id, ok := c.registry.Lookup(tag, module); ok {
			decision.TagRef = &id
		}
	}

	if !decision.StorePayload {
		return decision, nil
	}
	return decision, payload
}
