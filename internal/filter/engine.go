package filter

import (
	"bytes"
	"strings"
)

// compiledRule is a RuleConfig with its conditions pre-normalized so Match
// never re-parses on the hot path.
type compiledRule struct {
	name         string
	tag          string
	module       string
	storePayload bool
	// txidPrefix is compared as a lowercase hex string, not decoded bytes:
	// spec §4.3 defines it as a hex-string prefix match against the
	// lowercase hex transaction id, which (unlike the byte-decoded payload
	// prefixes) permits an odd number of hex digits.
	txidPrefix      string // "" if unset
	hasTxidPrefix   bool
	payloadPrefixes [][]byte
}

// Engine is the compiled, ready-to-evaluate form of a FileConfig.
type Engine struct {
	defaultStorePayload bool
	rules               []compiledRule
}

// Compile builds an Engine from a parsed FileConfig. Compile assumes fc has
// already passed validate(); callers should only use configs from LoadFile.
func Compile(fc *FileConfig) (*Engine, error) {
	e := &Engine{defaultStorePayload: fc.Settings.DefaultStorePayload}

	for _, r := range fc.sortedEnabledRules() {
		cr := compiledRule{
			name:         r.Name,
			tag:          r.Tag,
			module:       r.Module,
			storePayload: r.StorePayload,
		}
		if r.Conditions.TXID != nil {
			cr.hasTxidPrefix = true
			cr.txidPrefix = strings.ToLower(r.Conditions.TXID.Prefix)
		}
		for _, p := range r.Conditions.Payload {
			b, err := decodePayloadPrefix(p.Prefix)
			if err != nil {
				return nil, err
			}
			cr.payloadPrefixes = append(cr.payloadPrefixes, b)
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Match evaluates the transaction id (lowercase hex) and raw payload bytes
// against the rule set and returns the first matching rule's name and tag,
// and whether the payload should be stored — following spec §4.3's
// first-match-wins semantics. ok is false when no rule matched, in which
// case the caller should fall back to the registry's "no tag" sentinel.
func (e *Engine) Match(txidHex string, payload []byte) (ruleName, tag, module string, storePayload bool, ok bool) {
	txidHex = strings.ToLower(txidHex)

	for _, r := range e.rules {
		if r.hasTxidPrefix {
			if !strings.HasPrefix(txidHex, r.txidPrefix) {
				continue
			}
		}
		if len(r.payloadPrefixes) > 0 {
			matched := false
			for _, p := range r.payloadPrefixes {
				if bytes.HasPrefix(payload, p) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		return r.name, r.tag, r.module, r.storePayload, true
	}
	return "", "", "", e.defaultStorePayload, false
}

// DefaultStorePayload is the outcome applied when no rule matches.
func (e *Engine) DefaultStorePayload() bool { return e.defaultStorePayload }
