// Package filter implements the Tag Registry + Filter Engine (C3): a
// priority-ordered, first-match-wins classifier for transaction payloads and
// ids, backed by a persistent tag table and a hot-reloadable YAML config.
package filter

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape described in spec §6's filter
// configuration file.
type FileConfig struct {
	Version  string       `yaml:"version"`
	Settings Settings     `yaml:"settings"`
	Rules    []RuleConfig `yaml:"rules"`
}

// Settings holds the global defaults applied when no rule matches.
type Settings struct {
	DefaultStorePayload bool `yaml:"default_store_payload"`
}

// RuleConfig is one entry of the rules list.
type RuleConfig struct {
	Name         string          `yaml:"name"`
	Priority     int             `yaml:"priority"`
	Enabled      bool            `yaml:"enabled"`
	Tag          string          `yaml:"tag"`
	Module       string          `yaml:"module"`
	Category     string          `yaml:"category"`
	Repository   string          `yaml:"repository"`
	Description  string          `yaml:"description"`
	StorePayload bool            `yaml:"store_payload"`
	Conditions   ConditionConfig `yaml:"conditions"`
}

// ConditionConfig is a rule's match conditions.
type ConditionConfig struct {
	TXID    *TXIDCondition     `yaml:"txid,omitempty"`
	Payload []PayloadCondition `yaml:"payload,omitempty"`
}

// TXIDCondition matches a hex prefix against the transaction id.
type TXIDCondition struct {
	Prefix string `yaml:"prefix"`
}

// PayloadCondition matches a UTF-8 or "hex:<hex>" prefix against the
// transaction payload. Prefix holds either form; decodePayloadPrefix turns
// it into the raw bytes compared against the payload.
type PayloadCondition struct {
	Prefix string `yaml:"prefix"`
}

// LoadFile reads and parses a filter configuration file from disk.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse filter config %s: %w", path, err)
	}
	if err := fc.validate(); err != nil {
		return nil, fmt.Errorf("filter config %s: %w", path, err)
	}
	return &fc, nil
}

// validate rejects configuration errors the spec calls out as fatal-abort
// (§7): non-hex txid prefixes and duplicate rule names. A txid prefix is
// compared as a hex string, not decoded to bytes, so an odd number of hex
// digits is a valid prefix (spec §4.3/§9) — only non-hex characters reject.
func (fc *FileConfig) validate() error {
	seen := make(map[string]bool, len(fc.Rules))
	for _, r := range fc.Rules {
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true

		if r.Conditions.TXID != nil && !isHexString(r.Conditions.TXID.Prefix) {
			return fmt.Errorf("rule %q: txid prefix %q: not valid hex", r.Name, r.Conditions.TXID.Prefix)
		}
		for _, p := range r.Conditions.Payload {
			if _, err := decodePayloadPrefix(p.Prefix); err != nil {
				return fmt.Errorf("rule %q: payload prefix %q: %w", r.Name, p.Prefix, err)
			}
		}
	}
	return nil
}

// sortedEnabledRules returns enabled rules ordered by descending priority,
// tiebroken by original declaration order (spec §4.3 step 1). sort.SliceStable
// preserves declaration order among equal priorities.
func (fc *FileConfig) sortedEnabledRules() []RuleConfig {
	enabled := make([]RuleConfig, 0, len(fc.Rules))
	for _, r := range fc.Rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})
	return enabled
}

// isHexString reports whether s consists only of hex digits. Unlike
// hex.DecodeString, an odd length is not an error: a txid prefix condition
// matches against the hex string directly, not decoded bytes.
func isHexString(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

const hexPayloadPrefix = "hex:"

// decodePayloadPrefix decodes a payload condition string into raw bytes: a
// bare string is matched as its UTF-8 bytes, a "hex:<hex>" string decodes
// the hex.
func decodePayloadPrefix(s string) ([]byte, error) {
	if len(s) >= len(hexPayloadPrefix) && s[:len(hexPayloadPrefix)] == hexPayloadPrefix {
		b, err := hex.DecodeString(s[len(hexPayloadPrefix):])
		if err != nil {
			return nil, fmt.Errorf("odd-length or invalid hex: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}
