package filter

import "testing"

func mustCompile(t *testing.T, fc *FileConfig) *Engine {
	t.Helper()
	if err := fc.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	e, err := Compile(fc)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return e
}

func TestMatchKasplex(t *testing.T) {
	fc := &FileConfig{
		Settings: Settings{DefaultStorePayload: false},
		Rules: []RuleConfig{
			{
				Name: "kasplex", Priority: 100, Enabled: true, Tag: "kasplex",
				StorePayload: true,
				Conditions:   ConditionConfig{Payload: []PayloadCondition{{Prefix: "kasplex"}}},
			},
		},
	}
	e := mustCompile(t, fc)

	_, tag, _, store, ok := e.Match("aa", []byte("kasplex:op=mint"))
	if !ok || tag != "kasplex" || !store {
		t.Fatalf("got tag=%q store=%v ok=%v, want kasplex/true/true", tag, store, ok)
	}
}

func TestMatchTXIDAndPayloadAND(t *testing.T) {
	fc := &FileConfig{
		Settings: Settings{DefaultStorePayload: false},
		Rules: []RuleConfig{
			{
				Name: "igra", Priority: 100, Enabled: true, Tag: "igra",
				StorePayload: true,
				Conditions: ConditionConfig{
					TXID:    &TXIDCondition{Prefix: "97b1"},
					Payload: []PayloadCondition{{Prefix: "hex:94"}},
				},
			},
		},
	}
	e := mustCompile(t, fc)

	_, tag, _, store, ok := e.Match("97b1aa", []byte{0x94, 0x7f})
	if !ok || tag != "igra" || !store {
		t.Fatalf("matching case: got tag=%q store=%v ok=%v", tag, store, ok)
	}

	_, _, _, store, ok = e.Match("12ab34", []byte{0x94, 0x7f})
	if ok {
		t.Fatalf("non-matching txid should not match")
	}
	if store != false {
		t.Fatalf("unmatched tx should fall back to default_store_payload=false, got %v", store)
	}
}

func TestPriorityTiebreak(t *testing.T) {
	fc := &FileConfig{
		Settings: Settings{DefaultStorePayload: false},
		Rules: []RuleConfig{
			{Name: "kasplex", Priority: 100, Enabled: true, Tag: "kasplex", StorePayload: true,
				Conditions: ConditionConfig{Payload: []PayloadCondition{{Prefix: "x"}}}},
			{Name: "igra", Priority: 110, Enabled: true, Tag: "igra", StorePayload: true,
				Conditions: ConditionConfig{Payload: []PayloadCondition{{Prefix: "x"}}}},
		},
	}
	e := mustCompile(t, fc)

	_, tag, _, _, ok := e.Match("aa", []byte("xyz"))
	if !ok || tag != "igra" {
		t.Fatalf("got tag=%q, want igra (higher priority wins)", tag)
	}
}

func TestDisabledRuleIgnored(t *testing.T) {
	fc := &FileConfig{
		Settings: Settings{DefaultStorePayload: true},
		Rules: []RuleConfig{
			{Name: "off", Priority: 999, Enabled: false, Tag: "off", StorePayload: false,
				Conditions: ConditionConfig{Payload: []PayloadCondition{{Prefix: "x"}}}},
		},
	}
	e := mustCompile(t, fc)

	_, _, _, store, ok := e.Match("aa", []byte("xyz"))
	if ok {
		t.Fatalf("disabled rule must never match")
	}
	if !store {
		t.Fatalf("expected default_store_payload fallback")
	}
}

func TestValidateRejectsOddLengthHex(t *testing.T) {
	fc := &FileConfig{
		Rules: []RuleConfig{
			{Name: "bad", Enabled: true, Conditions: ConditionConfig{
				Payload: []PayloadCondition{{Prefix: "hex:abc"}},
			}},
		},
	}
	if err := fc.validate(); err == nil {
		t.Fatalf("expected odd-length hex to fail validation")
	}
}

func TestMatchTXIDOddLengthPrefix(t *testing.T) {
	fc := &FileConfig{
		Rules: []RuleConfig{
			{
				Name: "odd", Priority: 1, Enabled: true, Tag: "odd-tag",
				Conditions: ConditionConfig{TXID: &TXIDCondition{Prefix: "9"}},
			},
		},
	}
	e := mustCompile(t, fc)

	_, tag, _, _, ok := e.Match("97b1aa", nil)
	if !ok || tag != "odd-tag" {
		t.Fatalf("odd-length txid prefix should match as a hex string prefix, got tag=%q ok=%v", tag, ok)
	}

	_, _, _, _, ok = e.Match("17b1aa", nil)
	if ok {
		t.Fatalf("non-matching txid prefix must not match")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	fc := &FileConfig{
		Rules: []RuleConfig{
			{Name: "dup", Enabled: true},
			{Name: "dup", Enabled: true},
		},
	}
	if err := fc.validate(); err == nil {
		t.Fatalf("expected duplicate rule name to fail validation")
	}
}
