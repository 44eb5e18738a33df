package mapping

import (
	"testing"
	"time"

	"github.com/kasdex/kasdex/internal/filter"
	"github.com/kasdex/kasdex/internal/nodeclient"
)

func mustClassifier(t *testing.T, fc *filter.FileConfig) *filter.Classifier {
	t.Helper()
	engine, err := filter.Compile(fc)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	reg := filter.NewRegistry(nil)
	return filter.NewClassifier(engine, reg)
}

func TestMapBlockLowercasesHashesAndPreservesParentOrder(t *testing.T) {
	classifier := mustClassifier(t, &filter.FileConfig{})
	m := New(classifier, nil, false)

	b := &nodeclient.Block{
		Hash:               "ABCD",
		SelectedParentHash: "AB00",
		ParentHashes:       []string{"AB00", "CD00"},
		BlueScore:          5,
		BlueWorkHex:        "1a",
		TimestampMillis:    1700000000000,
	}

	block, edges := m.MapBlock(b)
	if block.Hash != "abcd" || block.SelectedParentHash != "ab00" {
		t.Fatalf("expected lowercased hashes, got %+v", block)
	}
	if len(block.ParentHashes) != 2 || block.ParentHashes[0] != "ab00" || block.ParentHashes[1] != "cd00" {
		t.Fatalf("expected order preserved, got %v", block.ParentHashes)
	}
	if block.BlueWork != "26" {
		t.Fatalf("expected hex 0x1a -> decimal 26, got %s", block.BlueWork)
	}
	if len(edges) != 2 {
		t.Fatalf("expected one edge per parent, got %d", len(edges))
	}
	for _, e := range edges {
		if e.BlockHash != "abcd" {
			t.Fatalf("edge block hash mismatch: %+v", e)
		}
	}
}

func TestMapTransactionClearsPayloadWhenFilterRejects(t *testing.T) {
	classifier := mustClassifier(t, &filter.FileConfig{Settings: filter.Settings{DefaultStorePayload: false}})
	m := New(classifier, nil, false)

	tx := &nodeclient.Transaction{
		TransactionID: "DEAD",
		SubnetworkID:  "0000000000000000000000000000000000000000",
		PayloadHex:    "6b6173706c6578",
	}

	r := m.MapTransaction(tx, time.Unix(0, 0))
	if r.Transaction.Payload != nil {
		t.Fatalf("expected payload cleared when no rule matches and default_store_payload=false, got %v", r.Transaction.Payload)
	}
	if r.Transaction.TransactionID != "dead" {
		t.Fatalf("expected lowercased txid, got %s", r.Transaction.TransactionID)
	}
}

func TestMapTransactionDerivesAddressFanout(t *testing.T) {
	classifier := mustClassifier(t, &filter.FileConfig{Settings: filter.Settings{DefaultStorePayload: true}})
	m := New(classifier, nil, false)

	tx := &nodeclient.Transaction{
		TransactionID: "aa",
		Outputs: []nodeclient.Output{
			{Amount: 100, ScriptPublicKeyHex: "76a914", ScriptPublicKeyAddress: "kaspa:qqtest"},
			{Amount: 50, ScriptPublicKeyHex: "51"},
		},
	}

	r := m.MapTransaction(tx, time.Unix(0, 0))
	if len(r.AddressTxs) != 1 || r.AddressTxs[0].Address != "kaspa:qqtest" {
		t.Fatalf("expected one address fan-out row, got %+v", r.AddressTxs)
	}
	if len(r.ScriptTxs) != 2 {
		t.Fatalf("expected one script fan-out row per output with a script, got %d", len(r.ScriptTxs))
	}
}

type excludeAll struct{}

func (excludeAll) FieldExcluded(string) bool { return true }

func TestExcludedFieldsAreZeroed(t *testing.T) {
	classifier := mustClassifier(t, &filter.FileConfig{})
	m := New(classifier, excludeAll{}, false)

	b := &nodeclient.Block{
		Hash:                "aa",
		MergeSetBluesHashes: []string{"bb"},
		Bits:                123,
		Nonce:               456,
	}
	block, _ := m.MapBlock(b)
	if block.MergeSetBlues != nil || block.Bits != 0 || block.Nonce != 0 {
		t.Fatalf("expected excluded fields zeroed, got %+v", block)
	}
}
