package vcp

import (
	"context"
	"testing"

	"github.com/kasdex/kasdex/internal/checkpoint"
	"github.com/kasdex/kasdex/internal/nodeclient"
)

type memVars struct{ data map[string]string }

func newMemVars() *memVars { return &memVars{data: map[string]string{}} }

func (m *memVars) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memVars) Set(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

type fakeAcceptance struct {
	accepted map[string]string // tx id -> block hash
	chain    map[string]bool
	removeCalls [][]string
}

func newFakeAcceptance() *fakeAcceptance {
	return &fakeAcceptance{accepted: map[string]string{}, chain: map[string]bool{}}
}

func (f *fakeAcceptance) RemoveAcceptance(_ context.Context, blockHashes []string) error {
	f.removeCalls = append(f.removeCalls, blockHashes)
	set := make(map[string]bool, len(blockHashes))
	for _, h := range blockHashes {
		set[h] = true
		f.chain[h] = false
	}
	for tx, h := range f.accepted {
		if set[h] {
			delete(f.accepted, tx)
		}
	}
	return nil
}

func (f *fakeAcceptance) UpsertAcceptance(_ context.Context, blockHash string, txIDs []string) error {
	f.chain[blockHash] = true
	for _, tx := range txIDs {
		f.accepted[tx] = blockHash
	}
	return nil
}

func (f *fakeAcceptance) MarkChainBlockOnly(_ context.Context, blockHash string, isChain bool) error {
	f.chain[blockHash] = isChain
	return nil
}

func TestApplyReorgScenario(t *testing.T) {
	// Scenario from spec §8.5: add {B1,B2} accepting [T1,T2] and [T3], then
	// remove B2 / add B2' accepting [T3,T4]. Expect T1->B1, T2->B1,
	// T3->B2', T4->B2'.
	acc := newFakeAcceptance()
	cp := checkpoint.New(newMemVars())
	p := New(nil, acc, cp, nil, Options{IncludeTxAcceptance: true}, nil, nil)
	ctx := context.Background()

	if err := p.Apply(ctx, &nodeclient.VcUpdate{
		AddedChainBlocks: []nodeclient.AddedChainBlock{
			{Hash: "b1", AcceptedTxIDs: []string{"t1", "t2"}},
			{Hash: "b2", AcceptedTxIDs: []string{"t3"}},
		},
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	if err := p.Apply(ctx, &nodeclient.VcUpdate{
		RemovedChainBlockHashes: []string{"b2"},
		AddedChainBlocks: []nodeclient.AddedChainBlock{
			{Hash: "b2prime", AcceptedTxIDs: []string{"t3", "t4"}},
		},
	}); err != nil {
		t.Fatalf("reorg update: %v", err)
	}

	want := map[string]string{"t1": "b1", "t2": "b1", "t3": "b2prime", "t4": "b2prime"}
	if len(acc.accepted) != len(want) {
		t.Fatalf("got %d acceptance rows, want %d: %+v", len(acc.accepted), len(want), acc.accepted)
	}
	for tx, blockHash := range want {
		if acc.accepted[tx] != blockHash {
			t.Fatalf("tx %s accepted by %s, want %s", tx, acc.accepted[tx], blockHash)
		}
	}

	gotCP, ok, _ := cp.VCPCheckpoint(ctx)
	if !ok || gotCP != "b2prime" {
		t.Fatalf("checkpoint = %q, %v, want b2prime, true", gotCP, ok)
	}
}

func TestApplyChainBlockOnlyModeSkipsAcceptance(t *testing.T) {
	acc := newFakeAcceptance()
	cp := checkpoint.New(newMemVars())
	p := New(nil, acc, cp, nil, Options{IncludeTxAcceptance: false}, nil, nil)

	if err := p.Apply(context.Background(), &nodeclient.VcUpdate{
		AddedChainBlocks: []nodeclient.AddedChainBlock{{Hash: "b1", AcceptedTxIDs: []string{"t1"}}},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(acc.accepted) != 0 {
		t.Fatalf("expected no acceptance rows in chain-block-only mode, got %+v", acc.accepted)
	}
	if !acc.chain["b1"] {
		t.Fatalf("expected b1 marked as chain block")
	}
}

func TestApplyIdempotentDoubleAdd(t *testing.T) {
	acc := newFakeAcceptance()
	cp := checkpoint.New(newMemVars())
	p := New(nil, acc, cp, nil, Options{IncludeTxAcceptance: true}, nil, nil)
	ctx := context.Background()

	update := &nodeclient.VcUpdate{AddedChainBlocks: []nodeclient.AddedChainBlock{{Hash: "b1", AcceptedTxIDs: []string{"t1"}}}}
	if err := p.Apply(ctx, update); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := p.Apply(ctx, update); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(acc.accepted) != 1 || acc.accepted["t1"] != "b1" {
		t.Fatalf("expected single idempotent acceptance row, got %+v", acc.accepted)
	}
}

type gateAt struct{ hash string }

func (g gateAt) Passed(h string) bool { return h == g.hash }

func TestWaitForSyncReturnsImmediatelyWhenAlreadyPassed(t *testing.T) {
	cp := checkpoint.New(newMemVars())
	p := New(nil, newFakeAcceptance(), cp, gateAt{"c1"}, Options{WaitForSync: true}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled; should not matter since gate already passed
	if err := p.waitForSync(ctx, "c1"); err != nil {
		t.Fatalf("expected immediate return, got %v", err)
	}
}

func TestWaitForSyncSkippedWhenDisabled(t *testing.T) {
	cp := checkpoint.New(newMemVars())
	p := New(nil, newFakeAcceptance(), cp, gateAt{"never-matches"}, Options{WaitForSync: false}, nil, nil)
	if err := p.waitForSync(context.Background(), "c1"); err != nil {
		t.Fatalf("expected no-op when WaitForSync disabled, got %v", err)
	}
}
