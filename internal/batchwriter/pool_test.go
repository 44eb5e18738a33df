package batchwriter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasdex/kasdex/internal/model"
)

// fakeStore fails WriteClassified whenever the batch contains a block whose
// hash is in badHashes, succeeding otherwise. It records every hash it
// successfully wrote.
type fakeStore struct {
	mu        sync.Mutex
	badHashes map[string]bool
	written   map[string]bool
}

func newFakeStore(bad ...string) *fakeStore {
	badSet := make(map[string]bool, len(bad))
	for _, h := range bad {
		badSet[h] = true
	}
	return &fakeStore{badHashes: badSet, written: make(map[string]bool)}
}

func (f *fakeStore) WriteClassified(_ context.Context, batch []model.Classified) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range batch {
		if f.badHashes[c.Block.Hash] {
			return errors.New("constraint violation on " + c.Block.Hash)
		}
	}
	for _, c := range batch {
		f.written[c.Block.Hash] = true
	}
	return nil
}

type countingSkipLogger struct {
	mu     sync.Mutex
	skips  []string
}

func (c *countingSkipLogger) SkippedBlock(blockHash string, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skips = append(c.skips, blockHash)
}

func blocksWithHashes(hashes ...string) []model.Classified {
	out := make([]model.Classified, len(hashes))
	for i, h := range hashes {
		out[i] = model.Classified{Block: model.Block{Hash: h}}
	}
	return out
}

func TestPoolWritesGoodPacket(t *testing.T) {
	store := newFakeStore()
	pool := New(store, Options{Concurrency: 2, RetryMaxElapsed: time.Second}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan error, 1)
	if err := pool.Submit(ctx, Packet{Blocks: blocksWithHashes("a", "b"), Done: done}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	pool.Close()

	if !store.written["a"] || !store.written["b"] {
		t.Fatalf("expected both blocks written, got %+v", store.written)
	}
}

func TestPoolIsolatesAndSkipsBadBlock(t *testing.T) {
	store := newFakeStore("bad")
	skipLog := &countingSkipLogger{}
	pool := New(store, Options{Concurrency: 1, RetryMaxElapsed: 200 * time.Millisecond}, nil, skipLog)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan error, 1)
	if err := pool.Submit(ctx, Packet{Blocks: blocksWithHashes("good1", "bad", "good2"), Done: done}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-done
	pool.Close()

	if !store.written["good1"] || !store.written["good2"] {
		t.Fatalf("expected good blocks to still be written, got %+v", store.written)
	}
	if store.written["bad"] {
		t.Fatalf("bad block should not have been written")
	}
	if len(skipLog.skips) != 1 || skipLog.skips[0] != "bad" {
		t.Fatalf("expected exactly one skip for 'bad', got %v", skipLog.skips)
	}
}
