package dedup

import (
	"testing"
	"time"
)

func TestSeenBlockInsertsOnFirstSight(t *testing.T) {
	c := New(time.Minute)

	if c.SeenBlock("hash-a") {
		t.Fatalf("first sight of hash-a should report unseen")
	}
	if !c.SeenBlock("hash-a") {
		t.Fatalf("second sight of hash-a should report seen")
	}
}

func TestSeenTxIndependentFromBlocks(t *testing.T) {
	c := New(time.Minute)

	c.SeenBlock("shared-id")
	if c.SeenTx("shared-id") {
		t.Fatalf("tx set must be independent of the block set")
	}
}

func TestSeenBlockExpiresAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)

	c.SeenBlock("hash-a")
	time.Sleep(50 * time.Millisecond)

	if c.SeenBlock("hash-a") {
		t.Fatalf("entry should have expired and been treated as unseen")
	}
}

func TestLenReportsSetSizes(t *testing.T) {
	c := New(time.Minute)
	c.SeenBlock("a")
	c.SeenBlock("b")
	c.SeenTx("t1")

	blocks, txs := c.Len()
	if blocks != 2 || txs != 1 {
		t.Fatalf("got blocks=%d txs=%d, want 2/1", blocks, txs)
	}
}
