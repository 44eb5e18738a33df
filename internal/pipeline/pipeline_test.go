package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kasdex/kasdex/internal/batchwriter"
	"github.com/kasdex/kasdex/internal/checkpoint"
	"github.com/kasdex/kasdex/internal/dedup"
	"github.com/kasdex/kasdex/internal/filter"
	"github.com/kasdex/kasdex/internal/mapping"
	"github.com/kasdex/kasdex/internal/model"
	"github.com/kasdex/kasdex/internal/nodeclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kasdex/kasdex/internal/health"
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

type recordingStore struct {
	batches [][]model.Classified
}

func (r *recordingStore) WriteClassified(_ context.Context, batch []model.Classified) error {
	r.batches = append(r.batches, batch)
	return nil
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *recordingStore) {
	t.Helper()
	engine, err := filter.Compile(&filter.FileConfig{Settings: filter.Settings{DefaultStorePayload: true}})
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	classifier := filter.NewClassifier(engine, filter.NewRegistry(nil))
	mapper := mapping.New(classifier, nil, false)

	store := &recordingStore{}
	pool := batchwriter.New(store, batchwriter.Options{Concurrency: 1, RetryMaxElapsed: time.Second}, nil, nil)
	ctx := context.Background()
	pool.Start(ctx)
	t.Cleanup(pool.Close)

	cp := checkpoint.New(newMemVars())
	metrics := health.New(prometheus.NewRegistry())
	p := New(nil, dedup.New(time.Minute), mapper, pool, cp, opts, nil, metrics)
	return p, store
}

func TestClassifyDedupesTransactionAcrossTwoBlocks(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultOptions())

	tx := nodeclient.Transaction{TransactionID: "deadbeef"}
	b1 := &nodeclient.Block{Hash: "b1", Transactions: []nodeclient.Transaction{tx}}
	b2 := &nodeclient.Block{Hash: "b2", Transactions: []nodeclient.Transaction{tx}}

	in := make(chan *nodeclient.Block, 2)
	out := make(chan model.Classified, 2)
	in <- b1
	in <- b2
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.classify(ctx, in, out)
	close(out)

	var results []model.Classified
	for c := range out {
		results = append(results, c)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 classified blocks, got %d", len(results))
	}
	if len(results[0].Transactions) != 1 {
		t.Fatalf("expected the first block to map the transaction, got %d", len(results[0].Transactions))
	}
	if len(results[1].Transactions) != 0 {
		t.Fatalf("expected the second block to skip re-mapping the already-seen tx, got %d", len(results[1].Transactions))
	}
	if len(results[0].Links) != 1 || len(results[1].Links) != 1 {
		t.Fatalf("expected one link row per block regardless of dedup, got %d and %d", len(results[0].Links), len(results[1].Links))
	}
}

func TestClassifyDropsAlreadySeenBlock(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultOptions())

	b := &nodeclient.Block{Hash: "dupblock"}
	in := make(chan *nodeclient.Block, 2)
	out := make(chan model.Classified, 2)
	in <- b
	in <- b
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.classify(ctx, in, out)
	close(out)

	count := 0
	for range out {
		count++
	}
	if count != 1 {
		t.Fatalf("expected the duplicate block to be dropped, got %d classified", count)
	}
}

func TestBatchFlushesOnThresholdAndAdvancesCheckpoint(t *testing.T) {
	opts := Options{BatchScale: 1.0, FlushInterval: time.Hour} // tick disabled for this test
	p, store := newTestPipeline(t, opts)

	// batchThreshold() at scale 1.0 is 200; feeding exactly
	// `batchThreshold()` items makes the size trigger fire without waiting
	// for the tick.
	threshold := opts.batchThreshold()

	in := make(chan model.Classified, threshold)
	for i := 0; i < threshold; i++ {
		in <- model.Classified{Block: model.Block{Hash: "h", BlueScore: uint64(i + 1)}}
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.batch(ctx, in); err != nil {
		t.Fatalf("batch: %v", err)
	}

	if len(store.batches) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(store.batches))
	}
	if len(store.batches[0]) != threshold {
		t.Fatalf("expected flush to contain %d items, got %d", threshold, len(store.batches[0]))
	}

	got, ok, _ := p.cp.BlockCheckpoint(context.Background())
	if !ok || got != "h" {
		t.Fatalf("expected checkpoint advanced to the highest blue_score block, got %q, %v", got, ok)
	}
	if !p.Passed("h") {
		t.Fatalf("expected Passed(h) true after flush")
	}
}
