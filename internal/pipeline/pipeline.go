// Package pipeline implements the Block Pipeline (C5): the bounded-queue
// Fetch -> Classify -> Batch -> Write dataflow described in spec §4.5.
// Each stage runs as its own goroutine; the channels between them are the
// queues spec §5 says provide backpressure. Write itself is delegated to
// internal/batchwriter's worker pool.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kasdex/kasdex/internal/batchwriter"
	"github.com/kasdex/kasdex/internal/checkpoint"
	"github.com/kasdex/kasdex/internal/dedup"
	"github.com/kasdex/kasdex/internal/health"
	"github.com/kasdex/kasdex/internal/mapping"
	"github.com/kasdex/kasdex/internal/model"
	"github.com/kasdex/kasdex/internal/nodeclient"
)

// Options scales queue capacities and batch thresholds by batch_scale
// (spec §6's --batch-scale, valid range 0.1-10) and configures the flush
// tick.
type Options struct {
	BatchScale    float64
	FlushInterval time.Duration
	IgnoreCheckpoint string // "p", "v", explicit hash, or "" (spec §6)
}

// DefaultOptions gives a batch_scale of 1.0 and a 2s flush tick.
func DefaultOptions() Options {
	return Options{BatchScale: 1.0, FlushInterval: 2 * time.Second}
}

func (o Options) queueCapacity() int {
	n := int(256 * o.BatchScale)
	if n < 16 {
		n = 16
	}
	return n
}

func (o Options) batchThreshold() int {
	n := int(200 * o.BatchScale)
	if n < 1 {
		n = 1
	}
	return n
}

const committedSetCapacity = 200_000

// Pipeline wires Fetch, Classify, and Batch into the dataflow spec §4.5
// describes, submitting flush packets to a batchwriter.Pool and advancing
// the block checkpoint after each flush that raises the highest persisted
// blue_score.
type Pipeline struct {
	client  nodeclient.Client
	dedup   *dedup.Cache
	mapper  *mapping.Mapper
	writers *batchwriter.Pool
	cp      *checkpoint.Store
	opts    Options
	log     *zap.Logger
	metrics *health.Metrics

	mu               sync.Mutex
	highestBlueScore uint64

	committed *lru.Cache[string, struct{}]
}

// New builds a Pipeline from its collaborators. metrics may be nil, in
// which case progress and counters are simply not recorded.
func New(client nodeclient.Client, dedupCache *dedup.Cache, mapper *mapping.Mapper, writers *batchwriter.Pool, cp *checkpoint.Store, opts Options, log *zap.Logger, metrics *health.Metrics) *Pipeline {
	committed, _ := lru.New[string, struct{}](committedSetCapacity)
	return &Pipeline{
		client:    client,
		dedup:     dedupCache,
		mapper:    mapper,
		writers:   writers,
		cp:        cp,
		opts:      opts,
		log:       log,
		metrics:   metrics,
		committed: committed,
	}
}

// Passed implements vcp.SyncGate: reports whether this pipeline has
// committed the given block hash to the store.
func (p *Pipeline) Passed(blockHash string) bool {
	_, ok := p.committed.Get(blockHash)
	return ok
}

// Run resolves the starting low-hash, backfills from it, then processes the
// live subscription until ctx is cancelled. Fetch, Classify, and Batch run
// concurrently; Run blocks until every stage has drained (spec §5's
// Cancellation: "downstream stages drain, perform a final flush, persist
// checkpoints, and exit").
func (p *Pipeline) Run(ctx context.Context) error {
	startHash, err := p.resolveStartHash(ctx)
	if err != nil {
		return fmt.Errorf("resolve start hash: %w", err)
	}

	blockCh := make(chan *nodeclient.Block, p.opts.queueCapacity())
	classifiedCh := make(chan model.Classified, p.opts.queueCapacity())

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(blockCh)
		if err := p.fetch(ctx, startHash, blockCh); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("fetch: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(classifiedCh)
		p.classify(ctx, blockCh, classifiedCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.batch(ctx, classifiedCh); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("batch: %w", err)
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveStartHash implements spec §4.5's Fetch preamble: pick the
// checkpoint, pruning point, or virtual parent per checkpoint.ResolveStartHash,
// reacting to a PrunedBelow signal from the node.
func (p *Pipeline) resolveStartHash(ctx context.Context) (string, error) {
	persisted, have, err := p.cp.BlockCheckpoint(ctx)
	if err != nil {
		return "", err
	}

	info, err := p.client.GetBlockDAGInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("get block dag info: %w", err)
	}

	virtualParent := ""
	if len(info.VirtualParents) > 0 {
		virtualParent = info.VirtualParents[0]
	}

	prunedBelow := false
	if have && persisted != "" {
		if _, err := p.client.GetBlock(ctx, persisted, false); err != nil {
			if nerr, ok := err.(*nodeclient.Error); ok && nerr.Kind == nodeclient.PrunedBelow {
				prunedBelow = true
			}
		}
	}

	return checkpoint.ResolveStartHash(persisted, have, p.opts.IgnoreCheckpoint, prunedBelow, info.PruningPointHash, virtualParent), nil
}

// fetch backfills forward from startHash via repeated GetBlocksFrom calls
// until the node reports no further blocks, then switches to the live
// SubscribeBlockAdded stream, fetching each notified block in full (spec
// §4.5's Fetch). Blocks are pushed in the order the node produces them;
// strict total order is not required.
func (p *Pipeline) fetch(ctx context.Context, startHash string, out chan<- *nodeclient.Block) error {
	lowHash := startHash
	for {
		blocks, err := p.client.GetBlocksFrom(ctx, lowHash)
		if err != nil {
			return fmt.Errorf("get blocks from %s: %w", lowHash, err)
		}
		if len(blocks) == 0 {
			break
		}
		for _, b := range blocks {
			select {
			case out <- b:
			case <-ctx.Done():
				return nil
			}
		}
		lowHash = blocks[len(blocks)-1].Hash
	}

	hashes, err := p.client.SubscribeBlockAdded(ctx)
	if err != nil {
		return fmt.Errorf("subscribe block added: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case hash, ok := <-hashes:
			if !ok {
				return nil
			}
			block, err := p.client.GetBlock(ctx, hash, true)
			if err != nil {
				if p.log != nil {
					p.log.Warn("get_block failed for notified hash, skipping", zap.String("hash", hash), zap.Error(err))
				}
				continue
			}
			select {
			case out <- block:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// classify implements spec §4.5's Classify stage: drop already-seen
// blocks, dedupe transactions so a tx observed in a prior block is only
// re-mapped once, run the Filter Engine via the mapping layer, and emit a
// Classified bundle per block.
func (p *Pipeline) classify(ctx context.Context, in <-chan *nodeclient.Block, out chan<- model.Classified) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-in:
			if !ok {
				return
			}
			if p.dedup.SeenBlock(block.Hash) {
				continue
			}

			var newTxs []*nodeclient.Transaction
			allTxIDs := make([]string, 0, len(block.Transactions))
			for i := range block.Transactions {
				t := &block.Transactions[i]
				allTxIDs = append(allTxIDs, t.TransactionID)
				if !p.dedup.SeenTx(t.TransactionID) {
					newTxs = append(newTxs, t)
				}
			}

			classified := p.mapper.MapClassified(block, newTxs, allTxIDs)
			if p.metrics != nil {
				p.metrics.TxsIngested.Add(float64(len(newTxs)))
				p.metrics.BlockQueueDepth.Set(float64(len(in)))
				p.metrics.BatchQueueDepth.Set(float64(len(out)))
				blocksLen, txsLen := p.dedup.Len()
				p.metrics.DedupCacheSize.WithLabelValues("blocks").Set(float64(blocksLen))
				p.metrics.DedupCacheSize.WithLabelValues("txs").Set(float64(txsLen))
			}
			select {
			case out <- classified:
			case <-ctx.Done():
				return
			}
		}
	}
}

// batch implements spec §4.5's Batch stage: accumulate Classified bundles
// until the scaled size threshold or the flush tick fires, then submit to
// the Batch Writer Pool and advance the checkpoint on success.
func (p *Pipeline) batch(ctx context.Context, in <-chan model.Classified) error {
	threshold := p.opts.batchThreshold()
	interval := p.opts.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var acc []model.Classified

	flush := func() error {
		if len(acc) == 0 {
			return nil
		}
		batch := acc
		acc = nil

		done := make(chan error, 1)
		if err := p.writers.Submit(ctx, batchwriter.Packet{Blocks: batch, Done: done}); err != nil {
			return err
		}
		if err := <-done; err != nil {
			return err
		}

		p.onFlushed(batch)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return nil
		case c, ok := <-in:
			if !ok {
				return flush()
			}
			acc = append(acc, c)
			if len(acc) >= threshold {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// onFlushed records every committed block hash for the VCP sync gate and
// advances the persisted checkpoint when this flush raised the highest
// blue_score seen so far (spec §4.5's Checkpointing).
func (p *Pipeline) onFlushed(batch []model.Classified) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *model.Block
	for i := range batch {
		b := &batch[i].Block
		p.committed.Add(b.Hash, struct{}{})
		if b.BlueScore > p.highestBlueScore {
			p.highestBlueScore = b.BlueScore
			best = b
		}
	}

	if p.metrics != nil {
		p.metrics.BlocksIngested.Add(float64(len(batch)))
		p.metrics.BatchesFlushed.Inc()
		p.metrics.MarkBlockProgress(time.Now())
	}

	if best == nil {
		return
	}
	if err := p.cp.SetBlockCheckpoint(context.Background(), best.Hash); err != nil && p.log != nil {
		p.log.Warn("failed to persist block checkpoint", zap.Error(err))
	}
}
