// Package batchwriter implements the Batch Writer Pool (C8): a bounded
// pool of concurrent writers drawn from the storage layer's connection
// pool, each executing one flush packet against PostgreSQL with bounded
// retry on transient failure and row-level isolation on persistent
// failure, per spec §4.5's Failure semantics and §4.8.
package batchwriter

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kasdex/kasdex/internal/model"
	"github.com/kasdex/kasdex/internal/storage"
)

// Packet is one flush unit: the classified rows for one or more blocks that
// accumulated past the Batch stage's size threshold or flush tick (spec
// §4.5's Batch stage). Writers treat a packet as atomic where the backend
// supports it (postgres.Store commits block+links together per packet).
type Packet struct {
	Blocks []model.Classified

	// Done, if non-nil, is closed after this packet's write attempt
	// (success or row-isolated partial failure) completes. Callers that
	// need to know when it is safe to advance a checkpoint pass Done.
	Done chan error
}

// Options configures the pool's retry behavior.
type Options struct {
	Concurrency     int
	RetryMaxElapsed time.Duration // 0 = retry the whole packet forever before isolating
}

// DefaultOptions gives four writers and a two-minute retry budget per
// packet before row isolation starts.
func DefaultOptions() Options {
	return Options{Concurrency: 4, RetryMaxElapsed: 2 * time.Minute}
}

// SkipLogger records a row-level write failure that was isolated and
// skipped rather than failing the whole packet (spec §7's "Row-level DB"
// disposition: "isolate, skip, log ... warning + counter").
type SkipLogger interface {
	SkippedBlock(blockHash string, err error)
}

// Pool executes flush packets against a storage.BatchWriter with bounded
// concurrency. Packets are submitted over a channel so the Batch stage's
// accumulators can block on Submit when every writer is busy, providing
// the backpressure spec §5 requires.
type Pool struct {
	store   storage.BatchWriter
	opts    Options
	log     *zap.Logger
	skipLog SkipLogger

	jobs chan Packet
	wg   sync.WaitGroup
}

// New builds a Pool. skipLog may be nil, in which case skips are only
// logged, not counted.
func New(store storage.BatchWriter, opts Options, log *zap.Logger, skipLog SkipLogger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pool{
		store:   store,
		opts:    opts,
		log:     log,
		skipLog: skipLog,
		jobs:    make(chan Packet, opts.Concurrency*2),
	}
}

// Start launches opts.Concurrency writer goroutines. Call Close to drain
// and stop them.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit enqueues a packet, blocking if every writer is busy and the queue
// is full — the backpressure point spec §5 describes between Batch and
// Write. Returns ctx.Err() if ctx is cancelled first.
func (p *Pool) Submit(ctx context.Context, pkt Packet) error {
	select {
	case p.jobs <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new packets and waits for in-flight writers to
// drain. It has no timeout of its own: writers stop retrying once the ctx
// passed to Start is cancelled.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for pkt := range p.jobs {
		err := p.flushWithRetry(ctx, pkt.Blocks)
		if pkt.Done != nil {
			pkt.Done <- err
			close(pkt.Done)
		}
	}
}

// flushWithRetry retries a transient failure with exponential backoff
// (spec §7: "Transient DB ... retry batch"), then isolates and skips any
// row that fails persistently rather than losing the whole packet.
func (p *Pool) flushWithRetry(ctx context.Context, blocks []model.Classified) error {
	if len(blocks) == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.opts.RetryMaxElapsed

	err := backoff.Retry(func() error {
		return p.store.WriteClassified(ctx, blocks)
	}, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}

	p.isolateAndSkip(ctx, blocks, err)
	return nil
}

// isolateAndSkip bisects a failing packet until it finds the offending
// block(s), logging a skip for each rather than blocking the rest of the
// packet on one bad row (spec §4.5's Failure semantics / §7's Row-level DB
// disposition).
func (p *Pool) isolateAndSkip(ctx context.Context, blocks []model.Classified, lastErr error) {
	if len(blocks) == 1 {
		hash := blocks[0].Block.Hash
		if p.log != nil {
			p.log.Warn("skipping block after persistent write failure",
				zap.String("block_hash", hash), zap.Error(lastErr))
		}
		if p.skipLog != nil {
			p.skipLog.SkippedBlock(hash, lastErr)
		}
		return
	}

	mid := len(blocks) / 2
	left, right := blocks[:mid], blocks[mid:]

	if err := p.store.WriteClassified(ctx, left); err != nil {
		p.isolateAndSkip(ctx, left, err)
	}
	if err := p.store.WriteClassified(ctx, right); err != nil {
		p.isolateAndSkip(ctx, right, err)
	}
}
