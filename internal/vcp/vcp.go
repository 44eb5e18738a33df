// Package vcp implements the Virtual-Chain Processor (C6): an independent
// consumer of the node's virtual-chain-changed stream that turns
// add/remove chain events into TransactionAcceptance updates, checkpoints
// its own progress, and recovers cleanly after restart (spec §4.6).
package vcp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kasdex/kasdex/internal/checkpoint"
	"github.com/kasdex/kasdex/internal/health"
	"github.com/kasdex/kasdex/internal/nodeclient"
	"github.com/kasdex/kasdex/internal/storage"
)

// SyncGate lets the block pipeline (C5) tell the VCP how far it has
// progressed, so VCP can honor the vcp_wait_for_sync interlock (spec §4.6's
// Sync discipline: "VCP waits until the block pipeline has passed its
// previous checkpoint before starting"). Implemented by internal/pipeline.
type SyncGate interface {
	// Passed reports whether the block pipeline has ingested at least
	// through blockHash.
	Passed(blockHash string) bool
}

// Options configures one Processor.
type Options struct {
	// IncludeTxAcceptance selects the Full VCP sub-mode (true) or the
	// Chain-block-only sub-mode (false), per spec §4.6's "Two sub-modes".
	IncludeTxAcceptance bool
	// WaitForSync gates startup on SyncGate.Passed, per spec §4.6's Sync
	// discipline. A config flag may disable it at operator discretion.
	WaitForSync bool
	PollInterval time.Duration
}

// DefaultOptions matches the safe-by-default posture spec §4.6 describes.
func DefaultOptions() Options {
	return Options{IncludeTxAcceptance: true, WaitForSync: true, PollInterval: 500 * time.Millisecond}
}

// Processor consumes the node's virtual-chain stream and applies it to the
// AcceptanceWriter, checkpointing through internal/checkpoint.
type Processor struct {
	client     nodeclient.Client
	acceptance storage.AcceptanceWriter
	cp         *checkpoint.Store
	gate       SyncGate
	opts       Options
	log        *zap.Logger
	metrics    *health.Metrics
}

// New builds a Processor. gate may be nil, in which case WaitForSync is a
// no-op regardless of opts. metrics may be nil, in which case progress and
// counters are simply not recorded.
func New(client nodeclient.Client, acceptance storage.AcceptanceWriter, cp *checkpoint.Store, gate SyncGate, opts Options, log *zap.Logger, metrics *health.Metrics) *Processor {
	return &Processor{client: client, acceptance: acceptance, cp: cp, gate: gate, opts: opts, log: log, metrics: metrics}
}

// Run recovers from the persisted vcp_checkpoint (spec §4.6's Recovery),
// applies whatever the node replays — possibly a wide reorg — and then
// processes the live subscription until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	checkpointHash, _, err := p.cp.VCPCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("read vcp checkpoint: %w", err)
	}

	if err := p.waitForSync(ctx, checkpointHash); err != nil {
		return err
	}

	recovered, err := p.client.GetVirtualChainFrom(ctx, checkpointHash, p.opts.IncludeTxAcceptance)
	if err != nil {
		return fmt.Errorf("recover virtual chain from %s: %w", checkpointHash, err)
	}
	if err := p.Apply(ctx, recovered); err != nil {
		return fmt.Errorf("apply recovered virtual chain update: %w", err)
	}

	stream, err := p.client.SubscribeVirtualChainChanged(ctx, p.opts.IncludeTxAcceptance)
	if err != nil {
		return fmt.Errorf("subscribe virtual chain changed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-stream:
			if !ok {
				return nil
			}
			if err := p.Apply(ctx, &update); err != nil {
				// Row-level/transient failures surface as a log; the
				// cursor simply does not advance, so the next recovery
				// replays this update (spec §4.6 Recovery: "if
				// interrupted partway, the cursor advances only after a
				// successful transaction").
				if p.log != nil {
					p.log.Warn("virtual chain update apply failed, will retry on next recovery",
						zap.Error(err))
				}
			}
		}
	}
}

// Apply performs one update's worth of remove/add acceptance work and
// advances the VCP checkpoint only once the whole update has committed
// (spec §4.6 steps 1-3). Removes are applied before adds so a reorg that
// unaccepts and re-accepts the same transaction never observes two rows.
func (p *Processor) Apply(ctx context.Context, update *nodeclient.VcUpdate) error {
	if update == nil {
		return nil
	}

	if len(update.RemovedChainBlockHashes) > 0 {
		if err := p.acceptance.RemoveAcceptance(ctx, update.RemovedChainBlockHashes); err != nil {
			return fmt.Errorf("remove acceptance: %w", err)
		}
		if p.metrics != nil {
			p.metrics.ReorgsObserved.Inc()
		}
	}

	for _, added := range update.AddedChainBlocks {
		if p.opts.IncludeTxAcceptance {
			if err := p.acceptance.UpsertAcceptance(ctx, added.Hash, added.AcceptedTxIDs); err != nil {
				return fmt.Errorf("upsert acceptance for %s: %w", added.Hash, err)
			}
		} else {
			if err := p.acceptance.MarkChainBlockOnly(ctx, added.Hash, true); err != nil {
				return fmt.Errorf("mark chain block %s: %w", added.Hash, err)
			}
		}
	}

	if len(update.AddedChainBlocks) > 0 {
		last := update.AddedChainBlocks[len(update.AddedChainBlocks)-1].Hash
		if err := p.cp.SetVCPCheckpoint(ctx, last); err != nil {
			return fmt.Errorf("checkpoint vcp cursor: %w", err)
		}
	}

	if p.metrics != nil {
		p.metrics.MarkVCPProgress(time.Now())
	}

	return nil
}

// waitForSync blocks until the block pipeline has passed checkpointHash,
// per spec §4.6's default-safe interlock. A blank checkpointHash (first
// run) never needs to wait.
func (p *Processor) waitForSync(ctx context.Context, checkpointHash string) error {
	if !p.opts.WaitForSync || p.gate == nil || checkpointHash == "" {
		return nil
	}

	interval := p.opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.gate.Passed(checkpointHash) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
