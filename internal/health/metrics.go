// Package health implements the Health/Metrics Surface (C9): a read-only
// HTTP facade exposing /health and /metrics, per spec §6. It never touches
// the pipeline directly — stages report progress into a Metrics instance,
// which this package then renders.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges spec §6 calls out: "blocks
// ingested, txs ingested, batches flushed, reorgs observed, queue depths".
// It also tracks the last-progress timestamp for the block pipeline and
// the VCP independently, which /health reads to decide liveness.
type Metrics struct {
	BlocksIngested  prometheus.Counter
	TxsIngested     prometheus.Counter
	BatchesFlushed  prometheus.Counter
	ReorgsObserved  prometheus.Counter
	RowsSkipped     prometheus.Counter
	BlockQueueDepth prometheus.Gauge
	BatchQueueDepth prometheus.Gauge
	DedupCacheSize  *prometheus.GaugeVec

	mu                sync.RWMutex
	startedAt         time.Time
	lastBlockProgress time.Time
	lastVCPProgress   time.Time
}

// New registers and returns a Metrics instance against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests, multiple
// instances in one process) or prometheus.DefaultRegisterer otherwise.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kasdex_blocks_ingested_total",
			Help: "Blocks persisted by the block pipeline.",
		}),
		TxsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kasdex_transactions_ingested_total",
			Help: "Transactions persisted by the block pipeline.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kasdex_batches_flushed_total",
			Help: "Flush packets committed by the batch writer pool.",
		}),
		ReorgsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kasdex_reorgs_observed_total",
			Help: "Virtual-chain updates with a non-empty removed-block set.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kasdex_rows_skipped_total",
			Help: "Rows isolated and skipped after a persistent write failure.",
		}),
		BlockQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kasdex_block_queue_depth",
			Help: "Pending items in the fetch-to-classify queue.",
		}),
		BatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kasdex_batch_queue_depth",
			Help: "Pending items in the classify-to-batch queue.",
		}),
		DedupCacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kasdex_dedup_cache_size",
			Help: "Entries currently held by the dedup cache, by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.BlocksIngested, m.TxsIngested, m.BatchesFlushed, m.ReorgsObserved,
		m.RowsSkipped, m.BlockQueueDepth, m.BatchQueueDepth, m.DedupCacheSize,
	} {
		if reg != nil {
			reg.MustRegister(c)
		}
	}

	m.startedAt = time.Now()
	return m
}

// MarkBlockProgress records that the block pipeline just made progress
// (flushed a batch). Called by internal/pipeline after every successful
// flush.
func (m *Metrics) MarkBlockProgress(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBlockProgress = t
}

// MarkVCPProgress records that the Virtual-Chain Processor just committed
// an update.
func (m *Metrics) MarkVCPProgress(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVCPProgress = t
}

// Liveness reports whether both the block pipeline and the VCP have made
// progress within window, per spec §6: "/health returns OK when both
// pipelines have made progress within a configurable liveness window". A
// zero timestamp (no progress observed yet) counts as live only while the
// process is within one window of its start; after that it is reported
// stalled (see progressed).
func (m *Metrics) Liveness(now time.Time, window time.Duration) (blockLive, vcpLive bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blockLive = m.progressed(m.lastBlockProgress, now, window)
	vcpLive = m.progressed(m.lastVCPProgress, now, window)
	return
}

// progressed reports liveness for one pipeline's last-progress timestamp.
// Before any progress has been observed, the process is still within its
// startup grace period (one liveness window from launch); after that, the
// absence of progress is a real liveness failure.
func (m *Metrics) progressed(last, now time.Time, window time.Duration) bool {
	if last.IsZero() {
		return now.Sub(m.startedAt) <= window
	}
	return now.Sub(last) <= window
}
