// Package storage defines the interface between the pipeline and the
// relational store. Concrete backends live in subpackages (postgres);
// this file only fixes the contract so pipeline/, vcp/, and filter/ never
// import a driver directly.
package storage

import (
	"context"

	"github.com/kasdex/kasdex/internal/model"
)

// BatchWriter is the capability set the Batch stage (C5) and Batch Writer
// Pool (C8) use to flush classified blocks' rows. One flush packet covers
// every table for the blocks it carries: the implementation decides row
// ordering and conflict semantics per spec §4.5's ordering contract (block
// + links in the same DB transaction when the backend supports it).
type BatchWriter interface {
	// WriteClassified persists every row produced for each block in
	// batch: the block itself, its parent edges, transactions,
	// block-transaction links, and derived address/script fan-out rows.
	// Implementations
	// that can, write the block and its links in the same DB
	// transaction (spec §4.5's preferred ordering option).
	WriteClassified(ctx context.Context, batch []model.Classified) error
}

// AcceptanceWriter is the capability set the Virtual-Chain Processor (C6)
// uses to apply add/remove chain events.
type AcceptanceWriter interface {
	// RemoveAcceptance deletes every TransactionAcceptance row for the
	// given chain block hashes and marks those blocks as non-chain.
	RemoveAcceptance(ctx context.Context, blockHashes []string) error
	// UpsertAcceptance inserts or reassigns TransactionAcceptance rows
	// for a chain block's accepted transaction ids and marks the block
	// as a chain block (spec §4.6 step 2: "on conflict the block_hash is
	// updated, reorg target wins").
	UpsertAcceptance(ctx context.Context, blockHash string, txIDs []string) error
	// MarkChainBlockOnly flips a block's chain-block flag without
	// touching acceptance rows, used by the chain-block-only VCP
	// sub-mode (spec §4.6).
	MarkChainBlockOnly(ctx context.Context, blockHash string, isChain bool) error
}

// Vars is the checkpoint/key-value store (C7): get/set on a small fixed
// key set (schema_version, block_checkpoint, vcp_checkpoint).
type Vars interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// TagStore upserts tag provider rows for the filter registry (C3). Mirrors
// filter.TagStore so internal/filter never imports this package.
type TagStore interface {
	UpsertTagProvider(ctx context.Context, tp model.TagProvider) (int64, error)
}

// Store is the full capability set a backend must provide. The postgres
// package is the only implementation; tests may fake the narrower
// interfaces above directly.
type Store interface {
	BatchWriter
	AcceptanceWriter
	Vars
	TagStore

	// Migrate brings the schema to the version this binary expects.
	// initialize wipes and recreates from scratch; upgrade applies
	// forward-only migrations against an existing schema.
	Migrate(ctx context.Context, initialize, upgrade bool) error

	// Close releases the underlying connection pool.
	Close()
}
