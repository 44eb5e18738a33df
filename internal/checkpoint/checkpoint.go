// Package checkpoint implements the Checkpoint/Vars Store (C7): a small
// typed wrapper around storage.Vars fixing the key set spec §4.7 names
// (schema_version, block_checkpoint, vcp_checkpoint) and the resume-cursor
// logic spec §4.5/§4.6 describe around it.
package checkpoint

import (
	"context"
	"fmt"

	"golang.org/x/mod/semver"

	"github.com/kasdex/kasdex/internal/storage"
)

// Key names used against the Vars store. Exported so callers building ad
// hoc tooling (e.g. a future query surface) know what to look for without
// reading this package's source.
const (
	KeySchemaVersion  = "schema_version"
	KeyBlockCheckpoint = "block_checkpoint"
	KeyVCPCheckpoint  = "vcp_checkpoint"
)

// CurrentSchemaVersion is the logical schema version this binary was built
// against. It is distinct from golang-migrate's own numbered revision: this
// is what run.go persists via SetSchemaVersion after a successful Migrate
// and checks via CheckSchemaVersion on every subsequent startup that didn't
// pass --initialize-db/--upgrade-db.
const CurrentSchemaVersion = "v1.0.0"

// Store wraps storage.Vars with the typed accessors the pipeline and VCP
// use at startup and at safe flush points.
type Store struct {
	vars storage.Vars
}

// New builds a checkpoint Store over the backend's Vars implementation.
func New(vars storage.Vars) *Store {
	return &Store{vars: vars}
}

// BlockCheckpoint returns the persisted resume hash for the block pipeline
// (C5), or ("", false) if none has been written yet.
func (s *Store) BlockCheckpoint(ctx context.Context) (string, bool, error) {
	return s.vars.Get(ctx, KeyBlockCheckpoint)
}

// SetBlockCheckpoint persists the new high-water-mark block hash. Called
// after each successful batch flush that advances the highest persisted
// blue_score (spec §4.5's Checkpointing).
func (s *Store) SetBlockCheckpoint(ctx context.Context, blockHash string) error {
	return s.vars.Set(ctx, KeyBlockCheckpoint, blockHash)
}

// VCPCheckpoint returns the last successfully applied added-chain-block
// hash the Virtual-Chain Processor (C6) committed through.
func (s *Store) VCPCheckpoint(ctx context.Context) (string, bool, error) {
	return s.vars.Get(ctx, KeyVCPCheckpoint)
}

// SetVCPCheckpoint persists the VCP cursor. Called only after a full
// virtual-chain update has been committed (spec §4.6 step 3).
func (s *Store) SetVCPCheckpoint(ctx context.Context, blockHash string) error {
	return s.vars.Set(ctx, KeyVCPCheckpoint, blockHash)
}

// SchemaVersion returns the persisted schema version, or ("", false) on a
// freshly initialized store.
func (s *Store) SchemaVersion(ctx context.Context) (string, bool, error) {
	return s.vars.Get(ctx, KeySchemaVersion)
}

// SetSchemaVersion records the schema version this binary brought the
// store to, after a successful Migrate call.
func (s *Store) SetSchemaVersion(ctx context.Context, version string) error {
	return s.vars.Set(ctx, KeySchemaVersion, version)
}

// CheckSchemaVersion compares the persisted version against want using
// semver ordering and returns a fatal error on mismatch (spec §7: "Schema
// mismatch ... none ... fatal abort"). An empty persisted version (store
// never migrated) is also fatal: the caller should have run --initialize-db
// first.
func (s *Store) CheckSchemaVersion(ctx context.Context, want string) error {
	got, ok, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if !ok {
		return fmt.Errorf("schema not initialized (want %s): run with --initialize-db", want)
	}
	if semver.Compare(canonical(got), canonical(want)) != 0 {
		return fmt.Errorf("schema version mismatch: store has %s, binary wants %s", got, want)
	}
	return nil
}

func canonical(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

// ResolveStartHash picks the block pipeline's starting low-hash per spec
// §4.5's Fetch stage: the persisted checkpoint unless ignoreCheckpoint
// overrides it ("p" = pruning point, "v" = virtual parent, or an explicit
// hash), or the checkpoint has been pruned by the node (prunedBelow=true),
// in which case it falls back to the node's current pruning point.
func ResolveStartHash(persisted string, havePersisted bool, ignoreCheckpoint string, prunedBelow bool, pruningPoint, virtualParent string) string {
	switch ignoreCheckpoint {
	case "p":
		return pruningPoint
	case "v":
		return virtualParent
	case "":
		// fall through to persisted/pruned-below handling below
	default:
		return ignoreCheckpoint
	}

	if !havePersisted {
		return pruningPoint
	}
	if prunedBelow {
		return pruningPoint
	}
	return persisted
}
