// Package nodeclient is the facade described in spec §4.1: a uniform
// read/subscribe interface over an upstream Kaspa node, shielding the rest
// of the pipeline from transport-level failure modes.
package nodeclient

import (
	"context"
	"time"
)

// ErrKind classifies facade-level failures into the small enum spec §4.1
// promises callers. Transport errors never leak past the facade unwrapped.
type ErrKind int

const (
	// Transient covers timeouts, resets, and anything worth a retry.
	Transient ErrKind = iota
	// NotFound means the node doesn't know the requested hash.
	NotFound
	// PrunedBelow means the requested low_hash is below the node's pruning point.
	PrunedBelow
	// FatalDisconnect means the connection could not be reestablished after
	// exhausting the facade's own retry budget; the caller should pause and
	// resume from the last checkpoint once reconnection succeeds.
	FatalDisconnect
)

func (k ErrKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case NotFound:
		return "not_found"
	case PrunedBelow:
		return "pruned_below"
	case FatalDisconnect:
		return "fatal_disconnect"
	default:
		return "unknown"
	}
}

// Error wraps an underlying transport failure with its classification.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Block is the node-shaped block as returned over the wire, prior to
// mapping into model.Block.
type Block struct {
	Hash                 string
	SelectedParentHash   string
	ParentHashes         []string
	MergeSetBluesHashes  []string
	MergeSetRedsHashes   []string
	BlueScore            uint64
	BlueWorkHex          string
	DAAScore             uint64
	TimestampMillis      int64
	AcceptedIDMerkleRoot string
	HashMerkleRoot       string
	UTXOCommitment       string
	Bits                 uint32
	Nonce                uint64
	Version              uint16
	Transactions         []Transaction

	// SeqComHash and ParentSeqComHash are populated only when the node was
	// asked for sequencing commitments (spec §3 invariant 7); both arrive
	// over the wire precomputed, never derived locally.
	SeqComHash       string
	ParentSeqComHash string
}

// Transaction is the node-shaped transaction.
type Transaction struct {
	TransactionID string
	SubnetworkID  string
	Hash          string
	Mass          uint64
	PayloadHex    string
	Inputs        []Input
	Outputs       []Output
}

// Input is the node-shaped transaction input.
type Input struct {
	PreviousOutpointHash   string
	PreviousOutpointIndex  uint32
	SignatureScriptHex     string
	SigOpCount             uint8
	PreviousOutpointScript string // hex, empty if node didn't resolve it
	PreviousOutpointAmount uint64
}

// Output is the node-shaped transaction output.
type Output struct {
	Amount                 uint64
	ScriptPublicKeyHex     string
	ScriptPublicKeyAddress string
}

// VcUpdate is a virtual-chain-changed notification (spec §4.1/§4.6).
type VcUpdate struct {
	RemovedChainBlockHashes []string
	AddedChainBlocks        []AddedChainBlock
}

// AddedChainBlock is one block added to the virtual chain, with the
// transaction ids it accepted (populated only when include_accepted_tx was
// requested).
type AddedChainBlock struct {
	Hash              string
	AcceptedTxIDs     []string
}

// DagInfo mirrors get_block_dag_info.
type DagInfo struct {
	NetworkName      string
	PruningPointHash string
	VirtualParents   []string
	BlueScore        uint64
	DAAScore         uint64
}

// Client is the capability set the rest of the pipeline depends on. The
// concrete implementation (wsclient.go) talks JSON-RPC over a websocket;
// callers only ever see this interface, so a future gRPC transport can be
// swapped in without touching the pipeline.
type Client interface {
	SubscribeBlockAdded(ctx context.Context) (<-chan string, error)
	SubscribeVirtualChainChanged(ctx context.Context, includeAcceptedTx bool) (<-chan VcUpdate, error)
	GetBlock(ctx context.Context, hash string, includeTx bool) (*Block, error)
	GetBlocksFrom(ctx context.Context, lowHash string) ([]*Block, error)
	GetVirtualChainFrom(ctx context.Context, lowHash string, includeAcceptedTx bool) (*VcUpdate, error)
	GetBlockDAGInfo(ctx context.Context) (*DagInfo, error)
	Close() error
}

// Options configures retry/backoff behavior shared by every facade method.
type Options struct {
	DialTimeout   time.Duration
	RequestTimeout time.Duration
	MaxElapsed    time.Duration // for the exponential backoff retrier, 0 = retry forever

	// IncludeSeqCom asks the node to populate Block.SeqComHash and
	// ParentSeqComHash on every get_block/get_blocks_from response
	// (--enable-seqcom, spec §3 invariant 7).
	IncludeSeqCom bool
}

// DefaultOptions matches the teacher's conservative defaults elsewhere in
// the config layer: generous timeouts, indefinite reconnect per spec §6.
func DefaultOptions() Options {
	return Options{
		DialTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxElapsed:     0,
	}
}
