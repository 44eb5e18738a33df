// Package model defines the storage-shaped entities materialized by the
// indexer: blocks, transactions, their edges, and the derived fan-out
// indices. Types here are pure data — no behavior beyond small helpers —
// so that both the mapping layer and the storage layer can depend on them
// without a cycle.
package model

import "time"

// Block mirrors spec §3's Block entity. ParentHashes preserves the order
// returned by the node even though BlockParentEdge rows are an unordered set.
type Block struct {
	Hash                 string
	SelectedParentHash   string
	ParentHashes         []string
	MergeSetBlues        []string
	MergeSetReds         []string
	BlueScore            uint64
	BlueWork             string // big integer, kept as decimal string to avoid precision loss over the wire
	DAAScore             uint64
	Timestamp            time.Time
	AcceptedIDMerkleRoot string
	HashMerkleRoot       string
	UTXOCommitment       string
	Bits                 uint32
	Nonce                uint64
	Version              uint16
	IsChainBlock         bool
}

// Input is embedded in Transaction, ordered by Index.
type Input struct {
	Index                   uint16
	PreviousOutpointHash    string
	PreviousOutpointIndex   uint32
	SignatureScript         []byte
	SigOpCount              uint8
	PreviousOutpointScript  []byte // resolved, may be empty if the node didn't provide it
	PreviousOutpointAmount  uint64 // resolved, 0 if unknown
}

// Output is embedded in Transaction, ordered by Index.
type Output struct {
	Index                  uint16
	Amount                 uint64
	ScriptPublicKey        []byte
	ScriptPublicKeyAddress string
}

// Transaction mirrors spec §3's Transaction entity. Payload is nil when the
// filter engine decided not to store it (store_payload = false); the row is
// still written as an ID-only stub with TagRef set.
type Transaction struct {
	TransactionID   string
	SubnetworkID    string
	Hash            string
	Mass            uint64
	Payload         []byte
	BlockTime       time.Time
	Inputs          []Input
	Outputs         []Output
	TagRef          *int64
}

// BlockTransactionLink is the (block_hash, transaction_id) join row.
type BlockTransactionLink struct {
	BlockHash     string
	TransactionID string
}

// AddressTransaction is a derived fan-out row keyed by a resolved address.
type AddressTransaction struct {
	Address       string
	TransactionID string
	BlockTime     time.Time
}

// ScriptTransaction is a derived fan-out row keyed by raw script bytes.
type ScriptTransaction struct {
	Script        []byte
	TransactionID string
	BlockTime     time.Time
}

// TransactionAcceptance maps a transaction to the chain block that accepted
// it. Unique on TransactionID — a reorg must delete before re-inserting.
type TransactionAcceptance struct {
	TransactionID string
	BlockHash     string
}

// SequencingCommitment is only populated when the seqcom feature is enabled.
type SequencingCommitment struct {
	BlockHash       string
	SeqComHash      string
	ParentSeqComHash string
}

// Subnetwork interns a subnetwork id.
type Subnetwork struct {
	ID           int64
	SubnetworkID string
}

// Classified bundles everything the Classify stage emits for one block so
// the Batch stage can fan it out into per-table accumulators without
// re-deriving relationships.
type Classified struct {
	Block          Block
	ParentEdges    []BlockParentEdge
	Transactions   []Transaction
	Links          []BlockTransactionLink
	AddressTxs     []AddressTransaction
	ScriptTxs      []ScriptTransaction
	Subnetworks    []Subnetwork
	SeqCom         *SequencingCommitment
}

// BlockParentEdge is the (block_hash, parent_hash) set member.
type BlockParentEdge struct {
	BlockHash  string
	ParentHash string
}
