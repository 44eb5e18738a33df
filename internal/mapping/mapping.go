// Package mapping implements the Mapping Layer (C4): pure, side-effect-free
// conversion of node-shaped blocks and transactions (internal/nodeclient)
// into the storage-shaped rows the batch writer persists (internal/model).
// Nothing here touches the network or the database; every function is a
// straight transform so it can be unit tested without either.
package mapping

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/kasdex/kasdex/internal/filter"
	"github.com/kasdex/kasdex/internal/model"
	"github.com/kasdex/kasdex/internal/nodeclient"
)

// FieldExcluder reports whether an optional Block field has been excluded
// via --exclude-fields (spec §6). Mirrors config.Config.FieldExcluded so
// this package never imports internal/config.
type FieldExcluder interface {
	FieldExcluded(name string) bool
}

// Field names recognized by --exclude-fields for Block's optional columns.
const (
	FieldMergeSet = "merge_set"
	FieldBits     = "bits"
	FieldNonce    = "nonce"
)

// Mapper converts node-shaped records to storage-shaped ones, attaching
// filter decisions along the way. A Mapper is stateless aside from its
// collaborators and safe for concurrent use by several Classify workers.
type Mapper struct {
	classifier    *filter.Classifier
	excluded      FieldExcluder
	enableSeqCom  bool
}

// New builds a Mapper. excluded may be nil, in which case no optional field
// is zeroed.
func New(classifier *filter.Classifier, excluded FieldExcluder, enableSeqCom bool) *Mapper {
	return &Mapper{classifier: classifier, excluded: excluded, enableSeqCom: enableSeqCom}
}

func (m *Mapper) fieldExcluded(name string) bool {
	return m.excluded != nil && m.excluded.FieldExcluded(name)
}

// MapBlock converts a node-shaped block (without its transactions) into a
// model.Block plus its BlockParentEdge set, per spec §3's invariant that
// parent_hashes is preserved in order while edges are an unordered set.
func (m *Mapper) MapBlock(b *nodeclient.Block) (model.Block, []model.BlockParentEdge) {
	block := model.Block{
		Hash:                 strings.ToLower(b.Hash),
		SelectedParentHash:   strings.ToLower(b.SelectedParentHash),
		ParentHashes:         lowerAll(b.ParentHashes),
		MergeSetBlues:        lowerAll(b.MergeSetBluesHashes),
		MergeSetReds:         lowerAll(b.MergeSetRedsHashes),
		BlueScore:            b.BlueScore,
		BlueWork:             hexToDecimalString(b.BlueWorkHex),
		DAAScore:             b.DAAScore,
		Timestamp:            time.UnixMilli(b.TimestampMillis).UTC(),
		AcceptedIDMerkleRoot: b.AcceptedIDMerkleRoot,
		HashMerkleRoot:       b.HashMerkleRoot,
		UTXOCommitment:       b.UTXOCommitment,
		Bits:                 b.Bits,
		Nonce:                b.Nonce,
		Version:              b.Version,
	}

	if m.fieldExcluded(FieldMergeSet) {
		block.MergeSetBlues = nil
		block.MergeSetReds = nil
	}
	if m.fieldExcluded(FieldBits) {
		block.Bits = 0
	}
	if m.fieldExcluded(FieldNonce) {
		block.Nonce = 0
	}

	edges := make([]model.BlockParentEdge, 0, len(block.ParentHashes))
	for _, p := range block.ParentHashes {
		edges = append(edges, model.BlockParentEdge{BlockHash: block.Hash, ParentHash: p})
	}
	return block, edges
}

// mapTransactionResult bundles everything derived from one transaction so
// the caller can fan it into the Classified bundle without recomputing
// addresses/scripts.
type mapTransactionResult struct {
	Transaction model.Transaction
	AddressTxs  []model.AddressTransaction
	ScriptTxs   []model.ScriptTransaction
	Subnetwork  model.Subnetwork
}

// MapTransaction converts one node-shaped transaction into its storage-shaped
// row plus derived fan-out rows, running the Filter Engine (C3) against the
// transaction id and payload per spec §4.3/§4.4.
func (m *Mapper) MapTransaction(t *nodeclient.Transaction, blockTime time.Time) mapTransactionResult {
	txid := strings.ToLower(t.TransactionID)
	payload, _ := hex.DecodeString(t.PayloadHex)

	decision, storedPayload := m.classifier.Decide(txid, payload)

	tx := model.Transaction{
		TransactionID: txid,
		SubnetworkID:  t.SubnetworkID,
		Hash:          strings.ToLower(t.Hash),
		Mass:          t.Mass,
		Payload:       storedPayload,
		BlockTime:     blockTime,
		TagRef:        decision.TagRef,
	}

	var addrTxs []model.AddressTransaction
	var scriptTxs []model.ScriptTransaction

	for i, in := range t.Inputs {
		prevScript, _ := hex.DecodeString(in.PreviousOutpointScript)
		sigScript, _ := hex.DecodeString(in.SignatureScriptHex)
		tx.Inputs = append(tx.Inputs, model.Input{
			Index:                  uint16(i),
			PreviousOutpointHash:   strings.ToLower(in.PreviousOutpointHash),
			PreviousOutpointIndex:  in.PreviousOutpointIndex,
			SignatureScript:        sigScript,
			SigOpCount:             in.SigOpCount,
			PreviousOutpointScript: prevScript,
			PreviousOutpointAmount: in.PreviousOutpointAmount,
		})
	}

	for i, out := range t.Outputs {
		script, _ := hex.DecodeString(out.ScriptPublicKeyHex)
		tx.Outputs = append(tx.Outputs, model.Output{
			Index:                  uint16(i),
			Amount:                 out.Amount,
			ScriptPublicKey:        script,
			ScriptPublicKeyAddress: out.ScriptPublicKeyAddress,
		})
		if out.ScriptPublicKeyAddress != "" {
			addrTxs = append(addrTxs, model.AddressTransaction{
				Address:       out.ScriptPublicKeyAddress,
				TransactionID: txid,
				BlockTime:     blockTime,
			})
		}
		if len(script) > 0 {
			scriptTxs = append(scriptTxs, model.ScriptTransaction{
				Script:        script,
				TransactionID: txid,
				BlockTime:     blockTime,
			})
		}
	}

	return mapTransactionResult{
		Transaction: tx,
		AddressTxs:  addrTxs,
		ScriptTxs:   scriptTxs,
		Subnetwork:  model.Subnetwork{SubnetworkID: t.SubnetworkID},
	}
}

// MapSeqCom derives the SequencingCommitment row for a block when the
// feature is enabled (spec §3 invariant 7): the chain is preserved exactly
// as received from the node, never recomputed here.
func (m *Mapper) MapSeqCom(blockHash, seqComHash, parentSeqComHash string) *model.SequencingCommitment {
	if !m.enableSeqCom || seqComHash == "" {
		return nil
	}
	return &model.SequencingCommitment{
		BlockHash:        strings.ToLower(blockHash),
		SeqComHash:       strings.ToLower(seqComHash),
		ParentSeqComHash: strings.ToLower(parentSeqComHash),
	}
}

// MapClassified assembles the full Classified bundle for one block: the
// block row, its parent edges, and — for every transaction the caller has
// already passed the dedup cache (spec §4.5's Classify stage) — the
// transaction row, block-transaction link, and derived fan-out rows.
// allTxIDs controls which transactions get a link row; transactions the
// dedup cache had already seen still get a link row (a tx can appear in
// multiple blocks, spec §3 BlockTransactionLink) but are left out of newTxs
// by the caller, so they are not re-mapped.
func (m *Mapper) MapClassified(b *nodeclient.Block, newTxs []*nodeclient.Transaction, allTxIDs []string) model.Classified {
	block, edges := m.MapBlock(b)

	c := model.Classified{
		Block:       block,
		ParentEdges: edges,
	}

	for _, id := range allTxIDs {
		c.Links = append(c.Links, model.BlockTransactionLink{
			BlockHash:     block.Hash,
			TransactionID: strings.ToLower(id),
		})
	}

	for _, t := range newTxs {
		r := m.MapTransaction(t, block.Timestamp)
		c.Transactions = append(c.Transactions, r.Transaction)
		c.AddressTxs = append(c.AddressTxs, r.AddressTxs...)
		c.ScriptTxs = append(c.ScriptTxs, r.ScriptTxs...)
		c.Subnetworks = append(c.Subnetworks, r.Subnetwork)
	}

	c.SeqCom = m.MapSeqCom(b.Hash, b.SeqComHash, b.ParentSeqComHash)

	return c
}

func lowerAll(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

// hexToDecimalString converts blue_work's hex wire form into the decimal
// string representation model.Block.BlueWork stores it as (spec §3: "big
// integer, kept as decimal string to avoid precision loss over the wire").
func hexToDecimalString(hexStr string) string {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if hexStr == "" {
		return "0"
	}
	n, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		return "0"
	}
	return n.String()
}
