package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kasdex/kasdex/internal/model"
)

// pgxTx is the subset of pgx.Tx the per-table write helpers need.
type pgxTx = pgx.Tx

// WriteClassified implements storage.BatchWriter. It writes an entire
// flush packet — potentially several blocks' worth of rows — in one DB
// transaction, bulk-upserting each table via UNNEST so a packet with
// thousands of rows costs a handful of round trips rather than one per
// row (grounded in the same approach other Kaspa-adjacent indexers use
// for high block rate ingestion). Per spec §4.5's ordering contract, the
// block and its links are committed together so no reader ever observes a
// link whose block row is missing.
func (s *Store) WriteClassified(ctx context.Context, batch []model.Classified) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := writeBlocks(ctx, tx, batch); err != nil {
		return fmt.Errorf("write blocks: %w", err)
	}
	if err := writeParentEdges(ctx, tx, batch); err != nil {
		return fmt.Errorf("write parent edges: %w", err)
	}
	if err := writeTransactions(ctx, tx, batch); err != nil {
		return fmt.Errorf("write transactions: %w", err)
	}
	if err := writeInputsOutputs(ctx, tx, batch); err != nil {
		return fmt.Errorf("write inputs/outputs: %w", err)
	}
	if err := writeLinks(ctx, tx, batch); err != nil {
		return fmt.Errorf("write block-transaction links: %w", err)
	}
	if err := writeAddressAndScriptFanout(ctx, tx, batch); err != nil {
		return fmt.Errorf("write address/script fanout: %w", err)
	}
	if err := writeSeqCom(ctx, tx, batch); err != nil {
		return fmt.Errorf("write sequencing commitments: %w", err)
	}

	return tx.Commit(ctx)
}

func writeBlocks(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	n := len(batch)
	hashes := make([]string, n)
	parents := make([]*string, n)
	blueScores := make([]int64, n)
	blueWorks := make([]string, n)
	daaScores := make([]int64, n)
	timestamps := make([]time.Time, n)
	acceptedRoots := make([]string, n)
	hashRoots := make([]string, n)
	utxoCommitments := make([]string, n)
	bits := make([]int64, n)
	nonces := make([]string, n)
	versions := make([]int16, n)

	for i, c := range batch {
		b := c.Block
		hashes[i] = b.Hash
		if b.SelectedParentHash != "" {
			p := b.SelectedParentHash
			parents[i] = &p
		}
		blueScores[i] = int64(b.BlueScore)
		blueWorks[i] = b.BlueWork
		daaScores[i] = int64(b.DAAScore)
		timestamps[i] = b.Timestamp
		acceptedRoots[i] = b.AcceptedIDMerkleRoot
		hashRoots[i] = b.HashMerkleRoot
		utxoCommitments[i] = b.UTXOCommitment
		bits[i] = int64(b.Bits)
		nonces[i] = new(big.Int).SetUint64(b.Nonce).String()
		versions[i] = int16(b.Version)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO blocks (
			hash, selected_parent_hash, blue_score, blue_work, daa_score,
			"timestamp", accepted_id_merkle_root, hash_merkle_root,
			utxo_commitment, bits, nonce, version
		)
		SELECT u.hash, u.selected_parent_hash, u.blue_score, u.blue_work, u.daa_score,
			u."timestamp", u.accepted_id_merkle_root, u.hash_merkle_root,
			u.utxo_commitment, u.bits, u.nonce::numeric, u.version
		FROM UNNEST(
			$1::text[], $2::text[], $3::bigint[], $4::text[], $5::bigint[],
			$6::timestamptz[], $7::text[], $8::text[],
			$9::text[], $10::bigint[], $11::text[], $12::smallint[]
		) AS u(
			hash, selected_parent_hash, blue_score, blue_work, daa_score,
			"timestamp", accepted_id_merkle_root, hash_merkle_root,
			utxo_commitment, bits, nonce, version
		)
		ON CONFLICT (hash) DO UPDATE SET
			selected_parent_hash    = EXCLUDED.selected_parent_hash,
			blue_score              = EXCLUDED.blue_score,
			blue_work               = EXCLUDED.blue_work,
			daa_score               = EXCLUDED.daa_score,
			accepted_id_merkle_root = EXCLUDED.accepted_id_merkle_root,
			hash_merkle_root        = EXCLUDED.hash_merkle_root,
			utxo_commitment         = EXCLUDED.utxo_commitment,
			bits                    = EXCLUDED.bits,
			nonce                   = EXCLUDED.nonce,
			version                 = EXCLUDED.version`,
		hashes, parents, blueScores, blueWorks, daaScores,
		timestamps, acceptedRoots, hashRoots,
		utxoCommitments, bits, nonces, versions,
	)
	return err
}

func writeParentEdges(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	var blockHashes, parentHashes []string
	for _, c := range batch {
		for _, e := range c.ParentEdges {
			blockHashes = append(blockHashes, e.BlockHash)
			parentHashes = append(parentHashes, e.ParentHash)
		}
	}
	if len(blockHashes) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO block_parent_edges (block_hash, parent_hash)
		SELECT u.block_hash, u.parent_hash
		FROM UNNEST($1::text[], $2::text[]) AS u(block_hash, parent_hash)
		ON CONFLICT (block_hash, parent_hash) DO NOTHING`,
		blockHashes, parentHashes,
	)
	return err
}

func writeTransactions(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	var ids, subnetIDs, hashes []string
	var masses []int64
	var payloads [][]byte
	var blockTimes []time.Time
	var tagRefs []*int64
	var subnetworkRows []model.Subnetwork
	seenSubnet := make(map[string]bool)

	for _, c := range batch {
		for _, s := range c.Subnetworks {
			if !seenSubnet[s.SubnetworkID] {
				seenSubnet[s.SubnetworkID] = true
				subnetworkRows = append(subnetworkRows, s)
			}
		}
		for _, t := range c.Transactions {
			ids = append(ids, t.TransactionID)
			subnetIDs = append(subnetIDs, t.SubnetworkID)
			hashes = append(hashes, t.Hash)
			masses = append(masses, int64(t.Mass))
			payloads = append(payloads, t.Payload)
			blockTimes = append(blockTimes, t.BlockTime)
			tagRefs = append(tagRefs, t.TagRef)
		}
	}

	if len(subnetworkRows) > 0 {
		subnetIDStrs := make([]string, len(subnetworkRows))
		for i, s := range subnetworkRows {
			subnetIDStrs[i] = s.SubnetworkID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO subnetworks (subnetwork_id)
			SELECT u.subnetwork_id FROM UNNEST($1::text[]) AS u(subnetwork_id)
			ON CONFLICT (subnetwork_id) DO NOTHING`,
			subnetIDStrs,
		); err != nil {
			return err
		}
	}

	if len(ids) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (transaction_id, subnetwork_id, hash, mass, payload, block_time, tag_ref)
		SELECT u.transaction_id, s.id, u.hash, u.mass, u.payload, u.block_time, u.tag_ref
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::bigint[], $5::bytea[], $6::timestamptz[], $7::bigint[])
			AS u(transaction_id, subnetwork_id, hash, mass, payload, block_time, tag_ref)
		JOIN subnetworks s ON s.subnetwork_id = u.subnetwork_id
		ON CONFLICT (transaction_id) DO UPDATE SET
			payload = COALESCE(EXCLUDED.payload, transactions.payload),
			tag_ref = COALESCE(EXCLUDED.tag_ref, transactions.tag_ref)`,
		ids, subnetIDs, hashes, masses, payloads, blockTimes, tagRefs,
	)
	return err
}

func writeInputsOutputs(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	var inTxIDs []string
	var inIdx []int16
	var inPrevHash []string
	var inPrevIdx []int32
	var inSigScript [][]byte
	var inSigOpCount []int16
	var inPrevScript [][]byte
	var inPrevAmount []int64

	var outTxIDs []string
	var outIdx []int16
	var outAmount []int64
	var outScript [][]byte
	var outAddr []*string

	for _, c := range batch {
		for _, t := range c.Transactions {
			for _, in := range t.Inputs {
				inTxIDs = append(inTxIDs, t.TransactionID)
				inIdx = append(inIdx, int16(in.Index))
				inPrevHash = append(inPrevHash, in.PreviousOutpointHash)
				inPrevIdx = append(inPrevIdx, int32(in.PreviousOutpointIndex))
				inSigScript = append(inSigScript, in.SignatureScript)
				inSigOpCount = append(inSigOpCount, int16(in.SigOpCount))
				inPrevScript = append(inPrevScript, in.PreviousOutpointScript)
				inPrevAmount = append(inPrevAmount, int64(in.PreviousOutpointAmount))
			}
			for _, out := range t.Outputs {
				outTxIDs = append(outTxIDs, t.TransactionID)
				outIdx = append(outIdx, int16(out.Index))
				outAmount = append(outAmount, int64(out.Amount))
				outScript = append(outScript, out.ScriptPublicKey)
				if out.ScriptPublicKeyAddress != "" {
					a := out.ScriptPublicKeyAddress
					outAddr = append(outAddr, &a)
				} else {
					outAddr = append(outAddr, nil)
				}
			}
		}
	}

	if len(inTxIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO transaction_inputs (
				transaction_id, idx, previous_outpoint_hash, previous_outpoint_index,
				signature_script, sig_op_count, previous_outpoint_script, previous_outpoint_amount
			)
			SELECT u.transaction_id, u.idx, u.previous_outpoint_hash, u.previous_outpoint_index,
				u.signature_script, u.sig_op_count, u.previous_outpoint_script, u.previous_outpoint_amount
			FROM UNNEST(
				$1::text[], $2::smallint[], $3::text[], $4::int[],
				$5::bytea[], $6::smallint[], $7::bytea[], $8::bigint[]
			) AS u(
				transaction_id, idx, previous_outpoint_hash, previous_outpoint_index,
				signature_script, sig_op_count, previous_outpoint_script, previous_outpoint_amount
			)
			ON CONFLICT (transaction_id, idx) DO NOTHING`,
			inTxIDs, inIdx, inPrevHash, inPrevIdx, inSigScript, inSigOpCount, inPrevScript, inPrevAmount,
		); err != nil {
			return err
		}
	}

	if len(outTxIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO transaction_outputs (transaction_id, idx, amount, script_public_key, script_public_key_address)
			SELECT u.transaction_id, u.idx, u.amount, u.script_public_key, u.script_public_key_address
			FROM UNNEST($1::text[], $2::smallint[], $3::bigint[], $4::bytea[], $5::text[])
				AS u(transaction_id, idx, amount, script_public_key, script_public_key_address)
			ON CONFLICT (transaction_id, idx) DO NOTHING`,
			outTxIDs, outIdx, outAmount, outScript, outAddr,
		); err != nil {
			return err
		}
	}
	return nil
}

func writeLinks(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	var blockHashes, txIDs []string
	for _, c := range batch {
		for _, l := range c.Links {
			blockHashes = append(blockHashes, l.BlockHash)
			txIDs = append(txIDs, l.TransactionID)
		}
	}
	if len(blockHashes) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO block_transaction_links (block_hash, transaction_id)
		SELECT u.block_hash, u.transaction_id
		FROM UNNEST($1::text[], $2::text[]) AS u(block_hash, transaction_id)
		ON CONFLICT (block_hash, transaction_id) DO NOTHING`,
		blockHashes, txIDs,
	)
	return err
}

func writeAddressAndScriptFanout(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	var addrs, addrTxIDs []string
	var addrTimes []time.Time
	var scripts [][]byte
	var scriptTxIDs []string
	var scriptTimes []time.Time

	for _, c := range batch {
		for _, a := range c.AddressTxs {
			addrs = append(addrs, a.Address)
			addrTxIDs = append(addrTxIDs, a.TransactionID)
			addrTimes = append(addrTimes, a.BlockTime)
		}
		for _, sc := range c.ScriptTxs {
			scripts = append(scripts, sc.Script)
			scriptTxIDs = append(scriptTxIDs, sc.TransactionID)
			scriptTimes = append(scriptTimes, sc.BlockTime)
		}
	}

	if len(addrs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO address_transactions (address, transaction_id, block_time)
			SELECT u.address, u.transaction_id, u.block_time
			FROM UNNEST($1::text[], $2::text[], $3::timestamptz[]) AS u(address, transaction_id, block_time)
			ON CONFLICT (address, transaction_id) DO NOTHING`,
			addrs, addrTxIDs, addrTimes,
		); err != nil {
			return err
		}
	}

	if len(scripts) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO script_transactions (script, transaction_id, block_time)
			SELECT u.script, u.transaction_id, u.block_time
			FROM UNNEST($1::bytea[], $2::text[], $3::timestamptz[]) AS u(script, transaction_id, block_time)
			ON CONFLICT (script, transaction_id) DO NOTHING`,
			scripts, scriptTxIDs, scriptTimes,
		); err != nil {
			return err
		}
	}
	return nil
}

func writeSeqCom(ctx context.Context, tx pgxTx, batch []model.Classified) error {
	var blockHashes, seqcoms []string
	var parents []*string
	for _, c := range batch {
		if c.SeqCom == nil {
			continue
		}
		blockHashes = append(blockHashes, c.SeqCom.BlockHash)
		seqcoms = append(seqcoms, c.SeqCom.SeqComHash)
		if c.SeqCom.ParentSeqComHash != "" {
			p := c.SeqCom.ParentSeqComHash
			parents = append(parents, &p)
		} else {
			parents = append(parents, nil)
		}
	}
	if len(blockHashes) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO sequencing_commitments (block_hash, seqcom_hash, parent_seqcom_hash)
		SELECT u.block_hash, u.seqcom_hash, u.parent_seqcom_hash
		FROM UNNEST($1::text[], $2::text[], $3::text[]) AS u(block_hash, seqcom_hash, parent_seqcom_hash)
		ON CONFLICT (block_hash) DO UPDATE SET
			seqcom_hash        = EXCLUDED.seqcom_hash,
			parent_seqcom_hash = EXCLUDED.parent_seqcom_hash`,
		blockHashes, seqcoms, parents,
	)
	return err
}
