package postgres

import "context"

// RemoveAcceptance implements storage.AcceptanceWriter (spec §4.6 step 1):
// delete every TransactionAcceptance row for the removed chain blocks and
// mark those blocks as non-chain.
func (s *Store) RemoveAcceptance(ctx context.Context, blockHashes []string) error {
	if len(blockHashes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM transaction_acceptances WHERE block_hash = ANY($1::text[])`,
		blockHashes,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE blocks SET is_chain_block = FALSE WHERE hash = ANY($1::text[])`,
		blockHashes,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpsertAcceptance implements storage.AcceptanceWriter (spec §4.6 step 2):
// insert acceptance rows for every accepted tx id, reassigning block_hash on
// conflict so the reorg target wins, and mark the block as a chain block.
func (s *Store) UpsertAcceptance(ctx context.Context, blockHash string, txIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE blocks SET is_chain_block = TRUE WHERE hash = $1`,
		blockHash,
	); err != nil {
		return err
	}

	if len(txIDs) > 0 {
		blockHashes := make([]string, len(txIDs))
		for i := range txIDs {
			blockHashes[i] = blockHash
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO transaction_acceptances (transaction_id, block_hash)
			SELECT u.transaction_id, u.block_hash
			FROM UNNEST($1::text[], $2::text[]) AS u(transaction_id, block_hash)
			ON CONFLICT (transaction_id) DO UPDATE SET block_hash = EXCLUDED.block_hash`,
			txIDs, blockHashes,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// MarkChainBlockOnly implements storage.AcceptanceWriter for the
// chain-block-only VCP sub-mode (spec §4.6): flips the flag without
// touching acceptance rows.
func (s *Store) MarkChainBlockOnly(ctx context.Context, blockHash string, isChain bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE blocks SET is_chain_block = $2 WHERE hash = $1`, blockHash, isChain)
	return err
}
