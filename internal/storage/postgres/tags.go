package postgres

import (
	"context"

	"github.com/kasdex/kasdex/internal/model"
)

// UpsertTagProvider implements storage.TagStore and filter.TagStore. Keyed
// on (tag, module) per spec §4.3's registry bootstrap; returns the row's id
// whether it was just inserted or already existed.
func (s *Store) UpsertTagProvider(ctx context.Context, tp model.TagProvider) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tag_providers (tag, module, category, repository, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tag, module) DO UPDATE SET
			category    = EXCLUDED.category,
			repository  = EXCLUDED.repository,
			description = EXCLUDED.description
		RETURNING id`,
		tp.Tag, tp.Module, tp.Category, tp.Repository, tp.Description,
	).Scan(&id)
	return id, err
}
