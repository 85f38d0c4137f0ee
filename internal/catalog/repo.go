package catalog

import (
	"context"

	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads the listing snapshot replicated from the catalog service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Listing, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a listing repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByIDs returns the listings found among ids, keyed by id. Missing ids are
// simply absent from the map.
func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Listing, error) {
	out := make(map[uuid.UUID]models.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Listing
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
