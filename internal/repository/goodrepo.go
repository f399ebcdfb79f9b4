package repository

import (
	"context"

	"github.com/and161185/score-store/internal/model"
)

// GoodRepository provides access to the catalog.
type GoodRepository interface {
	// Create inserts a good and returns its id; errs.ErrAlreadyExists on a taken name.
	Create(ctx context.Context, g *model.Good) (int64, error)
	// GetMany loads the listed goods. Missing ids are absent from the result.
	GetMany(ctx context.Context, ids []int64) (map[int64]model.Good, error)
	// List returns the whole catalog ordered by id.
	List(ctx context.Context) ([]model.Good, error)
	// Delete removes a good; errs.ErrNotFound if it does not exist.
	Delete(ctx context.Context, id int64) error
}

// OrderRepository persists committed orders.
type OrderRepository interface {
	// Create writes the order header and its lines.
	Create(ctx context.Context, o *model.Order) error
}
