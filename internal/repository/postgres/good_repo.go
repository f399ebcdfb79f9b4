package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
)

// GoodRepo implements GoodRepository using PostgreSQL.
type GoodRepo struct{ q Querier }

// NewGoodRepo constructs a catalog repository.
func NewGoodRepo(db *DB) *GoodRepo { return &GoodRepo{q: db.Pool} }

// Create inserts a good and returns the generated id.
func (r *GoodRepo) Create(ctx context.Context, g *model.Good) (int64, error) {
	const q = `
INSERT INTO goods (name, price, description, owner_identity)
VALUES ($1, $2, $3, $4)
RETURNING id`
	var id int64
	err := r.q.QueryRow(ctx, q, g.Name, g.Price, g.Description, g.Owner).Scan(&id)
	if isUniqueViolation(err) {
		return 0, errs.ErrAlreadyExists
	}
	return id, err
}

// GetMany loads goods by id. Inside a transaction the rows stay share-locked until commit,
// so a concurrent delete cannot slip between pricing and posting.
func (r *GoodRepo) GetMany(ctx context.Context, ids []int64) (map[int64]model.Good, error) {
	const q = `
SELECT id, name, price, description, owner_identity, created_at
FROM goods WHERE id = ANY($1)
FOR SHARE`
	out := make(map[int64]model.Good, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var g model.Good
		if err = rows.Scan(&g.ID, &g.Name, &g.Price, &g.Description, &g.Owner, &g.CreatedAt); err != nil {
			return nil, err
		}
		out[g.ID] = g
	}
	return out, rows.Err()
}

// List returns the catalog.
func (r *GoodRepo) List(ctx context.Context) ([]model.Good, error) {
	const q = `
SELECT id, name, price, description, owner_identity, created_at
FROM goods ORDER BY id ASC`
	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Good
	for rows.Next() {
		var g model.Good
		if err = rows.Scan(&g.ID, &g.Name, &g.Price, &g.Description, &g.Owner, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Delete removes a good.
func (r *GoodRepo) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM goods WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// OrderRepo implements OrderRepository using PostgreSQL.
type OrderRepo struct{ q Querier }

// NewOrderRepo constructs an order repository.
func NewOrderRepo(db *DB) *OrderRepo { return &OrderRepo{q: db.Pool} }

// Create writes the header and lines together.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) (err error) {
	tx, err := r.q.Begin(ctx)
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const hdr = `INSERT INTO orders (id, buyer_identity, total, created_at) VALUES ($1, $2, $3, $4)`
	const line = `
INSERT INTO order_lines (order_id, position, good_id, name, count, unit_price, seller_identity)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err = tx.Exec(ctx, hdr, o.ID, o.Buyer, o.Total, o.CreatedAt); err != nil {
		return err
	}
	for i, l := range o.Lines {
		if _, err = tx.Exec(ctx, line, o.ID, i, l.GoodID, l.Name, l.Count, l.UnitPrice, l.Seller); err != nil {
			return fmt.Errorf("line[%d]: %w", i, err)
		}
	}
	return nil
}
