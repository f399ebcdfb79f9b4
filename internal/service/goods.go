package service

import (
	"context"
	"fmt"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

// GoodsService manages the catalog.
type GoodsService interface {
	// List returns every good.
	List(ctx context.Context) ([]model.Good, error)
	// Add lists a new good owned by the authenticated caller.
	Add(ctx context.Context, username, token, name string, price int64, description string) (model.Good, error)
	// Remove delists a good.
	Remove(ctx context.Context, id int64) error
}

type GoodsServiceImpl struct {
	auth  AuthService
	goods repository.GoodRepository
}

// NewGoodsService constructs GoodsService.
func NewGoodsService(auth AuthService, goods repository.GoodRepository) *GoodsServiceImpl {
	return &GoodsServiceImpl{auth: auth, goods: goods}
}

func (s *GoodsServiceImpl) List(ctx context.Context) ([]model.Good, error) {
	return s.goods.List(ctx)
}

func (s *GoodsServiceImpl) Add(ctx context.Context, username, token, name string, price int64, description string) (model.Good, error) {
	acct, err := s.auth.Authenticate(ctx, username, token)
	if err != nil {
		return model.Good{}, err
	}
	if name == "" {
		return model.Good{}, fmt.Errorf("empty name: %w", errs.ErrInvalidInput)
	}
	if price <= 0 {
		return model.Good{}, fmt.Errorf("price %d: %w", price, errs.ErrInvalidInput)
	}
	g := model.Good{Name: name, Price: price, Description: description, Owner: acct.Identity}
	id, err := s.goods.Create(ctx, &g)
	if err != nil {
		return model.Good{}, err
	}
	g.ID = id
	return g, nil
}

func (s *GoodsServiceImpl) Remove(ctx context.Context, id int64) error {
	return s.goods.Delete(ctx, id)
}
