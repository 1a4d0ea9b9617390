package service

import (
	"context"
	"errors"
	"strings"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

// ListCatalog returns the active products the sale screen offers.
func (s *Service) ListCatalog(ctx context.Context) ([]domain.CatalogItem, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, true)
	if err != nil {
		return nil, err
	}

	items := make([]domain.CatalogItem, 0, len(products))
	for _, product := range products {
		items = append(items, domain.CatalogItem{
			ID:         product.ID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			OnHand:     product.OnHand,
			ImageURL:   product.ImageURL,
			Category:   product.Category,
		})
	}
	return items, nil
}

// ListProducts includes inactive products.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := authorize(ctx, domain.Role.CanManageCatalog, "manage the catalog"); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, false)
}

// GetProduct hides inactive products from everyone but admins.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active && !actor.Role.CanManageCatalog() {
		return domain.Product{}, domain.ProductNotFound(id)
	}
	return *product, nil
}

// CreateProduct books any initial quantity as an IN ledger entry in the same
// unit of work, so on-hand and the ledger agree from the first row.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := authorize(ctx, domain.Role.CanManageCatalog, "manage the catalog")
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		Category:   req.Category,
		ImageURL:   req.ImageURL,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Active:     true,
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	var created domain.Product
	err = s.withinUnitOfWork(ctx, "create_product", func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		if req.InitialStock == 0 {
			return nil
		}
		if _, err := s.record(ctx, tx, domain.StockMovement{
			ProductID: created.ID,
			Type:      domain.MovementIn,
			Delta:     req.InitialStock,
			Note:      noteInitialStock,
			ActorID:   actor.ID,
		}); err != nil {
			return err
		}
		created.OnHand = req.InitialStock
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		s.metrics.RecordMovement(string(domain.MovementIn), 1)
	}
	s.log.Info().Int64("product_id", created.ID).Str("sku", created.SKU).Int64("initial_stock", req.InitialStock).Msg("product created")
	return created, nil
}

// UpdateProduct applies a partial update. Stock is never touched here.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := authorize(ctx, domain.Role.CanManageCatalog, "manage the catalog"); err != nil {
		return domain.Product{}, err
	}
	if req.SKU != nil {
		sku := strings.ToUpper(strings.TrimSpace(*req.SKU))
		req.SKU = &sku
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if req.SKU != nil && *req.SKU == "" {
		return domain.Product{}, domain.NewValidationError("sku", "must not be blank")
	}
	if req.Name != nil && *req.Name == "" {
		return domain.Product{}, domain.NewValidationError("name", "must not be blank")
	}
	if req == (domain.ProductUpdateRequest{}) {
		return domain.Product{}, domain.NewValidationError("", "no fields to update")
	}

	var saved domain.Product
	err := s.withinUnitOfWork(ctx, "update_product", func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockProducts(ctx, []int64{id})
		if err != nil {
			return err
		}
		product, ok := locked[id]
		if !ok {
			return domain.ProductNotFound(id)
		}

		if req.SKU != nil {
			product.SKU = *req.SKU
		}
		if req.Name != nil {
			product.Name = *req.Name
		}
		if req.Category != nil {
			product.Category = strings.TrimSpace(*req.Category)
		}
		if req.ImageURL != nil {
			product.ImageURL = strings.TrimSpace(*req.ImageURL)
		}
		if req.PriceCents != nil {
			product.PriceCents = *req.PriceCents
		}
		if req.CostCents != nil {
			cost := *req.CostCents
			product.CostCents = &cost
		}
		if req.Active != nil {
			product.Active = *req.Active
		}

		saved, err = tx.UpdateProduct(ctx, product)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return saved, nil
}

// DeleteProduct removes a product that was never stocked or sold. Anything
// with history is deactivated instead so the ledger and old sales stay intact.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (domain.ProductDeleteResult, error) {
	if _, err := authorize(ctx, domain.Role.CanManageCatalog, "manage the catalog"); err != nil {
		return domain.ProductDeleteResult{}, err
	}

	result := domain.ProductDeleteResult{ProductID: id}
	err := s.withinUnitOfWork(ctx, "delete_product", func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockProducts(ctx, []int64{id})
		if err != nil {
			return err
		}
		product, ok := locked[id]
		if !ok {
			return domain.ProductNotFound(id)
		}

		referenced, err := tx.ProductReferenced(ctx, id)
		if err != nil {
			return err
		}
		if !referenced {
			if err := tx.DeleteProduct(ctx, id); err != nil {
				if errors.Is(err, domain.ErrProductNotFound) {
					return domain.ProductNotFound(id)
				}
				return err
			}
			result.Deleted = true
			return nil
		}

		product.Active = false
		if _, err := tx.UpdateProduct(ctx, product); err != nil {
			return err
		}
		result.Deactivated = true
		return nil
	})
	if err != nil {
		return domain.ProductDeleteResult{}, err
	}
	return result, nil
}
