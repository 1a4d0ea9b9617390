package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/events"
	"pdv/backend/internal/money"
	"pdv/backend/internal/store"
	"pdv/backend/internal/telemetry"
)

// CreateSale sells req.Items for the caller. Every line is checked against
// locked product rows before anything is written, so a sale either commits
// whole or leaves stock untouched.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	actor, err := authorize(ctx, domain.Role.CanSell, "sell")
	if err != nil {
		return domain.Sale{}, err
	}
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	lines, err := mergeLines(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}

	ctx, span := s.startSpan(ctx, "create_sale", attribute.Int("sale.lines", len(lines)))
	var sale domain.Sale
	for attempt := 1; attempt <= s.codeAttempts; attempt++ {
		code := s.newCode(s.codePrefix, s.now())
		sale, err = s.placeSale(ctx, actor, req, lines, code)
		if !errors.Is(err, domain.ErrDuplicateCode) {
			break
		}
		s.log.Debug().Str("code", code).Int("attempt", attempt).Msg("sale code collision, regenerating")
	}
	telemetry.End(span, err)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientStock):
			s.metrics.RecordConflict("insufficient_stock")
		case errors.Is(err, domain.ErrDuplicateCode):
			s.metrics.RecordConflict("duplicate_code")
		}
		return domain.Sale{}, err
	}

	s.metrics.RecordSaleCreated(string(sale.PaymentMethod))
	s.metrics.RecordMovement(string(domain.MovementOut), len(sale.Items))
	s.afterCommit(ctx, true, events.New(events.TypeSaleCreated, saleSubject(sale.ID), actor.ID, sale))
	s.log.Info().
		Str("code", sale.Code).
		Str("seller_id", sale.SellerID).
		Int64("total_cents", sale.TotalCents).
		Int("items", len(sale.Items)).
		Msg("sale created")
	return sale, nil
}

func (s *Service) placeSale(ctx context.Context, actor domain.Actor, req domain.CreateSaleRequest, lines []domain.SaleLine, code string) (domain.Sale, error) {
	var created domain.Sale
	err := s.withinUnitOfWork(ctx, "create_sale", func(ctx context.Context, tx store.Tx) error {
		ids := make([]int64, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		items := make([]domain.SaleItem, 0, len(lines))
		var total int64
		for _, line := range lines {
			product, ok := products[line.ProductID]
			if !ok || !product.Active {
				return domain.ProductNotFound(line.ProductID)
			}
			if product.OnHand < line.Qty {
				return domain.InsufficientStock(line.ProductID)
			}
			lineTotal, err := money.Line(product.PriceCents, line.Qty)
			if err != nil {
				return domain.NewValidationError("items", "sale total is out of range")
			}
			if total, err = money.Add(total, lineTotal); err != nil {
				return domain.NewValidationError("items", "sale total is out of range")
			}
			items = append(items, domain.SaleItem{
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Qty:         line.Qty,
				UnitCents:   product.PriceCents,
				TotalCents:  lineTotal,
			})
		}

		created, err = tx.InsertSale(ctx, domain.Sale{
			Code:          code,
			SellerID:      actor.ID,
			PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
			TotalCents:    total,
			BuyerName:     trimmedOrEmpty(req.BuyerName),
			Status:        domain.SaleStatusPaid,
			Items:         items,
		})
		if err != nil {
			return err
		}

		note := "Sale " + code
		for _, item := range created.Items {
			_, err := s.record(ctx, tx, domain.StockMovement{
				ProductID: item.ProductID,
				Type:      domain.MovementOut,
				Delta:     -item.Qty,
				Note:      note,
				ActorID:   actor.ID,
			})
			if errors.Is(err, domain.ErrWouldGoNegative) {
				return domain.InsufficientStock(item.ProductID)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return created, err
}

// mergeLines folds repeated products into one line, keeping first-seen order.
// Lines arrive validated, so each qty is in (0, MaxLineQty] and the bound
// check below runs before the sum can wrap.
func mergeLines(items []domain.SaleLine) ([]domain.SaleLine, error) {
	merged := make([]domain.SaleLine, 0, len(items))
	index := make(map[int64]int, len(items))
	for n, item := range items {
		i, ok := index[item.ProductID]
		if !ok {
			index[item.ProductID] = len(merged)
			merged = append(merged, item)
			continue
		}
		if item.Qty > domain.MaxLineQty-merged[i].Qty {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].qty", n), fmt.Sprintf("product %d exceeds %d units in one sale", item.ProductID, domain.MaxLineQty))
		}
		merged[i].Qty += item.Qty
	}
	return merged, nil
}

// EditSale changes the buyer name or payment method of a paid sale. Only the
// seller may edit, and items are never editable.
func (s *Service) EditSale(ctx context.Context, id int64, req domain.EditSaleRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.PaymentMethod != nil {
		method := strings.ToUpper(strings.TrimSpace(*req.PaymentMethod))
		req.PaymentMethod = &method
	}
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	if req.BuyerName == nil && req.PaymentMethod == nil {
		return domain.Sale{}, domain.NewValidationError("", "no fields to update")
	}

	var sale domain.Sale
	err = s.withinUnitOfWork(ctx, "edit_sale", func(ctx context.Context, tx store.Tx) error {
		locked, err := s.lockOwnedSale(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		if req.BuyerName != nil {
			locked.BuyerName = strings.TrimSpace(*req.BuyerName)
		}
		if req.PaymentMethod != nil {
			locked.PaymentMethod = domain.PaymentMethod(*req.PaymentMethod)
		}
		if err := tx.UpdateSale(ctx, *locked); err != nil {
			return err
		}
		sale = *locked
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.afterCommit(ctx, true, events.New(events.TypeSaleEdited, saleSubject(sale.ID), actor.ID, sale))
	return sale, nil
}

// CancelSale reverses a paid sale with compensating IN entries and marks it
// CANCELED. The sale and its items are kept.
func (s *Service) CancelSale(ctx context.Context, id int64) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	ctx, span := s.startSpan(ctx, "cancel_sale", attribute.Int64("sale.id", id))
	var sale domain.Sale
	err = s.withinUnitOfWork(ctx, "cancel_sale", func(ctx context.Context, tx store.Tx) error {
		locked, err := s.lockOwnedSale(ctx, tx, id, actor)
		if err != nil {
			return err
		}

		note := "reversal of sale " + locked.Code
		for _, item := range locked.Items {
			if _, err := s.record(ctx, tx, domain.StockMovement{
				ProductID: item.ProductID,
				Type:      domain.MovementIn,
				Delta:     item.Qty,
				Note:      note,
				ActorID:   actor.ID,
			}); err != nil {
				return err
			}
		}

		locked.Status = domain.SaleStatusCanceled
		if err := tx.UpdateSale(ctx, *locked); err != nil {
			return err
		}
		sale = *locked
		return nil
	})
	telemetry.End(span, err)
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.RecordSaleCanceled()
	s.metrics.RecordMovement(string(domain.MovementIn), len(sale.Items))
	s.afterCommit(ctx, true, events.New(events.TypeSaleCanceled, saleSubject(sale.ID), actor.ID, sale))
	s.log.Info().
		Str("code", sale.Code).
		Str("seller_id", sale.SellerID).
		Int64("total_cents", sale.TotalCents).
		Msg("sale canceled")
	return sale, nil
}

// lockOwnedSale loads a sale the caller sold and that is still PAID.
func (s *Service) lockOwnedSale(ctx context.Context, tx store.Tx, id int64, actor domain.Actor) (*domain.Sale, error) {
	sale, err := tx.LockSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale.SellerID != actor.ID {
		return nil, fmt.Errorf("%w: sale %s belongs to another seller", domain.ErrForbidden, sale.Code)
	}
	if sale.Status == domain.SaleStatusCanceled {
		return nil, fmt.Errorf("%w: sale %s is canceled", domain.ErrInvalidState, sale.Code)
	}
	return sale, nil
}

// GetSale is visible to its seller and to admins.
func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.SellerID != actor.ID && !actor.Role.CanManageCatalog() {
		return domain.Sale{}, fmt.Errorf("%w: sale %s belongs to another seller", domain.ErrForbidden, sale.Code)
	}
	return *sale, nil
}

// ListMySales lists the caller's own sales, newest first.
func (s *Service) ListMySales(ctx context.Context, limit int) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, actor.ID, clampLimit(limit, domain.DefaultSaleTake, domain.MaxSaleTake))
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := authorize(ctx, domain.Role.CanManageCatalog, "list every sale"); err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, "", clampLimit(limit, domain.DefaultSaleTake, domain.MaxSaleTake))
}

func saleSubject(id int64) string {
	return "sale:" + strconv.FormatInt(id, 10)
}
