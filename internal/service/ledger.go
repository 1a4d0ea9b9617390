package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/events"
	"pdv/backend/internal/store"
	"pdv/backend/internal/telemetry"
)

const (
	noteStockEntry   = "stock entry"
	noteAdjustment   = "manual adjustment"
	noteInitialStock = "initial stock"
)

// signedDelta converts an operator quantity into the stored ledger delta.
// IN and OUT take a positive magnitude; ADJUST takes any non-zero signed value.
func signedDelta(movementType domain.MovementType, qty int64) (int64, error) {
	switch movementType {
	case domain.MovementIn:
		if qty <= 0 {
			return 0, domain.ErrInvalidDelta
		}
		return qty, nil
	case domain.MovementOut:
		if qty <= 0 {
			return 0, domain.ErrInvalidDelta
		}
		return -qty, nil
	case domain.MovementAdjust:
		if qty == 0 {
			return 0, domain.ErrInvalidDelta
		}
		return qty, nil
	default:
		return 0, domain.NewValidationError("type", "must be one of: IN OUT ADJUST")
	}
}

// record is the only path that moves on-hand. The ledger row and the cached
// quantity change together inside tx.
func (s *Service) record(ctx context.Context, tx store.Tx, movement domain.StockMovement) (domain.StockMovement, error) {
	if movement.Delta == 0 {
		return domain.StockMovement{}, domain.ErrInvalidDelta
	}
	saved, err := tx.ApplyMovement(ctx, movement)
	if err == nil {
		return saved, nil
	}

	var stockErr *domain.StockError
	switch {
	case errors.As(err, &stockErr):
		return domain.StockMovement{}, err
	case errors.Is(err, domain.ErrWouldGoNegative):
		return domain.StockMovement{}, domain.WouldGoNegative(movement.ProductID)
	case errors.Is(err, domain.ErrProductNotFound):
		return domain.StockMovement{}, domain.ProductNotFound(movement.ProductID)
	}
	return domain.StockMovement{}, err
}

// Record appends one ledger entry for productID on behalf of the caller.
func (s *Service) Record(ctx context.Context, productID int64, movementType domain.MovementType, qty int64, note string) (domain.StockMovement, error) {
	actor, err := authorize(ctx, domain.Role.CanManageStock, "move stock")
	if err != nil {
		return domain.StockMovement{}, err
	}
	delta, err := signedDelta(movementType, qty)
	if err != nil {
		return domain.StockMovement{}, err
	}

	ctx, span := s.startSpan(ctx, "record",
		attribute.Int64("product.id", productID),
		attribute.String("movement.type", string(movementType)),
	)
	var saved domain.StockMovement
	err = s.withinUnitOfWork(ctx, "record_movement", func(ctx context.Context, tx store.Tx) error {
		var err error
		saved, err = s.record(ctx, tx, domain.StockMovement{
			ProductID: productID,
			Type:      movementType,
			Delta:     delta,
			Note:      strings.TrimSpace(note),
			ActorID:   actor.ID,
		})
		return err
	})
	telemetry.End(span, err)
	if err != nil {
		if errors.Is(err, domain.ErrWouldGoNegative) {
			s.metrics.RecordConflict("would_go_negative")
		}
		return domain.StockMovement{}, err
	}

	s.metrics.RecordMovement(string(saved.Type), 1)
	s.afterCommit(ctx, false, events.New(events.TypeStockMoved, productSubject(productID), actor.ID, saved))
	return saved, nil
}

// RecordMovement is the operator entry point: IN with a positive quantity or
// ADJUST with a signed one. Notes default per type.
func (s *Service) RecordMovement(ctx context.Context, req domain.StockMovementRequest) (domain.StockMovement, error) {
	if _, err := authorize(ctx, domain.Role.CanManageStock, "move stock"); err != nil {
		return domain.StockMovement{}, err
	}
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if err := s.check(req); err != nil {
		return domain.StockMovement{}, err
	}

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = noteStockEntry
		if domain.MovementType(req.Type) == domain.MovementAdjust {
			note = noteAdjustment
		}
	}
	return s.Record(ctx, req.ProductID, domain.MovementType(req.Type), req.Qty, note)
}

// CurrentOnHand reads the cached quantity, which always equals the ledger sum.
func (s *Service) CurrentOnHand(ctx context.Context, productID int64) (int64, error) {
	if _, err := requireActor(ctx); err != nil {
		return 0, err
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.OnHand, nil
}

func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	if _, err := authorize(ctx, domain.Role.CanManageStock, "read the stock ledger"); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID, clampLimit(limit, domain.DefaultMovementTake, domain.MaxMovementTake))
}

// VerifyLedger compares the cached on-hand of productID with its ledger sum.
func (s *Service) VerifyLedger(ctx context.Context, productID int64) (domain.LedgerAudit, error) {
	if _, err := authorize(ctx, domain.Role.CanManageCatalog, "audit the stock ledger"); err != nil {
		return domain.LedgerAudit{}, err
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.LedgerAudit{}, err
	}
	sum, count, err := s.repo.LedgerTotals(ctx, productID)
	if err != nil {
		return domain.LedgerAudit{}, err
	}

	audit := domain.LedgerAudit{
		ProductID:  productID,
		OnHand:     product.OnHand,
		LedgerSum:  sum,
		Movements:  count,
		Consistent: product.OnHand == sum,
	}
	if !audit.Consistent {
		s.log.Error().Int64("product_id", productID).Int64("on_hand", product.OnHand).Int64("ledger_sum", sum).Msg("stock ledger mismatch")
	}
	return audit, nil
}

func productSubject(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}
