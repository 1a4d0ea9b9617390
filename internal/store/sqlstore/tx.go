package sqlstore

import (
	"context"
	"database/sql"
	"sort"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

type unitOfWork struct {
	s  *Store
	tx *sql.Tx
}

var _ store.Tx = (*unitOfWork)(nil)

func (u *unitOfWork) InsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	now := u.s.now()
	product.OnHand = 0
	product.CreatedAt = now
	product.UpdatedAt = now

	err := u.tx.QueryRowContext(ctx, u.s.q(`
		INSERT INTO products (sku, name, category, image_url, price_cents, cost_cents, active, on_hand, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		RETURNING id
	`), product.SKU, product.Name, product.Category, product.ImageURL, product.PriceCents,
		nullInt64(product.CostCents), product.Active, product.CreatedAt, product.UpdatedAt).Scan(&product.ID)
	if err != nil {
		return domain.Product{}, u.s.classify(err)
	}
	return product, nil
}

func (u *unitOfWork) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.UpdatedAt = u.s.now()
	res, err := u.tx.ExecContext(ctx, u.s.q(`
		UPDATE products
		SET sku = $2, name = $3, category = $4, image_url = $5, price_cents = $6,
			cost_cents = $7, active = $8, updated_at = $9
		WHERE id = $1
	`), product.ID, product.SKU, product.Name, product.Category, product.ImageURL,
		product.PriceCents, nullInt64(product.CostCents), product.Active, product.UpdatedAt)
	if err != nil {
		return domain.Product{}, u.s.classify(err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}

	updated, err := scanProduct(u.tx.QueryRowContext(ctx, u.s.q(`SELECT `+productColumns+` FROM products WHERE id = $1`), product.ID))
	if err != nil {
		return domain.Product{}, u.s.classify(err)
	}
	return updated, nil
}

func (u *unitOfWork) DeleteProduct(ctx context.Context, id int64) error {
	res, err := u.tx.ExecContext(ctx, u.s.q(`DELETE FROM products WHERE id = $1`), id)
	if err != nil {
		return u.s.classify(err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (u *unitOfWork) ProductReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := u.tx.QueryRowContext(ctx, u.s.q(`
		SELECT EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1)
			OR EXISTS (SELECT 1 FROM stock_movements WHERE product_id = $1)
	`), id).Scan(&referenced)
	if err != nil {
		return false, u.s.classify(err)
	}
	return referenced, nil
}

// LockProducts locks rows in id order so concurrent carts never deadlock on
// each other.
func (u *unitOfWork) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	placeholders, args := inList(sorted, 1)
	rows, err := u.tx.QueryContext(ctx, u.s.q(`
		SELECT `+productColumns+`
		FROM products
		WHERE id IN (`+placeholders+`)
		ORDER BY id`+u.s.dialect.LockSuffix), args...)
	if err != nil {
		return nil, u.s.classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, u.s.classify(err)
	}
	return result, nil
}

// ApplyMovement moves on-hand with a conditional update whose affected-row
// count decides the outcome, then appends the ledger row in the same
// transaction.
func (u *unitOfWork) ApplyMovement(ctx context.Context, movement domain.StockMovement) (domain.StockMovement, error) {
	now := u.s.now()
	res, err := u.tx.ExecContext(ctx, u.s.q(`
		UPDATE products
		SET on_hand = on_hand + $1, updated_at = $2
		WHERE id = $3 AND on_hand + $1 >= 0
	`), movement.Delta, now, movement.ProductID)
	if err != nil {
		return domain.StockMovement{}, u.s.classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.StockMovement{}, u.s.classify(err)
	}
	if affected == 0 {
		exists, err := u.s.productExists(ctx, u.tx, movement.ProductID)
		if err != nil {
			return domain.StockMovement{}, u.s.classify(err)
		}
		if !exists {
			return domain.StockMovement{}, domain.ErrProductNotFound
		}
		return domain.StockMovement{}, domain.ErrWouldGoNegative
	}

	movement.CreatedAt = now
	err = u.tx.QueryRowContext(ctx, u.s.q(`
		INSERT INTO stock_movements (product_id, type, delta, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`), movement.ProductID, string(movement.Type), movement.Delta, movement.Note, movement.ActorID, movement.CreatedAt).Scan(&movement.ID)
	if err != nil {
		return domain.StockMovement{}, u.s.classify(err)
	}
	return movement, nil
}

func (u *unitOfWork) InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	now := u.s.now()
	sale.CreatedAt = now
	sale.UpdatedAt = now

	err := u.tx.QueryRowContext(ctx, u.s.q(`
		INSERT INTO sales (code, seller_id, payment_method, total_cents, buyer_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`), sale.Code, sale.SellerID, string(sale.PaymentMethod), sale.TotalCents, nullIfEmpty(sale.BuyerName),
		string(sale.Status), sale.CreatedAt, sale.UpdatedAt).Scan(&sale.ID)
	if err != nil {
		return domain.Sale{}, u.s.classify(err)
	}

	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		item.SaleID = sale.ID
		err := u.tx.QueryRowContext(ctx, u.s.q(`
			INSERT INTO sale_items (sale_id, product_id, qty, unit_cents, total_cents)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`), item.SaleID, item.ProductID, item.Qty, item.UnitCents, item.TotalCents).Scan(&item.ID)
		if err != nil {
			return domain.Sale{}, u.s.classify(err)
		}
		items = append(items, item)
	}
	sale.Items = items
	return sale, nil
}

func (u *unitOfWork) LockSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return u.s.getSale(ctx, u.tx, id, u.s.dialect.LockSuffix)
}

func (u *unitOfWork) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := u.tx.ExecContext(ctx, u.s.q(`
		UPDATE sales
		SET buyer_name = $2, payment_method = $3, status = $4, updated_at = $5
		WHERE id = $1
	`), sale.ID, nullIfEmpty(sale.BuyerName), string(sale.PaymentMethod), string(sale.Status), u.s.now())
	if err != nil {
		return u.s.classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return u.s.classify(err)
	}
	if affected == 0 {
		return domain.ErrSaleNotFound
	}
	return nil
}
