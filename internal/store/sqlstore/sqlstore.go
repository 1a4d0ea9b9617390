// Package sqlstore implements store.Repository on database/sql. Queries are
// written with $N placeholders; each Dialect rewrites them for its driver and
// classifies driver errors into the domain taxonomy.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

type Dialect struct {
	Name string
	// Rebind converts $N placeholders to the driver's syntax.
	Rebind func(query string) string
	// LockSuffix is appended to row-locking SELECTs inside a unit of work.
	LockSuffix string
	TxOptions  *sql.TxOptions
	// BeginStatements run first in every unit of work.
	BeginStatements []string
	// UniqueViolation reports the violated constraint or column, if any.
	UniqueViolation func(err error) (string, bool)
	// CheckViolation reports a failed CHECK constraint.
	CheckViolation func(err error) bool
	IsTransient    func(err error) bool
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ store.Repository = (*Store)(nil)

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.Rebind == nil {
		dialect.Rebind = func(query string) string { return query }
	}
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	for _, stmt := range s.dialect.BeginStatements {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return s.classify(err)
		}
	}

	if err := fn(&unitOfWork{s: s, tx: sqlTx}); err != nil {
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(err)
	}
	return nil
}

// classify maps driver failures onto domain kinds; domain errors pass through.
func (s *Store) classify(err error) error {
	if err == nil || domain.Kind(err) != nil {
		return err
	}
	if target, ok := s.unique(err); ok {
		switch {
		case strings.Contains(target, "code"):
			return fmt.Errorf("%w: %v", domain.ErrDuplicateCode, err)
		case strings.Contains(target, "sku"):
			return fmt.Errorf("%w: %v", domain.ErrDuplicateSKU, err)
		}
	}
	if s.dialect.CheckViolation != nil && s.dialect.CheckViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return domain.Transient(err)
	}
	if s.dialect.IsTransient != nil && s.dialect.IsTransient(err) {
		return domain.Transient(err)
	}
	return err
}

func (s *Store) unique(err error) (string, bool) {
	if s.dialect.UniqueViolation == nil {
		return "", false
	}
	return s.dialect.UniqueViolation(err)
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

const productColumns = `id, sku, name, category, image_url, price_cents, cost_cents, active, on_hand, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var cost sql.NullInt64
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.ImageURL, &p.PriceCents, &cost, &p.Active, &p.OnHand, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if cost.Valid {
		p.CostCents = &cost.Int64
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, s.q(`SELECT `+productColumns+` FROM products WHERE id = $1`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, s.classify(err)
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, s.q(query))
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return products, nil
}

func (s *Store) productExists(ctx context.Context, exec SQLExecutor, id int64) (bool, error) {
	var one int
	err := exec.QueryRowContext(ctx, s.q(`SELECT 1 FROM products WHERE id = $1`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	exists, err := s.productExists(ctx, s.db, productID)
	if err != nil {
		return nil, s.classify(err)
	}
	if !exists {
		return nil, domain.ErrProductNotFound
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, product_id, type, delta, note, actor_id, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY id DESC
		LIMIT $2
	`), productID, limit)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Delta, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return movements, nil
}

func (s *Store) LedgerTotals(ctx context.Context, productID int64) (int64, int64, error) {
	exists, err := s.productExists(ctx, s.db, productID)
	if err != nil {
		return 0, 0, s.classify(err)
	}
	if !exists {
		return 0, 0, domain.ErrProductNotFound
	}

	var sum, count int64
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT CAST(COALESCE(SUM(delta), 0) AS BIGINT), COUNT(*)
		FROM stock_movements
		WHERE product_id = $1
	`), productID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, s.classify(err)
	}
	return sum, count, nil
}

const saleColumns = `id, code, seller_id, payment_method, total_cents, buyer_name, status, created_at, updated_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var buyer sql.NullString
	if err := row.Scan(&sale.ID, &sale.Code, &sale.SellerID, &sale.PaymentMethod, &sale.TotalCents, &buyer, &sale.Status, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return domain.Sale{}, err
	}
	sale.BuyerName = buyer.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return s.getSale(ctx, s.db, id, "")
}

func (s *Store) getSale(ctx context.Context, exec SQLExecutor, id int64, suffix string) (*domain.Sale, error) {
	sale, err := scanSale(exec.QueryRowContext(ctx, s.q(`SELECT `+saleColumns+` FROM sales WHERE id = $1`+suffix), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSaleNotFound
		}
		return nil, s.classify(err)
	}
	items, err := s.loadItems(ctx, exec, []int64{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, sellerID string, limit int) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales`
	args := make([]any, 0, 2)
	if sellerID != "" {
		args = append(args, sellerID)
		query += ` WHERE seller_id = $1`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, s.classify(err)
	}
	_ = rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]int64, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	items, err := s.loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return sales, nil
}

func (s *Store) loadItems(ctx context.Context, exec SQLExecutor, saleIDs []int64) (map[int64][]domain.SaleItem, error) {
	placeholders, args := inList(saleIDs, 1)
	rows, err := exec.QueryContext(ctx, s.q(`
		SELECT i.id, i.sale_id, i.product_id, COALESCE(p.name, ''), i.qty, i.unit_cents, i.total_cents
		FROM sale_items i
		LEFT JOIN products p ON p.id = i.product_id
		WHERE i.sale_id IN (`+placeholders+`)
		ORDER BY i.sale_id, i.id
	`), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	items := make(map[int64][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Qty, &item.UnitCents, &item.TotalCents); err != nil {
			return nil, err
		}
		items[item.SaleID] = append(items[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return items, nil
}

func (s *Store) FindUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`), strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, s.classify(err)
	}
	return &user, nil
}

func (s *Store) EnsureUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
	`), strings.ToLower(strings.TrimSpace(user.Username)), user.Password, string(user.Role), user.Active, user.CreatedAt)
	return s.classify(err)
}

// inList renders "$start, $start+1, ..." for ids.
func inList(ids []int64, start int) (string, []any) {
	parts := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("$%d", start+i)
		args[i] = id
	}
	return strings.Join(parts, ", "), args
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
