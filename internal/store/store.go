package store

import (
	"context"

	"pdv/backend/internal/domain"
)

// Repository is the durable state behind the service. Every mutation of
// products, the stock ledger or sales goes through WithinTx.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error)
	LedgerTotals(ctx context.Context, productID int64) (sum int64, count int64, err error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, sellerID string, limit int) ([]domain.Sale, error)
	Summarize(ctx context.Context, q domain.ReportQuery) (domain.Summary, error)
	FindUser(ctx context.Context, username string) (*domain.UserAccount, error)
	EnsureUser(ctx context.Context, user domain.UserAccount) error

	// WithinTx runs fn as one atomic unit of work. A non-nil error from fn
	// discards every write made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the write surface available inside a unit of work.
type Tx interface {
	InsertProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	// UpdateProduct persists metadata only; on-hand is owned by ApplyMovement.
	UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ProductReferenced(ctx context.Context, id int64) (bool, error)

	// LockProducts returns the current rows for ids, held against concurrent
	// writers until the unit of work ends. Missing ids are absent from the map.
	LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	// ApplyMovement appends the ledger entry and moves the cached on-hand by
	// its delta. It fails with domain.ErrWouldGoNegative when the result
	// would drop below zero and domain.ErrProductNotFound for unknown ids.
	ApplyMovement(ctx context.Context, movement domain.StockMovement) (domain.StockMovement, error)

	InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	LockSale(ctx context.Context, id int64) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
}
