package domain

import "time"

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCashier   Role = "CAIXA"
	RoleStockist  Role = "ESTOQUISTA"
	RoleSupport   Role = "SUPPORT"
	RoleAnonymous Role = ""
)

const (
	DefaultTopN         = 10
	MaxTopN             = 50
	DefaultSaleTake     = 20
	MaxSaleTake         = 100
	DefaultMovementTake = 50
	MaxMovementTake     = 500
	// MaxLineQty caps one product's quantity in a sale, after repeated lines
	// are merged.
	MaxLineQty = 1_000_000
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleAdmin, RoleCashier, RoleStockist, RoleSupport:
		return Role(raw), true
	}
	return RoleAnonymous, false
}

func (r Role) CanSell() bool {
	return r == RoleAdmin || r == RoleCashier
}

func (r Role) CanManageStock() bool {
	return r == RoleAdmin || r == RoleStockist
}

// CanManageCatalog also covers full reporting.
func (r Role) CanManageCatalog() bool {
	return r == RoleAdmin
}

type Actor struct {
	ID   string
	Role Role
}

type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Category   string    `json:"category,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	PriceCents int64     `json:"price_cents"`
	CostCents  *int64    `json:"cost_cents,omitempty"`
	Active     bool      `json:"active"`
	OnHand     int64     `json:"on_hand"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CatalogItem is the public read shape of an active product.
type CatalogItem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	OnHand     int64  `json:"on_hand"`
	ImageURL   string `json:"image_url,omitempty"`
	Category   string `json:"category,omitempty"`
}

type ProductCreateRequest struct {
	SKU          string `json:"sku" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=160"`
	Category     string `json:"category" validate:"max=80"`
	ImageURL     string `json:"image_url" validate:"omitempty,url,max=512"`
	PriceCents   int64  `json:"price_cents" validate:"gte=0"`
	CostCents    *int64 `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
	Active       *bool  `json:"active,omitempty"`
	InitialStock int64  `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	SKU        *string `json:"sku,omitempty" validate:"omitempty,min=1,max=64"`
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=160"`
	Category   *string `json:"category,omitempty" validate:"omitempty,max=80"`
	ImageURL   *string `json:"image_url,omitempty" validate:"omitempty,max=512"`
	PriceCents *int64  `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	CostCents  *int64  `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
	Active     *bool   `json:"active,omitempty"`
}

type ProductDeleteResult struct {
	ProductID   int64 `json:"product_id"`
	Deleted     bool  `json:"deleted"`
	Deactivated bool  `json:"deactivated"`
}

type MovementType string

const (
	MovementIn     MovementType = "IN"
	MovementOut    MovementType = "OUT"
	MovementAdjust MovementType = "ADJUST"
)

type StockMovement struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	Type      MovementType `json:"type"`
	Delta     int64        `json:"delta"`
	Note      string       `json:"note,omitempty"`
	ActorID   string       `json:"actor_id"`
	CreatedAt time.Time    `json:"created_at"`
}

type StockMovementRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required,oneof=IN ADJUST"`
	Qty       int64  `json:"qty"`
	Note      string `json:"note" validate:"max=240"`
}

// LedgerAudit compares the cached on-hand figure with the ledger sum.
type LedgerAudit struct {
	ProductID  int64 `json:"product_id"`
	OnHand     int64 `json:"on_hand"`
	LedgerSum  int64 `json:"ledger_sum"`
	Movements  int64 `json:"movements"`
	Consistent bool  `json:"consistent"`
}

type PaymentMethod string

const (
	PaymentPix  PaymentMethod = "PIX"
	PaymentCash PaymentMethod = "CASH"
	PaymentCard PaymentMethod = "CARD"
)

type SaleStatus string

const (
	SaleStatusPaid     SaleStatus = "PAID"
	SaleStatusCanceled SaleStatus = "CANCELED"
)

type Sale struct {
	ID            int64         `json:"id"`
	Code          string        `json:"code"`
	SellerID      string        `json:"seller_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalCents    int64         `json:"total_cents"`
	BuyerName     string        `json:"buyer_name,omitempty"`
	Status        SaleStatus    `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Items         []SaleItem    `json:"items"`
}

type SaleItem struct {
	ID          int64  `json:"id"`
	SaleID      int64  `json:"sale_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Qty         int64  `json:"qty"`
	UnitCents   int64  `json:"unit_cents"`
	TotalCents  int64  `json:"total_cents"`
}

type SaleLine struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Qty       int64 `json:"qty" validate:"gt=0,lte=1000000"`
}

type CreateSaleRequest struct {
	PaymentMethod string     `json:"payment_method" validate:"required,oneof=PIX CASH CARD"`
	BuyerName     *string    `json:"buyer_name,omitempty" validate:"omitempty,max=120"`
	Items         []SaleLine `json:"items" validate:"required,min=1,max=200,dive"`
}

type EditSaleRequest struct {
	BuyerName     *string `json:"buyer_name,omitempty" validate:"omitempty,max=120"`
	PaymentMethod *string `json:"payment_method,omitempty" validate:"omitempty,oneof=PIX CASH CARD"`
}

// SummaryFilter is the caller-facing report filter. Dates are YYYY-MM-DD (UTC).
type SummaryFilter struct {
	DateFrom  string `json:"date_from"`
	DateTo    string `json:"date_to"`
	SellerID  string `json:"seller_id,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	MinTotal  *int64 `json:"min_total,omitempty"`
	MaxTotal  *int64 `json:"max_total,omitempty"`
	TopN      int    `json:"top_n,omitempty"`
}

// ReportQuery is the resolved window handed to storage: From inclusive, To exclusive.
type ReportQuery struct {
	From      time.Time
	To        time.Time
	SellerID  string
	ProductID int64
	MinTotal  *int64
	MaxTotal  *int64
	TopN      int
}

type PaymentBreakdown struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	Count         int64         `json:"count"`
	TotalCents    int64         `json:"total_cents"`
}

type ProductRank struct {
	ProductID  int64  `json:"product_id"`
	Name       string `json:"name"`
	Qty        int64  `json:"qty"`
	TotalCents int64  `json:"total_cents"`
}

type SellerRank struct {
	SellerID   string `json:"seller_id"`
	Count      int64  `json:"count"`
	TotalCents int64  `json:"total_cents"`
}

type Summary struct {
	DateFrom     string             `json:"date_from"`
	DateTo       string             `json:"date_to"`
	Count        int64              `json:"count"`
	TotalCents   int64              `json:"total_cents"`
	AverageCents int64              `json:"average_cents"`
	ByPayment    []PaymentBreakdown `json:"by_payment"`
	TopProducts  []ProductRank      `json:"top_products"`
	TopSellers   []SellerRank       `json:"top_sellers"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	Active    bool
	CreatedAt time.Time
}
