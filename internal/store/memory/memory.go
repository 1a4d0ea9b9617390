package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

// Store keeps everything in process. A unit of work writes in place while it
// holds the write lock and keeps an undo log, so readers never see partial
// writes and a failed unit of work is rolled back in reverse order.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

type state struct {
	products       map[int64]domain.Product
	productsBySKU  map[string]int64
	movements      []domain.StockMovement
	sales          map[int64]domain.Sale
	salesByCode    map[string]int64
	users          map[string]domain.UserAccount
	nextProductID  int64
	nextMovementID int64
	nextSaleID     int64
	nextItemID     int64
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		state: &state{
			products:      make(map[int64]domain.Product),
			productsBySKU: make(map[string]int64),
			sales:         make(map[int64]domain.Sale),
			salesByCode:   make(map[string]int64),
			users:         make(map[string]domain.UserAccount),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SeedUsers builds one account per role. Passwords come from
// SEED_<ROLE>_PASSWORD. An unset password falls back to the dev default when
// allowDefaults is true and skips the account otherwise, so durable stores
// never get well-known credentials.
func SeedUsers(allowDefaults bool) []domain.UserAccount {
	seeds := []struct {
		username string
		envKey   string
		fallback string
		role     domain.Role
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"caixa", "SEED_CAIXA_PASSWORD", "caixa123", domain.RoleCashier},
		{"estoque", "SEED_ESTOQUE_PASSWORD", "estoque123", domain.RoleStockist},
		{"suporte", "SEED_SUPORTE_PASSWORD", "suporte123", domain.RoleSupport},
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, len(seeds))
	defaulted := false
	for _, seed := range seeds {
		password := os.Getenv(seed.envKey)
		if password == "" && !allowDefaults {
			log.Warn().Str("username", seed.username).Str("env", seed.envKey).Msg("seed password unset, account not created")
			continue
		}
		if password == "" {
			password = seed.fallback
			defaulted = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", seed.username).Msg("memory store: failed to hash seed password")
		}
		users = append(users, domain.UserAccount{
			Username:  seed.username,
			Password:  string(hash),
			Role:      seed.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	if defaulted {
		log.Warn().Msg("memory store: using default dev credentials, set SEED_*_PASSWORD to override")
	}
	return users
}

// NewSeeded returns a store with demo accounts and a small catalog whose
// initial quantities are booked as IN ledger entries.
func NewSeeded() *Store {
	s := New()
	for _, user := range SeedUsers(true) {
		s.state.users[user.Username] = user
	}

	catalog := []struct {
		product domain.Product
		stock   int64
	}{
		{domain.Product{SKU: "CAFE-500", Name: "Café Torrado 500g", Category: "mercearia", PriceCents: 1890}, 40},
		{domain.Product{SKU: "ACUCAR-1K", Name: "Açúcar Cristal 1kg", Category: "mercearia", PriceCents: 549}, 60},
		{domain.Product{SKU: "LEITE-1L", Name: "Leite Integral 1L", Category: "laticinios", PriceCents: 599}, 48},
		{domain.Product{SKU: "PAO-FORMA", Name: "Pão de Forma", Category: "padaria", PriceCents: 899}, 20},
		{domain.Product{SKU: "AGUA-500", Name: "Água Mineral 500ml", Category: "bebidas", PriceCents: 250}, 120},
		{domain.Product{SKU: "SABAO-PO", Name: "Sabão em Pó 1kg", Category: "limpeza", PriceCents: 1590}, 15},
	}

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		for _, item := range catalog {
			item.product.Active = true
			created, err := tx.InsertProduct(context.Background(), item.product)
			if err != nil {
				return err
			}
			if _, err := tx.ApplyMovement(context.Background(), domain.StockMovement{
				ProductID: created.ID,
				Type:      domain.MovementIn,
				Delta:     item.stock,
				Note:      "initial stock",
				ActorID:   "seed",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("memory store: failed to seed catalog")
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state, saved: *s.state, now: s.now}
	err := fn(tx)
	if err == nil && ctx.Err() != nil {
		err = domain.Transient(ctx.Err())
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.state.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(product), nil
}

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.state.products))
	for _, product := range s.state.products {
		if activeOnly && !product.Active {
			continue
		}
		products = append(products, *cloneProduct(product))
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (s *Store) ListMovements(_ context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.state.products[productID]; !ok {
		return nil, domain.ErrProductNotFound
	}
	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.state.movements) - 1; i >= 0 && len(result) < limit; i-- {
		if s.state.movements[i].ProductID == productID {
			result = append(result, s.state.movements[i])
		}
	}
	return result, nil
}

func (s *Store) LedgerTotals(_ context.Context, productID int64) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.state.products[productID]; !ok {
		return 0, 0, domain.ErrProductNotFound
	}
	var sum, count int64
	for _, movement := range s.state.movements {
		if movement.ProductID == productID {
			sum += movement.Delta
			count++
		}
	}
	return sum, count, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.state.sales[id]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	return s.state.saleView(sale), nil
}

func (s *Store) ListSales(_ context.Context, sellerID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		if sellerID != "" && sale.SellerID != sellerID {
			continue
		}
		sales = append(sales, *s.state.saleView(sale))
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.After(sales[j].CreatedAt)
		}
		return sales[i].ID > sales[j].ID
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) Summarize(_ context.Context, q domain.ReportQuery) (domain.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.Summary{
		ByPayment:   []domain.PaymentBreakdown{},
		TopProducts: []domain.ProductRank{},
		TopSellers:  []domain.SellerRank{},
	}
	byPayment := make(map[domain.PaymentMethod]*domain.PaymentBreakdown)
	byProduct := make(map[int64]*domain.ProductRank)
	bySeller := make(map[string]*domain.SellerRank)

	for _, sale := range s.state.sales {
		if !matchesReport(sale, q) {
			continue
		}
		summary.Count++
		summary.TotalCents += sale.TotalCents

		payment, ok := byPayment[sale.PaymentMethod]
		if !ok {
			payment = &domain.PaymentBreakdown{PaymentMethod: sale.PaymentMethod}
			byPayment[sale.PaymentMethod] = payment
		}
		payment.Count++
		payment.TotalCents += sale.TotalCents

		seller, ok := bySeller[sale.SellerID]
		if !ok {
			seller = &domain.SellerRank{SellerID: sale.SellerID}
			bySeller[sale.SellerID] = seller
		}
		seller.Count++
		seller.TotalCents += sale.TotalCents

		for _, item := range sale.Items {
			rank, ok := byProduct[item.ProductID]
			if !ok {
				rank = &domain.ProductRank{ProductID: item.ProductID, Name: s.state.products[item.ProductID].Name}
				byProduct[item.ProductID] = rank
			}
			rank.Qty += item.Qty
			rank.TotalCents += item.TotalCents
		}
	}

	for _, payment := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *payment)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		if summary.ByPayment[i].TotalCents != summary.ByPayment[j].TotalCents {
			return summary.ByPayment[i].TotalCents > summary.ByPayment[j].TotalCents
		}
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})

	for _, rank := range byProduct {
		summary.TopProducts = append(summary.TopProducts, *rank)
	}
	sort.Slice(summary.TopProducts, func(i, j int) bool {
		if summary.TopProducts[i].Qty != summary.TopProducts[j].Qty {
			return summary.TopProducts[i].Qty > summary.TopProducts[j].Qty
		}
		return summary.TopProducts[i].ProductID < summary.TopProducts[j].ProductID
	})
	if len(summary.TopProducts) > q.TopN {
		summary.TopProducts = summary.TopProducts[:q.TopN]
	}

	for _, seller := range bySeller {
		summary.TopSellers = append(summary.TopSellers, *seller)
	}
	sort.Slice(summary.TopSellers, func(i, j int) bool {
		if summary.TopSellers[i].TotalCents != summary.TopSellers[j].TotalCents {
			return summary.TopSellers[i].TotalCents > summary.TopSellers[j].TotalCents
		}
		return summary.TopSellers[i].SellerID < summary.TopSellers[j].SellerID
	})
	if len(summary.TopSellers) > q.TopN {
		summary.TopSellers = summary.TopSellers[:q.TopN]
	}

	return summary, nil
}

func matchesReport(sale domain.Sale, q domain.ReportQuery) bool {
	if sale.Status != domain.SaleStatusPaid {
		return false
	}
	if sale.CreatedAt.Before(q.From) || !sale.CreatedAt.Before(q.To) {
		return false
	}
	if q.SellerID != "" && sale.SellerID != q.SellerID {
		return false
	}
	if q.MinTotal != nil && sale.TotalCents < *q.MinTotal {
		return false
	}
	if q.MaxTotal != nil && sale.TotalCents > *q.MaxTotal {
		return false
	}
	if q.ProductID != 0 {
		return slices.ContainsFunc(sale.Items, func(item domain.SaleItem) bool {
			return item.ProductID == q.ProductID
		})
	}
	return true
}

func (s *Store) FindUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.state.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func (s *Store) EnsureUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.state.users[key]; exists {
		return nil
	}
	user.Username = key
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.state.users[key] = user
	return nil
}

type memTx struct {
	st *state
	// saved holds the counters and the movements length at begin; the maps
	// inside it are shared and restored through undo.
	saved state
	undo  []func()
	now   func() time.Time
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	*t.st = t.saved
}

// put sets m[k] and logs how to restore the previous entry.
func put[K comparable, V any](t *memTx, m map[K]V, k K, v V) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func remove[K comparable, V any](t *memTx, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	t.undo = append(t.undo, func() { m[k] = prev })
	delete(m, k)
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	if _, taken := t.st.productsBySKU[product.SKU]; taken {
		return domain.Product{}, domain.ErrDuplicateSKU
	}
	t.st.nextProductID++
	now := t.now()
	product.ID = t.st.nextProductID
	product.OnHand = 0
	product.CreatedAt = now
	product.UpdatedAt = now
	put(t, t.st.products, product.ID, product)
	put(t, t.st.productsBySKU, product.SKU, product.ID)
	return *cloneProduct(product), nil
}

func (t *memTx) UpdateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	existing, ok := t.st.products[product.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.SKU != existing.SKU {
		if _, taken := t.st.productsBySKU[product.SKU]; taken {
			return domain.Product{}, domain.ErrDuplicateSKU
		}
		remove(t, t.st.productsBySKU, existing.SKU)
		put(t, t.st.productsBySKU, product.SKU, product.ID)
	}
	product.OnHand = existing.OnHand
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = t.now()
	put(t, t.st.products, product.ID, product)
	return *cloneProduct(product), nil
}

func (t *memTx) DeleteProduct(_ context.Context, id int64) error {
	existing, ok := t.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	remove(t, t.st.products, id)
	remove(t, t.st.productsBySKU, existing.SKU)
	return nil
}

func (t *memTx) ProductReferenced(_ context.Context, id int64) (bool, error) {
	for _, movement := range t.st.movements {
		if movement.ProductID == id {
			return true, nil
		}
	}
	for _, sale := range t.st.sales {
		for _, item := range sale.Items {
			if item.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := t.st.products[id]; ok {
			result[id] = *cloneProduct(product)
		}
	}
	return result, nil
}

func (t *memTx) ApplyMovement(_ context.Context, movement domain.StockMovement) (domain.StockMovement, error) {
	product, ok := t.st.products[movement.ProductID]
	if !ok {
		return domain.StockMovement{}, domain.ErrProductNotFound
	}
	if product.OnHand+movement.Delta < 0 {
		return domain.StockMovement{}, domain.ErrWouldGoNegative
	}

	now := t.now()
	product.OnHand += movement.Delta
	product.UpdatedAt = now
	put(t, t.st.products, product.ID, product)

	t.st.nextMovementID++
	movement.ID = t.st.nextMovementID
	movement.CreatedAt = now
	t.st.movements = append(t.st.movements, movement)
	return movement, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	if _, taken := t.st.salesByCode[sale.Code]; taken {
		return domain.Sale{}, domain.ErrDuplicateCode
	}
	if sale.TotalCents < 0 {
		return domain.Sale{}, fmt.Errorf("%w: negative sale total", domain.ErrValidation)
	}
	for _, item := range sale.Items {
		if item.Qty <= 0 {
			return domain.Sale{}, fmt.Errorf("%w: sale item qty must be positive", domain.ErrValidation)
		}
	}
	now := t.now()
	t.st.nextSaleID++
	sale.ID = t.st.nextSaleID
	sale.CreatedAt = now
	sale.UpdatedAt = now
	sale.Items = slices.Clone(sale.Items)
	for i := range sale.Items {
		t.st.nextItemID++
		sale.Items[i].ID = t.st.nextItemID
		sale.Items[i].SaleID = sale.ID
	}
	put(t, t.st.sales, sale.ID, sale)
	put(t, t.st.salesByCode, sale.Code, sale.ID)
	return *t.st.saleView(sale), nil
}

func (t *memTx) LockSale(_ context.Context, id int64) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	return t.st.saleView(sale), nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	existing, ok := t.st.sales[sale.ID]
	if !ok {
		return domain.ErrSaleNotFound
	}
	existing.BuyerName = sale.BuyerName
	existing.PaymentMethod = sale.PaymentMethod
	existing.Status = sale.Status
	existing.UpdatedAt = t.now()
	put(t, t.st.sales, sale.ID, existing)
	return nil
}

func cloneProduct(product domain.Product) *domain.Product {
	if product.CostCents != nil {
		cost := *product.CostCents
		product.CostCents = &cost
	}
	return &product
}

// saleView copies sale and names its lines from the current catalog.
func (st *state) saleView(sale domain.Sale) *domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	for i := range sale.Items {
		sale.Items[i].ProductName = st.products[sale.Items[i].ProductID].Name
	}
	return &sale
}
