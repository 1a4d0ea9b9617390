package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/events"
	"pdv/backend/internal/metrics"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
)

var (
	admin    = domain.Actor{ID: "admin", Role: domain.RoleAdmin}
	cashier  = domain.Actor{ID: "caixa-1", Role: domain.RoleCashier}
	cashier2 = domain.Actor{ID: "caixa-2", Role: domain.RoleCashier}
	stockist = domain.Actor{ID: "estoque", Role: domain.RoleStockist}
	support  = domain.Actor{ID: "suporte", Role: domain.RoleSupport}
)

type fixture struct {
	svc     *Service
	repo    store.Repository
	cache   *cache.MemoryReportCache
	events  *events.Memory
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, repo store.Repository) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		repo:    repo,
		cache:   cache.NewMemoryReportCache(),
		events:  events.NewMemory(),
		metrics: metrics.New("pdv_test"),
	}
	f.svc = New(repo, Options{
		Cache:     f.cache,
		Publisher: f.events,
		Metrics:   f.metrics,
		Logger:    &logger,
	})
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, memory.New())
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func (f *fixture) product(t *testing.T, sku string, price int64, stock int64) domain.Product {
	t.Helper()
	product, err := f.svc.CreateProduct(as(admin), domain.ProductCreateRequest{
		SKU:          sku,
		Name:         "Item " + sku,
		PriceCents:   price,
		InitialStock: stock,
	})
	require.NoError(t, err)
	return product
}

func (f *fixture) sell(actor domain.Actor, lines ...domain.SaleLine) (domain.Sale, error) {
	return f.svc.CreateSale(as(actor), domain.CreateSaleRequest{PaymentMethod: "PIX", Items: lines})
}

func (f *fixture) onHand(t *testing.T, productID int64) int64 {
	t.Helper()
	qty, err := f.svc.CurrentOnHand(as(admin), productID)
	require.NoError(t, err)
	return qty
}

func (f *fixture) requireLedgerConsistent(t *testing.T, productIDs ...int64) {
	t.Helper()
	for _, id := range productIDs {
		audit, err := f.svc.VerifyLedger(as(admin), id)
		require.NoError(t, err)
		if !audit.Consistent {
			t.Fatalf("product %d: on_hand=%d ledger_sum=%d", id, audit.OnHand, audit.LedgerSum)
		}
	}
}

func line(productID int64, qty int64) domain.SaleLine {
	return domain.SaleLine{ProductID: productID, Qty: qty}
}

func today() string {
	return time.Now().UTC().Format(dayLayout)
}

func TestSellingOutStockThenOverselling(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 1000, 5)

	_, err := f.sell(cashier, line(p.ID, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.onHand(t, p.ID))

	_, err = f.sell(cashier, line(p.ID, 1))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, err, domain.ErrConflict)

	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p.ID, stockErr.ProductID)
	f.requireLedgerConsistent(t, p.ID)
}

func TestCancelRestoresStockAndLeavesReports(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 1000, 10)

	sale, err := f.sell(cashier, line(p.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), sale.TotalCents)
	assert.Equal(t, int64(8), f.onHand(t, p.ID))

	canceled, err := f.svc.CancelSale(as(cashier), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCanceled, canceled.Status)
	assert.Equal(t, int64(10), f.onHand(t, p.ID))

	summary, err := f.svc.Summarize(as(admin), domain.SummaryFilter{DateFrom: today(), DateTo: today(), ProductID: p.ID})
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
	assert.Zero(t, summary.TotalCents)
	assert.Empty(t, summary.TopProducts)

	movements, err := f.svc.ListMovements(as(admin), p.ID, 0)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, "reversal of sale "+sale.Code, movements[0].Note)
	assert.Equal(t, int64(2), movements[0].Delta)
	assert.Equal(t, "Sale "+sale.Code, movements[1].Note)
	assert.Equal(t, int64(-2), movements[1].Delta)
	f.requireLedgerConsistent(t, p.ID)
}

func TestAdjustmentCannotDriveStockNegative(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 500, 2)

	_, err := f.svc.RecordMovement(as(stockist), domain.StockMovementRequest{ProductID: p.ID, Type: "ADJUST", Qty: -3})
	require.ErrorIs(t, err, domain.ErrWouldGoNegative)
	assert.Equal(t, int64(2), f.onHand(t, p.ID))

	movement, err := f.svc.RecordMovement(as(stockist), domain.StockMovementRequest{ProductID: p.ID, Type: "ADJUST", Qty: -2})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), movement.Delta)
	assert.Equal(t, "manual adjustment", movement.Note)
	assert.Equal(t, stockist.ID, movement.ActorID)
	assert.Equal(t, int64(0), f.onHand(t, p.ID))
	f.requireLedgerConsistent(t, p.ID)
}

func TestFailedLineLeavesEveryProductUntouched(t *testing.T) {
	f := newMemoryFixture(t)
	p1 := f.product(t, "P1", 300, 10)
	p2 := f.product(t, "P2", 700, 5)

	_, err := f.sell(cashier, line(p1.ID, 2), line(p2.ID, 1000))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p2.ID, stockErr.ProductID)

	assert.Equal(t, int64(10), f.onHand(t, p1.ID))
	assert.Equal(t, int64(5), f.onHand(t, p2.ID))

	sales, err := f.svc.ListSales(as(admin), 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Empty(t, f.events.Events())
	f.requireLedgerConsistent(t, p1.ID, p2.ID)
}

func TestCreateSaleTotalsAndMergedLines(t *testing.T) {
	f := newMemoryFixture(t)
	p1 := f.product(t, "P1", 1250, 10)
	p2 := f.product(t, "P2", 399, 10)
	buyer := "  Maria  "

	sale, err := f.svc.CreateSale(as(cashier), domain.CreateSaleRequest{
		PaymentMethod: "card",
		BuyerName:     &buyer,
		Items:         []domain.SaleLine{line(p1.ID, 1), line(p2.ID, 3), line(p1.ID, 2)},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentCard, sale.PaymentMethod)
	assert.Equal(t, "Maria", sale.BuyerName)
	assert.Equal(t, cashier.ID, sale.SellerID)
	assert.Equal(t, domain.SaleStatusPaid, sale.Status)
	assert.Regexp(t, `^EDL-\d{8}-[0-9A-Z]{5}$`, sale.Code)
	require.Len(t, sale.Items, 2)
	assert.Equal(t, p1.ID, sale.Items[0].ProductID)
	assert.Equal(t, "Item P1", sale.Items[0].ProductName)
	assert.Equal(t, int64(3), sale.Items[0].Qty)

	var sum int64
	for _, item := range sale.Items {
		assert.Equal(t, item.Qty*item.UnitCents, item.TotalCents)
		sum += item.TotalCents
	}
	assert.Equal(t, sum, sale.TotalCents)
	assert.Equal(t, int64(3*1250+3*399), sale.TotalCents)

	assert.Equal(t, int64(7), f.onHand(t, p1.ID))
	assert.Equal(t, int64(7), f.onHand(t, p2.ID))
	f.requireLedgerConsistent(t, p1.ID, p2.ID)
}

func TestPriceIsSnapshottedAtSaleTime(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 1000, 10)

	first, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)

	price := int64(1500)
	_, err = f.svc.UpdateProduct(as(admin), p.ID, domain.ProductUpdateRequest{PriceCents: &price})
	require.NoError(t, err)

	second, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)

	stored, err := f.svc.GetSale(as(cashier), first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Items[0].UnitCents)
	assert.Equal(t, int64(1500), second.Items[0].UnitCents)
}

func TestCreateSaleRejectsMalformedInputBeforeStorage(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 1000, 10)

	cases := []struct {
		name  string
		req   domain.CreateSaleRequest
		field string
	}{
		{"empty cart", domain.CreateSaleRequest{PaymentMethod: "PIX"}, "items"},
		{"zero qty", domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(p.ID, 0)}}, "items[0].qty"},
		{"negative qty", domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(p.ID, -1)}}, "items[0].qty"},
		{"unknown payment", domain.CreateSaleRequest{PaymentMethod: "BOLETO", Items: []domain.SaleLine{line(p.ID, 1)}}, "payment_method"},
		{"missing product", domain.CreateSaleRequest{PaymentMethod: "CASH", Items: []domain.SaleLine{line(0, 1)}}, "items[0].product_id"},
		{"qty above line cap", domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(p.ID, math.MaxInt64)}}, "items[0].qty"},
		{"repeated lines above cap", domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(p.ID, domain.MaxLineQty), line(p.ID, 1)}}, "items[1].qty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateSale(as(cashier), tc.req)
			require.ErrorIs(t, err, domain.ErrValidation)
			var validationErr *domain.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
	assert.Equal(t, int64(10), f.onHand(t, p.ID))
}

func TestRepeatedLinesCannotWrapQuantity(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 5)

	_, err := f.sell(cashier, line(p.ID, math.MaxInt64), line(p.ID, math.MaxInt64))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.sell(cashier, line(p.ID, domain.MaxLineQty/2+1), line(p.ID, domain.MaxLineQty/2+1))
	require.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, int64(5), f.onHand(t, p.ID))
	f.requireLedgerConsistent(t, p.ID)
	sales, err := f.svc.ListSales(as(admin), 10)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSaleTotalOutOfRangeIsRejected(t *testing.T) {
	f := newMemoryFixture(t)
	pricey := f.product(t, "GOLD", math.MaxInt64/2, 10)

	_, err := f.sell(cashier, line(pricey.ID, 3))
	var validationErr *domain.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "items", validationErr.Field)

	cheap := f.product(t, "CHEAP", 1, 10)
	_, err = f.sell(cashier, line(pricey.ID, 2), line(cheap.ID, 2))
	require.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, int64(10), f.onHand(t, pricey.ID))
	assert.Equal(t, int64(10), f.onHand(t, cheap.ID))
}

func TestCreateSaleUnknownOrInactiveProduct(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 1000, 10)
	inactive := false
	_, err := f.svc.UpdateProduct(as(admin), p.ID, domain.ProductUpdateRequest{Active: &inactive})
	require.NoError(t, err)

	_, err = f.sell(cashier, line(p.ID, 1))
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.sell(cashier, line(999, 1))
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, int64(10), f.onHand(t, p.ID))
}

func TestCreateSaleRegeneratesCollidingCode(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)

	codes := []string{"EDL-20260101-AAAAA", "EDL-20260101-AAAAA", "EDL-20260101-BBBBB"}
	calls := 0
	f.svc.newCode = func(string, time.Time) string {
		code := codes[calls]
		calls++
		return code
	}

	first, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)
	second, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)

	assert.Equal(t, "EDL-20260101-AAAAA", first.Code)
	assert.Equal(t, "EDL-20260101-BBBBB", second.Code)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(8), f.onHand(t, p.ID))
	f.requireLedgerConsistent(t, p.ID)
}

func TestCreateSaleGivesUpAfterBoundedCodeAttempts(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)

	calls := 0
	f.svc.newCode = func(string, time.Time) string {
		calls++
		return "EDL-20260101-SAME0"
	}
	_, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)

	calls = 0
	_, err = f.sell(cashier, line(p.ID, 1))
	require.ErrorIs(t, err, domain.ErrDuplicateCode)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, defaultSaleCodeAttempts, calls)
	assert.Equal(t, int64(9), f.onHand(t, p.ID))
	f.requireLedgerConsistent(t, p.ID)
}

func TestEditSale(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)
	sale, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)

	buyer := "João"
	method := "cash"
	edited, err := f.svc.EditSale(as(cashier), sale.ID, domain.EditSaleRequest{BuyerName: &buyer, PaymentMethod: &method})
	require.NoError(t, err)
	assert.Equal(t, "João", edited.BuyerName)
	assert.Equal(t, domain.PaymentCash, edited.PaymentMethod)
	assert.Equal(t, sale.Items, edited.Items)
	assert.Equal(t, sale.TotalCents, edited.TotalCents)

	_, err = f.svc.EditSale(as(cashier2), sale.ID, domain.EditSaleRequest{BuyerName: &buyer})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.EditSale(as(cashier), sale.ID, domain.EditSaleRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := "CHEQUE"
	_, err = f.svc.EditSale(as(cashier), sale.ID, domain.EditSaleRequest{PaymentMethod: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.EditSale(as(cashier), 999, domain.EditSaleRequest{BuyerName: &buyer})
	assert.ErrorIs(t, err, domain.ErrSaleNotFound)

	_, err = f.svc.CancelSale(as(cashier), sale.ID)
	require.NoError(t, err)
	_, err = f.svc.EditSale(as(cashier), sale.ID, domain.EditSaleRequest{BuyerName: &buyer})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCancelSaleTwiceIsRejected(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)
	sale, err := f.sell(cashier, line(p.ID, 4))
	require.NoError(t, err)

	_, err = f.svc.CancelSale(as(cashier), sale.ID)
	require.NoError(t, err)
	_, err = f.svc.CancelSale(as(cashier), sale.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, int64(10), f.onHand(t, p.ID))
	f.requireLedgerConsistent(t, p.ID)
}

func TestCancelSaleOnlyBySeller(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)
	sale, err := f.sell(cashier, line(p.ID, 4))
	require.NoError(t, err)

	for _, actor := range []domain.Actor{cashier2, admin} {
		_, err = f.svc.CancelSale(as(actor), sale.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden, actor.ID)
	}
	_, err = f.svc.CancelSale(as(cashier), 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(6), f.onHand(t, p.ID))
}

func TestRoleAuthorization(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 100)

	cases := []struct {
		actor      domain.Actor
		sell       bool
		moveStock  bool
		catalog    bool
		readReport bool
	}{
		{admin, true, true, true, true},
		{cashier, true, false, false, false},
		{stockist, false, true, false, false},
		{support, false, false, false, false},
	}
	allowed := func(t *testing.T, want bool, err error) {
		t.Helper()
		if want {
			assert.NoError(t, err)
			return
		}
		assert.ErrorIs(t, err, domain.ErrForbidden)
	}

	for _, tc := range cases {
		t.Run(string(tc.actor.Role), func(t *testing.T) {
			ctx := as(tc.actor)
			_, err := f.svc.CreateSale(ctx, domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(p.ID, 1)}})
			allowed(t, tc.sell, err)

			_, err = f.svc.RecordMovement(ctx, domain.StockMovementRequest{ProductID: p.ID, Type: "IN", Qty: 1})
			allowed(t, tc.moveStock, err)

			_, err = f.svc.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "NEW-" + string(tc.actor.Role), Name: "New", PriceCents: 1})
			allowed(t, tc.catalog, err)

			_, err = f.svc.Summarize(ctx, domain.SummaryFilter{})
			allowed(t, tc.readReport, err)

			_, err = f.svc.ListCatalog(ctx)
			assert.NoError(t, err)
		})
	}

	_, err := f.svc.ListCatalog(context.Background())
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.sell(domain.Actor{ID: "ghost"}, line(p.ID, 1))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	f.requireLedgerConsistent(t, p.ID)
}

func TestRecordDeltaRules(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)
	ctx := as(stockist)

	_, err := f.svc.Record(ctx, p.ID, domain.MovementIn, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidDelta)
	_, err = f.svc.Record(ctx, p.ID, domain.MovementIn, -4, "")
	assert.ErrorIs(t, err, domain.ErrInvalidDelta)
	_, err = f.svc.Record(ctx, p.ID, domain.MovementAdjust, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidDelta)
	assert.ErrorIs(t, err, domain.ErrValidation)

	out, err := f.svc.Record(ctx, p.ID, domain.MovementOut, 3, "breakage")
	require.NoError(t, err)
	assert.Equal(t, int64(-3), out.Delta)
	assert.Equal(t, int64(7), f.onHand(t, p.ID))

	in, err := f.svc.RecordMovement(ctx, domain.StockMovementRequest{ProductID: p.ID, Type: "in", Qty: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), in.Delta)
	assert.Equal(t, "stock entry", in.Note)

	_, err = f.svc.RecordMovement(ctx, domain.StockMovementRequest{ProductID: p.ID, Type: "OUT", Qty: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Record(ctx, 404, domain.MovementIn, 1, "")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(404), stockErr.ProductID)

	assert.Equal(t, int64(12), f.onHand(t, p.ID))
	assert.Equal(t, []string{events.TypeStockMoved, events.TypeStockMoved}, f.events.Types())
	f.requireLedgerConsistent(t, p.ID)
}

func TestCatalogLifecycle(t *testing.T) {
	f := newMemoryFixture(t)

	created, err := f.svc.CreateProduct(as(admin), domain.ProductCreateRequest{
		SKU: " cafe-1kg ", Name: " Café 1kg ", Category: "mercearia", PriceCents: 3290, InitialStock: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "CAFE-1KG", created.SKU)
	assert.Equal(t, "Café 1kg", created.Name)
	assert.True(t, created.Active)
	assert.Equal(t, int64(12), created.OnHand)

	movements, err := f.svc.ListMovements(as(stockist), created.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "initial stock", movements[0].Note)

	_, err = f.svc.CreateProduct(as(admin), domain.ProductCreateRequest{SKU: "CAFE-1KG", Name: "Dup", PriceCents: 1})
	assert.ErrorIs(t, err, domain.ErrDuplicateSKU)
	_, err = f.svc.CreateProduct(as(admin), domain.ProductCreateRequest{SKU: "X", Name: "", PriceCents: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	blank := "   "
	_, err = f.svc.UpdateProduct(as(admin), created.ID, domain.ProductUpdateRequest{Name: &blank})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.UpdateProduct(as(admin), created.ID, domain.ProductUpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.UpdateProduct(as(admin), 999, domain.ProductUpdateRequest{Name: &created.Name})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	name := "Café Especial 1kg"
	updated, err := f.svc.UpdateProduct(as(admin), created.ID, domain.ProductUpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, int64(12), updated.OnHand)

	fresh := f.product(t, "FRESH", 100, 0)
	result, err := f.svc.DeleteProduct(as(admin), fresh.ID)
	require.NoError(t, err)
	assert.True(t, result.Deleted)
	_, err = f.svc.GetProduct(as(admin), fresh.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	result, err = f.svc.DeleteProduct(as(admin), created.ID)
	require.NoError(t, err)
	assert.True(t, result.Deactivated)
	assert.False(t, result.Deleted)

	catalog, err := f.svc.ListCatalog(as(cashier))
	require.NoError(t, err)
	assert.Empty(t, catalog)
	_, err = f.svc.GetProduct(as(cashier), created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := f.svc.ListProducts(as(admin))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)
	f.requireLedgerConsistent(t, created.ID)
}

func TestSaleVisibility(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 10)
	mine, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)
	_, err = f.sell(cashier2, line(p.ID, 1))
	require.NoError(t, err)

	_, err = f.svc.GetSale(as(cashier2), mine.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	got, err := f.svc.GetSale(as(admin), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.Code, got.Code)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Item P", got.Items[0].ProductName)

	list, err := f.svc.ListMySales(as(cashier), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)
	require.Len(t, list[0].Items, 1)
	assert.Equal(t, "Item P", list[0].Items[0].ProductName)

	_, err = f.svc.ListSales(as(cashier), 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	all, err := f.svc.ListSales(as(admin), 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEventsFollowCommits(t *testing.T) {
	f := newMemoryFixture(t)
	p := f.product(t, "P", 100, 1)

	sale, err := f.sell(cashier, line(p.ID, 1))
	require.NoError(t, err)
	_, err = f.sell(cashier, line(p.ID, 1))
	require.Error(t, err)
	_, err = f.svc.CancelSale(as(cashier), sale.ID)
	require.NoError(t, err)

	published := f.events.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeSaleCreated, published[0].Type)
	assert.Equal(t, events.TypeSaleCanceled, published[1].Type)
	assert.Equal(t, saleSubject(sale.ID), published[1].Subject)
	assert.Equal(t, cashier.ID, published[1].ActorID)
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, ...events.Event) error {
	return errors.New("broker unreachable")
}

func (brokenPublisher) Close() error { return nil }

func TestPublishFailureDoesNotUndoSale(t *testing.T) {
	logger := zerolog.Nop()
	svc := New(memory.New(), Options{Publisher: brokenPublisher{}, Logger: &logger})
	product, err := svc.CreateProduct(as(admin), domain.ProductCreateRequest{SKU: "P", Name: "P", PriceCents: 100, InitialStock: 3})
	require.NoError(t, err)

	sale, err := svc.CreateSale(as(cashier), domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(product.ID, 2)}})
	require.NoError(t, err)
	assert.NotZero(t, sale.ID)

	qty, err := svc.CurrentOnHand(as(cashier), product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), qty)
}

type stalledRepository struct {
	store.Repository
}

func (stalledRepository) WithinTx(ctx context.Context, _ func(tx store.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestUnitOfWorkTimeoutIsTransient(t *testing.T) {
	logger := zerolog.Nop()
	svc := New(stalledRepository{Repository: memory.New()}, Options{UnitOfWorkTimeout: 20 * time.Millisecond, Logger: &logger})

	_, err := svc.CreateSale(as(cashier), domain.CreateSaleRequest{PaymentMethod: "PIX", Items: []domain.SaleLine{line(1, 1)}})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.ErrorIs(t, err, domain.ErrTransient)
}
