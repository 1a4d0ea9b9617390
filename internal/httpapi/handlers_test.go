package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/metrics"
	"pdv/backend/internal/service"
	"pdv/backend/internal/store/memory"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-pass")
	t.Setenv("SEED_CAIXA_PASSWORD", "caixa-pass")
	t.Setenv("SEED_ESTOQUE_PASSWORD", "estoque-pass")
	t.Setenv("SEED_SUPORTE_PASSWORD", "suporte-pass")

	repo := memory.NewSeeded()
	logger := zerolog.Nop()
	m := metrics.New("pdv_http_test")
	svc := service.New(repo, service.Options{Metrics: m, Logger: &logger})
	api := New(svc, NewAuthManager(testSecret, time.Hour, repo), m, "http://localhost:5173")
	return api, api.Handler()
}

func do(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := do(t, handler, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "Caixa", Password: "caixa-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[domain.LoginResponse](t, rec)
	assert.Equal(t, domain.RoleCashier, resp.Role)

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "caixa", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "nobody", Password: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"user": "caixa"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRateLimitReturns429(t *testing.T) {
	_, handler := newTestAPI(t)
	for i := 0; i < 5; i++ {
		rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "bad"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin-pass"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRoutesRequireBearerToken(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := do(t, handler, http.MethodGet, "/api/v1/catalog", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/catalog", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := login(t, handler, "suporte", "suporte-pass")
	rec = do(t, handler, http.MethodGet, "/api/v1/catalog", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]domain.CatalogItem](t, rec)
	assert.Len(t, body["products"], 6)
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	cashierToken := login(t, handler, "caixa", "caixa-pass")
	adminToken := login(t, handler, "admin", "admin-pass")

	rec := do(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, map[string]any{
		"payment_method": "PIX",
		"buyer_name":     "Ana",
		"items":          []map[string]any{{"product_id": 1, "qty": 2}, {"product_id": 3, "qty": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[domain.Sale](t, rec)
	assert.Equal(t, "caixa", sale.SellerID)
	assert.Equal(t, int64(2*1890+599), sale.TotalCents)

	rec = do(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, map[string]any{
		"payment_method": "PIX",
		"items":          []map[string]any{{"product_id": 1, "qty": 1}, {"product_id": 6, "qty": 1000}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[map[string]any](t, rec)
	assert.Equal(t, float64(6), conflict["product_id"])

	rec = do(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, map[string]any{"payment_method": "PIX", "items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "items", decode[map[string]any](t, rec)["field"])

	rec = do(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, map[string]any{
		"payment_method": "PIX",
		"items":          []map[string]any{{"product_id": 1, "qty": 1.5}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/stock/1", cashierToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(38), decode[map[string]any](t, rec)["on_hand"])

	rec = do(t, handler, http.MethodGet, "/api/v1/sales/mine", cashierToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]domain.Sale](t, rec)["sales"], 1)

	path := "/api/v1/sales/" + jsonNumber(sale.ID)
	rec = do(t, handler, http.MethodPatch, path, cashierToken, map[string]any{"payment_method": "CARD"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentCard, decode[domain.Sale](t, rec).PaymentMethod)

	rec = do(t, handler, http.MethodPost, path+"/cancel", adminToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, handler, http.MethodPost, path+"/cancel", cashierToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SaleStatusCanceled, decode[domain.Sale](t, rec).Status)

	rec = do(t, handler, http.MethodPost, path+"/cancel", cashierToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/stock/1/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[domain.LedgerAudit](t, rec)
	assert.True(t, audit.Consistent)
	assert.Equal(t, int64(40), audit.OnHand)

	rec = do(t, handler, http.MethodGet, "/api/v1/sales/999", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, handler, http.MethodGet, "/api/v1/sales/abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStockAndCatalogRoutesEnforceRoles(t *testing.T) {
	_, handler := newTestAPI(t)
	cashierToken := login(t, handler, "caixa", "caixa-pass")
	stockToken := login(t, handler, "estoque", "estoque-pass")
	adminToken := login(t, handler, "admin", "admin-pass")

	movement := map[string]any{"product_id": 4, "type": "ADJUST", "qty": -5}
	rec := do(t, handler, http.MethodPost, "/api/v1/stock/movements", cashierToken, movement)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/stock/movements", stockToken, movement)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(-5), decode[domain.StockMovement](t, rec).Delta)

	rec = do(t, handler, http.MethodPost, "/api/v1/stock/movements", stockToken, map[string]any{"product_id": 4, "type": "ADJUST", "qty": -100})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/stock/4/movements?limit=1", stockToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]domain.StockMovement](t, rec)["movements"], 1)

	product := map[string]any{"sku": "novo-1", "name": "Novo", "price_cents": 990, "initial_stock": 3}
	rec = do(t, handler, http.MethodPost, "/api/v1/products", stockToken, product)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, handler, http.MethodPost, "/api/v1/products", adminToken, product)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Product](t, rec)
	assert.Equal(t, "NOVO-1", created.SKU)
	assert.Equal(t, int64(3), created.OnHand)

	rec = do(t, handler, http.MethodPost, "/api/v1/products", adminToken, product)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, handler, http.MethodDelete, "/api/v1/products/"+jsonNumber(created.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.ProductDeleteResult](t, rec).Deactivated)

	rec = do(t, handler, http.MethodGet, "/api/v1/products", cashierToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSummaryReport(t *testing.T) {
	_, handler := newTestAPI(t)
	cashierToken := login(t, handler, "caixa", "caixa-pass")
	adminToken := login(t, handler, "admin", "admin-pass")

	for _, payment := range []string{"PIX", "CASH", "PIX"} {
		rec := do(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, map[string]any{
			"payment_method": payment,
			"items":          []map[string]any{{"product_id": 5, "qty": 2}},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/reports/summary", cashierToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/reports/summary?top=1&min_total=100", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.Summary](t, rec)
	assert.Equal(t, int64(3), summary.Count)
	assert.Equal(t, int64(1500), summary.TotalCents)
	assert.Equal(t, int64(500), summary.AverageCents)
	require.Len(t, summary.ByPayment, 2)
	assert.Equal(t, domain.PaymentPix, summary.ByPayment[0].PaymentMethod)
	require.Len(t, summary.TopProducts, 1)
	assert.Equal(t, int64(6), summary.TopProducts[0].Qty)

	rec = do(t, handler, http.MethodGet, "/api/v1/reports/summary?from=2001-01-01&to=2001-01-02", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[map[string]any](t, rec)
	assert.Equal(t, float64(0), empty["count"])
	assert.Equal(t, []any{}, empty["by_payment"])

	rec = do(t, handler, http.MethodGet, "/api/v1/reports/summary?min_total=abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, handler, http.MethodGet, "/api/v1/reports/summary?top=99", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/reports/summary?format=csv", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	csvBody := rec.Body.String()
	assert.True(t, strings.HasPrefix(csvBody, "section,key,count,amount\n"))
	assert.Contains(t, csvBody, "payment,PIX,2,10.00")
	assert.Contains(t, csvBody, "summary,average,,5.00")
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := do(t, handler, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Referrer-Policy"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight := httptest.NewRecorder()
	handler.ServeHTTP(preflight, req)
	assert.Equal(t, "http://localhost:5173", preflight.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	do(t, handler, http.MethodGet, "/healthz", "", nil)

	rec := do(t, handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pdv_http_test_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func jsonNumber(id int64) string {
	payload, _ := json.Marshal(id)
	return string(payload)
}
