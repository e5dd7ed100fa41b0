package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestfin/ledgercore/internal/app"
	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/models"
)

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()
	config := common.NewDefaultConfig()
	a, err := app.NewAppWithConfig(config, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return NewServer(a), a
}

func registerTenant(t *testing.T, a *app.App, code string) *models.Tenant {
	t.Helper()
	tenant, err := a.Tenants.Create(t.Context(), &models.Tenant{
		Code:        code,
		DisplayName: "Test Bank " + code,
		Tier:        models.TierStandard,
	})
	require.NoError(t, err)
	return tenant
}

func usd(t *testing.T, amount string) models.Money {
	t.Helper()
	m, err := models.ParseMoney(amount, "USD")
	require.NoError(t, err)
	return m
}

func bearerToken(t *testing.T, secret, tenantID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenantID,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTenantResolutionHeader(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")

	// A scoped request cannot reach the tenant directory.
	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Header.Set("X-Tenant-ID", tenant.ID)
	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An unscoped request is super-admin and can.
	req = httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantResolutionUnknownHeader(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Header.Set("X-Tenant-ID", "no-such-tenant")
	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTenantResolutionSubdomain(t *testing.T) {
	s, a := newTestServer(t)
	registerTenant(t, a, "acme")

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Host = "acme.ledger.example.com"
	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "subdomain should resolve a tenant scope")

	// Case-insensitive match on the code.
	req = httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Host = "ACME.ledger.example.com"
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An unregistered subdomain falls through to super-admin.
	req = httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Host = "unknown.ledger.example.com"
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantResolutionBearerClaim(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, a.Config.Auth.JWTSecret, tenant.ID))
	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "claim should resolve a tenant scope")

	// A token signed with the wrong secret carries no scope.
	req = httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, "wrong-secret", tenant.ID))
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantResolutionPrecedence(t *testing.T) {
	s, a := newTestServer(t)
	headerTenant := registerTenant(t, a, "acme")
	claimTenant := registerTenant(t, a, "globex")

	// The header wins over the bearer claim; balances prove which scope
	// the request ran under.
	ctx := common.WithTenant(t.Context(), headerTenant.ID)
	entry, err := a.Ledger.CreateJournalEntry(ctx, "DEP-001", "", []models.JournalLine{
		models.DebitLine("CASH", "", usd(t, "100")),
		models.CreditLine("CUSTOMER_DEPOSITS", "", usd(t, "100")),
	})
	require.NoError(t, err)
	_, err = a.Ledger.PostJournalEntry(ctx, entry.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/CASH/balance?type=asset&currency=USD", nil)
	req.Header.Set("X-Tenant-ID", headerTenant.ID)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, a.Config.Auth.JWTSecret, claimTenant.ID))
	rec := doRequest(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Balance models.Money `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "100.00 USD", resp.Balance.String())
}

func TestDeactivatedTenantRejected(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")
	_, err := a.Tenants.SetActive(t.Context(), tenant.ID, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Tenant-ID", tenant.ID)
	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(common.KindTenantViolation), resp.Code)
}

func TestSubdomainExtraction(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"acme.ledger.example.com", "acme"},
		{"acme.example.com:8080", "acme"},
		{"example.com", ""},
		{"localhost", ""},
		{"localhost:8080", ""},
		{"127.0.0.1", ""},
		{"10.0.0.1:8080", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, subdomain(tc.host), "host %q", tc.host)
	}
}

func TestCORSPreflightAndRecovery(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/journal", nil)
	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Tenant-ID")

	// Every response carries a correlation id.
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = doRequest(t, s, req)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = doRequest(t, s, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Correlation-ID"))
}
