package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/models"
)

func tenantRequest(t *testing.T, method, target, tenantID, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEntry(t *testing.T, rec *httptest.ResponseRecorder) *models.JournalEntry {
	t.Helper()
	var entry models.JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry), rec.Body.String())
	return &entry
}

func TestJournalLifecycleOverHTTP(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")

	createBody := `{
		"reference": "DEP-001",
		"description": "opening deposit",
		"lines": [
			{"account_id": "CASH", "debit_amount": {"amount": "1000.00", "currency": "USD"}},
			{"account_id": "CUSTOMER_DEPOSITS", "credit_amount": {"amount": "1000.00", "currency": "USD"}}
		]
	}`
	rec := doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal", tenant.ID, createBody))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeEntry(t, rec)
	assert.Equal(t, models.EntryPending, entry.State)

	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal/"+entry.ID+"/post", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.EntryPosted, decodeEntry(t, rec).State)

	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/accounts/CASH/balance?type=asset&currency=USD", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var balanceResp struct {
		Balance models.Money `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balanceResp))
	assert.Equal(t, "1000.00 USD", balanceResp.Balance.String())

	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal/"+entry.ID+"/reverse", tenant.ID, `{"reason": "duplicate"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reversal := decodeEntry(t, rec)
	assert.Equal(t, "REV-DEP-001", reversal.Reference)
	assert.Equal(t, entry.ID, reversal.Reverses)

	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/accounts/CASH/balance?type=asset&currency=USD", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balanceResp))
	assert.True(t, balanceResp.Balance.IsZero(), balanceResp.Balance.String())

	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/accounts/CASH/entries", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var entriesResp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entriesResp))
	assert.Equal(t, 2, entriesResp.Count)
}

func TestJournalErrorMapping(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")

	// Unbalanced entry: 400 with the validation code.
	unbalanced := `{
		"reference": "BAD-001",
		"lines": [
			{"account_id": "CASH", "debit_amount": {"amount": "100", "currency": "USD"}},
			{"account_id": "FEE_INCOME", "credit_amount": {"amount": "75", "currency": "USD"}}
		]
	}`
	rec := doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal", tenant.ID, unbalanced))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, string(common.KindValidation), errResp.Code)

	// A line with neither amount: 400.
	missingAmount := `{"reference": "BAD-002", "lines": [{"account_id": "CASH"}]}`
	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal", tenant.ID, missingAmount))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown entry: 404.
	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal/no-such-id/post", tenant.ID, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Foreign tenant's entry: 404, not 403, so ids do not leak.
	other := registerTenant(t, a, "globex")
	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/journal", tenant.ID, `{
		"reference": "DEP-001",
		"lines": [
			{"account_id": "CASH", "debit_amount": {"amount": "10", "currency": "USD"}},
			{"account_id": "FEE_INCOME", "credit_amount": {"amount": "10", "currency": "USD"}}
		]
	}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decodeEntry(t, rec)
	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/journal/"+entry.ID, other.ID, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrialBalanceOverHTTP(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")

	ctx := common.WithTenant(t.Context(), tenant.ID)
	entry, err := a.Ledger.CreateJournalEntry(ctx, "DEP-001", "", []models.JournalLine{
		models.DebitLine("CASH", "", usd(t, "250")),
		models.CreditLine("CUSTOMER_DEPOSITS", "", usd(t, "250")),
	})
	require.NoError(t, err)
	_, err = a.Ledger.PostJournalEntry(ctx, entry.ID)
	require.NoError(t, err)

	// GET uses the default chart of accounts.
	rec := doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/trial-balance?currency=USD", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Balances map[string]models.Money `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "250.00 USD", resp.Balances["CASH"].String())
	assert.Equal(t, "250.00 USD", resp.Balances["CUSTOMER_DEPOSITS"].String())

	// POST takes an explicit chart.
	body := `{"currency": "USD", "accounts": {"CASH": "asset"}}`
	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/trial-balance", tenant.ID, body))
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Balances = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Balances, 1)

	// No tenant scope: 403.
	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/trial-balance?currency=USD", "", ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	s, a := newTestServer(t)
	tenant := registerTenant(t, a, "acme")

	ctx := common.WithTenant(t.Context(), tenant.ID)
	entry, err := a.Ledger.CreateJournalEntry(ctx, "DEP-001", "", []models.JournalLine{
		models.DebitLine("CASH", "", usd(t, "100")),
		models.CreditLine("CUSTOMER_DEPOSITS", "", usd(t, "100")),
	})
	require.NoError(t, err)
	_, err = a.Ledger.PostJournalEntry(ctx, entry.ID)
	require.NoError(t, err)

	rec := doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/audit/events", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var eventsResp struct {
		Count  int                  `json:"count"`
		Events []*models.AuditEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eventsResp))
	assert.Equal(t, 2, eventsResp.Count)

	target := "/api/audit/events?entity_type=journal_entry&entity_id=" + entry.ID + "&limit=1"
	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, target, tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eventsResp))
	require.Equal(t, 1, eventsResp.Count)
	assert.Equal(t, models.EventJournalEntryCreated, eventsResp.Events[0].EventType)

	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/audit/verify", tenant.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var report models.IntegrityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.TotalEvents)
}

func TestTenantDirectoryOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"code": "ACME", "display_name": "Acme Bank", "tier": "standard"}`
	rec := doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/tenants", "", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "acme", created.Code)
	assert.True(t, created.IsActive)

	// Duplicate code: 409.
	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/tenants", "", body))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, s, tenantRequest(t, http.MethodGet, "/api/tenants/"+created.ID, "", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, tenantRequest(t, http.MethodPost, "/api/tenants/"+created.ID+"/deactivate", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var toggled models.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	assert.False(t, toggled.IsActive)

	// The deactivated tenant can no longer be used as a request scope.
	req := tenantRequest(t, http.MethodGet, "/api/health", created.ID, "")
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string `json:"status"`
		Backend string `json:"backend"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.Backend)

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
