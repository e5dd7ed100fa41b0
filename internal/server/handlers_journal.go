package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
	"github.com/crestfin/ledgercore/internal/services/ledger"
)

// journalLineRequest is one line of a create request. Exactly one of the
// amounts should be present.
type journalLineRequest struct {
	AccountID   string        `json:"account_id"`
	Description string        `json:"description,omitempty"`
	Debit       *models.Money `json:"debit_amount,omitempty"`
	Credit      *models.Money `json:"credit_amount,omitempty"`
}

type journalCreateRequest struct {
	Reference   string               `json:"reference"`
	Description string               `json:"description,omitempty"`
	Lines       []journalLineRequest `json:"lines"`
}

func (l journalLineRequest) toLine(w http.ResponseWriter) (models.JournalLine, bool) {
	switch {
	case l.Debit != nil && l.Credit != nil:
		return models.JournalLine{
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       *l.Debit,
			Credit:      *l.Credit,
		}, true
	case l.Debit != nil:
		return models.DebitLine(l.AccountID, l.Description, *l.Debit), true
	case l.Credit != nil:
		return models.CreditLine(l.AccountID, l.Description, *l.Credit), true
	default:
		WriteError(w, http.StatusBadRequest, "journal line requires a debit_amount or credit_amount")
		return models.JournalLine{}, false
	}
}

// handleJournalCreate handles POST /api/journal.
func (s *Server) handleJournalCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req journalCreateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	lines := make([]models.JournalLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		line, ok := l.toLine(w)
		if !ok {
			return
		}
		lines = append(lines, line)
	}

	entry, err := s.app.Ledger.CreateJournalEntry(r.Context(), req.Reference, req.Description, lines)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entry)
}

// routeJournal dispatches /api/journal/{id} and its sub-resources.
func (s *Server) routeJournal(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/journal/")
	switch {
	case strings.HasSuffix(rest, "/post"):
		s.handleJournalPost(w, r, strings.TrimSuffix(rest, "/post"))
	case strings.HasSuffix(rest, "/reverse"):
		s.handleJournalReverse(w, r, strings.TrimSuffix(rest, "/reverse"))
	default:
		s.handleJournalGet(w, r, rest)
	}
}

func (s *Server) handleJournalGet(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	entry, err := s.app.Ledger.GetJournalEntry(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) handleJournalPost(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	entry, err := s.app.Ledger.PostJournalEntry(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) handleJournalReverse(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	reversal, err := s.app.Ledger.ReverseJournalEntry(r.Context(), id, req.Reason)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, reversal)
}

// routeAccounts dispatches /api/accounts/{id}/balance and
// /api/accounts/{id}/entries.
func (s *Server) routeAccounts(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/balance"):
		s.handleAccountBalance(w, r, PathParam(r, "/api/accounts/", "/balance"))
	case strings.HasSuffix(r.URL.Path, "/entries"):
		s.handleAccountEntries(w, r, PathParam(r, "/api/accounts/", "/entries"))
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleAccountBalance handles GET /api/accounts/{id}/balance?type=&currency=.
func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	accountType, err := models.ParseAccountType(r.URL.Query().Get("type"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	currency, err := models.ParseCurrency(r.URL.Query().Get("currency"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	balance, err := s.app.Ledger.AccountBalance(r.Context(), accountID, accountType, currency)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"account_id":   accountID,
		"account_type": accountType,
		"balance":      balance,
	})
}

// handleAccountEntries handles GET /api/accounts/{id}/entries with optional
// state, start, and end query filters.
func (s *Server) handleAccountEntries(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var q interfaces.EntryQuery
	if v := r.URL.Query().Get("state"); v != "" {
		state, err := models.ParseEntryState(v)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		q.State = &state
	}
	var ok bool
	if q.Start, ok = parseTimeParam(w, r, "start"); !ok {
		return
	}
	if q.End, ok = parseTimeParam(w, r, "end"); !ok {
		return
	}

	entries, err := s.app.Ledger.EntriesForAccount(r.Context(), accountID, q)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"entries":    entries,
		"count":      len(entries),
	})
}

// handleTrialBalance handles POST /api/trial-balance with an explicit
// account-type map, or GET for the default chart of accounts.
func (s *Server) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	var accounts map[string]models.AccountType
	var currencyParam string

	if r.Method == http.MethodPost {
		var req struct {
			Accounts map[string]string `json:"accounts"`
			Currency string            `json:"currency"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		accounts = make(map[string]models.AccountType, len(req.Accounts))
		for id, t := range req.Accounts {
			accountType, err := models.ParseAccountType(t)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			accounts[id] = accountType
		}
		currencyParam = req.Currency
	} else {
		accounts = s.defaultChart()
		currencyParam = r.URL.Query().Get("currency")
	}

	currency, err := models.ParseCurrency(currencyParam)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	balances, err := s.app.Ledger.TrialBalance(r.Context(), accounts, currency)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"currency": currency,
		"balances": balances,
	})
}

func (s *Server) defaultChart() map[string]models.AccountType {
	return ledger.DefaultChartOfAccounts()
}

func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid "+name+" timestamp: "+err.Error())
		return nil, false
	}
	return &t, true
}
