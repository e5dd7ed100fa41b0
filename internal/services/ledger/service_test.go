package ledger

import (
	"context"
	"testing"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
	"github.com/crestfin/ledgercore/internal/services/audit"
	"github.com/crestfin/ledgercore/internal/storage"
	"github.com/crestfin/ledgercore/internal/storage/memory"
)

type ledgerFixture struct {
	ledger  *Service
	audit   *audit.Service
	storage *storage.TenantAwareStorage
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	logger := common.NewSilentLogger()
	store := storage.NewTenantAware(memory.NewStore(logger), logger)
	t.Cleanup(func() { store.Close() })
	auditLog := audit.NewService(store, logger)
	return &ledgerFixture{
		ledger:  NewService(store, auditLog, logger),
		audit:   auditLog,
		storage: store,
	}
}

func money(t *testing.T, amount, currency string) models.Money {
	t.Helper()
	m, err := models.ParseMoney(amount, models.Currency(currency))
	if err != nil {
		t.Fatalf("ParseMoney: %v", err)
	}
	return m
}

func depositLines(t *testing.T, amount string) []models.JournalLine {
	m := money(t, amount, "USD")
	return []models.JournalLine{
		models.DebitLine("CASH", "customer deposit", m),
		models.CreditLine("CUSTOMER_DEPOSITS", "customer deposit", m),
	}
}

func tenantCtx(id string) context.Context {
	return common.WithTenant(context.Background(), id)
}

func TestBalancedDeposit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	entry, err := f.ledger.CreateJournalEntry(ctx, "DEP-001", "opening deposit", depositLines(t, "1000.00"))
	if err != nil {
		t.Fatalf("CreateJournalEntry: %v", err)
	}
	if entry.State != models.EntryPending {
		t.Errorf("state after create = %s", entry.State)
	}

	posted, err := f.ledger.PostJournalEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("PostJournalEntry: %v", err)
	}
	if posted.State != models.EntryPosted || posted.PostedAt == nil {
		t.Errorf("posted entry = %+v", posted)
	}

	cash, err := f.ledger.AccountBalance(ctx, "CASH", models.AccountAsset, "USD")
	if err != nil {
		t.Fatalf("AccountBalance CASH: %v", err)
	}
	if cash.String() != "1000.00 USD" {
		t.Errorf("CASH balance = %s", cash)
	}

	deposits, err := f.ledger.AccountBalance(ctx, "CUSTOMER_DEPOSITS", models.AccountLiability, "USD")
	if err != nil {
		t.Fatalf("AccountBalance CUSTOMER_DEPOSITS: %v", err)
	}
	if deposits.String() != "1000.00 USD" {
		t.Errorf("CUSTOMER_DEPOSITS balance = %s", deposits)
	}

	// Exactly two audit events: created and posted.
	events, err := f.audit.GetEventsForEntity(ctx, "journal_entry", entry.ID, 0)
	if err != nil || len(events) != 2 {
		t.Fatalf("audit events = %d, err=%v", len(events), err)
	}
	if events[0].EventType != models.EventJournalEntryCreated ||
		events[1].EventType != models.EventJournalEntryPosted {
		t.Errorf("event sequence = %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestUnbalancedEntryRejectedWithoutSideEffects(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	lines := []models.JournalLine{
		models.DebitLine("CASH", "", money(t, "100", "USD")),
		models.CreditLine("FEE_INCOME", "", money(t, "75", "USD")),
	}
	_, err := f.ledger.CreateJournalEntry(ctx, "BAD-001", "", lines)
	if !common.IsKind(err, common.KindValidation) {
		t.Fatalf("unbalanced create: err = %v, want validation", err)
	}

	if n, _ := f.audit.CountEvents(ctx); n != 0 {
		t.Errorf("audit events after rejected create = %d", n)
	}
	n, err := f.storage.Count(ctx, models.TableJournalEntries)
	if err != nil || n != 0 {
		t.Errorf("journal rows after rejected create = %d", n)
	}
}

func TestReversalNetsToZero(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	entry, err := f.ledger.CreateJournalEntry(ctx, "DEP-001", "", depositLines(t, "1000.00"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); err != nil {
		t.Fatal(err)
	}

	reversal, err := f.ledger.ReverseJournalEntry(ctx, entry.ID, "duplicate deposit")
	if err != nil {
		t.Fatalf("ReverseJournalEntry: %v", err)
	}
	if reversal.State != models.EntryPosted {
		t.Errorf("reversal state = %s", reversal.State)
	}
	if reversal.Reference != "REV-DEP-001" {
		t.Errorf("reversal reference = %s", reversal.Reference)
	}
	if reversal.Reverses != entry.ID {
		t.Errorf("reversal.reverses = %s", reversal.Reverses)
	}

	original, err := f.ledger.GetJournalEntry(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if original.State != models.EntryReversed || original.ReversedBy != reversal.ID {
		t.Errorf("original after reversal = %+v", original)
	}

	for _, account := range []struct {
		id string
		at models.AccountType
	}{
		{"CASH", models.AccountAsset},
		{"CUSTOMER_DEPOSITS", models.AccountLiability},
	} {
		balance, err := f.ledger.AccountBalance(ctx, account.id, account.at, "USD")
		if err != nil {
			t.Fatalf("AccountBalance %s: %v", account.id, err)
		}
		if balance.String() != "0.00 USD" {
			t.Errorf("%s balance after reversal = %s", account.id, balance)
		}
	}

	// Four audit events total: create, post, create-reversal, reversed.
	if n, _ := f.audit.CountEvents(ctx); n != 4 {
		t.Errorf("audit event count = %d, want 4", n)
	}
	reversedEvents, _ := f.audit.GetEventsByType(ctx, models.EventJournalEntryReversed, nil, nil, 0)
	if len(reversedEvents) != 1 || reversedEvents[0].EntityID != entry.ID {
		t.Errorf("reversed events = %+v", reversedEvents)
	}
}

func TestReversalOfReversalRestoresBalance(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	post := func(reference, amount string) *models.JournalEntry {
		t.Helper()
		entry, err := f.ledger.CreateJournalEntry(ctx, reference, "", depositLines(t, amount))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); err != nil {
			t.Fatal(err)
		}
		return entry
	}
	cash := func() string {
		t.Helper()
		balance, err := f.ledger.AccountBalance(ctx, "CASH", models.AccountAsset, "USD")
		if err != nil {
			t.Fatalf("AccountBalance: %v", err)
		}
		return balance.String()
	}

	post("DEP-000", "500")
	original := post("DEP-001", "1000")
	if got := cash(); got != "1500.00 USD" {
		t.Fatalf("CASH after both deposits = %s", got)
	}

	firstReversal, err := f.ledger.ReverseJournalEntry(ctx, original.ID, "duplicate")
	if err != nil {
		t.Fatalf("first reversal: %v", err)
	}
	if got := cash(); got != "500.00 USD" {
		t.Errorf("CASH after reversal = %s", got)
	}

	// Reversing the reversal cancels the correction itself; the net
	// balance stays at its value from before the original entry.
	secondReversal, err := f.ledger.ReverseJournalEntry(ctx, firstReversal.ID, "reversed in error")
	if err != nil {
		t.Fatalf("second reversal: %v", err)
	}
	if secondReversal.Reference != "REV-REV-DEP-001" {
		t.Errorf("second reversal reference = %s", secondReversal.Reference)
	}
	if got := cash(); got != "500.00 USD" {
		t.Errorf("CASH after reversal of reversal = %s", got)
	}

	reloaded, err := f.ledger.GetJournalEntry(ctx, firstReversal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.State != models.EntryReversed || reloaded.ReversedBy != secondReversal.ID {
		t.Errorf("first reversal after second = %+v", reloaded)
	}

	deposits, err := f.ledger.AccountBalance(ctx, "CUSTOMER_DEPOSITS", models.AccountLiability, "USD")
	if err != nil || deposits.String() != "500.00 USD" {
		t.Errorf("CUSTOMER_DEPOSITS = %s, err=%v", deposits, err)
	}
}

func TestStateMachineViolations(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	entry, _ := f.ledger.CreateJournalEntry(ctx, "DEP-001", "", depositLines(t, "100"))

	// Reversing a PENDING entry fails.
	if _, err := f.ledger.ReverseJournalEntry(ctx, entry.ID, "nope"); !common.IsKind(err, common.KindValidation) {
		t.Errorf("reverse pending: err = %v, want validation", err)
	}

	if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); err != nil {
		t.Fatal(err)
	}

	// Posting twice fails.
	if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); !common.IsKind(err, common.KindValidation) {
		t.Errorf("double post: err = %v, want validation", err)
	}

	if _, err := f.ledger.ReverseJournalEntry(ctx, entry.ID, "dup"); err != nil {
		t.Fatal(err)
	}

	// Reversing a REVERSED entry fails.
	if _, err := f.ledger.ReverseJournalEntry(ctx, entry.ID, "again"); !common.IsKind(err, common.KindValidation) {
		t.Errorf("reverse reversed: err = %v, want validation", err)
	}

	// Posting a missing entry fails as absent.
	if _, err := f.ledger.PostJournalEntry(ctx, "no-such-id"); !common.IsKind(err, common.KindNotFound) {
		t.Errorf("post missing: err = %v, want not_found", err)
	}
}

func TestMultiCurrencyBalanceIndependence(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	lines := []models.JournalLine{
		models.DebitLine("CASH_USD", "", money(t, "100", "USD")),
		models.CreditLine("DEP_USD", "", money(t, "100", "USD")),
		models.DebitLine("CASH_EUR", "", money(t, "50", "EUR")),
		models.CreditLine("DEP_EUR", "", money(t, "50", "EUR")),
	}
	entry, err := f.ledger.CreateJournalEntry(ctx, "FX-001", "", lines)
	if err != nil {
		t.Fatalf("multi-currency create: %v", err)
	}
	if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); err != nil {
		t.Fatal(err)
	}

	usdBalance, err := f.ledger.AccountBalance(ctx, "CASH_USD", models.AccountAsset, "USD")
	if err != nil || usdBalance.String() != "100.00 USD" {
		t.Errorf("CASH_USD = %s, err=%v", usdBalance, err)
	}
	eurBalance, err := f.ledger.AccountBalance(ctx, "CASH_EUR", models.AccountAsset, "EUR")
	if err != nil || eurBalance.String() != "50.00 EUR" {
		t.Errorf("CASH_EUR = %s, err=%v", eurBalance, err)
	}
	// The USD account holds nothing in EUR.
	cross, err := f.ledger.AccountBalance(ctx, "CASH_USD", models.AccountAsset, "EUR")
	if err != nil || !cross.IsZero() {
		t.Errorf("CASH_USD in EUR = %s, err=%v", cross, err)
	}

	// A single-pair USD-in / EUR-out entry is rejected.
	bad := []models.JournalLine{
		models.DebitLine("CASH_USD", "", money(t, "100", "USD")),
		models.CreditLine("CASH_EUR", "", money(t, "92", "EUR")),
	}
	if _, err := f.ledger.CreateJournalEntry(ctx, "FX-002", "", bad); !common.IsKind(err, common.KindValidation) {
		t.Errorf("cross-currency pair: err = %v, want validation", err)
	}
}

func TestTenantIsolatedBalances(t *testing.T) {
	f := newLedgerFixture(t)
	t1 := tenantCtx("t1")
	t2 := tenantCtx("t2")

	post := func(ctx context.Context, reference, amount string) {
		t.Helper()
		entry, err := f.ledger.CreateJournalEntry(ctx, reference, "", depositLines(t, amount))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); err != nil {
			t.Fatal(err)
		}
	}

	post(t1, "T1-A", "400")
	post(t1, "T1-B", "500")
	post(t2, "T2-A", "500")

	b1, err := f.ledger.AccountBalance(t1, "CASH", models.AccountAsset, "USD")
	if err != nil || b1.String() != "900.00 USD" {
		t.Errorf("t1 CASH = %s, err=%v", b1, err)
	}
	b2, err := f.ledger.AccountBalance(t2, "CASH", models.AccountAsset, "USD")
	if err != nil || b2.String() != "500.00 USD" {
		t.Errorf("t2 CASH = %s, err=%v", b2, err)
	}

	// Super-admin sees every journal row but cannot sum across tenants.
	admin := context.Background()
	n, _ := f.storage.Count(admin, models.TableJournalEntries)
	if n != 3 {
		t.Errorf("admin journal count = %d", n)
	}
	if _, err := f.ledger.AccountBalance(admin, "CASH", models.AccountAsset, "USD"); !common.IsKind(err, common.KindTenantViolation) {
		t.Errorf("admin balance: err = %v, want tenant_violation", err)
	}
}

func TestTrialBalanceLaw(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	post := func(reference string, lines []models.JournalLine) {
		t.Helper()
		entry, err := f.ledger.CreateJournalEntry(ctx, reference, "", lines)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.PostJournalEntry(ctx, entry.ID); err != nil {
			t.Fatal(err)
		}
	}

	post("DEP-001", depositLines(t, "1000"))
	post("FEE-001", []models.JournalLine{
		models.DebitLine("CASH", "", money(t, "25", "USD")),
		models.CreditLine("FEE_INCOME", "", money(t, "25", "USD")),
	})
	post("EXP-001", []models.JournalLine{
		models.DebitLine("OPERATING_EXPENSE", "", money(t, "40", "USD")),
		models.CreditLine("CASH", "", money(t, "40", "USD")),
	})

	chart := map[string]models.AccountType{
		"CASH":              models.AccountAsset,
		"CUSTOMER_DEPOSITS": models.AccountLiability,
		"FEE_INCOME":        models.AccountRevenue,
		"OPERATING_EXPENSE": models.AccountExpense,
	}
	balances, err := f.ledger.TrialBalance(ctx, chart, "USD")
	if err != nil {
		t.Fatalf("TrialBalance: %v", err)
	}

	debitSide := models.Zero("USD")
	creditSide := models.Zero("USD")
	for accountID, balance := range balances {
		if chart[accountID].NormalDebit() {
			debitSide, _ = debitSide.Add(balance)
		} else {
			creditSide, _ = creditSide.Add(balance)
		}
	}
	if !debitSide.Equal(creditSide) {
		t.Errorf("trial balance broken: debits %s, credits %s", debitSide, creditSide)
	}
	if got := balances["CASH"].String(); got != "985.00 USD" {
		t.Errorf("CASH = %s", got)
	}
}

func TestEntriesForAccountFilters(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	pending, _ := f.ledger.CreateJournalEntry(ctx, "A", "", depositLines(t, "10"))
	posted, _ := f.ledger.CreateJournalEntry(ctx, "B", "", depositLines(t, "20"))
	f.ledger.PostJournalEntry(ctx, posted.ID)

	all, err := f.ledger.EntriesForAccount(ctx, "CASH", interfaces.EntryQuery{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all entries = %d, err=%v", len(all), err)
	}

	state := models.EntryPending
	onlyPending, err := f.ledger.EntriesForAccount(ctx, "CASH", interfaces.EntryQuery{State: &state})
	if err != nil || len(onlyPending) != 1 || onlyPending[0].ID != pending.ID {
		t.Errorf("pending filter = %v, err=%v", onlyPending, err)
	}

	none, err := f.ledger.EntriesForAccount(ctx, "NO_SUCH_ACCOUNT", interfaces.EntryQuery{})
	if err != nil || len(none) != 0 {
		t.Errorf("unknown account entries = %d", len(none))
	}
}

func TestPendingEntriesExcludedFromBalances(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := tenantCtx("t1")

	if _, err := f.ledger.CreateJournalEntry(ctx, "DEP-001", "", depositLines(t, "1000")); err != nil {
		t.Fatal(err)
	}

	balance, err := f.ledger.AccountBalance(ctx, "CASH", models.AccountAsset, "USD")
	if err != nil {
		t.Fatalf("AccountBalance: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("pending entry leaked into balance: %s", balance)
	}
}
