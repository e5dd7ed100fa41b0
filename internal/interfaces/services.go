package interfaces

import (
	"context"
	"time"

	"github.com/crestfin/ledgercore/internal/models"
)

// AuditEntry is the input for one audit append.
type AuditEntry struct {
	EventType  models.EventType
	EntityType string
	EntityID   string
	UserID     string
	SessionID  string
	Metadata   map[string]any
}

// AuditLog is the append-only, tamper-evident event log.
type AuditLog interface {
	// LogEvent appends one event in its own transaction.
	LogEvent(ctx context.Context, entry AuditEntry) (*models.AuditEvent, error)

	// LogEventTx appends one event through a caller-supplied transactional
	// store, so a surrounding rollback also discards the event.
	LogEventTx(ctx context.Context, tx Store, entry AuditEntry) (*models.AuditEvent, error)

	// GetEventsForEntity returns events for one entity, ascending by time.
	// limit <= 0 means no limit.
	GetEventsForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.AuditEvent, error)

	// GetEventsByType returns events of one type within [start, end].
	GetEventsByType(ctx context.Context, eventType models.EventType, start, end *time.Time, limit int) ([]*models.AuditEvent, error)

	// GetAllEvents returns every event within [start, end], ascending.
	GetAllEvents(ctx context.Context, start, end *time.Time, limit int) ([]*models.AuditEvent, error)

	// VerifyIntegrity recomputes every hash and checks the chain linkage.
	// Never mutates state.
	VerifyIntegrity(ctx context.Context) (*models.IntegrityReport, error)

	// LatestHash returns the chain tail hash, or "" for an empty log.
	LatestHash(ctx context.Context) (string, error)

	// CountEvents returns the number of events visible in this scope.
	CountEvents(ctx context.Context) (int, error)
}

// EntryQuery filters journal entry history queries.
type EntryQuery struct {
	State *models.EntryState
	Start *time.Time
	End   *time.Time
}

// Ledger creates, posts, and reverses journal entries and computes balances.
type Ledger interface {
	// CreateJournalEntry validates and persists a balanced entry in
	// PENDING state. Atomic with its audit event.
	CreateJournalEntry(ctx context.Context, reference, description string, lines []models.JournalLine) (*models.JournalEntry, error)

	// PostJournalEntry transitions PENDING→POSTED. Not idempotent:
	// posting twice fails; idempotency keys belong to the transaction
	// processor above the core.
	PostJournalEntry(ctx context.Context, id string) (*models.JournalEntry, error)

	// ReverseJournalEntry builds and posts a compensating entry with
	// swapped debits and credits, linking both directions, in a single
	// transaction.
	ReverseJournalEntry(ctx context.Context, originalID, reason string) (*models.JournalEntry, error)

	// GetJournalEntry loads one entry.
	GetJournalEntry(ctx context.Context, id string) (*models.JournalEntry, error)

	// EntriesForAccount returns entries with at least one line on the
	// account, optionally filtered by state and time range.
	EntriesForAccount(ctx context.Context, accountID string, q EntryQuery) ([]*models.JournalEntry, error)

	// AccountBalance sums POSTED lines in one currency. Normal-debit
	// account types return debits−credits; normal-credit types the
	// reverse. An account with no postings returns zero.
	AccountBalance(ctx context.Context, accountID string, accountType models.AccountType, currency models.Currency) (models.Money, error)

	// TrialBalance computes balances for every account in the type map.
	TrialBalance(ctx context.Context, accountTypes map[string]models.AccountType, currency models.Currency) (map[string]models.Money, error)
}

// TenantRegistry manages the tenant directory in raw (unfiltered) storage.
type TenantRegistry interface {
	Create(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error)
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	// GetByCode resolves a tenant by its short code, case-insensitively.
	GetByCode(ctx context.Context, code string) (*models.Tenant, error)
	List(ctx context.Context) ([]*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Tenant, error)
}
