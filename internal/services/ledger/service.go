// Package ledger implements double-entry journal management: creation,
// posting, reversal, and balance computation over tenant-scoped storage.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// Service is the storage-backed general ledger. It holds no ledger-wide
// lock; atomicity of entry writes plus their audit events comes from the
// storage transaction.
type Service struct {
	storage interfaces.Storage
	audit   interfaces.AuditLog
	logger  *common.Logger
}

// NewService creates a ledger over the given (tenant-aware) storage.
func NewService(storage interfaces.Storage, audit interfaces.AuditLog, logger *common.Logger) *Service {
	return &Service{storage: storage, audit: audit, logger: logger}
}

// CreateJournalEntry validates and persists a balanced entry in PENDING
// state, appending its audit event in the same transaction.
func (s *Service) CreateJournalEntry(ctx context.Context, reference, description string, lines []models.JournalLine) (*models.JournalEntry, error) {
	if reference == "" {
		return nil, common.E(common.KindValidation, "journal entry requires a reference")
	}

	now := time.Now().UTC()
	entry := &models.JournalEntry{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Reference:   reference,
		Description: description,
		State:       models.EntryPending,
		Lines:       lines,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	err := s.storage.Atomic(ctx, func(tx interfaces.Store) error {
		if err := s.saveEntry(ctx, tx, entry); err != nil {
			return err
		}
		_, err := s.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
			EventType:  models.EventJournalEntryCreated,
			EntityType: "journal_entry",
			EntityID:   entry.ID,
			Metadata: map[string]any{
				"reference":  entry.Reference,
				"line_count": len(entry.Lines),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("entry_id", entry.ID).
		Str("reference", entry.Reference).
		Int("lines", len(entry.Lines)).
		Msg("Journal entry created")

	return entry, nil
}

// PostJournalEntry transitions PENDING to POSTED. Posting an entry twice
// fails; callers needing idempotency keep them a layer above.
func (s *Service) PostJournalEntry(ctx context.Context, id string) (*models.JournalEntry, error) {
	var entry *models.JournalEntry
	err := s.storage.Atomic(ctx, func(tx interfaces.Store) error {
		var err error
		entry, err = s.postLocked(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("entry_id", entry.ID).
		Str("reference", entry.Reference).
		Msg("Journal entry posted")

	return entry, nil
}

// postLocked runs the posting algorithm inside an open transaction.
func (s *Service) postLocked(ctx context.Context, tx interfaces.Store, id string) (*models.JournalEntry, error) {
	entry, err := s.loadEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !entry.State.CanTransitionTo(models.EntryPosted) {
		return nil, common.E(common.KindValidation,
			"cannot post journal entry %s in state %s", id, entry.State)
	}
	// Guard against stored entries mutated out of band since creation.
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry.State = models.EntryPosted
	entry.PostedAt = &now
	entry.UpdatedAt = now

	if err := s.saveEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if _, err := s.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
		EventType:  models.EventJournalEntryPosted,
		EntityType: "journal_entry",
		EntityID:   entry.ID,
		Metadata:   map[string]any{"reference": entry.Reference},
	}); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReverseJournalEntry builds a compensating entry with swapped debits and
// credits, posts it, and marks the original REVERSED, all in one
// transaction.
func (s *Service) ReverseJournalEntry(ctx context.Context, originalID, reason string) (*models.JournalEntry, error) {
	var reversal *models.JournalEntry
	err := s.storage.Atomic(ctx, func(tx interfaces.Store) error {
		original, err := s.loadEntry(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if original.State != models.EntryPosted {
			return common.E(common.KindValidation,
				"cannot reverse journal entry %s in state %s", originalID, original.State)
		}
		if original.ReversedBy != "" {
			return common.E(common.KindConflict,
				"journal entry %s is already reversed by %s", originalID, original.ReversedBy)
		}

		lines := make([]models.JournalLine, len(original.Lines))
		for i, line := range original.Lines {
			lines[i] = line.Swapped()
		}

		// The compensating entry is born POSTED: it never passes through a
		// pending review step, and its single created event keeps the trail
		// at four events for the whole reversal.
		now := time.Now().UTC()
		reversal = &models.JournalEntry{
			ID:          uuid.NewString(),
			CreatedAt:   now,
			UpdatedAt:   now,
			Reference:   "REV-" + original.Reference,
			Description: reason,
			State:       models.EntryPosted,
			PostedAt:    &now,
			Reverses:    original.ID,
			Lines:       lines,
		}
		if err := reversal.Validate(); err != nil {
			return err
		}
		if err := s.saveEntry(ctx, tx, reversal); err != nil {
			return err
		}
		if _, err := s.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
			EventType:  models.EventJournalEntryCreated,
			EntityType: "journal_entry",
			EntityID:   reversal.ID,
			Metadata: map[string]any{
				"reference": reversal.Reference,
				"reverses":  original.ID,
			},
		}); err != nil {
			return err
		}

		original.State = models.EntryReversed
		original.ReversedBy = reversal.ID
		original.UpdatedAt = time.Now().UTC()
		if err := s.saveEntry(ctx, tx, original); err != nil {
			return err
		}

		_, err = s.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
			EventType:  models.EventJournalEntryReversed,
			EntityType: "journal_entry",
			EntityID:   original.ID,
			Metadata: map[string]any{
				"reversal_entry_id": reversal.ID,
				"reason":            reason,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("original_id", originalID).
		Str("reversal_id", reversal.ID).
		Msg("Journal entry reversed")

	return reversal, nil
}

// GetJournalEntry loads one entry by id.
func (s *Service) GetJournalEntry(ctx context.Context, id string) (*models.JournalEntry, error) {
	return s.loadEntry(ctx, s.storage, id)
}

// EntriesForAccount returns entries touching the account, in creation
// order, optionally filtered by state and time range. History includes
// pending and reversed entries.
func (s *Service) EntriesForAccount(ctx context.Context, accountID string, q interfaces.EntryQuery) ([]*models.JournalEntry, error) {
	if accountID == "" {
		return nil, common.E(common.KindValidation, "account_id is required")
	}
	entries, err := s.loadEntries(ctx, s.storage)
	if err != nil {
		return nil, err
	}
	var out []*models.JournalEntry
	for _, e := range entries {
		if !e.TouchesAccount(accountID) {
			continue
		}
		if q.State != nil && e.State != *q.State {
			continue
		}
		if q.Start != nil && e.CreatedAt.Before(*q.Start) {
			continue
		}
		if q.End != nil && e.CreatedAt.After(*q.End) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// AccountBalance sums the account's posted lines in one currency.
// An entry contributes only while POSTED and only when it is not itself a
// reversal: a reversal pair drops out of balances together, so reversing
// an entry returns the balance to its prior value. Requires a tenant
// scope; journals from different tenants must never sum together.
func (s *Service) AccountBalance(ctx context.Context, accountID string, accountType models.AccountType, currency models.Currency) (models.Money, error) {
	if !common.HasTenant(ctx) {
		return models.Money{}, common.E(common.KindTenantViolation,
			"balance computation requires a tenant scope")
	}
	if accountID == "" {
		return models.Money{}, common.E(common.KindValidation, "account_id is required")
	}
	if _, err := models.ParseAccountType(string(accountType)); err != nil {
		return models.Money{}, err
	}
	if !currency.Valid() {
		return models.Money{}, common.E(common.KindValidation, "unknown currency: %q", currency)
	}

	entries, err := s.loadEntries(ctx, s.storage)
	if err != nil {
		return models.Money{}, err
	}

	debits := models.Zero(currency)
	credits := models.Zero(currency)
	for _, e := range entries {
		if e.State != models.EntryPosted || e.Reverses != "" {
			continue
		}
		for _, line := range e.Lines {
			if line.AccountID != accountID || line.Currency() != currency {
				continue
			}
			if debits, err = debits.Add(line.Debit); err != nil {
				return models.Money{}, err
			}
			if credits, err = credits.Add(line.Credit); err != nil {
				return models.Money{}, err
			}
		}
	}

	if accountType.NormalDebit() {
		return debits.Sub(credits)
	}
	return credits.Sub(debits)
}

// TrialBalance computes the balance of every account in the type map.
// For a correct map and balanced postings the normal-debit total equals
// the normal-credit total.
func (s *Service) TrialBalance(ctx context.Context, accountTypes map[string]models.AccountType, currency models.Currency) (map[string]models.Money, error) {
	out := make(map[string]models.Money, len(accountTypes))
	for accountID, accountType := range accountTypes {
		balance, err := s.AccountBalance(ctx, accountID, accountType, currency)
		if err != nil {
			return nil, err
		}
		out[accountID] = balance
	}
	return out, nil
}

func (s *Service) saveEntry(ctx context.Context, store interfaces.Store, entry *models.JournalEntry) error {
	doc, err := models.ToDocument(entry)
	if err != nil {
		return err
	}
	return store.Save(ctx, models.TableJournalEntries, entry.ID, doc)
}

func (s *Service) loadEntry(ctx context.Context, store interfaces.Store, id string) (*models.JournalEntry, error) {
	if id == "" {
		return nil, common.E(common.KindValidation, "journal entry id is required")
	}
	doc, err := store.Load(ctx, models.TableJournalEntries, id)
	if err != nil {
		return nil, err
	}
	var entry models.JournalEntry
	if err := models.FromDocument(doc, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) loadEntries(ctx context.Context, store interfaces.Store) ([]*models.JournalEntry, error) {
	docs, err := store.LoadAll(ctx, models.TableJournalEntries)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.JournalEntry, 0, len(docs))
	for _, doc := range docs {
		var entry models.JournalEntry
		if err := models.FromDocument(doc, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

var _ interfaces.Ledger = (*Service)(nil)
