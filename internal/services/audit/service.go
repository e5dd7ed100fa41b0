// Package audit implements the append-only, hash-chained audit trail.
// Each event links to its predecessor through previous_hash; within a
// tenant scope the chain covers that tenant's events only, so every tenant
// verifies independently.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// Service is the storage-backed audit log.
type Service struct {
	storage interfaces.Storage
	logger  *common.Logger

	// mu serializes appends so concurrent writers cannot race on the
	// chain tail and fork it.
	mu sync.Mutex
}

// NewService creates an audit log over the given (tenant-aware) storage.
func NewService(storage interfaces.Storage, logger *common.Logger) *Service {
	return &Service{storage: storage, logger: logger}
}

// LogEvent appends one event in its own transaction.
func (s *Service) LogEvent(ctx context.Context, entry interfaces.AuditEntry) (*models.AuditEvent, error) {
	var event *models.AuditEvent
	err := s.storage.Atomic(ctx, func(tx interfaces.Store) error {
		var err error
		event, err = s.LogEventTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// LogEventTx appends one event through a caller-supplied transactional
// store. The append and whatever the caller is recording commit or roll
// back together.
func (s *Service) LogEventTx(ctx context.Context, tx interfaces.Store, entry interfaces.AuditEntry) (*models.AuditEvent, error) {
	if _, err := models.ParseEventType(string(entry.EventType)); err != nil {
		return nil, err
	}
	if entry.EntityType == "" || entry.EntityID == "" {
		return nil, common.E(common.KindValidation, "audit entry requires entity_type and entity_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The tail is re-read through the same store on every append rather
	// than cached, so the chain stays correct across restarts and across
	// writers sharing one backend.
	tail, err := s.tail(ctx, tx)
	if err != nil {
		return nil, err
	}

	prevHash := ""
	seq := int64(1)
	if tail != nil {
		prevHash = tail.CurrentHash
		seq = tail.Sequence + 1
	}

	now := time.Now().UTC()
	event := &models.AuditEvent{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Sequence:     seq,
		EventType:    entry.EventType,
		EntityType:   entry.EntityType,
		EntityID:     entry.EntityID,
		UserID:       entry.UserID,
		SessionID:    entry.SessionID,
		PreviousHash: prevHash,
		Metadata:     models.NormalizeMetadata(entry.Metadata),
	}

	hash, err := event.ComputeHash()
	if err != nil {
		return nil, err
	}
	event.CurrentHash = hash

	doc, err := models.ToDocument(event)
	if err != nil {
		return nil, err
	}
	if err := tx.Save(ctx, models.TableAuditEvents, event.ID, doc); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.EventType)).
		Str("entity", event.EntityType+"/"+event.EntityID).
		Int64("sequence", event.Sequence).
		Msg("Audit event appended")

	return event, nil
}

// tail returns the newest event of this scope's chain, or nil for an
// empty log.
func (s *Service) tail(ctx context.Context, store interfaces.Store) (*models.AuditEvent, error) {
	events, err := s.chainEvents(ctx, store)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[len(events)-1], nil
}

// chainEvents returns the events of the chain this scope appends to.
// A tenant scope covers that tenant's events (the storage layer filters
// the reads); the super-admin chain covers untagged events only, so
// tenant appends never perturb it.
func (s *Service) chainEvents(ctx context.Context, store interfaces.Store) ([]*models.AuditEvent, error) {
	docs, err := store.LoadAll(ctx, models.TableAuditEvents)
	if err != nil {
		return nil, err
	}

	admin := !common.HasTenant(ctx)
	events := make([]*models.AuditEvent, 0, len(docs))
	for _, doc := range docs {
		if admin {
			if _, tagged := doc[models.FieldTenantID]; tagged {
				continue
			}
		}
		var event models.AuditEvent
		if err := models.FromDocument(doc, &event); err != nil {
			return nil, common.Wrap(common.KindIntegrity, err, "undecodable audit event %s", models.DocumentID(doc))
		}
		events = append(events, &event)
	}
	return events, nil
}

// loadEvents loads and decodes events ascending by time, insertion order
// breaking ties.
func (s *Service) loadEvents(ctx context.Context, store interfaces.Store, filter map[string]any) ([]*models.AuditEvent, error) {
	var docs []models.Document
	var err error
	if len(filter) == 0 {
		docs, err = store.LoadAll(ctx, models.TableAuditEvents)
	} else {
		docs, err = store.Find(ctx, models.TableAuditEvents, filter)
	}
	if err != nil {
		return nil, err
	}

	events := make([]*models.AuditEvent, 0, len(docs))
	for _, doc := range docs {
		var event models.AuditEvent
		if err := models.FromDocument(doc, &event); err != nil {
			return nil, common.Wrap(common.KindIntegrity, err, "undecodable audit event %s", models.DocumentID(doc))
		}
		events = append(events, &event)
	}
	return events, nil
}

func inRange(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

func applyLimit(events []*models.AuditEvent, limit int) []*models.AuditEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

// GetEventsForEntity returns the events recorded against one entity.
func (s *Service) GetEventsForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.AuditEvent, error) {
	events, err := s.loadEvents(ctx, s.storage, map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
	})
	if err != nil {
		return nil, err
	}
	return applyLimit(events, limit), nil
}

// GetEventsByType returns events of one type within [start, end].
func (s *Service) GetEventsByType(ctx context.Context, eventType models.EventType, start, end *time.Time, limit int) ([]*models.AuditEvent, error) {
	events, err := s.loadEvents(ctx, s.storage, map[string]any{
		"event_type": string(eventType),
	})
	if err != nil {
		return nil, err
	}
	filtered := events[:0]
	for _, e := range events {
		if inRange(e.CreatedAt, start, end) {
			filtered = append(filtered, e)
		}
	}
	return applyLimit(filtered, limit), nil
}

// GetAllEvents returns every visible event within [start, end].
func (s *Service) GetAllEvents(ctx context.Context, start, end *time.Time, limit int) ([]*models.AuditEvent, error) {
	events, err := s.loadEvents(ctx, s.storage, nil)
	if err != nil {
		return nil, err
	}
	filtered := events[:0]
	for _, e := range events {
		if inRange(e.CreatedAt, start, end) {
			filtered = append(filtered, e)
		}
	}
	return applyLimit(filtered, limit), nil
}

// VerifyIntegrity recomputes every hash and walks the linkage of this
// scope's chain: a tenant verifies its own events, super-admin the
// untagged chain. Detection only; it never repairs or mutates events.
func (s *Service) VerifyIntegrity(ctx context.Context) (*models.IntegrityReport, error) {
	events, err := s.chainEvents(ctx, s.storage)
	if err != nil {
		return nil, err
	}

	report := &models.IntegrityReport{
		TotalEvents: len(events),
		HashErrors:  []string{},
		ChainBreaks: []string{},
	}

	prevHash := ""
	for _, e := range events {
		expected, err := e.ComputeHash()
		if err != nil {
			return nil, err
		}
		if expected != e.CurrentHash {
			report.HashErrors = append(report.HashErrors, e.ID)
		}
		if e.PreviousHash != prevHash {
			report.ChainBreaks = append(report.ChainBreaks, e.ID)
		}
		// The walk carries the recomputed hash forward: tampering an
		// event's payload must also break its successor's linkage.
		prevHash = expected
	}

	report.Valid = len(report.HashErrors) == 0 && len(report.ChainBreaks) == 0
	if report.Valid {
		report.Details = fmt.Sprintf("verified %d events", report.TotalEvents)
	} else {
		report.Details = fmt.Sprintf("verified %d events: %d hash errors, %d chain breaks",
			report.TotalEvents, len(report.HashErrors), len(report.ChainBreaks))
	}
	return report, nil
}

// LatestHash returns the chain tail hash, or "" for an empty log.
func (s *Service) LatestHash(ctx context.Context) (string, error) {
	tail, err := s.tail(ctx, s.storage)
	if err != nil {
		return "", err
	}
	if tail == nil {
		return "", nil
	}
	return tail.CurrentHash, nil
}

// CountEvents returns the number of events visible in this scope.
func (s *Service) CountEvents(ctx context.Context) (int, error) {
	return s.storage.Count(ctx, models.TableAuditEvents)
}

var _ interfaces.AuditLog = (*Service)(nil)
