package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/crestfin/ledgercore/internal/common"
)

// EventType is the closed set of domain events recorded in the audit trail.
type EventType string

const (
	EventJournalEntryCreated  EventType = "journal_entry_created"
	EventJournalEntryPosted   EventType = "journal_entry_posted"
	EventJournalEntryReversed EventType = "journal_entry_reversed"
	EventTenantCreated        EventType = "tenant_created"
	EventTenantUpdated        EventType = "tenant_updated"
	EventTenantActivated      EventType = "tenant_activated"
	EventTenantDeactivated    EventType = "tenant_deactivated"
)

var knownEventTypes = map[EventType]bool{
	EventJournalEntryCreated:  true,
	EventJournalEntryPosted:   true,
	EventJournalEntryReversed: true,
	EventTenantCreated:        true,
	EventTenantUpdated:        true,
	EventTenantActivated:      true,
	EventTenantDeactivated:    true,
}

// ParseEventType rejects unknown event types.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !knownEventTypes[t] {
		return "", common.E(common.KindValidation, "unknown audit event type: %q", s)
	}
	return t, nil
}

func (t EventType) String() string { return string(t) }

// AuditEvent is one immutable link in the hash chain. Sequence breaks
// created_at ties deterministically; it is not part of the hash pre-image.
type AuditEvent struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Sequence     int64          `json:"sequence"`
	EventType    EventType      `json:"event_type"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	PreviousHash string         `json:"previous_hash"`
	CurrentHash  string         `json:"current_hash"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ComputeHash returns the SHA-256 over the event's canonical JSON pre-image:
// the fixed key set with lexicographically sorted keys, minimal separators,
// and RFC 8785 canonical form. CurrentHash is excluded.
func (e *AuditEvent) ComputeHash() (string, error) {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	preimage := map[string]any{
		"id":            e.ID,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"event_type":    string(e.EventType),
		"entity_type":   e.EntityType,
		"entity_id":     e.EntityID,
		"previous_hash": e.PreviousHash,
		"user_id":       e.UserID,
		"session_id":    e.SessionID,
		"metadata":      metadata,
	}

	raw, err := json.Marshal(preimage)
	if err != nil {
		return "", common.Wrap(common.KindIntegrity, err, "failed to serialize audit pre-image")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", common.Wrap(common.KindIntegrity, err, "failed to canonicalize audit pre-image")
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes the hash and compares it to the stored CurrentHash.
func (e *AuditEvent) VerifyHash() (bool, error) {
	expected, err := e.ComputeHash()
	if err != nil {
		return false, err
	}
	return expected == e.CurrentHash, nil
}

// IntegrityReport is the result of a full chain verification pass.
type IntegrityReport struct {
	Valid       bool     `json:"valid"`
	TotalEvents int      `json:"total_events"`
	HashErrors  []string `json:"hash_errors"`
	ChainBreaks []string `json:"chain_breaks"`
	Details     string   `json:"details"`
}
