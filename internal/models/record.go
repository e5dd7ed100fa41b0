package models

import (
	"encoding/json"
	"time"

	"github.com/crestfin/ledgercore/internal/common"
)

// Document is the persisted attribute map for one record. Storage backends
// treat it as opaque apart from the envelope fields below.
type Document = map[string]any

// Envelope field names shared by every persisted record.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldTenantID  = "_tenant_id"
)

// Logical table names.
const (
	TableJournalEntries = "journal_entries"
	TableAuditEvents    = "audit_events"
	TableTenants        = "tenants"
)

// ToDocument flattens an entity into its persisted attribute map via its
// JSON shape. Shared serialization lives here instead of on a base type.
func ToDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, common.Wrap(common.KindValidation, err, "failed to serialize record")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, common.Wrap(common.KindValidation, err, "failed to flatten record")
	}
	return doc, nil
}

// FromDocument rebuilds an entity from its persisted attribute map.
func FromDocument(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return common.Wrap(common.KindStorageFatal, err, "failed to serialize document")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return common.Wrap(common.KindValidation, err, "failed to decode document")
	}
	return nil
}

// DocumentID returns the envelope id of a document, or "".
func DocumentID(doc Document) string {
	id, _ := doc[FieldID].(string)
	return id
}

// DocumentCreatedAt parses the envelope created_at, returning the zero time
// when absent or malformed.
func DocumentCreatedAt(doc Document) time.Time {
	s, _ := doc[FieldCreatedAt].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
