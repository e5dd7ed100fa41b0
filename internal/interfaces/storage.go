// Package interfaces defines service and storage contracts for ledgercore.
package interfaces

import (
	"context"

	"github.com/crestfin/ledgercore/internal/models"
)

// Store is the table-oriented operation set. The root Storage and every open
// transaction expose the same operations, so callers compose multi-record
// updates without caring which one they hold.
type Store interface {
	// Save upserts a document under (table, id). The envelope fields
	// created_at/updated_at are maintained by the store; last writer wins.
	Save(ctx context.Context, table, id string, doc models.Document) error

	// Load returns the document under (table, id), or a not-found error.
	Load(ctx context.Context, table, id string) (models.Document, error)

	// LoadAll returns every document in a table ordered by created_at,
	// ties broken by insertion order.
	LoadAll(ctx context.Context, table string) ([]models.Document, error)

	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, table, id string) (bool, error)

	// Exists reports whether (table, id) holds a record.
	Exists(ctx context.Context, table, id string) (bool, error)

	// Find returns documents whose top-level fields equal every entry in
	// filter (AND semantics, no joins). Ordering matches LoadAll.
	Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error)

	// Count returns the number of records in a table.
	Count(ctx context.Context, table string) (int, error)

	// ClearTable removes every record in a table. Administrative.
	ClearTable(ctx context.Context, table string) error
}

// Tx is an open transaction. Reads through a Tx observe the transaction's
// own writes; nothing is visible to others until Commit.
type Tx interface {
	Store

	// Commit applies the transaction atomically. On failure no partial
	// state is observable.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. Safe to call after a failed
	// Commit.
	Rollback(ctx context.Context) error
}

// Storage is a document store partitioned into logical tables with explicit
// transaction control.
type Storage interface {
	Store

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Atomic runs fn inside a transaction: commit on nil error, rollback
	// otherwise. This is the supported way to compose multi-record
	// updates. Composing Atomic blocks must not deadlock.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
