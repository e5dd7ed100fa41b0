// Package badger implements interfaces.Storage on BadgerHold. Documents are
// stored as JSON blobs inside a thin record wrapper; atomicity comes from
// native Badger transactions.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// keySep is the composite key separator. A null byte prevents collisions
// when table or id contain ":" characters.
const keySep = "\x00"

func compositeKey(table, id string) string {
	return table + keySep + id
}

// storedRecord is the persisted wrapper around one document.
type storedRecord struct {
	Key       string `badgerhold:"key"`
	Table     string `badgerholdIndex:"Table"`
	ID        string
	Seq       uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      []byte
}

func (r *storedRecord) document() (models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal(r.Data, &doc); err != nil {
		return nil, common.Wrap(common.KindStorageFatal, err, "corrupt document %s/%s", r.Table, r.ID)
	}
	return doc, nil
}

// Store is the BadgerHold-backed storage engine.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
	seq    atomic.Uint64
}

// NewStore opens (or creates) a BadgerHold store at the given directory.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.seedSeq(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug().Str("path", path).Msg("BadgerHold store opened")

	return store, nil
}

// seedSeq resumes the insertion counter from the persisted maximum, so
// tie-break ordering for equal created_at values stays stable across
// reopens.
func (s *Store) seedSeq() error {
	var max uint64
	err := s.db.ForEach(badgerhold.Where("Seq").Ge(uint64(0)), func(rec *storedRecord) error {
		if rec.Seq > max {
			max = rec.Seq
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed sequence counter: %w", err)
	}
	s.seq.Store(max)
	return nil
}

func (s *Store) Save(ctx context.Context, table, id string, doc models.Document) error {
	return s.Atomic(ctx, func(tx interfaces.Store) error {
		return tx.Save(ctx, table, id, doc)
	})
}

func (s *Store) Load(ctx context.Context, table, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	var rec storedRecord
	if err := s.db.Get(compositeKey(table, id), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
		}
		return nil, common.Wrap(common.KindStorageFatal, err, "failed to load %s/%s", table, id)
	}
	return rec.document()
}

func (s *Store) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	var recs []storedRecord
	if err := s.db.Find(&recs, badgerhold.Where("Table").Eq(table)); err != nil {
		return nil, common.Wrap(common.KindStorageFatal, err, "failed to scan table %s", table)
	}
	return recordsToDocs(recs)
}

func recordsToDocs(recs []storedRecord) ([]models.Document, error) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Seq < recs[j].Seq
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	docs := make([]models.Document, 0, len(recs))
	for i := range recs {
		doc, err := recs[i].document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, table, id string) (bool, error) {
	var deleted bool
	err := s.Atomic(ctx, func(tx interfaces.Store) error {
		var err error
		deleted, err = tx.Delete(ctx, table, id)
		return err
	})
	return deleted, err
}

func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	_, err := s.Load(ctx, table, id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error) {
	docs, err := s.LoadAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return filterDocs(docs, filter), nil
}

func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.Wrap(common.KindStorageTransient, err, "count cancelled")
	}
	n, err := s.db.Count(&storedRecord{}, badgerhold.Where("Table").Eq(table))
	if err != nil {
		return 0, common.Wrap(common.KindStorageFatal, err, "failed to count table %s", table)
	}
	return int(n), nil
}

func (s *Store) ClearTable(ctx context.Context, table string) error {
	return s.Atomic(ctx, func(tx interfaces.Store) error {
		return tx.ClearTable(ctx, table)
	})
}

// Begin opens a read-write Badger transaction. Reads through the returned
// Tx observe its own writes natively.
func (s *Store) Begin(ctx context.Context) (interfaces.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "begin cancelled")
	}
	return &badgerTx{store: s, txn: s.db.Badger().NewTransaction(true)}, nil
}

// Atomic runs fn in a transaction: commit on nil error, rollback otherwise.
func (s *Store) Atomic(ctx context.Context, fn func(tx interfaces.Store) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// filterDocs applies top-level equality matching with AND semantics.
func filterDocs(docs []models.Document, filter map[string]any) []models.Document {
	if len(filter) == 0 {
		return docs
	}
	var out []models.Document
	for _, doc := range docs {
		match := true
		for k, want := range filter {
			got, ok := doc[k]
			if !ok || !eqValue(got, want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, doc)
		}
	}
	return out
}

// eqValue compares through JSON form so typed filter values match the
// float64/string shapes a JSON round trip produces.
func eqValue(a, b any) bool {
	if a == b {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// badgerTx wraps one Badger transaction behind the Store contract.
type badgerTx struct {
	store *Store
	txn   *badgerdb.Txn
	done  bool
}

func (t *badgerTx) checkOpen() error {
	if t.done {
		return common.E(common.KindStorageFatal, "transaction already closed")
	}
	return nil
}

func (t *badgerTx) Save(ctx context.Context, table, id string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "save cancelled")
	}
	if err := t.checkOpen(); err != nil {
		return err
	}

	now := time.Now().UTC()
	stored := make(models.Document, len(doc)+3)
	for k, v := range doc {
		stored[k] = v
	}
	stored[models.FieldID] = id

	key := compositeKey(table, id)
	var existing storedRecord
	err := t.store.db.TxGet(t.txn, key, &existing)
	switch {
	case err == nil:
		prev, derr := existing.document()
		if derr != nil {
			return derr
		}
		stored[models.FieldCreatedAt] = prev[models.FieldCreatedAt]
		stored[models.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
		data, merr := json.Marshal(stored)
		if merr != nil {
			return common.Wrap(common.KindValidation, merr, "unserializable document %s/%s", table, id)
		}
		existing.UpdatedAt = now
		existing.Data = data
		return t.wrapWrite(t.store.db.TxUpsert(t.txn, key, &existing))
	case errors.Is(err, badgerhold.ErrNotFound):
		if _, ok := stored[models.FieldCreatedAt]; !ok {
			stored[models.FieldCreatedAt] = now.Format(time.RFC3339Nano)
		}
		stored[models.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
		data, merr := json.Marshal(stored)
		if merr != nil {
			return common.Wrap(common.KindValidation, merr, "unserializable document %s/%s", table, id)
		}
		createdAt := models.DocumentCreatedAt(stored)
		if createdAt.IsZero() {
			createdAt = now
		}
		rec := &storedRecord{
			Key:       key,
			Table:     table,
			ID:        id,
			Seq:       t.store.seq.Add(1),
			CreatedAt: createdAt,
			UpdatedAt: now,
			Data:      data,
		}
		return t.wrapWrite(t.store.db.TxUpsert(t.txn, key, rec))
	default:
		return common.Wrap(common.KindStorageFatal, err, "failed to read %s/%s", table, id)
	}
}

// wrapWrite classifies Badger write errors; conflicts are retryable.
func (t *badgerTx) wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badgerdb.ErrConflict) {
		return common.Wrap(common.KindConflict, err, "write conflict")
	}
	return common.Wrap(common.KindStorageFatal, err, "write failed")
}

func (t *badgerTx) Load(ctx context.Context, table, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	var rec storedRecord
	if err := t.store.db.TxGet(t.txn, compositeKey(table, id), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
		}
		return nil, common.Wrap(common.KindStorageFatal, err, "failed to load %s/%s", table, id)
	}
	return rec.document()
}

func (t *badgerTx) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	var recs []storedRecord
	if err := t.store.db.TxFind(t.txn, &recs, badgerhold.Where("Table").Eq(table)); err != nil {
		return nil, common.Wrap(common.KindStorageFatal, err, "failed to scan table %s", table)
	}
	return recordsToDocs(recs)
}

func (t *badgerTx) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "delete cancelled")
	}
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	key := compositeKey(table, id)
	var rec storedRecord
	if err := t.store.db.TxGet(t.txn, key, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, common.Wrap(common.KindStorageFatal, err, "failed to read %s/%s", table, id)
	}
	if err := t.store.db.TxDelete(t.txn, key, &storedRecord{}); err != nil {
		return false, t.wrapWrite(err)
	}
	return true, nil
}

func (t *badgerTx) Exists(ctx context.Context, table, id string) (bool, error) {
	_, err := t.Load(ctx, table, id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *badgerTx) Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error) {
	docs, err := t.LoadAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return filterDocs(docs, filter), nil
}

func (t *badgerTx) Count(ctx context.Context, table string) (int, error) {
	docs, err := t.LoadAll(ctx, table)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (t *badgerTx) ClearTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "clear cancelled")
	}
	if err := t.checkOpen(); err != nil {
		return err
	}
	err := t.store.db.TxDeleteMatching(t.txn, &storedRecord{}, badgerhold.Where("Table").Eq(table))
	return t.wrapWrite(err)
}

func (t *badgerTx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		_ = t.Rollback(ctx)
		return common.Wrap(common.KindStorageTransient, err, "commit cancelled")
	}
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.done = true
	if err := t.txn.Commit(); err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return common.Wrap(common.KindConflict, err, "commit conflict")
		}
		return common.Wrap(common.KindStorageFatal, err, "commit failed")
	}
	return nil
}

func (t *badgerTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}

var _ interfaces.Storage = (*Store)(nil)
var _ interfaces.Tx = (*badgerTx)(nil)
