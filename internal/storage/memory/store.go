// Package memory implements interfaces.Storage entirely in process memory.
// It is the reference engine for tests: a process-wide lock serializes
// commits, and transactions buffer their writes in a shadow write-set so
// rollback is real rather than a no-op.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

type record struct {
	doc       models.Document
	seq       uint64
	createdAt time.Time
}

// Store is the in-memory storage engine.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]*record
	seq    uint64
	logger *common.Logger
	closed bool
}

// NewStore creates an empty in-memory store.
func NewStore(logger *common.Logger) *Store {
	return &Store{
		tables: make(map[string]map[string]*record),
		logger: logger,
	}
}

// copyDoc deep-copies a document through its JSON form so callers can never
// alias stored state.
func copyDoc(doc models.Document) models.Document {
	if doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		// Documents are JSON trees by construction; a marshal failure
		// means the caller handed us something unstorable.
		out := make(models.Document, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	var out models.Document
	_ = json.Unmarshal(data, &out)
	return out
}

func (s *Store) Save(ctx context.Context, table, id string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "save cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.E(common.KindStorageFatal, "store is closed")
	}
	s.saveLocked(table, id, doc)
	return nil
}

func (s *Store) saveLocked(table, id string, doc models.Document) {
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]*record)
		s.tables[table] = t
	}

	now := time.Now().UTC()
	stored := copyDoc(doc)
	stored[models.FieldID] = id

	if existing, ok := t[id]; ok {
		stored[models.FieldCreatedAt] = existing.doc[models.FieldCreatedAt]
		stored[models.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
		t[id] = &record{doc: stored, seq: existing.seq, createdAt: existing.createdAt}
		return
	}

	s.seq++
	if _, ok := stored[models.FieldCreatedAt]; !ok {
		stored[models.FieldCreatedAt] = now.Format(time.RFC3339Nano)
	}
	stored[models.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
	createdAt := models.DocumentCreatedAt(stored)
	if createdAt.IsZero() {
		createdAt = now
	}
	t[id] = &record{doc: stored, seq: s.seq, createdAt: createdAt}
}

func (s *Store) Load(ctx context.Context, table, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tables[table][id]
	if !ok {
		return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
	}
	return copyDoc(rec.doc), nil
}

func (s *Store) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadAllLocked(table), nil
}

func (s *Store) loadAllLocked(table string) []models.Document {
	t := s.tables[table]
	recs := make([]*record, 0, len(t))
	for _, rec := range t {
		recs = append(recs, rec)
	}
	sortRecords(recs)
	out := make([]models.Document, len(recs))
	for i, rec := range recs {
		out[i] = copyDoc(rec.doc)
	}
	return out
}

// sortRecords orders by created_at, ties broken by insertion sequence.
func sortRecords(recs []*record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].createdAt.Equal(recs[j].createdAt) {
			return recs[i].seq < recs[j].seq
		}
		return recs[i].createdAt.Before(recs[j].createdAt)
	})
}

func (s *Store) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "delete cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[table]
	if _, ok := t[id]; !ok {
		return false, nil
	}
	delete(t, id)
	return true, nil
}

func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "exists cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[table][id]
	return ok, nil
}

func (s *Store) Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error) {
	docs, err := s.LoadAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return filterDocs(docs, filter), nil
}

// filterDocs applies top-level equality matching with AND semantics.
func filterDocs(docs []models.Document, filter map[string]any) []models.Document {
	if len(filter) == 0 {
		return docs
	}
	var out []models.Document
	for _, doc := range docs {
		if matchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}
	return out
}

func matchesFilter(doc models.Document, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !eqValue(got, want) {
			return false
		}
	}
	return true
}

// eqValue compares two values through their JSON form so int64(5) matches
// the float64(5) a JSON round trip produces.
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

func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.Wrap(common.KindStorageTransient, err, "count cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table]), nil
}

func (s *Store) ClearTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "clear cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tables = make(map[string]map[string]*record)
	return nil
}

// Begin opens a buffered transaction. Writes accumulate in a shadow
// write-set and apply under the store lock at Commit, so concurrent Atomic
// blocks cannot deadlock.
func (s *Store) Begin(ctx context.Context) (interfaces.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "begin cancelled")
	}
	return &memTx{
		base:    s,
		writes:  make(map[string]map[string]*txWrite),
		cleared: make(map[string]bool),
	}, nil
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

var _ interfaces.Storage = (*Store)(nil)
