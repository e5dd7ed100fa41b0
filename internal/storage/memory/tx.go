package memory

import (
	"context"
	"sync"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// txWrite is one buffered mutation: a pending save (doc != nil) or a
// pending delete (doc == nil).
type txWrite struct {
	doc   models.Document
	order uint64
}

// memTx buffers writes until Commit. Reads overlay the write-set on top of
// committed state, so a transaction observes its own writes.
type memTx struct {
	base    *Store
	mu      sync.Mutex
	writes  map[string]map[string]*txWrite
	cleared map[string]bool
	order   uint64
	done    bool
}

func (tx *memTx) writeSet(table string) map[string]*txWrite {
	w, ok := tx.writes[table]
	if !ok {
		w = make(map[string]*txWrite)
		tx.writes[table] = w
	}
	return w
}

func (tx *memTx) checkOpen() error {
	if tx.done {
		return common.E(common.KindStorageFatal, "transaction already closed")
	}
	return nil
}

func (tx *memTx) Save(ctx context.Context, table, id string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "save cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.order++
	stored := copyDoc(doc)
	stored[models.FieldID] = id
	tx.writeSet(table)[id] = &txWrite{doc: stored, order: tx.order}
	return nil
}

func (tx *memTx) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "delete cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	existed := tx.existsLocked(table, id)
	tx.order++
	tx.writeSet(table)[id] = &txWrite{doc: nil, order: tx.order}
	return existed, nil
}

func (tx *memTx) ClearTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "clear cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.cleared[table] = true
	delete(tx.writes, table)
	return nil
}

// existsLocked resolves visibility through the overlay: pending writes win,
// then table clears, then committed state.
func (tx *memTx) existsLocked(table, id string) bool {
	if w, ok := tx.writes[table][id]; ok {
		return w.doc != nil
	}
	if tx.cleared[table] {
		return false
	}
	tx.base.mu.RLock()
	defer tx.base.mu.RUnlock()
	_, ok := tx.base.tables[table][id]
	return ok
}

func (tx *memTx) Load(ctx context.Context, table, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if w, ok := tx.writes[table][id]; ok {
		if w.doc == nil {
			return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
		}
		return copyDoc(w.doc), nil
	}
	if tx.cleared[table] {
		return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
	}
	return tx.base.Load(ctx, table, id)
}

func (tx *memTx) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	return tx.loadAllLocked(ctx, table)
}

func (tx *memTx) loadAllLocked(ctx context.Context, table string) ([]models.Document, error) {
	var committed []models.Document
	if !tx.cleared[table] {
		var err error
		committed, err = tx.base.LoadAll(ctx, table)
		if err != nil {
			return nil, err
		}
	}

	pending := tx.writes[table]
	if len(pending) == 0 {
		return committed, nil
	}

	out := make([]models.Document, 0, len(committed)+len(pending))
	for _, doc := range committed {
		id := models.DocumentID(doc)
		if _, overridden := pending[id]; overridden {
			continue
		}
		out = append(out, doc)
	}

	// Pending inserts and updates surface in write order after committed
	// state; final ordering is settled at commit time.
	ids := make([]string, 0, len(pending))
	for id, w := range pending {
		if w.doc != nil {
			ids = append(ids, id)
		}
	}
	sortByOrder(ids, pending)
	for _, id := range ids {
		out = append(out, copyDoc(pending[id].doc))
	}
	return out, nil
}

func sortByOrder(ids []string, pending map[string]*txWrite) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && pending[ids[j-1]].order > pending[ids[j]].order; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (tx *memTx) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "exists cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	return tx.existsLocked(table, id), nil
}

func (tx *memTx) Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error) {
	docs, err := tx.LoadAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return filterDocs(docs, filter), nil
}

func (tx *memTx) Count(ctx context.Context, table string) (int, error) {
	docs, err := tx.LoadAll(ctx, table)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Commit applies the write-set under the store lock. All mutations land or
// none do.
func (tx *memTx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return common.Wrap(common.KindStorageTransient, err, "commit cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.done = true

	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		return common.E(common.KindStorageFatal, "store is closed")
	}

	for table := range tx.cleared {
		delete(tx.base.tables, table)
	}

	for table, pending := range tx.writes {
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sortByOrder(ids, pending)
		for _, id := range ids {
			w := pending[id]
			if w.doc == nil {
				delete(tx.base.tables[table], id)
				continue
			}
			tx.base.saveLocked(table, id, w.doc)
		}
	}
	return nil
}

// Rollback discards the write-set.
func (tx *memTx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.writes = make(map[string]map[string]*txWrite)
	tx.cleared = make(map[string]bool)
	return nil
}

var _ interfaces.Tx = (*memTx)(nil)
