package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// txWrite is one buffered mutation: a pending save (doc != nil) or a
// pending delete (doc == nil).
type txWrite struct {
	doc       models.Document
	createdAt string
	seq       uint64
	order     uint64
}

// surrealTx buffers writes client-side. Reads overlay the write-set on the
// server state, and Commit replays the buffer as a single
// BEGIN/COMMIT TRANSACTION query so the server applies all or nothing.
type surrealTx struct {
	base    *Store
	mu      sync.Mutex
	writes  map[string]map[string]*txWrite
	cleared map[string]bool
	order   uint64
	done    bool
}

func (tx *surrealTx) writeSet(table string) map[string]*txWrite {
	w, ok := tx.writes[table]
	if !ok {
		w = make(map[string]*txWrite)
		tx.writes[table] = w
	}
	return w
}

func (tx *surrealTx) checkOpen() error {
	if tx.done {
		return common.E(common.KindStorageFatal, "transaction already closed")
	}
	return nil
}

func (tx *surrealTx) Save(ctx context.Context, table, id string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "save cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stored := make(models.Document, len(doc)+3)
	for k, v := range doc {
		stored[k] = v
	}
	stored[models.FieldID] = id

	createdAt := now
	seq := uint64(0)

	if w, ok := tx.writes[table][id]; ok && w.doc != nil {
		createdAt = w.createdAt
		seq = w.seq
	} else if !tx.cleared[table] {
		existing, err := tx.base.Load(ctx, table, id)
		switch {
		case err == nil:
			if prev, ok := existing[models.FieldCreatedAt].(string); ok {
				createdAt = prev
			}
		case common.IsKind(err, common.KindNotFound):
			// fresh insert
		default:
			return err
		}
	}

	if _, ok := stored[models.FieldCreatedAt]; !ok {
		stored[models.FieldCreatedAt] = createdAt
	}
	if v, ok := stored[models.FieldCreatedAt].(string); ok {
		createdAt = v
	}
	stored[models.FieldUpdatedAt] = now
	if seq == 0 {
		seq = tx.base.nextSeq()
	}

	tx.order++
	tx.writeSet(table)[id] = &txWrite{doc: stored, createdAt: createdAt, seq: seq, order: tx.order}
	return nil
}

func (tx *surrealTx) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "delete cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	existed, err := tx.existsLocked(ctx, table, id)
	if err != nil {
		return false, err
	}
	tx.order++
	tx.writeSet(table)[id] = &txWrite{doc: nil, order: tx.order}
	return existed, nil
}

func (tx *surrealTx) ClearTable(ctx context.Context, table string) error {
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

func (tx *surrealTx) existsLocked(ctx context.Context, table, id string) (bool, error) {
	if w, ok := tx.writes[table][id]; ok {
		return w.doc != nil, nil
	}
	if tx.cleared[table] {
		return false, nil
	}
	return tx.base.Exists(ctx, table, id)
}

func (tx *surrealTx) Load(ctx context.Context, table, id string) (models.Document, error) {
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

func copyDoc(doc models.Document) models.Document {
	data, err := json.Marshal(doc)
	if err != nil {
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

func (tx *surrealTx) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}

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

func (tx *surrealTx) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.Wrap(common.KindStorageTransient, err, "exists cancelled")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	return tx.existsLocked(ctx, table, id)
}

func (tx *surrealTx) Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error) {
	docs, err := tx.LoadAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return filterDocs(docs, filter), nil
}

func (tx *surrealTx) Count(ctx context.Context, table string) (int, error) {
	docs, err := tx.LoadAll(ctx, table)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Commit replays cleared tables and buffered writes in order inside one
// server-side transaction.
func (tx *surrealTx) Commit(ctx context.Context) error {
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

	if len(tx.cleared) == 0 && len(tx.writes) == 0 {
		return nil
	}

	var sb strings.Builder
	vars := make(map[string]any)
	sb.WriteString("BEGIN TRANSACTION;\n")

	n := 0
	for table := range tx.cleared {
		key := fmt.Sprintf("ctbl_%d", n)
		n++
		fmt.Fprintf(&sb, "DELETE %s WHERE tbl = $%s;\n", docTable, key)
		vars[key] = table
	}

	for table, pending := range tx.writes {
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sortByOrder(ids, pending)
		for _, id := range ids {
			w := pending[id]
			key := fmt.Sprintf("rid_%d", n)
			if w.doc == nil {
				fmt.Fprintf(&sb, "DELETE $%s;\n", key)
				vars[key] = recordID(table, id)
				n++
				continue
			}
			data, err := json.Marshal(w.doc)
			if err != nil {
				return common.Wrap(common.KindValidation, err, "unserializable document %s/%s", table, id)
			}
			rowKey := fmt.Sprintf("row_%d", n)
			fmt.Fprintf(&sb, "UPSERT $%s CONTENT $%s;\n", key, rowKey)
			vars[key] = recordID(table, id)
			vars[rowKey] = docRow{
				Table:     table,
				DocID:     id,
				Seq:       w.seq,
				CreatedAt: w.createdAt,
				UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
				Data:      string(data),
			}
			n++
		}
	}

	sb.WriteString("COMMIT TRANSACTION;")

	if _, err := surrealdb.Query[any](ctx, tx.base.db, sb.String(), vars); err != nil {
		return common.Wrap(common.KindStorageTransient, err, "commit failed")
	}
	return nil
}

// Rollback discards the write-set.
func (tx *surrealTx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.writes = make(map[string]map[string]*txWrite)
	tx.cleared = make(map[string]bool)
	return nil
}

var _ interfaces.Tx = (*surrealTx)(nil)
