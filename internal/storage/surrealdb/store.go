// Package surrealdb implements interfaces.Storage on a SurrealDB server.
// Every logical table lives in one SCHEMALESS SurrealDB table keyed by a
// composite record id; transactions buffer writes client-side and commit
// them as a single BEGIN/COMMIT TRANSACTION query.
package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// docTable is the single SurrealDB table holding every document.
const docTable = "ledger_doc"

// keySep separates table from id inside the composite record id.
const keySep = "\x00"

func recordID(table, id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(docTable, table+keySep+id)
}

// docRow is the SurrealDB row shape. The document itself travels as a JSON
// string so nested values survive the CBOR round trip unchanged.
type docRow struct {
	ID        *surrealmodels.RecordID `json:"id,omitempty"`
	Table     string                  `json:"tbl"`
	DocID     string                  `json:"doc_id"`
	Seq       uint64                  `json:"seq"`
	CreatedAt string                  `json:"created_at"`
	UpdatedAt string                  `json:"updated_at"`
	Data      string                  `json:"data"`
}

func (r *docRow) document() (models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal([]byte(r.Data), &doc); err != nil {
		return nil, common.Wrap(common.KindStorageFatal, err, "corrupt document %s/%s", r.Table, r.DocID)
	}
	return doc, nil
}

func (r *docRow) createdTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

type countResult struct {
	Count int `json:"count"`
}

type maxSeqResult struct {
	Max uint64 `json:"max"`
}

// Store is the SurrealDB-backed storage engine.
type Store struct {
	db     *surrealdb.DB
	logger *common.Logger

	seqMu sync.Mutex
	seq   uint64
}

// NewStore connects, signs in, selects namespace/database and defines the
// document table.
func NewStore(logger *common.Logger, config *common.Config) (*Store, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", docTable)
	if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
		return nil, fmt.Errorf("failed to define table %s: %w", docTable, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.seedSeq(ctx); err != nil {
		return nil, err
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage initialized")

	return s, nil
}

// seedSeq resumes the insertion counter past any persisted sequence.
func (s *Store) seedSeq(ctx context.Context) error {
	sql := fmt.Sprintf("SELECT math::max(seq) AS max FROM %s GROUP ALL", docTable)
	results, err := surrealdb.Query[[]maxSeqResult](ctx, s.db, sql, nil)
	if err != nil {
		return fmt.Errorf("failed to read sequence high-water mark: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		s.seq = (*results)[0].Result[0].Max
	}
	return nil
}

func (s *Store) nextSeq() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
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
	row, err := surrealdb.Select[docRow](ctx, s.db, recordID(table, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
		}
		return nil, common.Wrap(common.KindStorageTransient, err, "failed to load %s/%s", table, id)
	}
	if row == nil || row.DocID == "" {
		return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
	}
	return row.document()
}

func (s *Store) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	rows, err := s.loadRows(ctx, table)
	if err != nil {
		return nil, err
	}
	return rowsToDocs(rows)
}

func (s *Store) loadRows(ctx context.Context, table string) ([]docRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "load cancelled")
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE tbl = $tbl", docTable)
	vars := map[string]any{"tbl": table}
	results, err := surrealdb.Query[[]docRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "failed to scan table %s", table)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// rowsToDocs orders rows by created_at with insertion sequence breaking
// ties, then unwraps the documents.
func rowsToDocs(rows []docRow) ([]models.Document, error) {
	sort.Slice(rows, func(i, j int) bool {
		ti, tj := rows[i].createdTime(), rows[j].createdTime()
		if ti.Equal(tj) {
			return rows[i].Seq < rows[j].Seq
		}
		return ti.Before(tj)
	})
	docs := make([]models.Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].document()
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
	sql := fmt.Sprintf("SELECT count() AS count FROM %s WHERE tbl = $tbl GROUP ALL", docTable)
	vars := map[string]any{"tbl": table}
	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, common.Wrap(common.KindStorageTransient, err, "failed to count table %s", table)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Count, nil
	}
	return 0, nil
}

func (s *Store) ClearTable(ctx context.Context, table string) error {
	return s.Atomic(ctx, func(tx interfaces.Store) error {
		return tx.ClearTable(ctx, table)
	})
}

// Begin opens a client-side buffered transaction. Writes accumulate until
// Commit sends them as one transactional query.
func (s *Store) Begin(ctx context.Context) (interfaces.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.KindStorageTransient, err, "begin cancelled")
	}
	return &surrealTx{
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

func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close(context.Background())
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

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

var _ interfaces.Storage = (*Store)(nil)
