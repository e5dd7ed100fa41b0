// Package storage provides the storage factory and the tenant isolation
// decorator shared by every backend.
package storage

import (
	"context"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// TenantAwareStorage wraps a raw Storage and scopes every operation to the
// ambient tenant carried by the context. With no tenant set (super-admin
// mode) it behaves like the raw store, except that tenant tags already on
// records are preserved across updates.
type TenantAwareStorage struct {
	tenantStore
	raw    interfaces.Storage
	logger *common.Logger
}

// NewTenantAware decorates a raw storage with per-tenant filtering.
func NewTenantAware(raw interfaces.Storage, logger *common.Logger) *TenantAwareStorage {
	return &TenantAwareStorage{
		tenantStore: tenantStore{inner: raw},
		raw:         raw,
		logger:      logger,
	}
}

// Raw returns the undecorated storage for administrative tooling such as
// the tenant registry.
func (s *TenantAwareStorage) Raw() interfaces.Storage {
	return s.raw
}

// Begin opens a transaction whose operations apply the same tenant
// filtering as the root store.
func (s *TenantAwareStorage) Begin(ctx context.Context) (interfaces.Tx, error) {
	tx, err := s.raw.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tenantTx{tenantStore: tenantStore{inner: tx}, tx: tx}, nil
}

// Atomic runs fn against a tenant-filtered view of one transaction.
func (s *TenantAwareStorage) Atomic(ctx context.Context, fn func(tx interfaces.Store) error) error {
	return s.raw.Atomic(ctx, func(tx interfaces.Store) error {
		return fn(&tenantStore{inner: tx})
	})
}

func (s *TenantAwareStorage) Close() error {
	return s.raw.Close()
}

// tenantTx decorates an open transaction.
type tenantTx struct {
	tenantStore
	tx interfaces.Tx
}

func (t *tenantTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *tenantTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// tenantStore applies tenant filtering over any Store (root or transaction).
type tenantStore struct {
	inner interfaces.Store
}

// visible reports whether a document belongs to the given tenant scope.
// In tenant mode untagged records are invisible; in super-admin mode
// everything is visible.
func visible(doc models.Document, tenant string) bool {
	if tenant == "" {
		return true
	}
	tag, _ := doc[models.FieldTenantID].(string)
	return tag == tenant
}

func (t *tenantStore) Save(ctx context.Context, table, id string, doc models.Document) error {
	tenant := common.TenantFromContext(ctx)

	existing, err := t.inner.Load(ctx, table, id)
	switch {
	case err == nil:
		tag, _ := existing[models.FieldTenantID].(string)
		if tenant != "" && tag != tenant {
			// Foreign or untagged record under a tenant scope: the id is
			// taken but must appear absent, and the write cannot adopt it.
			return common.E(common.KindNotFound, "record %s/%s not found", table, id)
		}
		out := cloneShallow(doc)
		if tag != "" {
			// Tags are sticky: super-admin updates preserve ownership.
			out[models.FieldTenantID] = tag
		} else if tenant != "" {
			out[models.FieldTenantID] = tenant
		}
		return t.inner.Save(ctx, table, id, out)
	case common.IsKind(err, common.KindNotFound):
		out := cloneShallow(doc)
		if tenant != "" {
			out[models.FieldTenantID] = tenant
		}
		return t.inner.Save(ctx, table, id, out)
	default:
		return err
	}
}

func cloneShallow(doc models.Document) models.Document {
	out := make(models.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (t *tenantStore) Load(ctx context.Context, table, id string) (models.Document, error) {
	tenant := common.TenantFromContext(ctx)
	doc, err := t.inner.Load(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if !visible(doc, tenant) {
		return nil, common.E(common.KindNotFound, "record %s/%s not found", table, id)
	}
	return doc, nil
}

func (t *tenantStore) LoadAll(ctx context.Context, table string) ([]models.Document, error) {
	tenant := common.TenantFromContext(ctx)
	if tenant == "" {
		return t.inner.LoadAll(ctx, table)
	}
	return t.inner.Find(ctx, table, map[string]any{models.FieldTenantID: tenant})
}

func (t *tenantStore) Delete(ctx context.Context, table, id string) (bool, error) {
	tenant := common.TenantFromContext(ctx)
	doc, err := t.inner.Load(ctx, table, id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	if !visible(doc, tenant) {
		return false, nil
	}
	return t.inner.Delete(ctx, table, id)
}

func (t *tenantStore) Exists(ctx context.Context, table, id string) (bool, error) {
	tenant := common.TenantFromContext(ctx)
	doc, err := t.inner.Load(ctx, table, id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return visible(doc, tenant), nil
}

func (t *tenantStore) Find(ctx context.Context, table string, filter map[string]any) ([]models.Document, error) {
	tenant := common.TenantFromContext(ctx)
	if tenant == "" {
		return t.inner.Find(ctx, table, filter)
	}
	scoped := make(map[string]any, len(filter)+1)
	for k, v := range filter {
		scoped[k] = v
	}
	scoped[models.FieldTenantID] = tenant
	return t.inner.Find(ctx, table, scoped)
}

func (t *tenantStore) Count(ctx context.Context, table string) (int, error) {
	tenant := common.TenantFromContext(ctx)
	if tenant == "" {
		return t.inner.Count(ctx, table)
	}
	docs, err := t.inner.Find(ctx, table, map[string]any{models.FieldTenantID: tenant})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (t *tenantStore) ClearTable(ctx context.Context, table string) error {
	if common.HasTenant(ctx) {
		return common.E(common.KindTenantViolation, "clear_table is not permitted under a tenant scope")
	}
	return t.inner.ClearTable(ctx, table)
}

var _ interfaces.Storage = (*TenantAwareStorage)(nil)
var _ interfaces.Tx = (*tenantTx)(nil)
