// Package tenant implements the tenant directory. It runs on raw storage
// because tenants must resolve before any tenant scope exists.
package tenant

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/models"
)

// Registry is the storage-backed tenant directory.
type Registry struct {
	storage interfaces.Storage
	audit   interfaces.AuditLog
	logger  *common.Logger
}

// NewRegistry creates a tenant registry over raw (unfiltered) storage.
func NewRegistry(storage interfaces.Storage, audit interfaces.AuditLog, logger *common.Logger) *Registry {
	return &Registry{storage: storage, audit: audit, logger: logger}
}

// Create registers a new tenant. Codes are unique case-insensitively and
// new tenants start active.
func (r *Registry) Create(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error) {
	if tenant == nil {
		return nil, common.E(common.KindValidation, "tenant is required")
	}

	now := time.Now().UTC()
	out := *tenant
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Code = strings.ToLower(strings.TrimSpace(out.Code))
	out.CreatedAt = now
	out.UpdatedAt = now
	out.IsActive = true
	if err := out.Validate(); err != nil {
		return nil, err
	}

	err := r.storage.Atomic(ctx, func(tx interfaces.Store) error {
		existing, err := r.findByCode(ctx, tx, out.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return common.E(common.KindConflict, "tenant code %q is already registered", out.Code)
		}
		if err := r.save(ctx, tx, &out); err != nil {
			return err
		}
		_, err = r.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
			EventType:  models.EventTenantCreated,
			EntityType: "tenant",
			EntityID:   out.ID,
			Metadata:   map[string]any{"code": out.Code, "tier": string(out.Tier)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("tenant_id", out.ID).
		Str("code", out.Code).
		Msg("Tenant registered")

	return &out, nil
}

// GetByID loads one tenant.
func (r *Registry) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	if id == "" {
		return nil, common.E(common.KindValidation, "tenant id is required")
	}
	doc, err := r.storage.Load(ctx, models.TableTenants, id)
	if err != nil {
		return nil, err
	}
	var tenant models.Tenant
	if err := models.FromDocument(doc, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetByCode resolves a tenant by its short code, case-insensitively.
func (r *Registry) GetByCode(ctx context.Context, code string) (*models.Tenant, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, common.E(common.KindValidation, "tenant code is required")
	}
	tenant, err := r.findByCode(ctx, r.storage, code)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, common.E(common.KindNotFound, "tenant %q not found", code)
	}
	return tenant, nil
}

func (r *Registry) findByCode(ctx context.Context, store interfaces.Store, code string) (*models.Tenant, error) {
	docs, err := store.LoadAll(ctx, models.TableTenants)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		var tenant models.Tenant
		if err := models.FromDocument(doc, &tenant); err != nil {
			return nil, err
		}
		if strings.EqualFold(tenant.Code, code) {
			return &tenant, nil
		}
	}
	return nil, nil
}

// List returns every tenant in creation order.
func (r *Registry) List(ctx context.Context) ([]*models.Tenant, error) {
	docs, err := r.storage.LoadAll(ctx, models.TableTenants)
	if err != nil {
		return nil, err
	}
	tenants := make([]*models.Tenant, 0, len(docs))
	for _, doc := range docs {
		var tenant models.Tenant
		if err := models.FromDocument(doc, &tenant); err != nil {
			return nil, err
		}
		tenants = append(tenants, &tenant)
	}
	return tenants, nil
}

// Update replaces a tenant's mutable fields. The code stays unique.
func (r *Registry) Update(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error) {
	if tenant == nil || tenant.ID == "" {
		return nil, common.E(common.KindValidation, "tenant id is required")
	}

	out := *tenant
	out.Code = strings.ToLower(strings.TrimSpace(out.Code))
	if err := out.Validate(); err != nil {
		return nil, err
	}

	err := r.storage.Atomic(ctx, func(tx interfaces.Store) error {
		current, err := r.loadTx(ctx, tx, out.ID)
		if err != nil {
			return err
		}
		other, err := r.findByCode(ctx, tx, out.Code)
		if err != nil {
			return err
		}
		if other != nil && other.ID != out.ID {
			return common.E(common.KindConflict, "tenant code %q is already registered", out.Code)
		}

		out.CreatedAt = current.CreatedAt
		out.UpdatedAt = time.Now().UTC()
		if err := r.save(ctx, tx, &out); err != nil {
			return err
		}
		_, err = r.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
			EventType:  models.EventTenantUpdated,
			EntityType: "tenant",
			EntityID:   out.ID,
			Metadata:   map[string]any{"code": out.Code},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetActive toggles a tenant on or off. Deactivated tenants keep their
// data; only resolution for new requests is blocked.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*models.Tenant, error) {
	if id == "" {
		return nil, common.E(common.KindValidation, "tenant id is required")
	}

	var out *models.Tenant
	err := r.storage.Atomic(ctx, func(tx interfaces.Store) error {
		tenant, err := r.loadTx(ctx, tx, id)
		if err != nil {
			return err
		}
		tenant.IsActive = active
		tenant.UpdatedAt = time.Now().UTC()
		if err := r.save(ctx, tx, tenant); err != nil {
			return err
		}

		eventType := models.EventTenantDeactivated
		if active {
			eventType = models.EventTenantActivated
		}
		if _, err := r.audit.LogEventTx(ctx, tx, interfaces.AuditEntry{
			EventType:  eventType,
			EntityType: "tenant",
			EntityID:   tenant.ID,
			Metadata:   map[string]any{"code": tenant.Code},
		}); err != nil {
			return err
		}
		out = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("tenant_id", out.ID).
		Bool("active", active).
		Msg("Tenant active state changed")

	return out, nil
}

func (r *Registry) loadTx(ctx context.Context, store interfaces.Store, id string) (*models.Tenant, error) {
	doc, err := store.Load(ctx, models.TableTenants, id)
	if err != nil {
		return nil, err
	}
	var tenant models.Tenant
	if err := models.FromDocument(doc, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *Registry) save(ctx context.Context, store interfaces.Store, tenant *models.Tenant) error {
	doc, err := models.ToDocument(tenant)
	if err != nil {
		return err
	}
	return store.Save(ctx, models.TableTenants, tenant.ID, doc)
}

var _ interfaces.TenantRegistry = (*Registry)(nil)
