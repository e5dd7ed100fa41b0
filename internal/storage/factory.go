package storage

import (
	"fmt"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/storage/badger"
	"github.com/crestfin/ledgercore/internal/storage/memory"
	"github.com/crestfin/ledgercore/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendMemory    = "memory"
	BackendBadger    = "badger"
	BackendSurrealDB = "surrealdb"
)

// NewStorage creates a raw storage engine based on the configuration.
// Supported backends: "memory" (default), "badger", "surrealdb".
func NewStorage(logger *common.Logger, config *common.Config) (interfaces.Storage, error) {
	backend := config.Storage.Type
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		return memory.NewStore(logger), nil

	case BackendBadger:
		return badger.NewStore(logger, config.Storage.Path)

	case BackendSurrealDB:
		return surrealdb.NewStore(logger, config)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, badger, surrealdb)", backend)
	}
}

// NewTenantStorage creates the tenant-filtered storage the services run on.
func NewTenantStorage(logger *common.Logger, config *common.Config) (*TenantAwareStorage, error) {
	raw, err := NewStorage(logger, config)
	if err != nil {
		return nil, err
	}
	return NewTenantAware(raw, logger), nil
}
