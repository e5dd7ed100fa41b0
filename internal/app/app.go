// Package app wires configuration, logging, storage, and services into one
// shared core used by cmd/ledgercore-server and by tests.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
	"github.com/crestfin/ledgercore/internal/services/audit"
	"github.com/crestfin/ledgercore/internal/services/ledger"
	"github.com/crestfin/ledgercore/internal/services/tenant"
	"github.com/crestfin/ledgercore/internal/storage"
)

// App holds the initialized services and storage.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     *storage.TenantAwareStorage
	Audit       interfaces.AuditLog
	Ledger      interfaces.Ledger
	Tenants     interfaces.TenantRegistry
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration and initializes the full service graph.
// configPath may be empty: LEDGERCORE_CONFIG, then the binary directory,
// then config/ledgercore.toml are tried in turn.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("LEDGERCORE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "ledgercore.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/ledgercore.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	logger := common.NewLogger(config.Logging.Level)
	return NewAppWithConfig(config, logger)
}

// NewAppWithConfig builds the service graph from an already-loaded
// configuration. Tests use this with the memory backend.
func NewAppWithConfig(config *common.Config, logger *common.Logger) (*App, error) {
	tenantStorage, err := storage.NewTenantStorage(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	auditLog := audit.NewService(tenantStorage, logger)
	ledgerService := ledger.NewService(tenantStorage, auditLog, logger)
	// The registry runs on raw storage: tenants resolve before any scope
	// exists, and directory records carry no tenant tag.
	tenantRegistry := tenant.NewRegistry(tenantStorage.Raw(), auditLog, logger)

	logger.Info().
		Str("backend", config.Storage.Type).
		Str("environment", config.Environment).
		Msg("Application initialized")

	return &App{
		Config:      config,
		Logger:      logger,
		Storage:     tenantStorage,
		Audit:       auditLog,
		Ledger:      ledgerService,
		Tenants:     tenantRegistry,
		StartupTime: time.Now().UTC(),
	}, nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
