package common

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()
	if config.Storage.Type != "memory" {
		t.Errorf("default storage type = %q", config.Storage.Type)
	}
	if config.Server.Port != 8080 {
		t.Errorf("default port = %d", config.Server.Port)
	}
	if config.Auth.GetTokenExpiry().Hours() != 24 {
		t.Errorf("default token expiry = %s", config.Auth.GetTokenExpiry())
	}
}

func TestLoadConfigFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgercore.toml")
	content := `
environment = "production"

[server]
port = 9090

[storage]
type = "badger"
path = "/var/lib/ledger"

[logging]
level = "warn"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !config.IsProduction() {
		t.Error("environment should be production")
	}
	if config.Server.Port != 9090 || config.Storage.Type != "badger" || config.Logging.Level != "warn" {
		t.Errorf("config = %+v", config)
	}
	// Unset fields keep their defaults.
	if config.Server.Host != "0.0.0.0" {
		t.Errorf("host default lost: %q", config.Server.Host)
	}
}

func TestLoadConfigSkipsMissingFiles(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig with missing file: %v", err)
	}
	if config.Storage.Type != "memory" {
		t.Errorf("storage type = %q", config.Storage.Type)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "SURREALDB")
	t.Setenv("DATABASE_URL", "ws://db:8000/rpc")
	t.Setenv("ASYNC_ENABLED", "true")
	t.Setenv("LEDGERCORE_PORT", "7070")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Storage.Type != "surrealdb" {
		t.Errorf("STORAGE_TYPE override = %q", config.Storage.Type)
	}
	if config.Storage.Address != "ws://db:8000/rpc" {
		t.Errorf("DATABASE_URL override = %q", config.Storage.Address)
	}
	if !config.Storage.AsyncEnabled {
		t.Error("ASYNC_ENABLED override lost")
	}
	if config.Server.Port != 7070 {
		t.Errorf("LEDGERCORE_PORT override = %d", config.Server.Port)
	}
}

func TestUnknownStorageTypeRejected(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "postgres")
	if _, err := LoadConfig(); err == nil {
		t.Error("unknown storage type should fail validation")
	}
}
