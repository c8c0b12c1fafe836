package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledgerback/internal/config"
)

func TestNewConfig(t *testing.T) {
	cfg := config.NewConfig("app-123", "/tmp/ledgerback")

	if cfg.AppID != "app-123" {
		t.Errorf("app id = %q", cfg.AppID)
	}
	if cfg.Backup.FilePrefix != "ledger-backup" {
		t.Errorf("file prefix = %q, want ledger-backup", cfg.Backup.FilePrefix)
	}
	if cfg.Backup.IntervalMinutes != 30 || cfg.Backup.EarliestHour != 9 {
		t.Errorf("backup schedule defaults = %+v, want 30 minutes / hour 9", cfg.Backup)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("database type = %q, want sqlite", cfg.Database.Type)
	}
	if cfg.Database.DataDir != filepath.Join("/tmp/ledgerback", "data") {
		t.Errorf("data dir = %q", cfg.Database.DataDir)
	}
	if cfg.Encryption.PublicKeyPath == "" || cfg.Encryption.PrivateKeyPath == "" {
		t.Error("encryption key paths not defaulted")
	}
}

func TestManager_ReadWrite(t *testing.T) {
	cfg := config.NewConfig("app-123", "/tmp/ledgerback")
	cfg.Google.ClientID = "client-id"
	cfg.Google.ClientSecret = "client-secret"
	cfg.Backup.IntervalMinutes = 15
	cfg.Backup.EarliestHour = 8

	m := &config.Manager{}

	var buf bytes.Buffer
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `app_id = "app-123"`) {
		t.Errorf("encoded config missing app_id:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Google.ClientID != "client-id" {
		t.Errorf("client id = %q", got.Google.ClientID)
	}
	if got.Backup.IntervalMinutes != 15 || got.Backup.EarliestHour != 8 {
		t.Errorf("backup config = %+v", got.Backup)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("database type = %q", got.Database.Type)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates a new config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "ledgerback.toml")
		cfg := config.NewConfig("app-123", "/tmp/ledgerback")

		if err := config.Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := config.ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.AppID != "app-123" {
			t.Errorf("app id = %q", got.AppID)
		}
	})

	t.Run("refuses to overwrite an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledgerback.toml")
		if err := os.WriteFile(path, []byte("app_id = \"existing\"\n"), 0644); err != nil {
			t.Fatalf("seeding file: %v", err)
		}

		err := config.Init(path, config.NewConfig("new", "/tmp"))
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Fatalf("Init() error = %v, want already exists", err)
		}
	})
}
