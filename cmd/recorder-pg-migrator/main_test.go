package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/vitebski/recorder-pg-migrator/internal/config"
)

func TestApplySourceFlag(t *testing.T) {
	cfg := &config.Config{Source: config.SourceConfig{Driver: "sqlite", Path: "home-assistant_v2.db"}}
	applySourceFlag(cfg, "/config/home-assistant_v2.db")
	if cfg.Source.Path != "/config/home-assistant_v2.db" {
		t.Errorf("Expected path to be set from --source, got '%s'", cfg.Source.Path)
	}

	cfg = &config.Config{Source: config.SourceConfig{Driver: "mysql"}}
	applySourceFlag(cfg, "ha:ha@tcp(db:3306)/homeassistant")
	if cfg.Source.DSN != "ha:ha@tcp(db:3306)/homeassistant" {
		t.Errorf("Expected DSN to be set from --source, got '%s'", cfg.Source.DSN)
	}
	if cfg.Source.Path != "" {
		t.Errorf("Expected path to stay empty for mysql, got '%s'", cfg.Source.Path)
	}

	cfg = &config.Config{Source: config.SourceConfig{Driver: "sqlite", Path: "keep.db"}}
	applySourceFlag(cfg, "")
	if cfg.Source.Path != "keep.db" {
		t.Errorf("Expected path to be kept without --source, got '%s'", cfg.Source.Path)
	}
}

func TestBindFlagsOverrideConfig(t *testing.T) {
	testChdir(t, t.TempDir())

	v := config.New()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("source-driver", "", "")
	cmd.Flags().String("host", "", "")
	cmd.Flags().Int("port", 0, "")
	cmd.Flags().String("database", "", "")
	cmd.Flags().String("user", "", "")
	cmd.Flags().String("password", "", "")
	bindFlags(v, cmd)

	if err := cmd.Flags().Parse([]string{"--host", "pg.local", "--port", "6543"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Destination.Host != "pg.local" {
		t.Errorf("Expected host from flag, got '%s'", cfg.Destination.Host)
	}
	if cfg.Destination.Port != 6543 {
		t.Errorf("Expected port from flag, got %d", cfg.Destination.Port)
	}
	if cfg.Destination.Database != "homeassistant" {
		t.Errorf("Expected default database when the flag is unset, got '%s'", cfg.Destination.Database)
	}
}
