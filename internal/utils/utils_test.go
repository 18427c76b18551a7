package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

func TestSetupLogging(t *testing.T) {
	t.Setenv("RECORDER_MIGRATE_LOG_LEVEL", "")

	// Test with default log level
	logger := SetupLogging("")
	if logger == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	// Test with specific log level
	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	logger = SetupLogging("error")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level to be error, got %s", logger.Level)
	}

	// Test with invalid log level (should default to info)
	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	// Test with level from the environment
	t.Setenv("RECORDER_MIGRATE_LOG_LEVEL", "debug")
	logger = SetupLogging("")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level from environment to be debug, got %s", logger.Level)
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")

	// Register the variable with t.Setenv so it is restored after the test
	t.Setenv("RECORDER_MIGRATE_DESTINATION_PASSWORD", "")
	os.Unsetenv("RECORDER_MIGRATE_DESTINATION_PASSWORD")

	if LoadEnvironmentVariables(envFile, logger) {
		t.Error("Expected false without a destination password")
	}

	content := "RECORDER_MIGRATE_DESTINATION_PASSWORD=from-dotenv\nRECORDER_MIGRATE_DESTINATION_HOST=db.local\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECORDER_MIGRATE_DESTINATION_HOST", "")
	os.Unsetenv("RECORDER_MIGRATE_DESTINATION_HOST")

	if !LoadEnvironmentVariables(envFile, logger) {
		t.Error("Expected true once the .env file provides a password")
	}
	if got := os.Getenv("RECORDER_MIGRATE_DESTINATION_PASSWORD"); got != "from-dotenv" {
		t.Errorf("Expected password 'from-dotenv', got '%s'", got)
	}
	if got := os.Getenv("RECORDER_MIGRATE_DESTINATION_HOST"); got != "db.local" {
		t.Errorf("Expected host 'db.local', got '%s'", got)
	}
}

func TestValidateConnectionParams(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests

	// Test with valid parameters
	valid := ValidateConnectionParams("localhost", "user", "password", "database", "5432", logger)
	if !valid {
		t.Error("Expected validation to pass with valid parameters")
	}

	// Test with missing host
	valid = ValidateConnectionParams("", "user", "password", "database", "5432", logger)
	if valid {
		t.Error("Expected validation to fail with missing host")
	}

	// Test with missing user
	valid = ValidateConnectionParams("localhost", "", "password", "database", "5432", logger)
	if valid {
		t.Error("Expected validation to fail with missing user")
	}

	// Test with missing database
	valid = ValidateConnectionParams("localhost", "user", "password", "", "5432", logger)
	if valid {
		t.Error("Expected validation to fail with missing database")
	}

	// Test with invalid port
	valid = ValidateConnectionParams("localhost", "user", "password", "database", "not-a-port", logger)
	if valid {
		t.Error("Expected validation to fail with invalid port")
	}

	valid = ValidateConnectionParams("localhost", "user", "password", "database", "70000", logger)
	if valid {
		t.Error("Expected validation to fail with out of range port")
	}

	// Empty password is allowed
	valid = ValidateConnectionParams("localhost", "user", "", "database", "5432", logger)
	if !valid {
		t.Error("Expected validation to pass with empty password")
	}
}

func TestFprintSummary(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	report := &models.MigrationReport{
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
		Tables: []models.TableResult{
			{Table: "events", Strategy: models.StrategyCopy, RowsRead: 2, RowsAttempted: 2, RowsCommitted: 2, Status: models.StatusSuccess},
			{Table: "states", Strategy: models.StrategyCopy, RowsRead: 3, RowsAttempted: 3, Status: models.StatusFailed, Error: "copy into states: boom"},
			{Table: "recorder_runs", Strategy: models.StrategyInsert, RowsRead: 3, RowsAttempted: 3, RowsCommitted: 2, Status: models.StatusPartial,
				RowErrors: []models.RowError{{Index: 1, Message: "duplicate key"}}},
			{Table: "statistics", Strategy: models.StrategyCopy, Status: models.StatusEmpty},
		},
		Sequences: []models.SequenceResult{
			{Table: "events", PrimaryKey: "event_id", NextValue: 3, Reset: true},
			{Table: "states", Error: "relation does not exist"},
		},
	}

	var buf bytes.Buffer
	FprintSummary(&buf, report)
	out := buf.String()

	for _, want := range []string{
		"MIGRATION SUMMARY",
		"Total tables processed: 4",
		"Successfully migrated tables: 1",
		"Partially migrated tables: 1",
		"Failed tables: 1",
		"Empty tables: 1",
		"Total rows committed: 4",
		"Elapsed: 1.5s",
		"recorder_runs row 1: duplicate key",
		"states: copy into states: boom",
		"Sequences reset: 1 of 2",
		"states: relation does not exist",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}
}

func TestFprintPlanAnalysis(t *testing.T) {
	plan := models.Plan{Tables: []models.TableSpec{
		{Name: "statistics_meta", Strategy: models.StrategyCopy, BooleanColumns: []string{"has_mean", "has_sum"}},
		{Name: "events", Strategy: models.StrategyCopy, HexBinary: true},
		{Name: "recorder_runs", Strategy: models.StrategyInsert},
	}}

	var buf bytes.Buffer
	FprintPlanAnalysis(&buf, plan, nil)
	out := buf.String()
	if !strings.Contains(out, "1. statistics_meta (copy) [booleans: has_mean, has_sum]") {
		t.Errorf("Expected boolean columns in the table order, got:\n%s", out)
	}
	if !strings.Contains(out, "2. events (copy) [hex binary]") {
		t.Errorf("Expected hex binary marker in the table order, got:\n%s", out)
	}
	if !strings.Contains(out, "None, the plan matches both schemas") {
		t.Errorf("Expected no issues, got:\n%s", out)
	}

	buf.Reset()
	FprintPlanAnalysis(&buf, plan, []models.PlanIssue{{Table: "events", Message: "table not found in destination"}})
	if !strings.Contains(buf.String(), "- events: table not found in destination") {
		t.Errorf("Expected the issue to be listed, got:\n%s", buf.String())
	}
}
