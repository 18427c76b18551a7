package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from parameter or environment variable
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("RECORDER_MIGRATE_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Infof("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from an .env file.
// It returns false when the destination password is still unset afterwards.
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		} else {
			logger.Infof("No %s file found, using existing environment variables", envFile)
		}
	}

	// Log all RECORDER_MIGRATE_* variables with secrets masked
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, env := range os.Environ() {
			name, value, ok := strings.Cut(env, "=")
			if !ok || !strings.HasPrefix(name, "RECORDER_MIGRATE_") {
				continue
			}
			if strings.Contains(name, "PASSWORD") || strings.Contains(name, "DSN") {
				value = "********"
			}
			logger.Debugf("%s=%s", name, value)
		}
	}

	if os.Getenv("RECORDER_MIGRATE_DESTINATION_PASSWORD") == "" {
		logger.Warning("RECORDER_MIGRATE_DESTINATION_PASSWORD is not set")
		logger.Info("The password can be provided via --password, the config file, an environment variable, or a .env file")
		return false
	}
	return true
}

// ValidateConnectionParams validates destination connection parameters
func ValidateConnectionParams(host, user, password, database, port string, logger *logrus.Logger) bool {
	if host == "" {
		logger.Error("Destination host is required")
		return false
	}

	if user == "" {
		logger.Error("Destination user is required")
		return false
	}

	if password == "" { // Trust and peer authentication need none
		logger.Warning("Destination password is empty")
	}

	if database == "" {
		logger.Error("Destination database name is required")
		return false
	}

	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		logger.Errorf("Invalid port number: %s", port)
		return false
	}

	return true
}

// NewTableProgress starts a progress bar with one step per table. The returned
// callback advances it and stop must be called once the run is over.
func NewTableProgress(total int) (advance func(models.TableResult), stop func()) {
	progress := uiprogress.New()
	progress.Start()

	// the bar is redrawn from its own goroutine
	var current atomic.Value
	current.Store("")
	bar := progress.AddBar(total).AppendCompleted().PrependElapsed()
	bar.PrependFunc(func(b *uiprogress.Bar) string {
		return fmt.Sprintf("Migrating %-22s", current.Load())
	})

	advance = func(result models.TableResult) {
		current.Store(result.Table)
		bar.Incr()
	}
	return advance, progress.Stop
}

// PrintSummary prints the migration report to standard output
func PrintSummary(report *models.MigrationReport) {
	FprintSummary(os.Stdout, report)
}

// FprintSummary writes a summary of the migration report to w
func FprintSummary(w io.Writer, report *models.MigrationReport) {
	var succeeded, partial, failed, empty []models.TableResult
	for _, t := range report.Tables {
		switch t.Status {
		case models.StatusSuccess:
			succeeded = append(succeeded, t)
		case models.StatusPartial:
			partial = append(partial, t)
		case models.StatusFailed:
			failed = append(failed, t)
		case models.StatusEmpty:
			empty = append(empty, t)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "MIGRATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Total tables processed: %d\n", len(report.Tables))
	fmt.Fprintf(w, "Successfully migrated tables: %d\n", len(succeeded))
	fmt.Fprintf(w, "Partially migrated tables: %d\n", len(partial))
	fmt.Fprintf(w, "Failed tables: %d\n", len(failed))
	fmt.Fprintf(w, "Empty tables: %d\n", len(empty))
	fmt.Fprintf(w, "Total rows committed: %d\n", report.RowsCommitted())
	if !report.Finished.IsZero() {
		fmt.Fprintf(w, "Elapsed: %s\n", report.Finished.Sub(report.Started).Round(time.Millisecond))
	}

	if len(report.Tables) > 0 {
		fmt.Fprintln(w, "\nTables:")
		for _, t := range report.Tables {
			fmt.Fprintf(w, "  %-24s %-8s %-7s %d/%d rows\n", t.Table, t.Strategy, t.Status, t.RowsCommitted, t.RowsRead)
		}
	}

	if len(partial) > 0 {
		fmt.Fprintln(w, "\nRejected rows:")
		for _, t := range partial {
			for _, re := range t.RowErrors {
				fmt.Fprintf(w, "  - %s row %d: %s\n", t.Table, re.Index, re.Message)
			}
		}
	}

	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed tables:")
		for _, t := range failed {
			fmt.Fprintf(w, "  - %s: %s\n", t.Table, t.Error)
		}
	}

	var reset int
	var seqErrors []models.SequenceResult
	for _, s := range report.Sequences {
		if s.Reset {
			reset++
		}
		if s.Error != "" {
			seqErrors = append(seqErrors, s)
		}
	}
	if len(report.Sequences) > 0 {
		fmt.Fprintf(w, "\nSequences reset: %d of %d\n", reset, len(report.Sequences))
		for _, s := range seqErrors {
			fmt.Fprintf(w, "  - %s: %s\n", s.Table, s.Error)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// PrintPlanAnalysis prints the plan and every issue found while checking it
func PrintPlanAnalysis(plan models.Plan, issues []models.PlanIssue) {
	FprintPlanAnalysis(os.Stdout, plan, issues)
}

// FprintPlanAnalysis writes the plan and its issues to w
func FprintPlanAnalysis(w io.Writer, plan models.Plan, issues []models.PlanIssue) {
	byTable := make(map[string][]string)
	for _, issue := range issues {
		byTable[issue.Table] = append(byTable[issue.Table], issue.Message)
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "MIGRATION PLAN ANALYSIS")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "\n1. TABLE ORDER")
	for i, t := range plan.Tables {
		var notes []string
		if len(t.BooleanColumns) > 0 {
			notes = append(notes, "booleans: "+strings.Join(t.BooleanColumns, ", "))
		}
		if t.HexBinary {
			notes = append(notes, "hex binary")
		}
		line := fmt.Sprintf("   %3d. %s (%s)", i+1, t.Name, t.Strategy)
		if len(notes) > 0 {
			line += " [" + strings.Join(notes, "; ") + "]"
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "\n2. ISSUES")
	if len(issues) == 0 {
		fmt.Fprintln(w, "   None, the plan matches both schemas")
	}
	for _, t := range plan.Tables {
		for _, msg := range byTable[t.Name] {
			fmt.Fprintf(w, "   - %s: %s\n", t.Name, msg)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}
