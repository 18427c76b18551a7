package migrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/recorder-pg-migrator/internal/transform"
	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

// Source is the store rows are read from
type Source interface {
	Columns(ctx context.Context, table string) ([]string, error)
	ReadRows(ctx context.Context, table string, columns []string) ([][]interface{}, error)
}

// Destination is the store rows are written to
type Destination interface {
	DisableConstraints(ctx context.Context) error
	EnableConstraints(ctx context.Context) error
	CopyCSV(ctx context.Context, table string, columns []string, nullMarker string, r io.Reader) (int64, error)
	InsertRows(ctx context.Context, table string, columns []string, rows [][]interface{}, onError func(index int, err error)) (int64, error)
	PrimaryKeys(ctx context.Context, table string) ([]string, error)
	MaxValue(ctx context.Context, table, column string) (interface{}, error)
	ResetSequence(ctx context.Context, table, column string, next int64) (bool, error)
}

// TableMigrator moves every table of a plan from the source to the destination
type TableMigrator struct {
	Source        Source
	Destination   Destination
	Plan          models.Plan
	SkipSequences bool
	OnTableDone   func(models.TableResult)
	Logger        *logrus.Logger
}

// NewTableMigrator creates a new table migrator
func NewTableMigrator(source Source, destination Destination, plan models.Plan, logger *logrus.Logger) *TableMigrator {
	return &TableMigrator{
		Source:      source,
		Destination: destination,
		Plan:        plan,
		Logger:      logger,
	}
}

// Run migrates every table in plan order with foreign key checks suspended, then resets
// the primary key sequences. Table and row failures are recorded in the report; the
// returned error is set only when the run itself could not proceed.
func (tm *TableMigrator) Run(ctx context.Context) (*models.MigrationReport, error) {
	report := &models.MigrationReport{Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	if err := tm.Destination.DisableConstraints(ctx); err != nil {
		tm.Logger.Errorf("Could not disable foreign key checks: %v", err)
		return report, err
	}
	tm.Logger.Info("Foreign key checks disabled")

	for _, spec := range tm.Plan.Tables {
		if ctx.Err() != nil {
			break
		}
		result := tm.migrateTable(ctx, spec)
		report.Tables = append(report.Tables, result)
		if tm.OnTableDone != nil {
			tm.OnTableDone(result)
		}
	}

	if err := ctx.Err(); err != nil {
		tm.Logger.Warningf("Migration interrupted: %v", err)
		if enableErr := tm.Destination.EnableConstraints(context.WithoutCancel(ctx)); enableErr != nil {
			tm.Logger.Errorf("Could not re-enable foreign key checks: %v", enableErr)
		}
		return report, err
	}

	if err := tm.Destination.EnableConstraints(ctx); err != nil {
		tm.Logger.Errorf("Could not re-enable foreign key checks, skipping sequence reset: %v", err)
		return report, err
	}
	tm.Logger.Info("Foreign key checks re-enabled")

	if tm.SkipSequences {
		tm.Logger.Info("Skipping sequence reset")
		return report, nil
	}
	report.Sequences = tm.ResetSequences(ctx)
	return report, nil
}

// migrateTable dispatches a table to its load path. Anything escaping the path,
// including a panic, becomes a failed result so the run can go on.
func (tm *TableMigrator) migrateTable(ctx context.Context, spec models.TableSpec) (result models.TableResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			tm.Logger.WithField("table", spec.Name).Errorf("Unexpected error migrating table: %v", r)
			result = models.TableResult{
				Table:    spec.Name,
				Strategy: strategyOf(spec),
				Status:   models.StatusFailed,
				Error:    fmt.Sprint(r),
			}
		}
		result.Duration = time.Since(start)
	}()

	if strategyOf(spec) == models.StrategyInsert {
		return tm.InsertTableRowByRow(ctx, spec)
	}
	return tm.BulkLoadTable(ctx, spec)
}

// BulkLoadTable copies a whole table with a single COPY. Either every row is
// committed or none is, and a failure never reaches the caller as an error.
func (tm *TableMigrator) BulkLoadTable(ctx context.Context, spec models.TableSpec) models.TableResult {
	log := tm.Logger.WithField("table", spec.Name)
	result := models.TableResult{Table: spec.Name, Strategy: models.StrategyCopy}

	desc, rows, err := tm.readTable(ctx, spec)
	if err != nil {
		return failed(log, result, err)
	}
	result.RowsRead = len(rows)
	if len(rows) == 0 {
		log.Info("No rows in source, skipping")
		result.Status = models.StatusEmpty
		return result
	}

	rules := transform.NewRules(desc, tm.Plan.HexPrefix)
	buf, err := transform.NewCopyBuffer(desc.Columns, tm.nullMarker())
	if err != nil {
		return failed(log, result, err)
	}
	for _, row := range rows {
		if err := buf.Append(rules.ForCopy(row)); err != nil {
			return failed(log, result, err)
		}
	}
	data, err := buf.Bytes()
	if err != nil {
		return failed(log, result, err)
	}

	log.Infof("Copying %d rows", buf.Rows())
	result.RowsAttempted = buf.Rows()
	n, err := tm.Destination.CopyCSV(ctx, spec.Name, desc.Columns, tm.nullMarker(), bytes.NewReader(data))
	if err != nil {
		return failed(log, result, err)
	}

	result.RowsCommitted = n
	result.Status = models.StatusSuccess
	log.Infof("Copied %d rows", n)
	return result
}

// InsertTableRowByRow inserts a table one row at a time. A rejected row is rolled back
// on its own and recorded; the remaining rows are committed together at the end.
func (tm *TableMigrator) InsertTableRowByRow(ctx context.Context, spec models.TableSpec) models.TableResult {
	log := tm.Logger.WithField("table", spec.Name)
	result := models.TableResult{Table: spec.Name, Strategy: models.StrategyInsert}

	desc, rows, err := tm.readTable(ctx, spec)
	if err != nil {
		return failed(log, result, err)
	}
	result.RowsRead = len(rows)
	if len(rows) == 0 {
		log.Info("No rows in source, skipping")
		result.Status = models.StatusEmpty
		return result
	}

	rules := transform.NewRules(desc, tm.Plan.HexPrefix)
	converted := make([][]interface{}, len(rows))
	for i, row := range rows {
		converted[i] = rules.ForInsert(row)
	}

	log.Infof("Inserting %d rows", len(converted))
	result.RowsAttempted = len(converted)
	n, err := tm.Destination.InsertRows(ctx, spec.Name, desc.Columns, converted, func(index int, err error) {
		log.WithField("row", index).Errorf("Error inserting row: %v", err)
		result.RowErrors = append(result.RowErrors, models.RowError{Index: index, Message: err.Error()})
	})
	if err != nil {
		return failed(log, result, err)
	}
	result.RowsCommitted = n

	switch {
	case n == int64(len(converted)):
		result.Status = models.StatusSuccess
		log.Infof("Inserted %d rows", n)
	case n == 0:
		result.Status = models.StatusFailed
		result.Error = fmt.Sprintf("all %d rows were rejected", len(converted))
		log.Error("Every row was rejected")
	default:
		result.Status = models.StatusPartial
		log.Warningf("Inserted %d of %d rows", n, len(converted))
	}
	return result
}

// readTable discovers the table's columns in the source and reads all of its rows
func (tm *TableMigrator) readTable(ctx context.Context, spec models.TableSpec) (models.TableDescriptor, [][]interface{}, error) {
	columns, err := tm.Source.Columns(ctx, spec.Name)
	if err != nil {
		return models.TableDescriptor{}, nil, err
	}
	if len(columns) == 0 {
		return models.TableDescriptor{}, nil, fmt.Errorf("table %s has no columns in source", spec.Name)
	}
	rows, err := tm.Source.ReadRows(ctx, spec.Name, columns)
	if err != nil {
		return models.TableDescriptor{}, nil, err
	}
	return transform.Describe(spec, tm.Plan, columns), rows, nil
}

func (tm *TableMigrator) nullMarker() string {
	if tm.Plan.NullMarker == "" {
		return transform.DefaultNullMarker
	}
	return tm.Plan.NullMarker
}

func failed(log *logrus.Entry, result models.TableResult, err error) models.TableResult {
	log.Errorf("Table migration failed: %v", err)
	result.Status = models.StatusFailed
	result.Error = err.Error()
	result.RowsCommitted = 0
	return result
}

func strategyOf(spec models.TableSpec) models.LoadStrategy {
	if spec.Strategy == models.StrategyInsert {
		return models.StrategyInsert
	}
	return models.StrategyCopy
}
