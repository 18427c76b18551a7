package models

import "time"

// LoadStrategy selects how a table is written to the destination
type LoadStrategy string

const (
	// StrategyCopy streams the whole table through a single COPY
	StrategyCopy LoadStrategy = "copy"
	// StrategyInsert inserts rows one at a time, each in its own savepoint
	StrategyInsert LoadStrategy = "insert"
)

// TableSpec describes how a single table is migrated
type TableSpec struct {
	Name           string       `mapstructure:"name"`
	Strategy       LoadStrategy `mapstructure:"strategy"`
	BooleanColumns []string     `mapstructure:"boolean_columns"`
	HexBinary      bool         `mapstructure:"hex_binary"`
}

// Plan is the ordered list of tables to migrate plus the value rules shared by all of them.
// Tables must be listed so that referenced tables come before referencing ones.
type Plan struct {
	Tables       []TableSpec
	BinarySuffix string
	BinaryNames  []string
	HexPrefix    string
	NullMarker   string
}

// TableNames returns the table names in plan order
func (p Plan) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for _, t := range p.Tables {
		names = append(names, t.Name)
	}
	return names
}

// TableDescriptor is a table's shape as discovered from the source at migration time
type TableDescriptor struct {
	Name           string
	Columns        []string
	BooleanColumns map[string]bool
	BinaryColumns  map[string]bool
}

// ForeignKey represents a foreign key relationship in the destination schema
type ForeignKey struct {
	Table            string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
}

// TableStatus is the outcome of migrating one table
type TableStatus string

const (
	StatusSuccess TableStatus = "success"
	StatusPartial TableStatus = "partial"
	StatusFailed  TableStatus = "failed"
	StatusEmpty   TableStatus = "empty"
)

// RowError records a single rejected row on the row-by-row path
type RowError struct {
	Index   int
	Message string
}

// TableResult is the per-table entry of a migration report
type TableResult struct {
	Table         string
	Strategy      LoadStrategy
	RowsRead      int
	RowsAttempted int
	RowsCommitted int64
	Status        TableStatus
	Error         string
	RowErrors     []RowError
	Duration      time.Duration
}

// SequenceResult is the outcome of resetting one table's primary key sequence
type SequenceResult struct {
	Table      string
	PrimaryKey string
	MaxValue   interface{}
	NextValue  int64
	Reset      bool
	Skipped    string
	Error      string
}

// MigrationReport aggregates the results of a whole run
type MigrationReport struct {
	Tables    []TableResult
	Sequences []SequenceResult
	Started   time.Time
	Finished  time.Time
}

// Failed reports whether any table failed outright or any sequence reset errored
func (r *MigrationReport) Failed() bool {
	for _, t := range r.Tables {
		if t.Status == StatusFailed {
			return true
		}
	}
	for _, s := range r.Sequences {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Partial reports whether any table committed only some of its rows
func (r *MigrationReport) Partial() bool {
	for _, t := range r.Tables {
		if t.Status == StatusPartial {
			return true
		}
	}
	return false
}

// RowsCommitted returns the number of rows committed across all tables
func (r *MigrationReport) RowsCommitted() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.RowsCommitted
	}
	return total
}

// PlanIssue is a problem found while checking a plan against both schemas
type PlanIssue struct {
	Table   string
	Message string
}
