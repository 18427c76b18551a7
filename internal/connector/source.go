package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SourceConnector reads tables from the recorder database being migrated
type SourceConnector struct {
	Driver string
	DSN    string
	DB     *sql.DB
	Logger *logrus.Logger
}

// NewSourceConnector creates a new source connector. For SQLite the DSN is the database file path.
func NewSourceConnector(driver, dsn string, logger *logrus.Logger) *SourceConnector {
	if driver == "" {
		driver = getEnvOrDefault("RECORDER_MIGRATE_SOURCE_DRIVER", DriverSQLite)
	}
	if dsn == "" {
		dsn = getEnvOrDefault("RECORDER_MIGRATE_SOURCE_PATH", "")
	}
	return &SourceConnector{
		Driver: driver,
		DSN:    dsn,
		Logger: logger,
	}
}

// Connect opens and pings the source database
func (sc *SourceConnector) Connect(ctx context.Context) error {
	if sc.DSN == "" {
		return fmt.Errorf("source database path or DSN must be provided")
	}
	if sc.Driver != DriverSQLite && sc.Driver != DriverMySQL {
		return fmt.Errorf("unsupported source driver %q", sc.Driver)
	}

	dsn := sc.DSN
	if sc.Driver == DriverSQLite {
		// the file must already exist; never create an empty database by accident
		dsn = "file:" + sc.DSN + "?mode=ro"
	}

	db, err := sql.Open(sc.Driver, dsn)
	if err != nil {
		sc.Logger.Errorf("Error opening source database: %v", err)
		return err
	}
	// the migration is strictly sequential
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		sc.Logger.Errorf("Error pinging source database: %v", err)
		return err
	}

	sc.DB = db
	sc.Logger.Infof("Connected to %s source: %s", sc.Driver, sc.DSN)
	return nil
}

// Disconnect closes the source database
func (sc *SourceConnector) Disconnect() {
	if sc.DB != nil {
		if err := sc.DB.Close(); err != nil {
			sc.Logger.Errorf("Error closing source database: %v", err)
		} else {
			sc.Logger.Info("Source connection closed")
		}
	}
}

// Columns returns the column names of table in declaration order.
// A missing table yields an empty list.
func (sc *SourceConnector) Columns(ctx context.Context, table string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch sc.Driver {
	case DriverMySQL:
		rows, err = sc.DB.QueryContext(ctx, `
			SELECT column_name
			FROM information_schema.columns
			WHERE table_schema = DATABASE()
			AND table_name = ?
			ORDER BY ordinal_position
		`, table)
	default:
		rows, err = sc.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sc.quote(table)))
	}
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		if sc.Driver == DriverMySQL {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("scan column of %s: %w", table, err)
			}
			columns = append(columns, name)
			continue
		}

		// cid, name, type, notnull, dflt_value, pk
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	return columns, nil
}

// ReadRows reads every row of table with values in the order of columns
func (sc *SourceConnector) ReadRows(ctx context.Context, table string, columns []string) ([][]interface{}, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns given for %s", table)
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = sc.quote(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), sc.quote(table))

	rows, err := sc.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	textColumns, err := sc.textColumns(rows)
	if err != nil {
		return nil, fmt.Errorf("column types of %s: %w", table, err)
	}

	var result [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan %s row %d: %w", table, len(result)+1, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && textColumns[i] {
				values[i] = string(b)
			}
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	sc.Logger.Debugf("Read %d rows from %s", len(result), table)
	return result, nil
}

// textColumns marks result columns whose []byte values are really text.
// go-sql-driver/mysql returns most non-integer types as raw bytes; SQLite already
// distinguishes TEXT from BLOB so nothing is marked there.
func (sc *SourceConnector) textColumns(rows *sql.Rows) ([]bool, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	marks := make([]bool, len(types))
	if sc.Driver != DriverMySQL {
		return marks, nil
	}
	for i, ct := range types {
		marks[i] = !isBinaryType(ct.DatabaseTypeName())
	}
	return marks, nil
}

func isBinaryType(name string) bool {
	name = strings.ToUpper(name)
	return strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY") || name == "BIT" || name == "GEOMETRY"
}

// quote quotes an identifier for the source dialect
func (sc *SourceConnector) quote(ident string) string {
	if sc.Driver == DriverMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
