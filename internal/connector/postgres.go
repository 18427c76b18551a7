package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

// PostgresConnector holds the single destination connection used for the whole run
type PostgresConnector struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
	Tunnel   *SSHTunnel
	Conn     *pgx.Conn
	Logger   *logrus.Logger
}

// NewPostgresConnector creates a new destination connector, filling blanks from the environment
func NewPostgresConnector(host, user, password, database, port string, logger *logrus.Logger) *PostgresConnector {
	if host == "" {
		host = getEnvOrDefault("RECORDER_MIGRATE_DESTINATION_HOST", "localhost")
	}
	if user == "" {
		user = getEnvOrDefault("RECORDER_MIGRATE_DESTINATION_USER", "homeassistant")
	}
	if password == "" {
		password = getEnvOrDefault("RECORDER_MIGRATE_DESTINATION_PASSWORD", "")
	}
	if database == "" {
		database = getEnvOrDefault("RECORDER_MIGRATE_DESTINATION_DATABASE", "")
	}
	if port == "" {
		port = getEnvOrDefault("RECORDER_MIGRATE_DESTINATION_PORT", "5432")
	}

	return &PostgresConnector{
		Host:     host,
		Port:     port,
		Database: database,
		User:     user,
		Password: password,
		SSLMode:  "prefer",
		Logger:   logger,
	}
}

// ConnString builds a keyword/value connection string with quoted values
func (pc *PostgresConnector) ConnString() string {
	parts := []string{
		"host=" + connValue(pc.Host),
		"port=" + connValue(pc.Port),
		"dbname=" + connValue(pc.Database),
		"user=" + connValue(pc.User),
	}
	if pc.Password != "" {
		parts = append(parts, "password="+connValue(pc.Password))
	}
	if pc.SSLMode != "" {
		parts = append(parts, "sslmode="+connValue(pc.SSLMode))
	}
	return strings.Join(parts, " ")
}

// Connect establishes the destination connection, through the SSH tunnel when one is configured
func (pc *PostgresConnector) Connect(ctx context.Context) error {
	if pc.Database == "" {
		return fmt.Errorf("destination database name must be provided")
	}
	if _, err := strconv.Atoi(pc.Port); err != nil {
		return fmt.Errorf("invalid destination port %q", pc.Port)
	}

	cfg, err := pgx.ParseConfig(pc.ConnString())
	if err != nil {
		return fmt.Errorf("parse destination config: %w", err)
	}
	if pc.Tunnel != nil {
		if err := pc.Tunnel.Open(); err != nil {
			return err
		}
		cfg.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return pc.Tunnel.DialContext(ctx, network, addr)
		}
		// the server is only reachable from the far side of the tunnel
		cfg.LookupFunc = func(ctx context.Context, host string) ([]string, error) {
			return []string{host}, nil
		}
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		pc.Logger.Errorf("Error connecting to PostgreSQL: %v", err)
		return err
	}

	pc.Conn = conn
	pc.Logger.Infof("Connected to PostgreSQL database: %s@%s:%s", pc.Database, pc.Host, pc.Port)
	return nil
}

// Disconnect closes the destination connection and the tunnel
func (pc *PostgresConnector) Disconnect() {
	if pc.Conn != nil {
		if err := pc.Conn.Close(context.Background()); err != nil {
			pc.Logger.Errorf("Error closing PostgreSQL connection: %v", err)
		} else {
			pc.Logger.Info("PostgreSQL connection closed")
		}
	}
	if pc.Tunnel != nil {
		pc.Tunnel.Close()
	}
}

// DisableConstraints stops foreign key triggers from firing for this session
func (pc *PostgresConnector) DisableConstraints(ctx context.Context) error {
	if _, err := pc.Conn.Exec(ctx, "SET session_replication_role = 'replica'"); err != nil {
		return fmt.Errorf("disable foreign key checks: %w", describePgError(err))
	}
	return nil
}

// EnableConstraints restores normal foreign key enforcement for this session
func (pc *PostgresConnector) EnableConstraints(ctx context.Context) error {
	if _, err := pc.Conn.Exec(ctx, "SET session_replication_role = 'origin'"); err != nil {
		return fmt.Errorf("enable foreign key checks: %w", describePgError(err))
	}
	return nil
}

// CopyCSV loads a header-plus-rows CSV stream into table within one transaction.
// Either every row is committed or none is.
func (pc *PostgresConnector) CopyCSV(ctx context.Context, table string, columns []string, nullMarker string, r io.Reader) (int64, error) {
	tx, err := pc.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin copy into %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Conn().PgConn().CopyFrom(ctx, r, CopyStatement(table, columns, nullMarker))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, describePgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit copy into %s: %w", table, describePgError(err))
	}
	return tag.RowsAffected(), nil
}

// InsertRows inserts rows one at a time inside a single transaction. Each row runs in
// its own savepoint, so a rejected row is rolled back alone and the rest are kept.
// onError is called for every rejected row.
func (pc *PostgresConnector) InsertRows(ctx context.Context, table string, columns []string, rows [][]interface{}, onError func(index int, err error)) (int64, error) {
	tx, err := pc.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	query := InsertStatement(table, columns)
	var inserted int64
	for i, row := range rows {
		if err := insertRow(ctx, tx, query, row); err != nil {
			if onError != nil {
				onError(i, describePgError(err))
			}
			continue
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", table, describePgError(err))
	}
	return inserted, nil
}

func insertRow(ctx context.Context, tx pgx.Tx, query string, row []interface{}) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := sp.Exec(ctx, query, row...); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

// Columns returns the column names of a destination table in ordinal order
func (pc *PostgresConnector) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := pc.Conn.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	return columns, nil
}

// ForeignKeys returns every foreign key declared in the current schema
func (pc *PostgresConnector) ForeignKeys(ctx context.Context) ([]models.ForeignKey, error) {
	rows, err := pc.Conn.Query(ctx, `
		SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name AS referenced_table_name,
			ccu.column_name AS referenced_column_name,
			tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = current_schema()
		ORDER BY tc.table_name, kcu.column_name
	`)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	fks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ForeignKey, error) {
		var fk models.ForeignKey
		err := row.Scan(&fk.Table, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName)
		return fk, err
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	return fks, nil
}

// PrimaryKeys returns the primary key columns of a destination table
func (pc *PostgresConnector) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	rows, err := pc.Conn.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::text::regclass AND i.indisprimary
		ORDER BY a.attnum
	`, QuoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("primary key of %s: %w", table, describePgError(err))
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("primary key of %s: %w", table, describePgError(err))
	}
	return keys, nil
}

// MaxValue returns MAX(column) over table, nil for an empty table
func (pc *PostgresConnector) MaxValue(ctx context.Context, table, column string) (interface{}, error) {
	var max interface{}
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", QuoteIdent(column), QuoteIdent(table))
	if err := pc.Conn.QueryRow(ctx, query).Scan(&max); err != nil {
		return nil, fmt.Errorf("max %s of %s: %w", column, table, describePgError(err))
	}
	return max, nil
}

// ResetSequence makes the sequence owned by table.column hand out next as its following value.
// It reports false when the column has no owned sequence.
func (pc *PostgresConnector) ResetSequence(ctx context.Context, table, column string, next int64) (bool, error) {
	var sequence *string
	err := pc.Conn.QueryRow(ctx, "SELECT pg_get_serial_sequence($1, $2)", QuoteIdent(table), column).Scan(&sequence)
	if err != nil {
		return false, fmt.Errorf("sequence of %s.%s: %w", table, column, describePgError(err))
	}
	if sequence == nil {
		return false, nil
	}
	if _, err := pc.Conn.Exec(ctx, "SELECT setval($1::text::regclass, $2, false)", *sequence, next); err != nil {
		return false, fmt.Errorf("reset %s: %w", *sequence, describePgError(err))
	}
	return true, nil
}

// QuoteIdent quotes a single PostgreSQL identifier
func QuoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// CopyStatement builds the COPY ... FROM STDIN statement for a CSV stream with a header line
func CopyStatement(table string, columns []string, nullMarker string) string {
	return fmt.Sprintf(
		"COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER true, NULL %s)",
		QuoteIdent(table),
		strings.Join(quoteIdents(columns), ", "),
		quoteLiteral(nullMarker),
	)
}

// InsertStatement builds a parameterized INSERT for table with one placeholder per column
func InsertStatement(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table),
		strings.Join(quoteIdents(columns), ", "),
		strings.Join(placeholders, ", "),
	)
}

func quoteIdents(idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = QuoteIdent(id)
	}
	return out
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// connValue quotes a value for a keyword/value connection string
func connValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// describePgError adds the server detail and SQLSTATE to PostgreSQL errors
func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s, SQLSTATE %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}
