package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"cloudcost-etl/pkg/costmodel"
)

// PostgresConfig holds the connection settings for the operational
// warehouse.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	Schema   string
}

// DSN renders the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// Postgres implements Store against PostgreSQL. One connection pool is
// held for the duration of a run; concurrent runs against the same
// schema are not supported.
type Postgres struct {
	db  *sql.DB
	cfg PostgresConfig
}

// NewPostgres opens and verifies the connection.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db, cfg: cfg}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error { return p.db.Close() }

// Version returns the server version string, for the connection test.
func (p *Postgres) Version(ctx context.Context) (string, error) {
	var version string
	if err := p.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query version: %w", err)
	}
	return version, nil
}

func (p *Postgres) qualified(table string) string {
	return pq.QuoteIdentifier(p.cfg.Schema) + "." + pq.QuoteIdentifier(table)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(p.cfg.Schema))
	if err != nil {
		return fmt.Errorf("failed to ensure schema %s: %w", p.cfg.Schema, err)
	}
	return nil
}

func (p *Postgres) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, p.cfg.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func pgType(t ColumnType) string {
	switch t {
	case TypeBigInt:
		return "BIGINT"
	case TypeDouble:
		return "DOUBLE PRECISION"
	case TypeBool:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMPTZ"
	case TypeDate:
		return "DATE"
	case TypeDecimal:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func (p *Postgres) CreateTable(ctx context.Context, table string, cols []Column) error {
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = pq.QuoteIdentifier(col.Name) + " " + pgType(col.Type)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", p.qualified(table), strings.Join(defs, ", "))
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) AddColumns(ctx context.Context, table string, cols []Column) error {
	for _, col := range cols {
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			p.qualified(table), pq.QuoteIdentifier(col.Name), pgType(col.Type))
		if _, err := p.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", col.Name, table, err)
		}
	}
	return nil
}

// maxParams stays under PostgreSQL's 65535 bind-parameter ceiling per
// statement. One batch may span several statements but always one
// transaction.
const maxParams = 60000

func (p *Postgres) InsertBatch(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rowsPerStmt := maxParams / len(cols)
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}
	for start := 0; start < len(rows); start += rowsPerStmt {
		end := start + rowsPerStmt
		if end > len(rows) {
			end = len(rows)
		}
		if err := p.insertValues(ctx, tx, table, cols, rows[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch for %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) insertValues(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(cols))
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", p.qualified(table), strings.Join(quoted, ", "))
	for r, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("row %d has %d values, want %d", r, len(row), len(cols))
		}
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := range cols {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", r*len(cols)+c+1)
		}
		sb.WriteString(")")
		args = append(args, row...)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert %d rows into %s: %w", len(rows), table, err)
	}
	return nil
}

func (p *Postgres) EnsureNormalizedTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date DATE NOT NULL,
			account_id TEXT NOT NULL,
			service TEXT NOT NULL,
			region TEXT,
			cost NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			cloud_provider TEXT NOT NULL,
			source_table TEXT NOT NULL,
			sync_timestamp TIMESTAMPTZ NOT NULL
		)`, p.qualified(table))
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create normalized table %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) InsertNormalizedBatch(ctx context.Context, table string, records []costmodel.NormalizedRecord) error {
	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = rec.Values()
	}
	return p.InsertBatch(ctx, table, costmodel.NormalizedColumns, rows)
}

func (p *Postgres) EnsureSyncLog(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			sync_timestamp TIMESTAMPTZ NOT NULL,
			source_name TEXT NOT NULL,
			rows_loaded BIGINT,
			status TEXT NOT NULL,
			error_message TEXT,
			duration_seconds DOUBLE PRECISION NOT NULL
		)`, p.qualified("sync_log"))
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create sync_log: %w", err)
	}

	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS sync_log_sync_timestamp_idx ON %s (sync_timestamp DESC)",
		p.qualified("sync_log"))
	if _, err := p.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("failed to index sync_log: %w", err)
	}
	return nil
}

func (p *Postgres) RecordSync(ctx context.Context, entry SyncLogEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, sync_timestamp, source_name, rows_loaded, status, error_message, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.qualified("sync_log"))
	_, err := p.db.ExecContext(ctx, query,
		entry.ID, entry.SyncTimestamp, entry.SourceName,
		entry.RowsLoaded, entry.Status, entry.ErrorMessage, entry.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to record sync for %s: %w", entry.SourceName, err)
	}
	return nil
}

func (p *Postgres) RefreshCostsView(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		  AND table_name LIKE '%\_normalized' ESCAPE '\'
		ORDER BY table_name
	`, p.cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list normalized tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, nil
	}

	selects := make([]string, len(tables))
	for i, table := range tables {
		selects[i] = fmt.Sprintf("SELECT %s FROM %s",
			strings.Join(costmodel.NormalizedColumns, ", "), p.qualified(table))
	}
	ddl := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s",
		p.qualified("costs"), strings.Join(selects, " UNION ALL "))
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to refresh costs view: %w", err)
	}
	return tables, nil
}
