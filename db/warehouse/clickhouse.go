package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"cloudcost-etl/pkg/costmodel"
)

// ClickHouseConfig holds the analytics destination settings. The target
// database plays the role of the schema namespace.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// ClickHouse implements Store on the native protocol. Batches map onto
// PrepareBatch/Send, which commits a batch as one insert block; there is
// no cross-batch transaction, matching the one-commit-per-batch model.
type ClickHouse struct {
	conn driver.Conn
	cfg  ClickHouseConfig
}

// NewClickHouse connects against the default database so EnsureSchema
// can create the target database on first run; all relations are
// qualified with the configured database.
func NewClickHouse(cfg ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return &ClickHouse{conn: conn, cfg: cfg}, nil
}

func (c *ClickHouse) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *ClickHouse) Close() error { return c.conn.Close() }

func (c *ClickHouse) qualified(table string) string {
	return fmt.Sprintf("`%s`.`%s`", c.cfg.Database, table)
}

func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", c.cfg.Database)); err != nil {
		return fmt.Errorf("failed to ensure database %s: %w", c.cfg.Database, err)
	}
	return nil
}

func (c *ClickHouse) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT name FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position
	`, c.cfg.Database, table)
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

func chType(t ColumnType) string {
	switch t {
	case TypeBigInt:
		return "Int64"
	case TypeDouble:
		return "Float64"
	case TypeBool:
		return "Bool"
	case TypeTimestamp:
		return "DateTime64(6, 'UTC')"
	case TypeDate:
		return "Date"
	case TypeDecimal:
		return "Decimal(38, 12)"
	default:
		return "String"
	}
}

func (c *ClickHouse) CreateTable(ctx context.Context, table string, cols []Column) error {
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = fmt.Sprintf("`%s` Nullable(%s)", col.Name, chType(col.Type))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY tuple()",
		c.qualified(table), strings.Join(defs, ", "))
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func (c *ClickHouse) AddColumns(ctx context.Context, table string, cols []Column) error {
	for _, col := range cols {
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS `%s` Nullable(%s)",
			c.qualified(table), col.Name, chType(col.Type))
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", col.Name, table, err)
		}
	}
	return nil
}

func (c *ClickHouse) InsertBatch(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = "`" + col + "`"
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)",
		c.qualified(table), strings.Join(quoted, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", table, err)
	}
	for i, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(cols))
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch for %s: %w", table, err)
	}
	return nil
}

func (c *ClickHouse) EnsureNormalizedTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date Date,
			account_id String,
			service String,
			region Nullable(String),
			cost Decimal(38, 12),
			currency String,
			cloud_provider String,
			source_table String,
			sync_timestamp DateTime64(6, 'UTC')
		) ENGINE = MergeTree ORDER BY (date, account_id)`, c.qualified(table))
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create normalized table %s: %w", table, err)
	}
	return nil
}

func (c *ClickHouse) InsertNormalizedBatch(ctx context.Context, table string, records []costmodel.NormalizedRecord) error {
	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = rec.Values()
	}
	return c.InsertBatch(ctx, table, costmodel.NormalizedColumns, rows)
}

func (c *ClickHouse) EnsureSyncLog(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID,
			sync_timestamp DateTime64(6, 'UTC'),
			source_name String,
			rows_loaded Nullable(Int64),
			status String,
			error_message Nullable(String),
			duration_seconds Float64
		) ENGINE = MergeTree ORDER BY sync_timestamp`, c.qualified("sync_log"))
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create sync_log: %w", err)
	}
	return nil
}

func (c *ClickHouse) RecordSync(ctx context.Context, entry SyncLogEntry) error {
	var rowsLoaded any
	if entry.RowsLoaded.Valid {
		rowsLoaded = entry.RowsLoaded.Int64
	}
	var errorMessage any
	if entry.ErrorMessage.Valid {
		errorMessage = entry.ErrorMessage.String
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, sync_timestamp, source_name, rows_loaded, status, error_message, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, c.qualified("sync_log"))
	if err := c.conn.Exec(ctx, query,
		entry.ID, entry.SyncTimestamp, entry.SourceName,
		rowsLoaded, entry.Status, errorMessage, entry.DurationSeconds); err != nil {
		return fmt.Errorf("failed to record sync for %s: %w", entry.SourceName, err)
	}
	return nil
}

func (c *ClickHouse) RefreshCostsView(ctx context.Context) ([]string, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT name FROM system.tables
		WHERE database = ? AND engine != 'View' AND name LIKE '%\_normalized'
		ORDER BY name
	`, c.cfg.Database)
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
			strings.Join(costmodel.NormalizedColumns, ", "), c.qualified(table))
	}
	ddl := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s",
		c.qualified("costs"), strings.Join(selects, " UNION ALL "))
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to refresh costs view: %w", err)
	}
	return tables, nil
}
