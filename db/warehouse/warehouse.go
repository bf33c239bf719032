// Package warehouse owns all destination-side state: table lifecycle,
// batched writes, the unified costs view and the sync audit log. Two
// Store implementations exist, PostgreSQL for the operational warehouse
// and ClickHouse for columnar analytics.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cloudcost-etl/internal/source"
	"cloudcost-etl/pkg/costmodel"
)

// ColumnType is the destination-agnostic type of a raw column. Each
// store maps these onto its own DDL types.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeBigInt
	TypeDouble
	TypeBool
	TypeTimestamp
	TypeDate
	TypeDecimal
)

// Column describes one destination column.
type Column struct {
	Name string
	Type ColumnType
}

// Sync statuses recorded in sync_log.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// SyncLogEntry is one append-only audit record per (source, run).
type SyncLogEntry struct {
	ID              uuid.UUID
	SyncTimestamp   time.Time
	SourceName      string
	RowsLoaded      sql.NullInt64
	Status          string
	ErrorMessage    sql.NullString
	DurationSeconds float64
}

// Store is the destination contract. Raw tables are additive-schema:
// implementations may add nullable columns but never drop or narrow one.
//
// Loads are append-only in this version. Deduplication needs a natural
// key (bill ID + line item ID + usage date or similar) that the upstream
// exports do not guarantee; when one is agreed, the extension point is a
// conflict clause inside InsertBatch, not a new interface.
type Store interface {
	Ping(ctx context.Context) error

	// EnsureSchema creates the destination namespace if absent.
	EnsureSchema(ctx context.Context) error

	// TableColumns returns the existing column names of a table, empty
	// when the table does not exist.
	TableColumns(ctx context.Context, table string) ([]string, error)

	// CreateTable creates a table with the given nullable columns.
	CreateTable(ctx context.Context, table string, cols []Column) error

	// AddColumns extends an existing table with nullable columns.
	AddColumns(ctx context.Context, table string, cols []Column) error

	// InsertBatch writes one batch of rows in a single transaction (or
	// the closest native equivalent). It either commits all rows or none.
	InsertBatch(ctx context.Context, table string, cols []string, rows [][]any) error

	// EnsureNormalizedTable creates a {source}_normalized table with the
	// fixed costmodel schema.
	EnsureNormalizedTable(ctx context.Context, table string) error

	// InsertNormalizedBatch appends normalized records. Re-loading the
	// same records yields duplicate rows by design.
	InsertNormalizedBatch(ctx context.Context, table string, records []costmodel.NormalizedRecord) error

	EnsureSyncLog(ctx context.Context) error
	RecordSync(ctx context.Context, entry SyncLogEntry) error

	// RefreshCostsView recomputes the costs view as the union-all of
	// every *_normalized table found in the catalog, returning the
	// contributing table names. With no contributing tables it is a
	// no-op.
	RefreshCostsView(ctx context.Context) ([]string, error)

	Close() error
}

// LoadError wraps a destination DDL/DML failure after retries.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed for table %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// EnsureTable reconciles a table with a batch's column set: create when
// absent, extend additively when the batch introduces new columns, no
// DDL at all when the shapes already agree.
func EnsureTable(ctx context.Context, s Store, table string, cols []Column) error {
	existing, err := s.TableColumns(ctx, table)
	if err != nil {
		return &LoadError{Table: table, Err: err}
	}
	if len(existing) == 0 {
		if err := s.CreateTable(ctx, table, cols); err != nil {
			return &LoadError{Table: table, Err: err}
		}
		slog.Info("created table", "table", table, "columns", len(cols))
		return nil
	}

	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	var missing []Column
	for _, col := range cols {
		if !have[col.Name] {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.AddColumns(ctx, table, missing); err != nil {
		return &LoadError{Table: table, Err: err}
	}
	slog.Info("extended table", "table", table, "new_columns", len(missing))
	return nil
}

// LoadBatch writes one batch with a single retry. The batch is the unit
// of atomicity: a failure aborts the whole batch, the retry replays the
// identical batch, and a second failure escalates as a LoadError.
func LoadBatch(ctx context.Context, s Store, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.InsertBatch(ctx, table, cols, rows)
	if err == nil {
		return nil
	}
	slog.Warn("batch insert failed, retrying once", "table", table, "rows", len(rows), "error", err)
	if err := s.InsertBatch(ctx, table, cols, rows); err != nil {
		return &LoadError{Table: table, Err: err}
	}
	return nil
}

// BatchColumns computes the cleaned, sorted column set of a raw batch
// with inferred types. Conflicting value types across rows degrade to
// text rather than failing the batch.
func BatchColumns(batch []source.RawRecord) []Column {
	types := make(map[string]ColumnType)
	hasValue := make(map[string]bool)
	for _, rec := range batch {
		for rawName, v := range rec {
			name := costmodel.CleanColumnName(rawName)
			t, known := inferType(v)
			if _, exists := types[name]; !exists {
				types[name] = t
				hasValue[name] = known
				continue
			}
			if !known {
				continue
			}
			if !hasValue[name] {
				// Null-only so far; upgrade to the first real type.
				types[name] = t
				hasValue[name] = true
				continue
			}
			if types[name] != t {
				types[name] = TypeText
			}
		}
	}
	return sortedColumns(types)
}

func inferType(v any) (ColumnType, bool) {
	switch v.(type) {
	case nil:
		return TypeText, false
	case bool:
		return TypeBool, true
	case int, int32, int64:
		return TypeBigInt, true
	case float32, float64:
		return TypeDouble, true
	case decimal.Decimal:
		return TypeDecimal, true
	case time.Time:
		return TypeTimestamp, true
	default:
		return TypeText, true
	}
}

// RowValues aligns one raw record to a batch's column list, with nils
// for columns the record lacks.
func RowValues(rec source.RawRecord, cols []Column) []any {
	cleaned := make(map[string]any, len(rec))
	for k, v := range rec {
		cleaned[costmodel.CleanColumnName(k)] = v
	}
	values := make([]any, len(cols))
	for i, col := range cols {
		if v, ok := cleaned[col.Name]; ok {
			values[i] = normalizeValue(v)
		}
	}
	return values
}

// normalizeValue flattens values to plain Go types the stores can bind.
// Decimals stay decimals: both drivers bind decimal.Decimal natively.
// Anything unrecognized binds as its string rendition, matching the text
// column inferType assigns it.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, time.Time, decimal.Decimal:
		return v
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return fmt.Sprint(v)
	}
}

// ColumnNames projects a column list to its names.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func sortedColumns(types map[string]ColumnType) []Column {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Type: types[name]}
	}
	return cols
}
