package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	duckdb "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"
)

// StorageConfig holds the object-storage credentials handed to DuckDB's
// httpfs extension. Endpoint is optional and enables S3-compatible stores
// (GCS interop, MinIO).
type StorageConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Endpoint        string
}

// openDuckDB opens an in-memory DuckDB session with httpfs configured for
// the given store.
func openDuckDB(ctx context.Context, cfg StorageConfig) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	stmts := []string{
		"INSTALL httpfs",
		"LOAD httpfs",
		fmt.Sprintf("SET s3_region = '%s'", cfg.Region),
		fmt.Sprintf("SET s3_access_key_id = '%s'", cfg.AccessKeyID),
		fmt.Sprintf("SET s3_secret_access_key = '%s'", cfg.SecretAccessKey),
	}
	if cfg.Endpoint != "" {
		stmts = append(stmts,
			fmt.Sprintf("SET s3_endpoint = '%s'", cfg.Endpoint),
			"SET s3_url_style = 'path'",
		)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure duckdb httpfs: %w", err)
		}
	}
	return db, nil
}

// countGlob returns how many objects match a glob pattern. Used as a
// preflight so an unreachable or empty origin fails before any rows are
// yielded.
func countGlob(ctx context.Context, db *sql.DB, pattern string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT count(*) FROM glob('%s')", pattern)
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", pattern, err)
	}
	return count, nil
}

// partitionQuery is one origin query the iterator pages through.
type partitionQuery struct {
	label string // for logging, e.g. "2026-07"
	sql   string // SELECT without LIMIT/OFFSET
}

// chunkIterator pages through a list of partition queries with
// LIMIT/OFFSET, holding at most one chunk's rows handle at a time. Rows
// within a chunk are streamed off the driver cursor, so peak memory is
// bounded by ChunkRows.
type chunkIterator struct {
	ctx       context.Context
	db        *sql.DB
	source    string
	queries   []partitionQuery
	chunkRows int

	part    int
	offset  int
	rows    *sql.Rows
	cols    []string
	inChunk int

	current RawRecord
	err     error
	closed  bool
}

func newChunkIterator(ctx context.Context, db *sql.DB, sourceName string, queries []partitionQuery, chunkRows int) *chunkIterator {
	return &chunkIterator{
		ctx:       ctx,
		db:        db,
		source:    sourceName,
		queries:   queries,
		chunkRows: chunkRows,
	}
}

func (it *chunkIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	for {
		if it.rows == nil {
			if !it.openChunk() {
				return false
			}
		}
		if it.rows.Next() {
			record, err := scanRecord(it.rows, it.cols)
			if err != nil {
				it.fail(err)
				return false
			}
			it.current = record
			it.inChunk++
			return true
		}
		if err := it.rows.Err(); err != nil {
			it.fail(err)
			return false
		}
		it.rows.Close()
		it.rows = nil

		// A short chunk means the partition is exhausted.
		if it.inChunk < it.chunkRows {
			it.part++
			it.offset = 0
		} else {
			it.offset += it.chunkRows
		}
	}
}

// openChunk issues the next LIMIT/OFFSET query. Returns false when all
// partitions are exhausted or on error.
func (it *chunkIterator) openChunk() bool {
	if it.part >= len(it.queries) {
		return false
	}
	q := it.queries[it.part]
	chunkSQL := fmt.Sprintf("SELECT * FROM (%s) LIMIT %d OFFSET %d", q.sql, it.chunkRows, it.offset)

	rows, err := it.db.QueryContext(it.ctx, chunkSQL)
	if err != nil {
		it.fail(fmt.Errorf("chunk query failed for partition %s: %w", q.label, err))
		return false
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		it.fail(fmt.Errorf("failed to read columns for partition %s: %w", q.label, err))
		return false
	}
	if it.offset == 0 {
		slog.Debug("reading partition", "source", it.source, "partition", q.label)
	}
	it.rows = rows
	it.cols = cols
	it.inChunk = 0
	return true
}

func (it *chunkIterator) fail(err error) {
	it.err = &ExtractionError{Source: it.source, Err: err}
	if it.rows != nil {
		it.rows.Close()
		it.rows = nil
	}
}

func (it *chunkIterator) Row() RawRecord { return it.current }

func (it *chunkIterator) Err() error { return it.err }

func (it *chunkIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.rows != nil {
		it.rows.Close()
		it.rows = nil
	}
	return it.db.Close()
}

// scanRecord reads the current row into a RawRecord, flattening
// driver-specific values into the plain types RawRecord promises.
func scanRecord(rows *sql.Rows, cols []string) (RawRecord, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	record := make(RawRecord, len(cols))
	for i, col := range cols {
		record[col] = flattenValue(values[i])
	}
	return record, nil
}

// flattenValue converts what the DuckDB driver hands back into the value
// types downstream coercion and the warehouse drivers can bind. DECIMAL
// parquet columns scan as the driver's decimal struct and HUGEINT as a
// big.Int; anything else unrecognized falls back to its string rendition.
func flattenValue(v any) any {
	switch val := v.(type) {
	case nil, bool, int64, float64, string:
		return v
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC()
	case duckdb.Decimal:
		return decimal.NewFromBigInt(val.Value, -int32(val.Scale))
	case *big.Int:
		return decimal.NewFromBigInt(val, 0)
	default:
		return fmt.Sprint(v)
	}
}
