package source

import (
	"context"
	"fmt"
	"log/slog"

	"cloudcost-etl/pkg/costmodel"
)

// CUR exports carry the filter columns under these names once Athena/Glue
// friendly naming is enabled.
const (
	curAccountColumn = "line_item_usage_account_id"
	curRegionColumn  = "product_region"
)

// CURSource reads an AWS Cost & Usage Report parquet export from S3
// through an embedded DuckDB session. Extraction is chunked: Produce
// never materializes more than ExtractOptions.ChunkRows rows at a time,
// so memory is bounded by chunk size, not export size.
type CURSource struct {
	storage  StorageConfig
	path     string // S3 prefix, e.g. "cup/CUP-Cost-Usage-Report/"
	name     string
	accounts AccountFilter
}

// NewCURSource builds a CUR source for one report path prefix. The table
// name is derived from the prefix unless it has already been decided by
// the caller.
func NewCURSource(storage StorageConfig, path string, accounts AccountFilter) (*CURSource, error) {
	name := costmodel.TableNameFromPath(path)
	if !costmodel.ValidSourceName(name) {
		return nil, fmt.Errorf("path %q yields invalid source name %q", path, name)
	}
	return &CURSource{
		storage:  storage,
		path:     path,
		name:     name,
		accounts: accounts,
	}, nil
}

func (s *CURSource) Name() string { return s.name }

func (s *CURSource) Provider() costmodel.CloudProvider { return costmodel.AWS }

// URI returns the glob covering the whole report prefix.
func (s *CURSource) URI() string {
	return fmt.Sprintf("s3://%s/%s**/*.parquet", s.storage.Bucket, s.path)
}

// partitionURI returns the glob for one year=/month= partition.
func (s *CURSource) partitionURI(p monthPartition) string {
	return fmt.Sprintf("s3://%s/%syear=%d/month=%d/*.parquet",
		s.storage.Bucket, s.path, p.Year, int(p.Month))
}

// Produce opens a chunked iterator over the configured month partitions.
// Partitions with no objects are skipped; an origin that is unreachable
// or entirely empty fails with an ExtractionError before any row is
// yielded.
func (s *CURSource) Produce(ctx context.Context, opts ExtractOptions) (RowIterator, error) {
	opts = opts.withDefaults()

	db, err := openDuckDB(ctx, s.storage)
	if err != nil {
		return nil, &ExtractionError{Source: s.name, Err: err}
	}

	where := s.accounts.WhereClause(curAccountColumn, curRegionColumn)
	partitions := monthPartitions(opts.Now, opts.MonthsBack)

	var queries []partitionQuery
	for _, p := range partitions {
		uri := s.partitionURI(p)
		count, err := countGlob(ctx, db, uri)
		if err != nil {
			db.Close()
			return nil, &ExtractionError{Source: s.name, Err: err}
		}
		if count == 0 {
			slog.Warn("no parquet files in partition", "source", s.name, "year", p.Year, "month", int(p.Month))
			continue
		}
		slog.Info("partition preflight", "source", s.name, "year", p.Year, "month", int(p.Month), "files", count)

		sql := fmt.Sprintf("SELECT * FROM read_parquet('%s', union_by_name=true)", uri)
		if where != "" {
			sql += " " + where
		}
		queries = append(queries, partitionQuery{
			label: fmt.Sprintf("%d-%02d", p.Year, int(p.Month)),
			sql:   sql,
		})
	}

	if len(queries) == 0 {
		db.Close()
		return nil, &ExtractionError{
			Source: s.name,
			Err:    fmt.Errorf("no parquet files found under %s for the requested window", s.URI()),
		}
	}

	return newChunkIterator(ctx, db, s.name, queries, opts.ChunkRows), nil
}
