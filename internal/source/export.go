package source

import (
	"context"
	"fmt"

	"cloudcost-etl/pkg/costmodel"
)

// ExportFormat is the file format of a staged billing export.
type ExportFormat string

const (
	FormatParquet ExportFormat = "parquet"
	FormatCSV     ExportFormat = "csv"
)

// BillingExportSource reads a generic billing export staged under an
// S3-compatible prefix: GCP or Azure cost exports copied to a bucket, or
// any flat parquet/CSV drop. Unlike CURSource it is not month-partitioned;
// the whole prefix is read each run, chunked. Narrow the prefix to bound
// a run.
type BillingExportSource struct {
	storage  StorageConfig
	path     string
	name     string
	provider costmodel.CloudProvider
	format   ExportFormat
}

// NewBillingExportSource builds a source over one export prefix.
func NewBillingExportSource(storage StorageConfig, path, name string, provider costmodel.CloudProvider, format ExportFormat) (*BillingExportSource, error) {
	if name == "" {
		name = costmodel.TableNameFromPath(path)
	}
	if !costmodel.ValidSourceName(name) {
		return nil, fmt.Errorf("invalid source name %q", name)
	}
	switch format {
	case FormatParquet, FormatCSV:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	return &BillingExportSource{
		storage:  storage,
		path:     path,
		name:     name,
		provider: provider,
		format:   format,
	}, nil
}

func (s *BillingExportSource) Name() string { return s.name }

func (s *BillingExportSource) Provider() costmodel.CloudProvider { return s.provider }

// URI returns the glob covering the export prefix.
func (s *BillingExportSource) URI() string {
	ext := "parquet"
	if s.format == FormatCSV {
		ext = "csv"
	}
	return fmt.Sprintf("s3://%s/%s**/*.%s", s.storage.Bucket, s.path, ext)
}

func (s *BillingExportSource) readFunc() string {
	if s.format == FormatCSV {
		return fmt.Sprintf("read_csv_auto('%s', union_by_name=true)", s.URI())
	}
	return fmt.Sprintf("read_parquet('%s', union_by_name=true)", s.URI())
}

// Produce opens a chunked iterator over the export. Fails with an
// ExtractionError when the prefix is unreachable or empty.
func (s *BillingExportSource) Produce(ctx context.Context, opts ExtractOptions) (RowIterator, error) {
	opts = opts.withDefaults()

	db, err := openDuckDB(ctx, s.storage)
	if err != nil {
		return nil, &ExtractionError{Source: s.name, Err: err}
	}

	count, err := countGlob(ctx, db, s.URI())
	if err != nil {
		db.Close()
		return nil, &ExtractionError{Source: s.name, Err: err}
	}
	if count == 0 {
		db.Close()
		return nil, &ExtractionError{
			Source: s.name,
			Err:    fmt.Errorf("no %s files found under %s", s.format, s.URI()),
		}
	}

	queries := []partitionQuery{{
		label: s.path,
		sql:   "SELECT * FROM " + s.readFunc(),
	}}
	return newChunkIterator(ctx, db, s.name, queries, opts.ChunkRows), nil
}
