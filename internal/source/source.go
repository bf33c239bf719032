// Package source defines the extraction side of the pipeline: a Source
// yields raw billing rows of arbitrary, provider-specific shape from an
// object-storage export.
package source

import (
	"context"
	"fmt"
	"time"

	"cloudcost-etl/pkg/costmodel"
)

// RawRecord is one row of a provider export, keyed by column name. The
// shape is owned by the upstream format and may gain columns across runs.
// Values are nil, bool, int64, float64, decimal.Decimal, string or
// time.Time.
type RawRecord map[string]any

// ExtractOptions bounds a single extraction.
type ExtractOptions struct {
	// MonthsBack selects how many month partitions to read, counting
	// backwards from Now. Minimum 1.
	MonthsBack int

	// ChunkRows caps the rows fetched per origin query. Sources must not
	// materialize more than one chunk in memory at a time.
	ChunkRows int

	// Now anchors the partition window. Zero means time.Now().UTC().
	Now time.Time
}

func (o ExtractOptions) withDefaults() ExtractOptions {
	if o.MonthsBack < 1 {
		o.MonthsBack = 1
	}
	if o.ChunkRows < 1 {
		o.ChunkRows = 100000
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	return o
}

// RowIterator is a finite, single-pass cursor over raw records. It is not
// restartable: a second pass requires a new Produce call, which re-reads
// the origin.
type RowIterator interface {
	// Next advances the iterator. It returns false at end of data or on
	// error; Err distinguishes the two.
	Next() bool

	// Row returns the current record. Valid only after Next returned true.
	Row() RawRecord

	Err() error
	Close() error
}

// Source is one cloud-billing export format. Implementations must
// document whether Produce streams in bounded chunks or materializes the
// full result, since the pipeline has no backpressure of its own.
type Source interface {
	// Name is a stable identifier used in destination table naming. It
	// must satisfy costmodel.ValidSourceName.
	Name() string

	// Provider is the cloud this source's records belong to.
	Provider() costmodel.CloudProvider

	// Produce opens a single-pass iterator over the export for the
	// configured time range. A returned error is always an
	// *ExtractionError and implies no rows were yielded.
	Produce(ctx context.Context, opts ExtractOptions) (RowIterator, error)
}

// ExtractionError signals that an origin was unreachable, credentials
// were rejected, or the source data itself was unreadable. It aborts the
// source with zero rows loaded.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for source %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// monthPartition is one year/month slice of a partitioned export.
type monthPartition struct {
	Year  int
	Month time.Month
}

// monthPartitions returns the partitions to read for a window, newest
// first, matching the layout year=YYYY/month=M used by CUR exports.
func monthPartitions(now time.Time, monthsBack int) []monthPartition {
	parts := make([]monthPartition, 0, monthsBack)
	cursor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < monthsBack; i++ {
		parts = append(parts, monthPartition{Year: cursor.Year(), Month: cursor.Month()})
		cursor = cursor.AddDate(0, -1, 0)
	}
	return parts
}
