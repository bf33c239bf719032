// Package pipeline sequences the sync run: for each configured source,
// extract, normalize and load, then refresh the unified view and record
// an audit entry. Sources are processed one at a time; a failing source
// never blocks the ones after it.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cloudcost-etl/db/warehouse"
	"cloudcost-etl/internal/normalize"
	"cloudcost-etl/internal/source"
	"cloudcost-etl/pkg/costmodel"
)

// State tracks a source through one run. Terminal states feed exactly
// one sync_log entry.
type State string

const (
	StatePending         State = "pending"
	StateExtracting      State = "extracting"
	StateExtractFailed   State = "extract_failed"
	StateNormalizing     State = "normalizing"
	StateNormalizeFailed State = "normalize_failed"
	StateLoading         State = "loading"
	StateLoadFailed      State = "load_failed"
	StateLoaded          State = "loaded"
)

// Failed reports whether the state is a failure terminal.
func (s State) Failed() bool {
	switch s {
	case StateExtractFailed, StateNormalizeFailed, StateLoadFailed:
		return true
	}
	return false
}

// Options configures one run.
type Options struct {
	// BatchSize caps rows per destination transaction. Defaults to 10000.
	BatchSize int

	// RawOnly skips normalization and the view refresh.
	RawOnly bool

	// DryRun reports what would be processed without touching origin or
	// destination.
	DryRun bool

	// Extract is passed through to every source.
	Extract source.ExtractOptions

	// Mappings binds a column mapping to each source name. AWS sources
	// without an explicit entry fall back to the stock CUR mapping.
	Mappings map[string]normalize.Mapping
}

const defaultBatchSize = 10000

// SourceResult is the outcome for one source.
type SourceResult struct {
	Source   string
	State    State
	Rows     int64
	Skipped  int64
	Err      error
	Duration time.Duration
}

// RunResult aggregates a whole run.
type RunResult struct {
	SyncTimestamp time.Time
	Sources       []SourceResult
	ViewTables    []string
	TotalRows     int64
}

// ErrAllSourcesFailed is returned when not a single source loaded.
var ErrAllSourcesFailed = errors.New("all sources failed")

// Pipeline wires sources to one destination store.
type Pipeline struct {
	store   warehouse.Store
	sources []source.Source
	opts    Options
}

// New builds a pipeline. The store is borrowed, not owned: the caller
// closes it.
func New(store warehouse.Store, sources []source.Source, opts Options) *Pipeline {
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}
	return &Pipeline{store: store, sources: sources, opts: opts}
}

// Run executes the sync. The returned error is ErrAllSourcesFailed only
// when every configured source failed; individual failures are reported
// in RunResult and sync_log.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	syncTS := time.Now().UTC()
	result := &RunResult{SyncTimestamp: syncTS}

	if p.opts.DryRun {
		for _, src := range p.sources {
			slog.Info("dry run: would process source",
				"source", src.Name(),
				"raw_table", rawTableName(src.Name()),
				"normalized_table", normalizedTableName(src.Name()))
			result.Sources = append(result.Sources, SourceResult{Source: src.Name(), State: StatePending})
		}
		return result, nil
	}

	if err := p.store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare destination: %w", err)
	}
	if err := p.store.EnsureSyncLog(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare sync log: %w", err)
	}

	for _, src := range p.sources {
		sr := p.runSource(ctx, src, syncTS)
		result.Sources = append(result.Sources, sr)
		result.TotalRows += sr.Rows
		p.recordSync(ctx, syncTS, sr)

		if sr.State.Failed() {
			slog.Error("source failed", "source", sr.Source, "state", string(sr.State), "error", sr.Err)
		} else {
			slog.Info("source loaded", "source", sr.Source, "rows", sr.Rows, "skipped", sr.Skipped, "duration", sr.Duration)
		}
	}

	// The view is refreshed from the catalog even when sources failed,
	// so tables loaded by earlier runs keep contributing.
	if !p.opts.RawOnly {
		tables, err := p.store.RefreshCostsView(ctx)
		if err != nil {
			slog.Error("failed to refresh costs view", "error", err)
		} else {
			result.ViewTables = tables
			slog.Info("refreshed costs view", "tables", len(tables))
		}
	}

	if len(p.sources) > 0 && p.allFailed(result) {
		return result, ErrAllSourcesFailed
	}
	return result, nil
}

func (p *Pipeline) allFailed(result *RunResult) bool {
	for _, sr := range result.Sources {
		if !sr.State.Failed() {
			return false
		}
	}
	return true
}

// runSource drives one source through the state machine. Each committed
// batch stays committed even when a later batch fails.
func (p *Pipeline) runSource(ctx context.Context, src source.Source, syncTS time.Time) SourceResult {
	start := time.Now()
	sr := SourceResult{Source: src.Name(), State: StatePending}
	finish := func() SourceResult {
		sr.Duration = time.Since(start)
		return sr
	}

	// A broken mapping is a configuration bug; fail before touching the
	// origin.
	var norm *normalize.Normalizer
	if !p.opts.RawOnly {
		mapping, err := p.mappingFor(src)
		if err == nil {
			norm, err = normalize.New(mapping, src.Provider(), src.Name(), syncTS)
		}
		if err != nil {
			sr.State = StateNormalizeFailed
			sr.Err = err
			return finish()
		}
	}

	sr.State = StateExtracting
	it, err := src.Produce(ctx, p.opts.Extract)
	if err != nil {
		sr.State = StateExtractFailed
		sr.Err = err
		return finish()
	}
	defer it.Close()

	rawTable := rawTableName(src.Name())
	normTable := normalizedTableName(src.Name())
	if norm != nil {
		if err := p.store.EnsureNormalizedTable(ctx, normTable); err != nil {
			sr.State = StateLoadFailed
			sr.Err = err
			return finish()
		}
	}

	rawBatch := make([]source.RawRecord, 0, p.opts.BatchSize)
	var normBatch []costmodel.NormalizedRecord
	var total int64

	flush := func() error {
		if len(rawBatch) == 0 {
			return nil
		}
		cols := warehouse.BatchColumns(rawBatch)
		if err := warehouse.EnsureTable(ctx, p.store, rawTable, cols); err != nil {
			return err
		}
		rows := make([][]any, len(rawBatch))
		for i, rec := range rawBatch {
			rows[i] = warehouse.RowValues(rec, cols)
		}
		if err := warehouse.LoadBatch(ctx, p.store, rawTable, warehouse.ColumnNames(cols), rows); err != nil {
			return err
		}
		if len(normBatch) > 0 {
			if err := p.store.InsertNormalizedBatch(ctx, normTable, normBatch); err != nil {
				return &warehouse.LoadError{Table: normTable, Err: err}
			}
		}
		sr.Rows += int64(len(rawBatch))
		rawBatch = rawBatch[:0]
		normBatch = normBatch[:0]
		return nil
	}

	// Raw-only runs never normalize; the streaming state stays extracting.
	streamState := StateExtracting
	if norm != nil {
		streamState = StateNormalizing
	}
	sr.State = streamState
	for it.Next() {
		rec := it.Row()
		total++
		rawBatch = append(rawBatch, rec)

		if norm != nil {
			nr, err := norm.Apply(rec)
			var mappingErr *normalize.MappingError
			var coercionErr *normalize.CoercionError
			switch {
			case err == nil:
				normBatch = append(normBatch, nr)
			case errors.As(err, &mappingErr):
				sr.State = StateNormalizeFailed
				sr.Err = err
				return finish()
			case errors.As(err, &coercionErr):
				sr.Skipped++
				slog.Debug("skipped unparsable row", "source", sr.Source, "error", err)
			default:
				sr.State = StateNormalizeFailed
				sr.Err = err
				return finish()
			}
		}

		if len(rawBatch) >= p.opts.BatchSize {
			sr.State = StateLoading
			if err := flush(); err != nil {
				sr.State = StateLoadFailed
				sr.Err = err
				return finish()
			}
			sr.State = streamState
		}
	}
	if err := it.Err(); err != nil {
		sr.State = StateExtractFailed
		sr.Err = err
		return finish()
	}

	// The skip tolerance is judged over the whole stream, so the verdict
	// does not depend on where the bad rows sit. Committed batches stay
	// committed; the pending batch is dropped.
	if norm != nil && norm.Mapping().ExceedsSkipThreshold(int(sr.Skipped), int(total)) {
		sr.State = StateNormalizeFailed
		sr.Err = fmt.Errorf("skip rate exceeded: %d of %d rows unparsable", sr.Skipped, total)
		return finish()
	}

	sr.State = StateLoading
	if err := flush(); err != nil {
		sr.State = StateLoadFailed
		sr.Err = err
		return finish()
	}

	sr.State = StateLoaded
	return finish()
}

func (p *Pipeline) mappingFor(src source.Source) (normalize.Mapping, error) {
	if m, ok := p.opts.Mappings[src.Name()]; ok {
		return m, nil
	}
	if src.Provider() == costmodel.AWS {
		return normalize.AWSCURMapping(), nil
	}
	return normalize.Mapping{}, &normalize.MappingError{
		Field:  "mapping",
		Reason: fmt.Sprintf("no column mapping configured for source %s", src.Name()),
	}
}

// recordSync appends the audit entry for one source. Audit failures are
// logged, not escalated: the data load already has a definitive outcome.
func (p *Pipeline) recordSync(ctx context.Context, syncTS time.Time, sr SourceResult) {
	entry := warehouse.SyncLogEntry{
		ID:              uuid.New(),
		SyncTimestamp:   syncTS,
		SourceName:      sr.Source,
		Status:          warehouse.StatusSuccess,
		DurationSeconds: sr.Duration.Seconds(),
	}
	if sr.State.Failed() {
		entry.Status = warehouse.StatusFailure
		entry.ErrorMessage = sql.NullString{String: sr.Err.Error(), Valid: true}
	} else {
		entry.RowsLoaded = sql.NullInt64{Int64: sr.Rows, Valid: true}
	}
	if err := p.store.RecordSync(ctx, entry); err != nil {
		slog.Error("failed to record sync entry", "source", sr.Source, "error", err)
	}
}

func rawTableName(source string) string { return "raw_" + source }

func normalizedTableName(source string) string { return source + "_normalized" }
