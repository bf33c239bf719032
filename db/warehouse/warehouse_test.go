package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cloudcost-etl/internal/source"
	"cloudcost-etl/pkg/costmodel"
)

// fakeStore records DDL/DML calls and can fail InsertBatch a configured
// number of times.
type fakeStore struct {
	columns map[string][]string

	createCalls []string
	addCalls    []string
	insertCalls int
	failInserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{columns: make(map[string][]string)}
}

func (f *fakeStore) Ping(context.Context) error         { return nil }
func (f *fakeStore) EnsureSchema(context.Context) error { return nil }

func (f *fakeStore) TableColumns(_ context.Context, table string) ([]string, error) {
	return f.columns[table], nil
}

func (f *fakeStore) CreateTable(_ context.Context, table string, cols []Column) error {
	f.createCalls = append(f.createCalls, table)
	f.columns[table] = ColumnNames(cols)
	return nil
}

func (f *fakeStore) AddColumns(_ context.Context, table string, cols []Column) error {
	f.addCalls = append(f.addCalls, table)
	f.columns[table] = append(f.columns[table], ColumnNames(cols)...)
	return nil
}

func (f *fakeStore) InsertBatch(_ context.Context, table string, cols []string, rows [][]any) error {
	f.insertCalls++
	if f.failInserts > 0 {
		f.failInserts--
		return errors.New("deadlock detected")
	}
	return nil
}

func (f *fakeStore) EnsureNormalizedTable(context.Context, string) error { return nil }
func (f *fakeStore) InsertNormalizedBatch(context.Context, string, []costmodel.NormalizedRecord) error {
	return nil
}
func (f *fakeStore) EnsureSyncLog(context.Context) error          { return nil }
func (f *fakeStore) RecordSync(context.Context, SyncLogEntry) error { return nil }
func (f *fakeStore) RefreshCostsView(context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func TestBatchColumns(t *testing.T) {
	batch := []source.RawRecord{
		{
			"lineItem/UsageStartDate": time.Now(),
			"lineItem/BlendedCost":    "0.25",
			"resource_count":          int64(3),
		},
		{
			"lineItem/UsageStartDate": time.Now(),
			"lineItem/BlendedCost":    "0.50",
			"is_reserved":             true,
		},
	}
	cols := BatchColumns(batch)

	want := []Column{
		{"is_reserved", TypeBool},
		{"lineitem_blendedcost", TypeText},
		{"lineitem_usagestartdate", TypeTimestamp},
		{"resource_count", TypeBigInt},
	}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns, want %d: %+v", len(cols), len(want), cols)
	}
	for i, w := range want {
		if cols[i] != w {
			t.Errorf("column[%d] = %+v, want %+v", i, cols[i], w)
		}
	}
}

func TestBatchColumnsNullUpgrade(t *testing.T) {
	batch := []source.RawRecord{
		{"usage_amount": nil},
		{"usage_amount": 1.5},
	}
	cols := BatchColumns(batch)
	if len(cols) != 1 || cols[0].Type != TypeDouble {
		t.Errorf("null-first column = %+v, want double", cols)
	}
}

func TestBatchColumnsTypeConflict(t *testing.T) {
	batch := []source.RawRecord{
		{"mixed": int64(1)},
		{"mixed": "one"},
	}
	cols := BatchColumns(batch)
	if len(cols) != 1 || cols[0].Type != TypeText {
		t.Errorf("conflicting column = %+v, want text", cols)
	}
}

func TestBatchColumnsDecimal(t *testing.T) {
	batch := []source.RawRecord{
		{"cost": decimal.RequireFromString("0.0001")},
	}
	cols := BatchColumns(batch)
	if len(cols) != 1 || cols[0].Type != TypeDecimal {
		t.Errorf("decimal column = %+v", cols)
	}
}

func TestRowValues(t *testing.T) {
	cols := []Column{
		{"account_id", TypeText},
		{"cost", TypeDouble},
		{"resource_count", TypeBigInt},
	}
	rec := source.RawRecord{
		"Account-ID":     "487940199987",
		"resource_count": 3,
	}
	values := RowValues(rec, cols)

	if values[0] != "487940199987" {
		t.Errorf("account_id = %v", values[0])
	}
	if values[1] != nil {
		t.Errorf("missing column = %v, want nil", values[1])
	}
	if values[2] != int64(3) {
		t.Errorf("resource_count = %v (%T), want int64", values[2], values[2])
	}
}

func TestRowValuesUnknownTypeBindsAsString(t *testing.T) {
	type opaque struct{ A int }
	cols := []Column{{"weird", TypeText}}
	values := RowValues(source.RawRecord{"weird": opaque{A: 1}}, cols)
	if _, ok := values[0].(string); !ok {
		t.Errorf("unknown type bound as %T, want string", values[0])
	}
}

func TestRowValuesDecimalPassesThrough(t *testing.T) {
	cols := []Column{{"cost", TypeDecimal}}
	values := RowValues(source.RawRecord{"cost": decimal.RequireFromString("0.0417")}, cols)
	d, ok := values[0].(decimal.Decimal)
	if !ok {
		t.Fatalf("decimal bound as %T", values[0])
	}
	if d.String() != "0.0417" {
		t.Errorf("decimal = %s", d)
	}
}

func TestEnsureTableCreates(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	cols := []Column{{"cost", TypeDouble}, {"date", TypeTimestamp}}

	if err := EnsureTable(ctx, s, "raw_cup", cols); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if len(s.createCalls) != 1 || s.createCalls[0] != "raw_cup" {
		t.Errorf("createCalls = %v", s.createCalls)
	}

	// Same shape again: no DDL at all.
	if err := EnsureTable(ctx, s, "raw_cup", cols); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if len(s.createCalls) != 1 || len(s.addCalls) != 0 {
		t.Errorf("second call issued DDL: create=%v add=%v", s.createCalls, s.addCalls)
	}
}

func TestEnsureTableAdditive(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	s.columns["raw_cup"] = []string{"cost", "date"}

	wider := []Column{{"cost", TypeDouble}, {"date", TypeTimestamp}, {"region", TypeText}}
	if err := EnsureTable(ctx, s, "raw_cup", wider); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if len(s.addCalls) != 1 {
		t.Fatalf("addCalls = %v, want one additive extension", s.addCalls)
	}
	if len(s.createCalls) != 0 {
		t.Errorf("createCalls = %v, want none", s.createCalls)
	}
	got := s.columns["raw_cup"]
	if len(got) != 3 || got[2] != "region" {
		t.Errorf("columns after extension = %v", got)
	}

	// A narrower batch must not shrink the table.
	narrow := []Column{{"cost", TypeDouble}}
	if err := EnsureTable(ctx, s, "raw_cup", narrow); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if len(s.columns["raw_cup"]) != 3 {
		t.Errorf("columns shrank to %v", s.columns["raw_cup"])
	}
}

func TestLoadBatchRetriesOnce(t *testing.T) {
	ctx := context.Background()
	rows := [][]any{{"a"}, {"b"}}

	s := newFakeStore()
	s.failInserts = 1
	if err := LoadBatch(ctx, s, "raw_cup", []string{"c"}, rows); err != nil {
		t.Fatalf("LoadBatch failed despite retry: %v", err)
	}
	if s.insertCalls != 2 {
		t.Errorf("insertCalls = %d, want 2", s.insertCalls)
	}
}

func TestLoadBatchFailsAfterRetry(t *testing.T) {
	ctx := context.Background()

	s := newFakeStore()
	s.failInserts = 2
	err := LoadBatch(ctx, s, "raw_cup", []string{"c"}, [][]any{{"a"}})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("got %v, want LoadError", err)
	}
	if loadErr.Table != "raw_cup" {
		t.Errorf("Table = %q", loadErr.Table)
	}
	if s.insertCalls != 2 {
		t.Errorf("insertCalls = %d, want 2", s.insertCalls)
	}
}

func TestLoadBatchEmptyNoop(t *testing.T) {
	s := newFakeStore()
	if err := LoadBatch(context.Background(), s, "raw_cup", nil, nil); err != nil {
		t.Fatalf("LoadBatch failed on empty batch: %v", err)
	}
	if s.insertCalls != 0 {
		t.Errorf("insertCalls = %d, want 0", s.insertCalls)
	}
}
