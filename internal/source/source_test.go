package source

import (
	"errors"
	"testing"
	"time"

	"cloudcost-etl/pkg/costmodel"
)

func TestMonthPartitions(t *testing.T) {
	now := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		monthsBack int
		want       []monthPartition
	}{
		{"Single", 1, []monthPartition{{2026, time.February}}},
		{"YearBoundary", 3, []monthPartition{
			{2026, time.February}, {2026, time.January}, {2025, time.December},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := monthPartitions(now, tt.monthsBack)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d partitions, want %d", len(got), len(tt.want))
			}
			for i, p := range tt.want {
				if got[i] != p {
					t.Errorf("partition[%d] = %v, want %v", i, got[i], p)
				}
			}
		})
	}
}

func TestExtractOptionsDefaults(t *testing.T) {
	opts := ExtractOptions{}.withDefaults()
	if opts.MonthsBack != 1 {
		t.Errorf("MonthsBack = %d, want 1", opts.MonthsBack)
	}
	if opts.ChunkRows != 100000 {
		t.Errorf("ChunkRows = %d, want 100000", opts.ChunkRows)
	}
	if opts.Now.IsZero() {
		t.Error("Now not defaulted")
	}
}

func TestExtractionErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ExtractionError{Source: "cup", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("ExtractionError does not unwrap to its cause")
	}
	var extractErr *ExtractionError
	if !errors.As(error(err), &extractErr) {
		t.Error("errors.As failed for ExtractionError")
	}
}

func TestCURSourceNaming(t *testing.T) {
	storage := StorageConfig{Bucket: "billing-exports", Region: "eu-west-2"}

	src, err := NewCURSource(storage, "cup/CUP-Cost-Usage-Report/", AccountFilter{})
	if err != nil {
		t.Fatalf("NewCURSource failed: %v", err)
	}
	if src.Name() != "cup" {
		t.Errorf("Name() = %q, want cup", src.Name())
	}
	if src.Provider() != costmodel.AWS {
		t.Errorf("Provider() = %q, want aws", src.Provider())
	}
	wantURI := "s3://billing-exports/cup/CUP-Cost-Usage-Report/**/*.parquet"
	if src.URI() != wantURI {
		t.Errorf("URI() = %q, want %q", src.URI(), wantURI)
	}
}

func TestCURSourcePartitionURI(t *testing.T) {
	storage := StorageConfig{Bucket: "billing-exports"}
	src, err := NewCURSource(storage, "cup/report/", AccountFilter{})
	if err != nil {
		t.Fatalf("NewCURSource failed: %v", err)
	}
	got := src.partitionURI(monthPartition{Year: 2026, Month: time.July})
	want := "s3://billing-exports/cup/report/year=2026/month=7/*.parquet"
	if got != want {
		t.Errorf("partitionURI = %q, want %q", got, want)
	}
}

func TestNewBillingExportSource(t *testing.T) {
	storage := StorageConfig{Bucket: "exports"}

	src, err := NewBillingExportSource(storage, "gcp/billing/", "gcp_billing", costmodel.GCP, FormatParquet)
	if err != nil {
		t.Fatalf("NewBillingExportSource failed: %v", err)
	}
	if src.Name() != "gcp_billing" {
		t.Errorf("Name() = %q", src.Name())
	}
	if src.Provider() != costmodel.GCP {
		t.Errorf("Provider() = %q", src.Provider())
	}

	if _, err := NewBillingExportSource(storage, "x/", "Bad-Name", costmodel.GCP, FormatParquet); err == nil {
		t.Error("expected error for invalid source name")
	}
	if _, err := NewBillingExportSource(storage, "x/", "ok", costmodel.GCP, ExportFormat("avro")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
