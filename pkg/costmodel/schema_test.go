package costmodel

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizedColumnsOrder(t *testing.T) {
	// The view unions positionally; this order is part of the contract.
	want := []string{
		"date", "account_id", "service", "region", "cost",
		"currency", "cloud_provider", "source_table", "sync_timestamp",
	}
	if len(NormalizedColumns) != len(want) {
		t.Fatalf("NormalizedColumns has %d entries, want %d", len(NormalizedColumns), len(want))
	}
	for i, col := range want {
		if NormalizedColumns[i] != col {
			t.Errorf("NormalizedColumns[%d] = %q, want %q", i, NormalizedColumns[i], col)
		}
	}
}

func TestNormalizedRecordValues(t *testing.T) {
	ts := time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC)
	rec := NormalizedRecord{
		Date:          time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		AccountID:     "487940199987",
		Service:       "AmazonEC2",
		Region:        sql.NullString{String: "eu-west-2", Valid: true},
		Cost:          decimal.RequireFromString("0.0417"),
		Currency:      "USD",
		CloudProvider: AWS,
		SourceTable:   "cup",
		SyncTimestamp: ts,
	}

	values := rec.Values()
	if len(values) != len(NormalizedColumns) {
		t.Fatalf("Values() has %d entries, want %d", len(values), len(NormalizedColumns))
	}
	if values[1] != "487940199987" {
		t.Errorf("account_id = %v", values[1])
	}
	if values[3] != "eu-west-2" {
		t.Errorf("region = %v, want eu-west-2", values[3])
	}
	if values[6] != "aws" {
		t.Errorf("cloud_provider = %v, want aws", values[6])
	}
}

func TestNormalizedRecordValuesNullRegion(t *testing.T) {
	rec := NormalizedRecord{Cost: decimal.Zero}
	values := rec.Values()
	if values[3] != nil {
		t.Errorf("region = %v, want nil for invalid NullString", values[3])
	}
}
