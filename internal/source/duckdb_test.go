package source

import (
	"math/big"
	"testing"
	"time"

	duckdb "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"
)

func TestFlattenValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"Nil", nil, nil},
		{"String", "AmazonEC2", "AmazonEC2"},
		{"Int64", int64(42), int64(42)},
		{"Int32", int32(7), int64(7)},
		{"Float32", float32(0.5), float64(0.5)},
		{"Bytes", []byte("eu-west-2"), "eu-west-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flattenValue(tt.in); got != tt.want {
				t.Errorf("flattenValue(%v) = %v (%T), want %v", tt.in, got, got, tt.want)
			}
		})
	}
}

func TestFlattenValueDecimal(t *testing.T) {
	// DECIMAL(38,4) parquet columns scan as the driver's decimal struct.
	in := duckdb.Decimal{Width: 38, Scale: 4, Value: big.NewInt(1234567)}
	got, ok := flattenValue(in).(decimal.Decimal)
	if !ok {
		t.Fatalf("flattenValue returned %T, want decimal.Decimal", flattenValue(in))
	}
	if got.String() != "123.4567" {
		t.Errorf("decimal = %s, want 123.4567", got)
	}

	huge, ok := flattenValue(big.NewInt(9000000000)).(decimal.Decimal)
	if !ok {
		t.Fatal("big.Int did not flatten to decimal")
	}
	if huge.String() != "9000000000" {
		t.Errorf("hugeint = %s", huge)
	}
}

func TestFlattenValueTime(t *testing.T) {
	in := time.Date(2026, 7, 15, 0, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	got, ok := flattenValue(in).(time.Time)
	if !ok || got.Location() != time.UTC {
		t.Errorf("flattenValue(%v) = %v, want UTC time", in, got)
	}
}

func TestFlattenValueUnknownType(t *testing.T) {
	type opaque struct{ A int }
	got, ok := flattenValue(opaque{A: 1}).(string)
	if !ok {
		t.Fatalf("unknown type did not flatten to string")
	}
	if got == "" {
		t.Error("string rendition is empty")
	}
}
