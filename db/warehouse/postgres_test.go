package warehouse

import (
	"strings"
	"testing"
)

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db.internal",
		Port:     5432,
		Database: "analytics",
		User:     "etl",
		Password: "secret",
	}
	dsn := cfg.DSN()
	for _, part := range []string{"host=db.internal", "port=5432", "dbname=analytics", "user=etl", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN %q missing %q", dsn, part)
		}
	}

	cfg.SSLMode = "require"
	if !strings.Contains(cfg.DSN(), "sslmode=require") {
		t.Errorf("DSN %q does not honor sslmode", cfg.DSN())
	}
}

func TestPostgresQualified(t *testing.T) {
	p := &Postgres{cfg: PostgresConfig{Schema: "cost_analytics"}}
	if got := p.qualified("raw_cup"); got != `"cost_analytics"."raw_cup"` {
		t.Errorf("qualified = %q", got)
	}
	// Quoting must defuse identifier injection.
	if got := p.qualified(`x"; DROP TABLE y; --`); !strings.HasPrefix(got, `"cost_analytics"."x""; `) {
		t.Errorf("qualified did not escape quotes: %q", got)
	}
}

func TestPgType(t *testing.T) {
	tests := []struct {
		in   ColumnType
		want string
	}{
		{TypeText, "TEXT"},
		{TypeBigInt, "BIGINT"},
		{TypeDouble, "DOUBLE PRECISION"},
		{TypeBool, "BOOLEAN"},
		{TypeTimestamp, "TIMESTAMPTZ"},
		{TypeDate, "DATE"},
		{TypeDecimal, "NUMERIC"},
	}
	for _, tt := range tests {
		if got := pgType(tt.in); got != tt.want {
			t.Errorf("pgType(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChType(t *testing.T) {
	tests := []struct {
		in   ColumnType
		want string
	}{
		{TypeText, "String"},
		{TypeBigInt, "Int64"},
		{TypeDouble, "Float64"},
		{TypeDecimal, "Decimal(38, 12)"},
		{TypeTimestamp, "DateTime64(6, 'UTC')"},
	}
	for _, tt := range tests {
		if got := chType(tt.in); got != tt.want {
			t.Errorf("chType(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
