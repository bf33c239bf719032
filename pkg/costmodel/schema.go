// Package costmodel defines the normalized cross-provider cost schema.
// Every source's raw export is projected into NormalizedRecord so the
// warehouse can expose one queryable shape across clouds.
package costmodel

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// CloudProvider identifies the billing origin of a record.
type CloudProvider string

const (
	AWS   CloudProvider = "aws"
	GCP   CloudProvider = "gcp"
	Azure CloudProvider = "azure"
)

// NormalizedRecord is the fixed common schema shared by all sources.
// Every field is non-null except Region.
type NormalizedRecord struct {
	Date          time.Time       `json:"date"` // calendar date, midnight UTC
	AccountID     string          `json:"account_id"`
	Service       string          `json:"service"`
	Region        sql.NullString  `json:"region"`
	Cost          decimal.Decimal `json:"cost"`
	Currency      string          `json:"currency"` // ISO 4217
	CloudProvider CloudProvider   `json:"cloud_provider"`
	SourceTable   string          `json:"source_table"`
	SyncTimestamp time.Time       `json:"sync_timestamp"` // constant per run
}

// NormalizedColumns is the canonical column list, in the order used by
// normalized tables and the unified costs view. Order is load-bearing:
// the view unions positionally across per-source tables.
var NormalizedColumns = []string{
	"date",
	"account_id",
	"service",
	"region",
	"cost",
	"currency",
	"cloud_provider",
	"source_table",
	"sync_timestamp",
}

// Values returns the record's fields in NormalizedColumns order.
func (r NormalizedRecord) Values() []any {
	var region any
	if r.Region.Valid {
		region = r.Region.String
	}
	return []any{
		r.Date,
		r.AccountID,
		r.Service,
		region,
		r.Cost,
		r.Currency,
		string(r.CloudProvider),
		r.SourceTable,
		r.SyncTimestamp,
	}
}
