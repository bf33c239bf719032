// Package normalize projects provider-specific raw billing rows into the
// fixed cross-provider schema. It is pure: no I/O, no destination state.
package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Normalized field names a Mapping can bind.
const (
	FieldDate      = "date"
	FieldAccountID = "account_id"
	FieldService   = "service"
	FieldRegion    = "region"
	FieldCost      = "cost"
	FieldCurrency  = "currency"
)

// requiredFields must be mappable or normalization fails fast: a missing
// binding is a configuration bug, not a data quality issue.
var requiredFields = []string{FieldDate, FieldAccountID, FieldCost, FieldCurrency}

// Rule binds one normalized field to a raw column. Columns are matched
// after identifier cleaning (see costmodel.CleanColumnName), so
// "lineItem/UsageStartDate" is written "lineitem_usagestartdate".
type Rule struct {
	// Column is the primary raw column.
	Column string

	// Alternatives are fallback columns tried in order when Column is
	// absent. Export schemas vary across report versions.
	Alternatives []string

	// Default fills the field when no column matches. Only honored for
	// non-required fields.
	Default string

	// Scale multiplies the parsed cost (sign flip, unit conversion).
	// Only honored for the cost field; nil means no transform.
	Scale *decimal.Decimal
}

// Mapping is the static, per-source column mapping table.
type Mapping struct {
	Rules map[string]Rule

	// SkipRateThreshold is the fraction of unparsable rows tolerated
	// before the whole source fails. Zero means use DefaultSkipRateThreshold.
	SkipRateThreshold float64
}

// DefaultSkipRateThreshold tolerates 5% bad rows per source.
const DefaultSkipRateThreshold = 0.05

// Validate fails when any required field has no usable rule.
func (m Mapping) Validate() error {
	for _, field := range requiredFields {
		rule, ok := m.Rules[field]
		if !ok || (rule.Column == "" && len(rule.Alternatives) == 0) {
			return &MappingError{Field: field, Reason: "no raw column mapped"}
		}
	}
	if m.SkipRateThreshold < 0 || m.SkipRateThreshold > 1 {
		return fmt.Errorf("invalid skip rate threshold %v", m.SkipRateThreshold)
	}
	return nil
}

// ExceedsSkipThreshold reports whether skipped rows out of total cross
// the configured tolerance. The verdict is meant to be taken over the
// whole stream, never a prefix of it, so it cannot depend on row order.
func (m Mapping) ExceedsSkipThreshold(skipped, total int) bool {
	if total == 0 || skipped == 0 {
		return false
	}
	threshold := m.SkipRateThreshold
	if threshold == 0 {
		threshold = DefaultSkipRateThreshold
	}
	return float64(skipped)/float64(total) > threshold
}

// AWSCURMapping returns the mapping for AWS Cost & Usage Report exports.
// Alternatives cover the column renames CUR has shipped over the years.
func AWSCURMapping() Mapping {
	return Mapping{
		Rules: map[string]Rule{
			FieldDate: {
				Column:       "line_item_usage_start_date",
				Alternatives: []string{"lineitem_usagestartdate", "usage_start_date"},
			},
			FieldAccountID: {
				Column:       "line_item_usage_account_id",
				Alternatives: []string{"lineitem_usageaccountid", "usage_account_id", "bill_payeraccountid"},
			},
			FieldService: {
				Column:       "product_servicename",
				Alternatives: []string{"product_productname", "lineitem_productcode", "line_item_product_code", "product_name"},
			},
			FieldRegion: {
				Column:       "product_region",
				Alternatives: []string{"product_location", "lineitem_availabilityzone"},
			},
			FieldCost: {
				Column:       "line_item_unblended_cost",
				Alternatives: []string{"lineitem_unblendedcost", "unblended_cost", "lineitem_blendedcost", "line_item_blended_cost"},
			},
			FieldCurrency: {
				Column:       "line_item_currency_code",
				Alternatives: []string{"lineitem_currencycode", "currency_code"},
			},
		},
	}
}

// MappingError means a required field cannot be mapped at all. It aborts
// normalization for the source.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unmappable field %s: %s", e.Field, e.Reason)
}

// CoercionError means one record's value could not be parsed. The record
// is skipped; the run continues unless skips cross the threshold.
type CoercionError struct {
	Field string
	Value any
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce field %s from %v: %v", e.Field, e.Value, e.Err)
}

func (e *CoercionError) Unwrap() error { return e.Err }
