package normalize

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cloudcost-etl/internal/source"
	"cloudcost-etl/pkg/costmodel"
)

// Normalizer applies one source's Mapping to raw records. It carries the
// run-constant metadata (provider, source table, sync timestamp) so Apply
// stays a pure record-to-record function.
type Normalizer struct {
	mapping     Mapping
	provider    costmodel.CloudProvider
	sourceTable string
	syncTS      time.Time
}

// New validates the mapping and binds the run metadata.
func New(mapping Mapping, provider costmodel.CloudProvider, sourceTable string, syncTS time.Time) (*Normalizer, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if sourceTable == "" {
		return nil, fmt.Errorf("normalizer requires a source table name")
	}
	return &Normalizer{
		mapping:     mapping,
		provider:    provider,
		sourceTable: sourceTable,
		syncTS:      syncTS.UTC(),
	}, nil
}

// Mapping returns the bound mapping, for skip-threshold checks.
func (n *Normalizer) Mapping() Mapping { return n.mapping }

// Apply projects one raw record into the normalized schema.
//
// Error contract: a *MappingError means a required column is missing from
// the record shape entirely and the source's mapping is broken — abort
// the source. A *CoercionError means this record's value is unparsable —
// skip the record and count it.
func (n *Normalizer) Apply(raw source.RawRecord) (costmodel.NormalizedRecord, error) {
	cleaned := cleanKeys(raw)

	dateVal, ok := n.lookup(cleaned, FieldDate)
	if !ok {
		return costmodel.NormalizedRecord{}, &MappingError{Field: FieldDate, Reason: "column not present in record"}
	}
	date, err := coerceDate(dateVal)
	if err != nil {
		return costmodel.NormalizedRecord{}, err
	}

	accountVal, ok := n.lookup(cleaned, FieldAccountID)
	if !ok {
		return costmodel.NormalizedRecord{}, &MappingError{Field: FieldAccountID, Reason: "column not present in record"}
	}
	accountID, err := coerceString(FieldAccountID, accountVal)
	if err != nil {
		return costmodel.NormalizedRecord{}, err
	}

	costVal, ok := n.lookup(cleaned, FieldCost)
	if !ok {
		return costmodel.NormalizedRecord{}, &MappingError{Field: FieldCost, Reason: "column not present in record"}
	}
	cost, err := n.coerceCost(costVal)
	if err != nil {
		return costmodel.NormalizedRecord{}, err
	}

	currencyVal, ok := n.lookup(cleaned, FieldCurrency)
	if !ok {
		return costmodel.NormalizedRecord{}, &MappingError{Field: FieldCurrency, Reason: "column not present in record"}
	}
	currency, err := coerceString(FieldCurrency, currencyVal)
	if err != nil {
		return costmodel.NormalizedRecord{}, err
	}

	// service falls back to the source table name so the field stays
	// non-null even for exports without a product column.
	service := n.sourceTable
	if rule, ok := n.mapping.Rules[FieldService]; ok {
		if v, found := n.lookup(cleaned, FieldService); found && v != nil {
			if s, err := coerceString(FieldService, v); err == nil && s != "" {
				service = s
			}
		} else if rule.Default != "" {
			service = rule.Default
		}
	}

	var region sql.NullString
	if v, found := n.lookup(cleaned, FieldRegion); found && v != nil {
		if s, err := coerceString(FieldRegion, v); err == nil && s != "" {
			region = sql.NullString{String: s, Valid: true}
		}
	}

	return costmodel.NormalizedRecord{
		Date:          date,
		AccountID:     accountID,
		Service:       service,
		Region:        region,
		Cost:          cost,
		Currency:      currency,
		CloudProvider: n.provider,
		SourceTable:   n.sourceTable,
		SyncTimestamp: n.syncTS,
	}, nil
}

// lookup resolves a field's value through the primary column and its
// alternatives. The second return reports whether any column existed.
func (n *Normalizer) lookup(cleaned map[string]any, field string) (any, bool) {
	rule, ok := n.mapping.Rules[field]
	if !ok {
		return nil, false
	}
	if rule.Column != "" {
		if v, found := cleaned[costmodel.CleanColumnName(rule.Column)]; found {
			return v, true
		}
	}
	for _, alt := range rule.Alternatives {
		if v, found := cleaned[costmodel.CleanColumnName(alt)]; found {
			return v, true
		}
	}
	return nil, false
}

func (n *Normalizer) coerceCost(v any) (decimal.Decimal, error) {
	var cost decimal.Decimal
	switch val := v.(type) {
	case nil:
		return decimal.Zero, &CoercionError{Field: FieldCost, Value: v, Err: fmt.Errorf("null cost")}
	case decimal.Decimal:
		cost = val
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, &CoercionError{Field: FieldCost, Value: v, Err: err}
		}
		cost = parsed
	case float64:
		parsed, err := decimal.NewFromString(strconv.FormatFloat(val, 'f', -1, 64))
		if err != nil {
			return decimal.Zero, &CoercionError{Field: FieldCost, Value: v, Err: err}
		}
		cost = parsed
	case float32:
		return n.coerceCost(float64(val))
	case int64:
		cost = decimal.NewFromInt(val)
	case int:
		cost = decimal.NewFromInt(int64(val))
	default:
		return decimal.Zero, &CoercionError{Field: FieldCost, Value: v, Err: fmt.Errorf("unsupported type %T", v)}
	}

	if rule, ok := n.mapping.Rules[FieldCost]; ok && rule.Scale != nil {
		cost = cost.Mul(*rule.Scale)
	}
	return cost, nil
}

// dateLayouts covers the timestamp renditions seen in billing exports.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// coerceDate truncates any timestamp rendition to a UTC calendar date.
func coerceDate(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return truncateUTC(val), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return truncateUTC(t), nil
			}
		}
		return time.Time{}, &CoercionError{Field: FieldDate, Value: v, Err: fmt.Errorf("unrecognized date format")}
	case nil:
		return time.Time{}, &CoercionError{Field: FieldDate, Value: v, Err: fmt.Errorf("null date")}
	default:
		return time.Time{}, &CoercionError{Field: FieldDate, Value: v, Err: fmt.Errorf("unsupported type %T", v)}
	}
}

func truncateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func coerceString(field string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return "", &CoercionError{Field: field, Value: v, Err: fmt.Errorf("empty string")}
		}
		return s, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		// Account IDs sometimes arrive as floats from CSV readers.
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case nil:
		return "", &CoercionError{Field: field, Value: v, Err: fmt.Errorf("null value")}
	default:
		return "", &CoercionError{Field: field, Value: v, Err: fmt.Errorf("unsupported type %T", v)}
	}
}

func cleanKeys(raw source.RawRecord) map[string]any {
	cleaned := make(map[string]any, len(raw))
	for k, v := range raw {
		cleaned[costmodel.CleanColumnName(k)] = v
	}
	return cleaned
}
