package source

import (
	"fmt"
	"sort"
	"strings"
)

// AccountFilter restricts an extraction to a set of payer accounts, with
// optional per-account region restrictions. An empty filter matches
// everything.
type AccountFilter struct {
	IDs        []string
	RegionByID map[string]string
}

// ParseAccountFilter reads entries of the form "accountID" or
// "accountID=region" (the latter restricts that account to one region).
func ParseAccountFilter(entries []string) (AccountFilter, error) {
	f := AccountFilter{RegionByID: make(map[string]string)}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, region, hasRegion := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return AccountFilter{}, fmt.Errorf("invalid account filter entry %q", entry)
		}
		f.IDs = append(f.IDs, id)
		if hasRegion {
			region = strings.TrimSpace(region)
			if region == "" {
				return AccountFilter{}, fmt.Errorf("invalid account filter entry %q: empty region", entry)
			}
			f.RegionByID[id] = region
		}
	}
	return f, nil
}

// Empty reports whether the filter matches all accounts.
func (f AccountFilter) Empty() bool { return len(f.IDs) == 0 }

// WhereClause renders the filter as a SQL WHERE clause over the given
// account and region columns. Returns "" for an empty filter.
func (f AccountFilter) WhereClause(accountCol, regionCol string) string {
	if f.Empty() {
		return ""
	}

	if len(f.RegionByID) == 0 {
		return fmt.Sprintf("WHERE %s IN (%s)", accountCol, quoteList(f.IDs))
	}

	// Accounts with a region restriction get an exact (account, region)
	// condition; the rest share one IN list.
	var conditions []string
	var unrestricted []string
	for _, id := range f.IDs {
		if region, ok := f.RegionByID[id]; ok {
			conditions = append(conditions,
				fmt.Sprintf("(%s = '%s' AND %s = '%s')", accountCol, id, regionCol, region))
		} else {
			unrestricted = append(unrestricted, id)
		}
	}
	sort.Strings(conditions)
	if len(unrestricted) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("%s IN (%s)", accountCol, quoteList(unrestricted)))
	}

	return fmt.Sprintf("WHERE (%s)", strings.Join(conditions, " OR "))
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, ", ")
}
