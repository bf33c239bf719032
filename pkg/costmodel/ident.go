package costmodel

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var sourceNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidSourceName reports whether name can be embedded in relation names
// (raw_{name}, {name}_normalized) without quoting.
func ValidSourceName(name string) bool {
	return sourceNameRe.MatchString(name)
}

// CleanColumnName rewrites an export column name into a valid relation
// identifier. CUR exports use names like "lineItem/UsageStartDate"; the
// warehouse keeps them verbatim apart from this rewrite.
func CleanColumnName(name string) string {
	clean := strings.ToLower(name)
	replacer := strings.NewReplacer("/", "_", ":", "_", "-", "_", " ", "_", ".", "_")
	clean = replacer.Replace(clean)
	if clean == "" {
		return "_"
	}
	if unicode.IsDigit(rune(clean[0])) {
		clean = "_" + clean
	}
	return clean
}

// TableNameFromPath derives a source table name from an object-storage
// path prefix. The first path segment is used; purely numeric segments
// (payer account IDs) get an account_ prefix so the name stays a valid
// identifier.
func TableNameFromPath(path string) string {
	var first string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			first = part
			break
		}
	}
	if first == "" {
		return "unknown"
	}

	name := strings.ToLower(first)
	name = strings.ReplaceAll(name, "-", "_")
	if isAllDigits(name) {
		name = fmt.Sprintf("account_%s", name)
	}
	return name
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
