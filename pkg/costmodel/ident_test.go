package costmodel

import "testing"

func TestCleanColumnName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"CURSlash", "lineItem/UsageStartDate", "lineitem_usagestartdate"},
		{"Colon", "resourceTags:user:env", "resourcetags_user_env"},
		{"Dash", "usage-start-date", "usage_start_date"},
		{"Space", "Usage Start Date", "usage_start_date"},
		{"Dot", "bill.payer", "bill_payer"},
		{"LeadingDigit", "2024cost", "_2024cost"},
		{"AlreadyClean", "line_item_usage_account_id", "line_item_usage_account_id"},
		{"Empty", "", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanColumnName(tt.in); got != tt.want {
				t.Errorf("CleanColumnName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTableNameFromPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ReportPrefix", "cup/CUP-Cost-Usage-Report/", "cup"},
		{"DashedSegment", "Go-Global/reports/", "go_global"},
		{"AccountID", "123456789012/cur/", "account_123456789012"},
		{"LeadingSlash", "/edjin/cur/", "edjin"},
		{"Empty", "", "unknown"},
		{"OnlySlashes", "///", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TableNameFromPath(tt.in); got != tt.want {
				t.Errorf("TableNameFromPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidSourceName(t *testing.T) {
	valid := []string{"cup", "account_123", "gcp_billing", "a"}
	for _, name := range valid {
		if !ValidSourceName(name) {
			t.Errorf("ValidSourceName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", "Cup", "1account", "with-dash", "with space", "_leading"}
	for _, name := range invalid {
		if ValidSourceName(name) {
			t.Errorf("ValidSourceName(%q) = true, want false", name)
		}
	}
}
