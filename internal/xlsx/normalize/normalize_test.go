package normalize

import "testing"

func TestCell_Identifier(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  string
	}{
		{"scientific notation", "1.234567E+11", "123456700000"},
		{"trailing decimal zero", "123456789.0", "123456789"},
		{"plain phone number unchanged", "0901234567", "0901234567"},
		{"no E, no trailing .0 unchanged", "ABC123", "ABC123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cell(tt.raw, Kind{IsIdentifier: true})
			if got != tt.want {
				t.Errorf("Cell(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCell_Date(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"us two-digit year, pivot year", "01/15/23", "01/15/2023"},
		{"eu dash date swaps separator", "15-01-23", "15/01/2023"},
		{"excel serial date passthrough", "44927", "44927"},
		{"already canonical unchanged", "2023-01-15", "2023-01-15"},
		{"year just above pivot expands to 19xx", "01/15/31", "01/15/1931"},
		{"year at pivot expands to 20xx", "01/15/30", "01/15/2030"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cell(tt.raw, Kind{IsDate: true})
			if got != tt.want {
				t.Errorf("Cell(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// Values containing no E, no trailing .0, and no short-year date shape must
// pass through unchanged, for both identifier and date kinds.
func TestCell_Identity(t *testing.T) {
	values := []string{"ABC-123", "", "2023-01-15", "hello world"}
	for _, v := range values {
		if got := Cell(v, Kind{IsIdentifier: true}); got != v {
			t.Errorf("Cell(%q, identifier) = %q, want unchanged %q", v, got, v)
		}
		if got := Cell(v, Kind{IsDate: true}); got != v {
			t.Errorf("Cell(%q, date) = %q, want unchanged %q", v, got, v)
		}
	}
}

func TestCell_NeitherKind(t *testing.T) {
	if got := Cell("1.234567E+11", Kind{}); got != "1.234567E+11" {
		t.Errorf("non-identifier, non-date cell should pass through unchanged, got %q", got)
	}
}

func TestExpandYear(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"00", "2000"},
		{"30", "2030"},
		{"31", "1931"},
		{"99", "1999"},
	}
	for _, tt := range tests {
		if got := expandYear(tt.in); got != tt.want {
			t.Errorf("expandYear(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
