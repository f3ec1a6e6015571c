package normalizer

import (
	"errors"
	"testing"
	"time"
)

func TestParseAmount_European(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"45,23", 4523},
		{"1.234,56", 123456},
		{"1.000.000,00", 100000000},
		{"0,99", 99},
		{"12,9", 1290},
		{"-45,23", -4523},
		{"45,23-", -4523},
		{"  45,23  ", 4523},
		{"€ 45,23", 4523}, // Currency symbol stripped
		{"1 234,56", 123456},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, true)
		if err != nil {
			t.Errorf("ParseAmount(%q, true) error: %v", tc.input, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("ParseAmount(%q, true) = %d, want %d", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_American(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"45.23", 4523},
		{"1,234.56", 123456},
		{"1,000,000.00", 100000000},
		{"0.99", 99},
		{"-29.99", -2999},
		{"(29.99)", -2999},
		{"$45.23", 4523}, // Currency symbol stripped
		{"0.005", 1},     // Rounded half away from zero
		{"19.999", 2000},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, false)
		if err != nil {
			t.Errorf("ParseAmount(%q, false) error: %v", tc.input, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("ParseAmount(%q, false) = %d, want %d", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrEmptyAmount},
		{"   ", ErrEmptyAmount},
		{"n/a", ErrInvalidAmount},
		{"1.2.3", ErrInvalidAmount},
		{"99999999999999999999999", ErrAmountRange},
	}

	for _, tc := range tests {
		_, err := ParseAmount(tc.input, false)
		if !errors.Is(err, tc.want) {
			t.Errorf("ParseAmount(%q) error = %v, want %v", tc.input, err, tc.want)
		}
	}
}

func TestDetectEuropean(t *testing.T) {
	tests := []struct {
		samples  []string
		expected bool
	}{
		{[]string{"45,23", "1.234,56"}, true},
		{[]string{"1,234.56"}, false},
		{[]string{"12", "(3,5)"}, true},
		{[]string{"1,234"}, false}, // thousands only, no decimal evidence
		{nil, false},
	}

	for _, tc := range tests {
		if got := DetectEuropean(tc.samples); got != tc.expected {
			t.Errorf("DetectEuropean(%v) = %v, want %v", tc.samples, got, tc.expected)
		}
	}
}

func TestNormalizeDebitCredit(t *testing.T) {
	tests := []struct {
		debit    string
		credit   string
		european bool
		expected int64
	}{
		// Portuguese bank: debit is expense (negative)
		{"45,23", "", true, -4523},
		{"", "500,00", true, 50000},
		{"-12,99", "", true, -1299},

		// American format
		{"29.99", "", false, -2999},
		{"", "2500.00", false, 250000},
		{"", "-2500.00", false, 250000},
	}

	for _, tc := range tests {
		got, err := NormalizeDebitCredit(tc.debit, tc.credit, tc.european)
		if err != nil {
			t.Errorf("NormalizeDebitCredit(%q, %q) error: %v", tc.debit, tc.credit, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("NormalizeDebitCredit(%q, %q) = %d, want %d", tc.debit, tc.credit, got, tc.expected)
		}
	}
}

func TestNormalizeDebitCredit_BothEmpty(t *testing.T) {
	if _, err := NormalizeDebitCredit(" ", "", true); !errors.Is(err, ErrEmptyAmount) {
		t.Errorf("Expected ErrEmptyAmount, got %v", err)
	}
}

func TestParseFlexibleDate(t *testing.T) {
	tests := []struct {
		input    string
		format   string
		expected string // YYYY-MM-DD format
	}{
		// European DD-MM-YYYY
		{"02-01-2024", "DD-MM-YYYY", "2024-01-02"},
		{"25-12-2024", "", "2024-12-25"},
		{"02/01/2024", "DD/MM/YYYY", "2024-01-02"},
		{"31.01.2024", "", "2024-01-31"},

		// American MM/DD/YYYY
		{"01/02/2024", "MM/DD/YYYY", "2024-01-02"},
		{"12/25/2024", "", "2024-12-25"},

		// ISO YYYY-MM-DD
		{"2024-01-02", "", "2024-01-02"},
		{"2024/01/02", "", "2024-01-02"},
		{"20240102", "", "2024-01-02"},
		{"2024-01-02T23:30:00-05:00", "", "2024-01-02"},

		// Written months
		{"2 Jan 2024", "", "2024-01-02"},
		{"Jan 2, 2024", "", "2024-01-02"},
	}

	for _, tc := range tests {
		got, err := ParseFlexibleDate(tc.input, tc.format, time.UTC)
		if err != nil {
			t.Errorf("ParseFlexibleDate(%q, %q) error: %v", tc.input, tc.format, err)
			continue
		}
		if got.Location() != time.UTC || got.Hour() != 0 {
			t.Errorf("ParseFlexibleDate(%q) = %v, want UTC midnight", tc.input, got)
		}
		gotStr := got.Format("2006-01-02")
		if gotStr != tc.expected {
			t.Errorf("ParseFlexibleDate(%q, %q) = %s, want %s", tc.input, tc.format, gotStr, tc.expected)
		}
	}
}

func TestParseFlexibleDate_Invalid(t *testing.T) {
	_, err := ParseFlexibleDate("", "", nil)
	if err != ErrInvalidDate {
		t.Errorf("Expected ErrInvalidDate for empty string, got %v", err)
	}

	_, err = ParseFlexibleDate("not-a-date", "", nil)
	if err != ErrInvalidDate {
		t.Errorf("Expected ErrInvalidDate for invalid string, got %v", err)
	}

	_, err = ParseFlexibleDate("31-02-2024", "", nil)
	if err != ErrInvalidDate {
		t.Errorf("Expected ErrInvalidDate for impossible date, got %v", err)
	}
}

func TestDetectDateFormat(t *testing.T) {
	tests := []struct {
		samples  []string
		expected string
	}{
		{[]string{"25-12-2024"}, "DD-MM-YYYY"},               // Day > 12, definitely DD-MM
		{[]string{"01/02/2024", "25/12/2024"}, "DD/MM/YYYY"}, // Proof comes from a later row
		{[]string{"01/02/2024", "12/25/2024"}, "MM/DD/YYYY"}, // Second component > 12
		{[]string{"01.02.2024"}, "DD.MM.YYYY"},               // Ambiguous defaults to day-first
		{[]string{"2024-12-25"}, "YYYY-MM-DD"},               // ISO format
		{[]string{"2024/12/25"}, "YYYY/MM/DD"},               // ISO with slash
		{[]string{}, ""},
		{[]string{"Jan 2, 2024"}, ""},
	}

	for _, tc := range tests {
		got := DetectDateFormat(tc.samples)
		if got != tc.expected {
			t.Errorf("DetectDateFormat(%v) = %s, want %s", tc.samples, got, tc.expected)
		}
	}
}

func TestConvertDateFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"DD-MM-YYYY", "02-01-2006"},
		{"MM/DD/YYYY", "01/02/2006"},
		{"YYYY-MM-DD", "2006-01-02"},
		{"DD/MM/YY", "02/01/06"},
		{"D.M.YYYY", "2.1.2006"},
		{"YYYY-MM-DD HH:mm:ss", "2006-01-02 15:04:05"},
	}

	for _, tc := range tests {
		got := convertDateFormat(tc.input)
		if got != tc.expected {
			t.Errorf("convertDateFormat(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestCleanPayee(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Pingo Doce  ", "Pingo Doce"},
		{"Compra  MB   -   Lidl", "Compra MB - Lidl"},
		{"Net\x00flix\t\tDE", "Netflix DE"},
	}

	for _, tc := range tests {
		got := CleanPayee(tc.input)
		if got != tc.expected {
			t.Errorf("CleanPayee(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_RoundsToMinorUnits(t *testing.T) {
	got, err := ParseAmount("12.346", false)
	if err != nil {
		t.Fatalf("ParseAmount() error = %v", err)
	}
	if got != 1235 {
		t.Errorf("ParseAmount(12.346) = %d, want 1235", got)
	}
}

func TestParseAmount_OutOfRange(t *testing.T) {
	_, err := ParseAmount("999999999999999999999", false)
	if !errors.Is(err, ErrAmountRange) {
		t.Errorf("ParseAmount() error = %v, want ErrAmountRange", err)
	}
}

func TestDay(t *testing.T) {
	lisbon := time.FixedZone("WEST", 3600)
	in := time.Date(2024, 3, 31, 23, 30, 0, 0, lisbon)

	got := Day(in)

	want := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day() = %v, want %v", got, want)
	}
	if Day(got) != got {
		t.Errorf("Day() is not idempotent for %v", got)
	}
}
