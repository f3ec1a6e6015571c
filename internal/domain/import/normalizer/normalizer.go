// Package normalizer handles regional money and date parsing.
// Converts bank statement values into the ledger's canonical representation:
// signed minor units for money and UTC calendar days for dates.
package normalizer

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount   = errors.New("amount is empty")
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrAmountRange   = errors.New("amount out of range")
	ErrInvalidDate   = errors.New("invalid date format")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ParseAmount converts a string amount to minor units (int64).
// Supports both European (1.234,56) and American (1,234.56) formats, currency
// symbols, and negatives written as -x, x-, or (x).
func ParseAmount(raw string, isEuropean bool) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrEmptyAmount
	}

	negative := strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")
	hasDigit := false
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
			return r
		case r == ',' || r == '.':
			return r
		case r == '-' || r == '−':
			negative = true
		}
		return -1
	}, raw)
	if !hasDigit {
		return 0, ErrInvalidAmount
	}

	if isEuropean {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	minor := d.Shift(2).Round(0)
	if minor.GreaterThan(maxMinor) {
		return 0, ErrAmountRange
	}
	if negative {
		return -minor.IntPart(), nil
	}
	return minor.IntPart(), nil
}

// DetectEuropean guesses the decimal separator from sample amounts. A comma
// followed by one or two trailing digits marks the European convention.
func DetectEuropean(samples []string) bool {
	for _, s := range samples {
		s = strings.TrimRight(strings.TrimSpace(s), ")-")
		i := strings.LastIndexAny(s, ",.")
		if i < 0 {
			continue
		}
		tail := len(s) - i - 1
		if tail < 1 || tail > 2 {
			continue
		}
		return s[i] == ','
	}
	return false
}

// NormalizeDebitCredit merges separate debit and credit columns into a single signed amount
// Debit = negative (money out), Credit = positive (money in)
func NormalizeDebitCredit(debitStr, creditStr string, isEuropean bool) (int64, error) {
	debitStr = strings.TrimSpace(debitStr)
	creditStr = strings.TrimSpace(creditStr)

	if debitStr != "" {
		amount, err := ParseAmount(debitStr, isEuropean)
		if err != nil {
			return 0, err
		}
		if amount > 0 {
			amount = -amount
		}
		return amount, nil
	}

	if creditStr != "" {
		amount, err := ParseAmount(creditStr, isEuropean)
		if err != nil {
			return 0, err
		}
		if amount < 0 {
			amount = -amount
		}
		return amount, nil
	}

	return 0, ErrEmptyAmount
}

// Common date formats used by banks worldwide, tried in order. Day-first
// layouts precede month-first ones.
var dateFormats = []string{
	// ISO
	"2006-01-02",
	"2006/01/02",
	"20060102",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",

	// European (DD-MM-YYYY variants)
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2-1-2006",
	"2/1/2006",
	"2.1.2006",
	"02-01-2006 15:04",
	"02/01/2006 15:04",

	// American (MM-DD-YYYY variants)
	"01-02-2006",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",

	// Written months
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"2-Jan-2006",
	"02-Jan-06",
}

var layoutReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"M", "1",
	"D", "2",
)

// ParseFlexibleDate attempts to parse a date using multiple formats and
// returns the calendar day at UTC midnight.
func ParseFlexibleDate(raw string, preferredFormat string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	if loc == nil {
		loc = time.UTC
	}

	if preferredFormat != "" {
		if t, err := time.ParseInLocation(convertDateFormat(preferredFormat), raw, loc); err == nil {
			return Day(t), nil
		}
	}

	for _, format := range dateFormats {
		if t, err := time.ParseInLocation(format, raw, loc); err == nil {
			return Day(t), nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// convertDateFormat converts user-friendly format strings to Go format
// e.g., "DD-MM-YYYY" -> "02-01-2006"
func convertDateFormat(format string) string {
	return layoutReplacer.Replace(format)
}

var (
	numericDatePattern = regexp.MustCompile(`^(\d{1,2})([-/.])(\d{1,2})[-/.](\d{4})$`)
	isoDatePattern     = regexp.MustCompile(`^\d{4}([-/])\d{1,2}[-/]\d{1,2}$`)
)

// DetectDateFormat guesses the layout of a date column from sample values.
// A first component above 12 anywhere in the sample proves day-first, a second
// component above 12 proves month-first. Ambiguous samples default to day-first.
// Returns "" when the samples are not numeric dates.
func DetectDateFormat(samples []string) string {
	dayFirst, monthFirst := false, false
	sep := ""

	for _, raw := range samples {
		sample := strings.TrimSpace(raw)
		if m := isoDatePattern.FindStringSubmatch(sample); m != nil {
			return "YYYY" + m[1] + "MM" + m[1] + "DD"
		}
		m := numericDatePattern.FindStringSubmatch(sample)
		if m == nil {
			continue
		}
		sep = m[2]
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[3])
		if first > 12 {
			dayFirst = true
		}
		if second > 12 {
			monthFirst = true
		}
	}

	switch {
	case sep == "":
		return ""
	case monthFirst && !dayFirst:
		return "MM" + sep + "DD" + sep + "YYYY"
	default:
		return "DD" + sep + "MM" + sep + "YYYY"
	}
}

var spacePattern = regexp.MustCompile(`\s+`)

// CleanPayee normalizes merchant/description text: control characters are
// dropped and runs of whitespace collapse to one space.
func CleanPayee(raw string) string {
	result := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(spacePattern.ReplaceAllString(result, " "))
}
