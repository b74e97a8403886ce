// Package normalize converts raw CSV cell values into canonical invoice
// fields: trimmed identifiers, uppercased vendor names with business
// suffixes stripped, fixed-point amounts and calendar dates. All parsers
// are deterministic: normalizing an already-normalized value is a no-op.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxInvoiceNumberLen = 100
	maxVendorNameLen    = 255
)

// currencySymbols are stripped before amount parsing. Codes are matched
// as whole tokens, symbols anywhere.
var (
	currencyMarkers = []string{"USD", "EUR", "GBP", "JPY", "INR", "$", "€", "£", "¥", "₹"}
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// businessSuffixes are common legal-form tails removed from vendor names
// so "ACME Corp" and "ACME Corporation LLC" normalize identically.
var businessSuffixes = []string{
	"LLC", "L.L.C.", "INC", "INC.", "INCORPORATED", "CORP", "CORP.", "CORPORATION",
	"LTD", "LTD.", "LIMITED", "CO", "CO.", "COMPANY", "GMBH", "PLC", "LLP", "LP",
}

// InvoiceNumber trims whitespace and truncates to 100 characters.
func InvoiceNumber(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > maxInvoiceNumberLen {
		s = s[:maxInvoiceNumberLen]
	}
	return s
}

// VendorName uppercases, collapses whitespace and strips trailing
// business suffixes. Stripping stops if it would empty the name. The
// result is truncated to 255 characters.
func VendorName(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = whitespaceRun.ReplaceAllString(s, " ")
	if s == "" {
		return s
	}

	for {
		stripped := stripOneSuffix(s)
		if stripped == s || stripped == "" {
			if stripped != "" {
				s = stripped
			}
			break
		}
		s = stripped
	}

	s = strings.Trim(s, " ,.")
	if len(s) > maxVendorNameLen {
		s = s[:maxVendorNameLen]
	}
	return s
}

func stripOneSuffix(s string) string {
	for _, suffix := range businessSuffixes {
		if strings.HasSuffix(s, " "+suffix) || strings.HasSuffix(s, ","+suffix) {
			return strings.Trim(strings.TrimSuffix(strings.TrimSuffix(s, suffix), ","), " ,")
		}
	}
	return s
}

// Amount parses a monetary string: currency symbols and codes are
// stripped, commas and spaces removed, parentheses or a leading minus
// denote a negative value. The result is quantized to 2 decimal places.
func Amount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	upper := strings.ToUpper(s)
	for _, marker := range currencyMarkers {
		upper = strings.ReplaceAll(upper, marker, "")
	}
	s = strings.TrimSpace(upper)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2), nil
}

// dateLayouts are tried in order: ISO first, then US, EU, compact forms
// and finally two-digit years.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"02.01.2006",
	"02/01/2006",
	"20060102",
	"Jan 2, 2006",
	"2 Jan 2006",
	"01/02/06",
	"02.01.06",
}

// Date parses raw against the ordered layout list and range-checks the
// result to [1900, currentYear+10].
func Date(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	maxYear := time.Now().Year() + 10
	for _, layout := range dateLayouts {
		d, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if d.Year() < 1900 || d.Year() > maxYear {
			return time.Time{}, fmt.Errorf("date %q out of range [1900, %d]", raw, maxYear)
		}
		return d, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}
