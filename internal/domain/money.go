package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatBRL renders an amount the Brazilian way: 1234.5 -> "1.234,50".
func FormatBRL(d decimal.Decimal) string {
	s := d.Round(2).StringFixed(2)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// ParseBRL reads amounts written as "R$ 1.234,56", "1234,56" or "402.00".
// A comma is always the decimal separator when present; otherwise a dot
// followed by exactly two digits is. Returns false when nothing parses.
func ParseBRL(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		last := strings.LastIndex(s, ".")
		if len(s)-last-1 == 2 {
			s = strings.ReplaceAll(s[:last], ".", "") + s[last:]
		} else {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// AmountsEqual compares two amounts within the given tolerance (exclusive).
func AmountsEqual(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tolerance)
}
