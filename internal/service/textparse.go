package service

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	// Digit groups separated by dots, dashes or single spaces, as printed
	// on digitable lines ("23790.12345 60000.000003 ...").
	groupedDigitsRegex = regexp.MustCompile(`\d[\d.\- ]{18,}\d`)
	digitRunRegex      = regexp.MustCompile(`\d+`)

	// Brazilian currency: "1.234,56", "402,00", optionally prefixed by R$.
	currencyRegex = regexp.MustCompile(`(?:R\$\s*)?\b(\d{1,3}(?:\.\d{3})+,\d{2}|\d{1,9},\d{2})\b`)

	dateRegex = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4})\b`)

	// Amount inside a file name: "boleto_402,00.pdf", "R$1.234,56", "402.00".
	filenameAmountRegex = regexp.MustCompile(`(?:^|[^\d.,])(?:R\$\s*)?(\d{1,3}(?:\.\d{3})+,\d{2}|\d+[.,]\d{2})(?:[^\d.,]|$)`)

	columnGapRegex = regexp.MustCompile(`\s{2,}`)
	headerGapRegex = regexp.MustCompile(`^\s{2,}|^\s*$`)
)

// Labels that introduce the counterparty, strongest first. The payer is the
// same company on every document of a run and is ignored.
var counterpartyLabels = []string{"BENEFICIARIO", "CEDENTE", "FAVORECIDO", "RAZAO SOCIAL", "NOME"}

// plausibleCodeLengths are the digit counts of barcodes and digitable lines.
var plausibleCodeLengths = map[int]bool{44: true, 47: true, 48: true}

// ParseText applies the regex heuristics shared by embedded text and OCR
// output. The returned fields carry no Method.
func ParseText(text string, codeMinLength int) domain.ExtractedFields {
	fields := domain.EmptyFields()
	if strings.TrimSpace(text) == "" {
		return fields
	}

	fields.ReferenceCode = findReferenceCode(text, codeMinLength)
	fields.Amount = findLargestAmount(text)
	fields.Date = findFirstDate(text)
	fields.CounterpartyName = findCounterparty(text)

	// Digitable lines carry the amount and due date when the page text does not.
	if fields.ReferenceCode != "" && (!fields.HasAmount() || fields.Date == nil) {
		if line, err := domain.ParseDigitableLine(fields.ReferenceCode); err == nil {
			if !fields.HasAmount() && line.Amount.IsPositive() {
				fields.Amount = line.Amount
			}
			if fields.Date == nil && line.DueDate != nil {
				fields.Date = line.DueDate
			}
		}
	}
	return fields
}

// findReferenceCode prefers a barcode-length code assembled from grouped
// digits, then the longest bare digit run of at least minLen.
func findReferenceCode(text string, minLen int) string {
	best := ""
	for _, line := range strings.Split(text, "\n") {
		for _, col := range columnGapRegex.Split(line, -1) {
			for _, m := range groupedDigitsRegex.FindAllString(col, -1) {
				d := domain.DigitsOnly(m)
				if plausibleCodeLengths[len(d)] && len(d) > len(best) {
					best = d
				}
			}
		}
	}
	if best != "" {
		return best
	}

	for _, m := range digitRunRegex.FindAllString(text, -1) {
		if len(m) >= minLen && len(m) > len(best) {
			best = m
		}
	}
	return best
}

// findLargestAmount returns the largest currency value on the page; fees and
// partial values are smaller than the total.
func findLargestAmount(text string) decimal.Decimal {
	largest := decimal.Zero
	for _, m := range currencyRegex.FindAllStringSubmatch(text, -1) {
		if v, ok := domain.ParseBRL(m[1]); ok && v.GreaterThan(largest) {
			largest = v
		}
	}
	return largest
}

func findFirstDate(text string) *time.Time {
	for _, m := range dateRegex.FindAllStringSubmatch(text, -1) {
		if d, err := time.Parse("02/01/2006", m[1]); err == nil {
			return &d
		}
	}
	return nil
}

// findCounterparty reads the value after the first label that yields a usable
// name, either on the same line or on the next non-empty one.
func findCounterparty(text string) string {
	lines := strings.Split(text, "\n")
	folded := make([]string, len(lines))
	for i, l := range lines {
		folded[i] = foldLabel(l)
	}

	for _, label := range counterpartyLabels {
		for i, l := range folded {
			pos := strings.Index(l, label)
			if pos < 0 {
				continue
			}
			// A label followed by a column gap is a header; the value is below.
			rest := l[pos+len(label):]
			if !headerGapRegex.MatchString(rest) {
				if name := cleanCounterparty(rest); name != "" {
					return name
				}
			}
			for j := i + 1; j < len(folded); j++ {
				if strings.TrimSpace(folded[j]) == "" {
					continue
				}
				if name := cleanCounterparty(folded[j]); name != "" {
					return name
				}
				break
			}
		}
	}
	return ""
}

// foldLabel uppercases and strips accents without dropping boilerplate words,
// so labels stay findable.
func foldLabel(s string) string {
	return strings.ToUpper(stripAccents(s))
}

// cleanCounterparty keeps the first layout column after a label and drops
// document numbers.
func cleanCounterparty(rest string) string {
	rest = strings.TrimLeft(rest, " :.-/\t")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return ""
	}
	if cols := columnGapRegex.Split(rest, -1); len(cols) > 0 {
		rest = cols[0]
	}
	rest = digitRunRegex.ReplaceAllString(rest, " ")
	return NormalizeName(rest)
}

// ParseFilenameAmount reads the last monetary pattern in a file name.
func ParseFilenameAmount(name string) (decimal.Decimal, bool) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))

	matches := filenameAmountRegex.FindAllStringSubmatch(base, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if v, ok := domain.ParseBRL(matches[i][1]); ok && v.IsPositive() {
			return v, true
		}
	}
	return decimal.Zero, false
}

// ParseLooseAmount reads amounts in either notation, as vision models answer
// "402.00" as often as "402,00".
func ParseLooseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return decimal.Zero, false
	}
	if !strings.Contains(s, ",") && strings.Count(s, ".") == 1 {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d.Round(2), true
	}
	return domain.ParseBRL(s)
}
