package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameStopwords are legal suffixes and banking boilerplate that say nothing
// about who the counterparty is.
var nameStopwords = map[string]struct{}{
	"LTDA": {}, "ME": {}, "EPP": {}, "EIRELI": {}, "SA": {}, "MEI": {}, "CIA": {},
	"BANCO": {}, "PAGAMENTO": {}, "PAGTO": {}, "BENEFICIARIO": {}, "FAVORECIDO": {},
	"CEDENTE": {}, "COMPROVANTE": {}, "BOLETO": {}, "TITULO": {},
}

// minNameLength is the shortest normalised name that may match by containment.
const minNameLength = 3

var sociedadeAnonima = strings.NewReplacer("S/A", " SA ", "S.A.", " SA ", "S.A", " SA ")

// NormalizeName uppercases, strips accents and punctuation, and drops legal
// suffixes and banking boilerplate. "Prefeitura Municipal de São Paulo - ME"
// becomes "PREFEITURA MUNICIPAL DE SAO PAULO".
func NormalizeName(s string) string {
	plain := sociedadeAnonima.Replace(strings.ToUpper(stripAccents(s)))

	fields := strings.FieldsFunc(plain, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	kept := fields[:0]
	for _, f := range fields {
		if _, stop := nameStopwords[f]; stop {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return plain
}

// NamesMatch compares two normalised names: whole-token containment either
// way, or the same leading token.
func NamesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= minNameLength && strings.Contains(" "+long+" ", " "+short+" ") {
		return true
	}

	fa, fb := firstToken(a), firstToken(b)
	return len(fa) >= minNameLength && fa == fb
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
