package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Boleto digitable lines & barcodes
// ============================================================

// Bill types recognised from the digit layout.
const (
	BillBankSlip = "bank_slip"
	BillUtility  = "utility"
)

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

var (
	dueFactorBase     = time.Date(1997, 10, 7, 0, 0, 0, 0, time.UTC)
	dueFactorRollover = time.Date(2025, 2, 22, 0, 0, 0, 0, time.UTC)
	// Dates the old cycle would place before this are read on the new cycle.
	dueFactorOldCycleFloor = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
)

// BoletoLine is a decoded boleto digitable line or barcode.
type BoletoLine struct {
	Digits   string
	BillType string
	BankCode string
	Amount   decimal.Decimal
	DueDate  *time.Time
}

// DigitsOnly strips everything that is not an ASCII digit.
func DigitsOnly(s string) string {
	return nonDigitRegex.ReplaceAllString(s, "")
}

// ParseDigitableLine decodes a 47-digit bank slip line, a 48-digit utility
// line or a 44-digit barcode. Punctuation and spaces are ignored.
func ParseDigitableLine(input string) (*BoletoLine, error) {
	clean := DigitsOnly(input)

	switch len(clean) {
	case 47:
		line := &BoletoLine{Digits: clean, BillType: BillBankSlip, BankCode: clean[:3]}
		line.Amount = centsToAmount(clean[37:47])
		line.DueDate = dueDateFromFactor(clean[33:37])
		return line, nil

	case 48:
		// Four blocks of 11 digits, each followed by a check digit.
		barcode := clean[0:11] + clean[12:23] + clean[24:35] + clean[36:47]
		line := &BoletoLine{Digits: clean, BillType: BillUtility}
		if barcode[2] == '6' || barcode[2] == '7' {
			line.Amount = centsToAmount(barcode[4:15])
		} else {
			line.Amount = decimal.Zero
		}
		return line, nil

	case 44:
		if clean[0] == '8' {
			line := &BoletoLine{Digits: clean, BillType: BillUtility, Amount: decimal.Zero}
			if clean[2] == '6' || clean[2] == '7' {
				line.Amount = centsToAmount(clean[4:15])
			}
			return line, nil
		}
		line := &BoletoLine{Digits: clean, BillType: BillBankSlip, BankCode: clean[:3]}
		line.Amount = centsToAmount(clean[9:19])
		line.DueDate = dueDateFromFactor(clean[5:9])
		return line, nil

	default:
		return nil, &ErrInvalidBarcode{
			Input:  input,
			Reason: fmt.Sprintf("input has %d digits, expected 44 (barcode), 47 (boleto) or 48 (concessionária)", len(clean)),
		}
	}
}

func centsToAmount(raw string) decimal.Decimal {
	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Zero
	}
	return decimal.New(cents, -2)
}

func dueDateFromFactor(raw string) *time.Time {
	factor, err := strconv.Atoi(raw)
	if err != nil || factor == 0 {
		return nil
	}
	due := dueFactorBase.AddDate(0, 0, factor)
	if due.Before(dueFactorOldCycleFloor) && factor >= 1000 {
		due = dueFactorRollover.AddDate(0, 0, factor-1000)
	}
	return &due
}
