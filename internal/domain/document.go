package domain

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Documents & extracted fields
// ============================================================

// ExtractionMethod records which strategy produced a set of fields.
// It is provenance only; matching never looks at it.
type ExtractionMethod string

const (
	ExtractionNone         ExtractionMethod = "NONE"
	ExtractionEmbeddedText ExtractionMethod = "EMBEDDED_TEXT"
	ExtractionOCR          ExtractionMethod = "OCR"
	ExtractionVisionAI     ExtractionMethod = "VISION_AI"
	ExtractionFilename     ExtractionMethod = "FILENAME"
)

// DocumentKind is the media type of a raw document.
type DocumentKind string

const (
	KindPDF     DocumentKind = "application/pdf"
	KindPNG     DocumentKind = "image/png"
	KindJPEG    DocumentKind = "image/jpeg"
	KindUnknown DocumentKind = "application/octet-stream"
)

// IsImage reports whether the document is already a raster image.
func (k DocumentKind) IsImage() bool {
	return k == KindPNG || k == KindJPEG
}

// Extension is the usual file suffix for the kind.
func (k DocumentKind) Extension() string {
	switch k {
	case KindPDF:
		return ".pdf"
	case KindPNG:
		return ".png"
	case KindJPEG:
		return ".jpg"
	default:
		return ".bin"
	}
}

var (
	pdfMagic  = []byte("%PDF")
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// DetectKind sniffs the document type from its leading bytes, falling back
// to the file extension.
func DetectKind(name string, data []byte) DocumentKind {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return KindPNG
	case bytes.HasPrefix(data, jpegMagic):
		return KindJPEG
	case bytes.Contains(head, pdfMagic):
		return KindPDF
	}

	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return KindPDF
	case strings.HasSuffix(lower, ".png"):
		return KindPNG
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return KindJPEG
	}
	return KindUnknown
}

// ExtractedFields is the structured view of one document.
// Zero values mean "not found": a zero Amount, an empty ReferenceCode,
// a nil Date, an empty CounterpartyName.
type ExtractedFields struct {
	Amount           decimal.Decimal  `json:"amount"`
	ReferenceCode    string           `json:"referenceCode,omitempty"`
	Date             *time.Time       `json:"date,omitempty"`
	CounterpartyName string           `json:"counterpartyName,omitempty"`
	Method           ExtractionMethod `json:"extractionMethod"`
}

// EmptyFields is the result of a document nothing could be read from.
func EmptyFields() ExtractedFields {
	return ExtractedFields{Amount: decimal.Zero, Method: ExtractionNone}
}

// HasAmount reports whether a positive amount was found.
func (f ExtractedFields) HasAmount() bool {
	return f.Amount.IsPositive()
}

// HasSignal reports whether the fields carry anything matchable.
func (f ExtractedFields) HasSignal() bool {
	return f.HasAmount() || f.ReferenceCode != ""
}

// SameDay reports whether both sides carry a date on the same calendar day.
func (f ExtractedFields) SameDay(other ExtractedFields) bool {
	if f.Date == nil || other.Date == nil {
		return false
	}
	y1, m1, d1 := f.Date.Date()
	y2, m2, d2 := other.Date.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// WithMethod returns a copy tagged with the given provenance.
func (f ExtractedFields) WithMethod(m ExtractionMethod) ExtractedFields {
	f.Method = m
	if f.Date != nil {
		d := *f.Date
		f.Date = &d
	}
	return f
}

// Summary renders the fields for progress logs, e.g.
// "R$ 402,00 | 23790123456000000000... | PREFEITURA MUNICIPAL".
func (f ExtractedFields) Summary() string {
	code := "SEM_CODIGO"
	if f.ReferenceCode != "" {
		code = f.ReferenceCode
		if len(code) > 25 {
			code = code[:25] + "..."
		}
	}
	name := f.CounterpartyName
	if name == "" {
		name = "N/A"
	}
	return fmt.Sprintf("R$ %s | %s | %s", FormatBRL(f.Amount), code, name)
}

// ChargeDocument is one file representing one amount owed.
// Name is the caller's display name and is unique within a run.
type ChargeDocument struct {
	Name   string
	Kind   DocumentKind
	Bytes  []byte
	Fields ExtractedFields
}

// ProofCandidate is one page of the proof bundle.
// Claim state lives in the ProofIndex that owns the candidate.
type ProofCandidate struct {
	Index  int
	Kind   DocumentKind
	Bytes  []byte
	Fields ExtractedFields
}

// NamedDocument is a raw input document before extraction.
type NamedDocument struct {
	Name  string
	Bytes []byte
}
