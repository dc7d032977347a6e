package archive

import (
	"fmt"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/port"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Conciliacao"

var _ port.ReportWriter = (*Report)(nil)

// Report renders one row per charge as an XLSX workbook.
type Report struct{}

func (Report) Extension() string { return ".xlsx" }

// Render writes the records in charge order.
func (Report) Render(records []domain.MatchRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(reportSheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Documento", "Método", "Página do comprovante", "Valor do documento", "Valor do comprovante", "Justificativa"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reportSheet, cell, h)
	}

	for i, r := range records {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(reportSheet, cell, v)
		}

		write(1, r.Charge.Name)
		write(2, string(r.Method))
		if r.Proof != nil {
			write(3, r.Proof.Index+1)
			write(5, amountCell(r.Proof.Fields))
		} else {
			write(3, "")
			write(5, "")
		}
		write(4, amountCell(r.Charge.Fields))
		write(6, r.Justification)
	}

	_ = f.SetColWidth(reportSheet, "A", "A", 36)
	_ = f.SetColWidth(reportSheet, "B", "B", 18)
	_ = f.SetColWidth(reportSheet, "C", "E", 20)
	_ = f.SetColWidth(reportSheet, "F", "F", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func amountCell(f domain.ExtractedFields) string {
	if !f.HasAmount() {
		return ""
	}
	return "R$ " + domain.FormatBRL(f.Amount)
}
