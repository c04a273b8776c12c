package service

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"ticket-payments/internal/model"
)

func renderReceipt(p *model.Payment) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payment receipt "+p.TransactionID, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Payment receipt")
	pdf.Ln(16)

	rows := [][2]string{
		{"Transaction", p.TransactionID},
		{"Order", p.OrderID},
		{"Event", p.EventID},
		{"Amount", fmt.Sprintf("%s %s", p.Amount.StringFixed(2), p.Currency)},
		{"Method", string(p.Method)},
		{"Status", string(p.Status)},
		{"Date", p.CreatedAt.UTC().Format("2006-01-02 15:04 MST")},
	}

	pdf.SetFont("Helvetica", "", 12)
	for _, row := range rows {
		pdf.CellFormat(40, 8, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, row[1], "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
