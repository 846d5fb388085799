package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"ledger-backend/internal/models"
	"ledger-backend/internal/timeutil"
)

// InvoiceRenderer draws ledger entries as printable invoices
type InvoiceRenderer struct {
	ledger  *LedgerService
	zone    *timeutil.Zone
	company string
}

func NewInvoiceRenderer(ledger *LedgerService, zone *timeutil.Zone, company string) *InvoiceRenderer {
	if company == "" {
		company = "Property Ledger"
	}
	return &InvoiceRenderer{ledger: ledger, zone: zone, company: company}
}

// InvoicePDF renders the entry with id. Refunds and adjustments also show
// the invoice they correct.
func (r *InvoiceRenderer) InvoicePDF(ctx context.Context, id string) ([]byte, string, error) {
	entry, err := r.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	var parent *models.LedgerEntry
	if entry.ParentLedgerID != nil {
		parent, err = r.ledger.GetByID(ctx, *entry.ParentLedgerID)
		if err != nil {
			return nil, "", err
		}
	}

	data, err := r.render(entry, parent)
	if err != nil {
		return nil, "", err
	}
	return data, entry.InvoiceNumber + ".pdf", nil
}

func (r *InvoiceRenderer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return r.zone.In(*t).Format("02-Jan-2006")
}

func (r *InvoiceRenderer) render(entry, parent *models.LedgerEntry) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, r.company, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190, 6, fmt.Sprintf("Generated: %s", r.zone.Now().Format(timeutil.DisplayLayout)), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	title := "INVOICE"
	switch entry.Type {
	case models.LedgerEntryTypeRefund:
		title = "REFUND NOTE"
	case models.LedgerEntryTypeAdjustment:
		title = "ADJUSTMENT NOTE"
	}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 8, fmt.Sprintf("%s %s", title, entry.InvoiceNumber), "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(95, 7, fmt.Sprintf("Type: %s", entry.Type), "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Status: %s", entry.Status), "RB", 1, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Due: %s", r.formatTime(entry.DueAt)), "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Paid: %s", r.formatTime(entry.PaidAt)), "RB", 1, "L", false, 0, "")
	if parent != nil {
		pdf.CellFormat(190, 7, fmt.Sprintf("Corrects invoice: %s", parent.InvoiceNumber), "LRB", 1, "L", false, 0, "")
	}
	pdf.Ln(5)

	// Guest
	if entry.GuestName != "" || entry.GuestEmail != "" || entry.GuestPhone != "" {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(190, 8, "Billed To", "1", 1, "L", true, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(190, 7, entry.GuestName, "LR", 1, "L", false, 0, "")
		pdf.CellFormat(95, 7, entry.GuestEmail, "LB", 0, "L", false, 0, "")
		pdf.CellFormat(95, 7, entry.GuestPhone, "RB", 1, "L", false, 0, "")
		pdf.Ln(5)
	}

	// Line
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(200, 200, 200)
	pdf.CellFormat(100, 7, "Description", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 7, "Direction", "1", 0, "C", true, 0, "")
	pdf.CellFormat(60, 7, "Amount", "1", 1, "C", true, 0, "")

	description := string(entry.Type)
	if entry.Notes != "" {
		description = entry.Notes
		if len(description) > 55 {
			description = description[:52] + "..."
		}
	}
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(100, 6, description, "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, string(entry.Direction), "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, fmt.Sprintf("%s %s", entry.Currency, entry.Amount.StringFixed(2)), "1", 1, "R", false, 0, "")
	pdf.Ln(5)

	if entry.Status == models.LedgerStatusPaid {
		pdf.SetFillColor(200, 255, 200)
	} else {
		pdf.SetFillColor(255, 200, 200)
	}
	pdf.SetFont("Arial", "B", 14)
	totalText := fmt.Sprintf("Total: %s %s", entry.Currency, entry.Amount.StringFixed(2))
	if entry.Status == models.LedgerStatusPaid {
		totalText += " (PAID)"
	}
	pdf.CellFormat(190, 10, totalText, "1", 1, "C", true, 0, "")

	if entry.ProviderReference != "" {
		pdf.Ln(3)
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(190, 5, fmt.Sprintf("Payment reference: %s %s", entry.ProviderName, entry.ProviderReference), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice: %w", err)
	}
	return buf.Bytes(), nil
}
