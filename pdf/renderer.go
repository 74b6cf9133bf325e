// Package pdf renders invoices as PDF documents.
package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"invoicesnap-backend/models"
	"invoicesnap-backend/utils"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	pageMargin = 15.0
	lineHeight = 6.0
)

// Renderer produces the PDF attached to invoice emails and served for download.
// Output is deterministic for a given invoice.
type Renderer struct {
	Currency string
}

func NewRenderer() *Renderer {
	return &Renderer{Currency: "€"}
}

// Render needs the invoice with its Items, Client and User.Profile loaded.
func (r *Renderer) Render(inv *models.Invoice) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")

	// Use the issue date so the same invoice always renders the same bytes.
	stamp := time.Time(inv.IssueDate).UTC()
	doc.SetCreationDate(stamp)
	doc.SetModificationDate(stamp)
	doc.SetCatalogSort(true)
	doc.SetTitle("Invoice "+inv.Number, true)
	doc.SetAuthor(sellerName(inv), true)
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(true, 20)
	doc.SetFooterFunc(func() {
		doc.SetY(-15)
		doc.SetFont("Helvetica", "I", 8)
		doc.SetTextColor(120, 120, 120)
		doc.CellFormat(0, 10, tr(fmt.Sprintf("%s - page %d", inv.Number, doc.PageNo())), "", 0, "C", false, 0, "")
	})
	doc.AddPage()

	r.header(doc, tr, inv)
	r.parties(doc, tr, inv)
	r.items(doc, tr, inv)
	r.totals(doc, tr, inv)
	if inv.Notes != "" {
		doc.Ln(8)
		doc.SetFont("Helvetica", "", 9)
		doc.MultiCell(0, 5, tr(inv.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) header(doc *fpdf.Fpdf, tr func(string) string, inv *models.Invoice) {
	doc.SetFont("Helvetica", "B", 20)
	doc.SetTextColor(30, 64, 175)
	doc.CellFormat(0, 10, "INVOICE", "", 1, "R", false, 0, "")
	doc.SetTextColor(0, 0, 0)
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(0, lineHeight, tr("No. "+inv.Number), "", 1, "R", false, 0, "")
	doc.CellFormat(0, lineHeight, "Issued: "+formatDate(inv.IssueDate), "", 1, "R", false, 0, "")
	doc.CellFormat(0, lineHeight, "Due: "+formatDate(inv.DueDate), "", 1, "R", false, 0, "")
	doc.Ln(6)
}

func (r *Renderer) parties(doc *fpdf.Fpdf, tr func(string) string, inv *models.Invoice) {
	top := doc.GetY()
	half := (210 - 2*pageMargin) / 2

	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(half, lineHeight, tr(sellerName(inv)), "", 2, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	doc.MultiCell(half, 5, tr(sellerLines(inv)), "", "L", false)
	leftBottom := doc.GetY()

	doc.SetXY(pageMargin+half, top)
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(half, lineHeight, tr("Bill to: "+inv.Client.Name), "", 2, "L", false, 0, "")
	doc.SetX(pageMargin + half)
	doc.SetFont("Helvetica", "", 9)
	lines := []string{inv.Client.FullAddress(), inv.Client.Email}
	if inv.Client.SIRET != "" {
		lines = append(lines, "SIRET: "+inv.Client.SIRET)
	}
	doc.MultiCell(half, 5, tr(strings.Join(lines, "\n")), "", "L", false)

	if doc.GetY() < leftBottom {
		doc.SetY(leftBottom)
	}
	doc.Ln(8)
}

func (r *Renderer) items(doc *fpdf.Fpdf, tr func(string) string, inv *models.Invoice) {
	widths := []float64{95, 25, 30, 30}
	heads := []string{"Description", "Qty", "Unit price", "Total"}
	aligns := []string{"L", "R", "R", "R"}

	doc.SetFont("Helvetica", "B", 9)
	doc.SetFillColor(229, 231, 235)
	for i, h := range heads {
		doc.CellFormat(widths[i], 7, h, "1", 0, aligns[i], true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Helvetica", "", 9)
	for _, it := range inv.Items {
		cells := []string{
			tr(it.Description),
			utils.FormatMoney(it.Quantity),
			r.money(tr, it.UnitPrice),
			r.money(tr, it.Total),
		}
		for i, c := range cells {
			doc.CellFormat(widths[i], 7, c, "1", 0, aligns[i], false, 0, "")
		}
		doc.Ln(-1)
	}
	doc.Ln(4)
}

func (r *Renderer) totals(doc *fpdf.Fpdf, tr func(string) string, inv *models.Invoice) {
	rows := [][2]string{
		{"Subtotal", r.money(tr, inv.Subtotal)},
		{"VAT " + utils.FormatMoney(inv.TaxRate) + "%", r.money(tr, inv.TaxAmount)},
		{"Total", r.money(tr, inv.Total)},
	}
	for i, row := range rows {
		style := ""
		if i == len(rows)-1 {
			style = "B"
		}
		doc.SetFont("Helvetica", style, 10)
		doc.CellFormat(150, 7, row[0], "", 0, "R", false, 0, "")
		doc.CellFormat(30, 7, row[1], "", 1, "R", false, 0, "")
	}
}

func (r *Renderer) money(tr func(string) string, d decimal.Decimal) string {
	return tr(utils.FormatMoney(d) + " " + r.Currency)
}

func sellerName(inv *models.Invoice) string {
	if p := inv.User.Profile; p != nil && p.CompanyName != "" {
		return p.CompanyName
	}
	return inv.User.FullName()
}

func sellerLines(inv *models.Invoice) string {
	var lines []string
	if p := inv.User.Profile; p != nil {
		if p.Address != "" {
			lines = append(lines, p.Address)
		}
		if city := strings.TrimSpace(p.PostalCode + " " + p.City); city != "" {
			lines = append(lines, city)
		}
		if p.Country != "" {
			lines = append(lines, p.Country)
		}
		if p.SIRET != "" {
			lines = append(lines, "SIRET: "+p.SIRET)
		}
		if p.Phone != "" {
			lines = append(lines, p.Phone)
		}
	}
	lines = append(lines, inv.User.Email)
	return strings.Join(lines, "\n")
}

func formatDate(d datatypes.Date) string {
	return time.Time(d).Format("02/01/2006")
}
