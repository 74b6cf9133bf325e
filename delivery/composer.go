package delivery

import (
	"bytes"
	"fmt"
	"html/template"

	"invoicesnap-backend/mailer"
	"invoicesnap-backend/models"
	"invoicesnap-backend/utils"
)

var bodyTemplate = template.Must(template.New("body").Parse(`<!doctype html>
<html><body style="font-family:Helvetica,Arial,sans-serif;color:#111827">
<p>Hello {{.ClientName}},</p>
{{if eq .Kind "reminder"}}<p>This is a friendly reminder that invoice <strong>{{.Number}}</strong> for <strong>{{.Total}}</strong> was due on {{.DueDate}} and is still unpaid.</p>
{{else if eq .Kind "copy"}}<p>As requested, please find attached a copy of invoice <strong>{{.Number}}</strong> for <strong>{{.Total}}</strong>.</p>
{{else}}<p>Please find attached invoice <strong>{{.Number}}</strong> for <strong>{{.Total}}</strong>, due on {{.DueDate}}.</p>
{{end}}<p>You can reply to this email to reach {{.SellerName}} directly.</p>
<p>Best regards,<br>{{.SellerName}}</p>
</body></html>`))

type bodyData struct {
	Kind       string
	ClientName string
	SellerName string
	Number     string
	Total      string
	DueDate    string
}

// Composer builds the email for an invoice delivery. Messages go out from
// the system sender with the tenant as reply-to.
type Composer struct {
	From mailer.Address
}

func NewComposer(fromEmail, fromName string) *Composer {
	return &Composer{From: mailer.Address{Email: fromEmail, Name: fromName}}
}

// Compose needs the invoice with Client and User.Profile loaded. pdf may be
// nil for kinds sent without attachment.
func (c *Composer) Compose(inv *models.Invoice, kind models.DeliveryKind, pdf []byte) (mailer.Message, error) {
	seller := sellerName(inv)
	data := bodyData{
		Kind:       string(kind),
		ClientName: inv.Client.Name,
		SellerName: seller,
		Number:     inv.Number,
		Total:      utils.FormatMoney(inv.Total) + " €",
		DueDate:    dateString(inv.DueDate),
	}
	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, data); err != nil {
		return mailer.Message{}, fmt.Errorf("compose body: %w", err)
	}

	msg := mailer.Message{
		From:    c.From,
		ReplyTo: &mailer.Address{Email: inv.User.Email, Name: seller},
		To:      []mailer.Address{{Email: inv.Client.Email, Name: inv.Client.Name}},
		Subject: subject(kind, inv.Number, seller),
		HTML:    body.String(),
	}
	if len(pdf) > 0 {
		msg.Attachments = []mailer.Attachment{{
			Name:        inv.PDFFilename(),
			ContentType: "application/pdf",
			Content:     pdf,
		}}
	}
	return msg, nil
}

func subject(kind models.DeliveryKind, number, seller string) string {
	switch kind {
	case models.KindReminder:
		return fmt.Sprintf("Reminder: invoice %s is overdue", number)
	case models.KindCopy:
		return fmt.Sprintf("Copy of invoice %s from %s", number, seller)
	}
	return fmt.Sprintf("Invoice %s from %s", number, seller)
}

func sellerName(inv *models.Invoice) string {
	if p := inv.User.Profile; p != nil && p.CompanyName != "" {
		return p.CompanyName
	}
	return inv.User.FullName()
}
