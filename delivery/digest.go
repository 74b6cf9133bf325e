package delivery

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"invoicesnap-backend/mailer"
	"invoicesnap-backend/models"
	"invoicesnap-backend/utils"

	"go.uber.org/zap"
)

var digestTemplate = template.Must(template.New("digest").Parse(`<!doctype html>
<html><body style="font-family:Helvetica,Arial,sans-serif;color:#111827">
<p>Hello {{.Name}},</p>
<p>{{len .Rows}} of your invoices became overdue on {{.Day}}. A reminder was sent to each client.</p>
<table cellpadding="6" style="border-collapse:collapse">
<tr><th align="left">Invoice</th><th align="left">Client</th><th align="right">Total</th><th align="left">Due</th></tr>
{{range .Rows}}<tr><td>{{.Number}}</td><td>{{.Client}}</td><td align="right">{{.Total}}</td><td>{{.Due}}</td></tr>
{{end}}</table>
</body></html>`))

type digestRow struct {
	Number, Client, Total, Due string
}

type digestData struct {
	Name string
	Day  string
	Rows []digestRow
}

// Digest mails every tenant the list of its invoices flipped by a sweep.
// It implements services.OverdueNotifier.
type Digest struct {
	store      Store
	sender     mailer.Sender
	from       mailer.Address
	failLoudly bool
	log        *zap.Logger
}

func NewDigest(store Store, sender mailer.Sender, composer *Composer, failLoudly bool, log *zap.Logger) *Digest {
	return &Digest{store: store, sender: sender, from: composer.From, failLoudly: failLoudly, log: log}
}

func (d *Digest) NotifyOverdue(ctx context.Context, invoiceIDs []uint, day time.Time) error {
	var order []string
	byTenant := make(map[string][]*models.Invoice)
	for _, id := range invoiceIDs {
		inv, err := d.store.LoadForDelivery(ctx, id)
		if err != nil {
			d.log.Warn("digest skips invoice", zap.Uint("invoice_id", id), zap.Error(err))
			continue
		}
		if _, seen := byTenant[inv.UserID]; !seen {
			order = append(order, inv.UserID)
		}
		byTenant[inv.UserID] = append(byTenant[inv.UserID], inv)
	}

	msgs := make([]mailer.Message, 0, len(order))
	for _, tenant := range order {
		msg, err := d.compose(byTenant[tenant], day)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	res, err := mailer.SendBatch(ctx, d.sender, msgs, d.failLoudly, d.log)
	d.log.Info("overdue digest sent", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return err
}

func (d *Digest) compose(invoices []*models.Invoice, day time.Time) (mailer.Message, error) {
	owner := invoices[0].User
	data := digestData{Name: owner.FullName(), Day: day.Format("02/01/2006")}
	for _, inv := range invoices {
		data.Rows = append(data.Rows, digestRow{
			Number: inv.Number,
			Client: inv.Client.Name,
			Total:  utils.FormatMoney(inv.Total) + " €",
			Due:    dateString(inv.DueDate),
		})
	}
	var body bytes.Buffer
	if err := digestTemplate.Execute(&body, data); err != nil {
		return mailer.Message{}, fmt.Errorf("compose digest: %w", err)
	}
	return mailer.Message{
		From:    d.from,
		To:      []mailer.Address{{Email: owner.Email, Name: owner.FullName()}},
		Subject: fmt.Sprintf("%d invoice(s) now overdue", len(invoices)),
		HTML:    body.String(),
	}, nil
}
