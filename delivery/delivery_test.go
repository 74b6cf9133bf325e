package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"invoicesnap-backend/database"
	"invoicesnap-backend/mailer"
	"invoicesnap-backend/models"
	"invoicesnap-backend/pdf"
	"invoicesnap-backend/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []mailer.Message
	calls int
	fail  func(call int) error
}

func (s *recordingSender) Send(_ context.Context, msg mailer.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return "", err
		}
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("msg-%d", s.calls), nil
}

type fixture struct {
	db       *gorm.DB
	invoices *services.InvoiceService
	sender   *recordingSender
	runner   *SyncRunner
	sleeps   []time.Duration
	tenant   *models.User
	client   *models.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)

	u := &models.User{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Password: []byte("x")}
	require.NoError(t, db.Create(u).Error)
	require.NoError(t, db.Create(&models.SubscriptionProfile{UserID: u.Id, CompanyName: "Doe Studio", IsPremium: true}).Error)
	c := &models.Client{UserID: u.Id, Name: "Acme", Email: "ap@acme.test", Address: "1 rue", PostalCode: "75002", City: "Paris", Country: "France"}
	require.NoError(t, db.Create(c).Error)

	f := &fixture{db: db, tenant: u, client: c, sender: &recordingSender{}}
	f.invoices = services.NewInvoiceService(db, zap.NewNop())
	d := NewDispatcher(f.invoices, pdf.NewRenderer(), f.sender, NewComposer("no-reply@invoicesnap.test", "InvoiceSnap"), time.Second, zap.NewNop())
	f.runner = NewSyncRunner(d, Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, 30*time.Second, zap.NewNop())
	f.runner.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.invoices.UseDeliverer(f.runner)
	return f
}

func (f *fixture) draft(t *testing.T) *models.Invoice {
	t.Helper()
	rate := decimal.NewFromInt(20)
	inv, _, err := f.invoices.Create(context.Background(), f.tenant.Id, services.InvoiceInput{
		ClientID: f.client.ID,
		DueDate:  time.Now().AddDate(0, 0, 30),
		TaxRate:  &rate,
		Items: []services.ItemInput{
			{Description: "Design", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50)},
			{Description: "Hosting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(25)},
		},
	}, false)
	require.NoError(t, err)
	return inv
}

func TestSyncDeliverySuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.draft(t)

	inv, outcome, err := f.invoices.RequestSend(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.Empty(t, outcome.Warning)
	assert.Equal(t, models.StatusSent, inv.Status)
	assert.NotNil(t, inv.SentAt)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, "no-reply@invoicesnap.test", msg.From.Email)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "jane@example.com", msg.ReplyTo.Email)
	assert.Equal(t, "ap@acme.test", msg.To[0].Email)
	assert.Contains(t, msg.Subject, inv.Number)
	assert.Contains(t, msg.HTML, "150.00")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "invoice_"+inv.Number+".pdf", msg.Attachments[0].Name)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.True(t, bytes.HasPrefix(msg.Attachments[0].Content, []byte("%PDF-")))
}

func TestSyncDeliveryExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.fail = func(int) error { return errors.New("connection refused") }
	inv := f.draft(t)

	inv, outcome, err := f.invoices.RequestSend(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Contains(t, outcome.Warning, "connection refused")

	assert.Equal(t, 3, f.sender.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, f.sleeps)
	assert.Equal(t, models.StatusDraft, inv.Status)
	assert.Nil(t, inv.SentAt)
	assert.Equal(t, models.DeliveryFailed, inv.DeliveryState)

	var attempts []models.DeliveryAttempt
	require.NoError(t, f.db.Where("invoice_id = ?", inv.ID).Order("attempt").Find(&attempts).Error)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Attempt)
		assert.False(t, a.Succeeded)
	}
}

// deadlineSender accepts the message only once the send deadline has passed.
type deadlineSender struct{ calls int }

func (s *deadlineSender) Send(ctx context.Context, _ mailer.Message) (string, error) {
	s.calls++
	<-ctx.Done()
	return "msg-late", nil
}

func TestDeliveryAcceptedAtDeadlineIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := &deadlineSender{}
	d := NewDispatcher(f.invoices, pdf.NewRenderer(), sender, NewComposer("no-reply@invoicesnap.test", "InvoiceSnap"), time.Second, zap.NewNop())
	f.invoices.UseDeliverer(NewSyncRunner(d, Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}, 200*time.Millisecond, zap.NewNop()))
	inv := f.draft(t)

	inv, outcome, err := f.invoices.RequestSend(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.Empty(t, outcome.Warning)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, models.StatusSent, inv.Status)
	assert.Equal(t, models.DeliveryDelivered, inv.DeliveryState)
	assert.Empty(t, inv.DeliveryWarning)

	var attempts []models.DeliveryAttempt
	require.NoError(t, f.db.Where("invoice_id = ?", inv.ID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Succeeded)
}

func TestSyncDeliveryRecoversOnRetry(t *testing.T) {
	f := newFixture(t)
	f.sender.fail = func(call int) error {
		if call == 1 {
			return errors.New("timeout")
		}
		return nil
	}
	inv := f.draft(t)

	inv, outcome, err := f.invoices.RequestSend(context.Background(), f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.Equal(t, models.StatusSent, inv.Status)
	assert.Equal(t, 2, f.sender.calls)
}

func TestPermanentFailureStopsRetrying(t *testing.T) {
	f := newFixture(t)
	f.sender.fail = func(int) error { return fmt.Errorf("%w: invalid recipient", mailer.ErrPermanent) }
	inv := f.draft(t)

	_, outcome, err := f.invoices.RequestSend(context.Background(), f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Warning)
	assert.Equal(t, 1, f.sender.calls)
}

func TestStaleDeliveriesAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.draft(t)
	_, _, err := f.invoices.RequestSend(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.calls)

	// a second invoice delivery of the same invoice does nothing
	outcome, err := f.runner.RequestDelivery(ctx, inv.ID, models.KindInvoice)
	require.NoError(t, err)
	assert.Contains(t, outcome.Warning, "skipped")
	assert.Equal(t, 1, f.sender.calls)

	_, err = f.invoices.MarkPaid(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	queued, err := f.runner.EnqueueReminder(ctx, inv.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, 1, f.sender.calls, "no reminder for a paid invoice")

	// a copy still goes out and leaves the status alone
	outcome, err = f.invoices.SendCopy(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	got, err := f.invoices.Get(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
}

func TestReminderForOverdueInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.draft(t)
	_, _, err := f.invoices.RequestSend(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Invoice{}).Where("id = ?", inv.ID).Update("status", models.StatusOverdue).Error)

	_, err = f.runner.EnqueueReminder(ctx, inv.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 2)
	assert.Contains(t, f.sender.sent[1].Subject, "Reminder")
	assert.Contains(t, f.sender.sent[1].HTML, "reminder")
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Minute}
	assert.Equal(t, time.Minute, p.Backoff(0))
	assert.Equal(t, 2*time.Minute, p.Backoff(1))
	assert.Equal(t, 4*time.Minute, p.Backoff(2))
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(fmt.Errorf("x: %w", services.ErrNotFound)))
	assert.True(t, Permanent(mailer.ErrPermanent))
	assert.False(t, Permanent(errors.New("timeout")))
}

func TestSweepSendsRemindersAndDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.draft(t)
	_, _, err := f.invoices.RequestSend(ctx, f.tenant.Id, inv.ID)
	require.NoError(t, err)
	past := time.Now().UTC().AddDate(0, 0, -40)
	require.NoError(t, f.db.Model(&models.Invoice{}).Where("id = ?", inv.ID).Updates(map[string]any{
		"issue_date": datatypes.Date(models.DateOf(past)),
		"due_date":   datatypes.Date(models.DateOf(past.AddDate(0, 0, 10))),
	}).Error)

	digest := NewDigest(f.invoices, f.sender, NewComposer("no-reply@invoicesnap.test", "InvoiceSnap"), false, zap.NewNop())
	sweep := services.NewOverdueSweep(f.db, f.runner, zap.NewNop()).WithNotifier(digest)

	report, err := sweep.Run(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flipped)
	assert.Equal(t, 1, report.Enqueued)

	// invoice, reminder, digest
	require.Len(t, f.sender.sent, 3)
	assert.Contains(t, f.sender.sent[1].Subject, "Reminder")
	d := f.sender.sent[2]
	assert.Equal(t, "jane@example.com", d.To[0].Email)
	assert.Contains(t, d.Subject, "1 invoice(s) now overdue")
	assert.Contains(t, d.HTML, inv.Number)
	assert.Contains(t, d.HTML, "Acme")

	_, err = sweep.Run(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 3)
}

func TestDigestFailuresAreCountedNotFatal(t *testing.T) {
	f := newFixture(t)
	inv := f.draft(t)
	f.sender.fail = func(int) error { return errors.New("brevo: 503") }

	digest := NewDigest(f.invoices, f.sender, NewComposer("no-reply@invoicesnap.test", "InvoiceSnap"), false, zap.NewNop())
	assert.NoError(t, digest.NotifyOverdue(context.Background(), []uint{inv.ID, 9999}, time.Now()))

	loud := NewDigest(f.invoices, f.sender, NewComposer("no-reply@invoicesnap.test", "InvoiceSnap"), true, zap.NewNop())
	assert.ErrorContains(t, loud.NotifyOverdue(context.Background(), []uint{inv.ID}, time.Now()), "brevo: 503")
}
