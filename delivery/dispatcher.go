package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"invoicesnap-backend/mailer"
	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Store is the invoice bookkeeping the dispatcher relies on.
// *services.InvoiceService implements it.
type Store interface {
	LoadForDelivery(ctx context.Context, id uint) (*models.Invoice, error)
	RecordAttempt(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) error
	CompleteDelivery(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, detail datatypes.JSON) error
	FailDelivery(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) (string, error)
}

// Renderer turns an invoice into PDF bytes.
type Renderer interface {
	Render(inv *models.Invoice) ([]byte, error)
}

// Result is the outcome of a successful or skipped attempt.
type Result struct {
	Skipped   bool
	Reason    string
	MessageID string
}

// Dispatcher performs single delivery attempts. Retrying is left to the
// caller: the task worker or the SyncRunner.
type Dispatcher struct {
	store    Store
	renderer Renderer
	sender   mailer.Sender
	composer *Composer
	timeout  time.Duration
	log      *zap.Logger
}

func NewDispatcher(store Store, renderer Renderer, sender mailer.Sender, composer *Composer, timeout time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, renderer: renderer, sender: sender, composer: composer, timeout: timeout, log: log}
}

// Deliver re-reads the invoice, skips work made stale since it was
// requested, and sends the message. A successful invoice delivery moves the
// invoice to sent.
func (d *Dispatcher) Deliver(ctx context.Context, id uint, kind models.DeliveryKind, attempt int) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("%w: unknown delivery kind %q", mailer.ErrPermanent, kind)
	}
	inv, err := d.store.LoadForDelivery(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if reason := staleReason(inv, kind); reason != "" {
		d.log.Info("delivery skipped", zap.Uint("invoice_id", id), zap.String("kind", string(kind)), zap.String("reason", reason))
		return Result{Skipped: true, Reason: reason}, nil
	}

	pdf, err := d.renderer.Render(inv)
	if err != nil {
		return Result{}, err
	}
	msg, err := d.composer.Compose(inv, kind, pdf)
	if err != nil {
		return Result{}, err
	}

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	messageID, err := d.sender.Send(sendCtx, msg)
	if err != nil {
		d.log.Warn("delivery attempt failed", zap.Uint("invoice_id", id), zap.String("kind", string(kind)), zap.Int("attempt", attempt), zap.Error(err))
		return Result{}, err
	}

	// The message is out; recording it must not depend on the remaining deadline.
	detail, _ := json.Marshal(map[string]any{"message_id": messageID, "to": inv.Client.Email})
	if err := d.store.CompleteDelivery(context.WithoutCancel(ctx), id, kind, attempt, datatypes.JSON(detail)); err != nil {
		return Result{}, fmt.Errorf("record delivery: %w", err)
	}
	return Result{MessageID: messageID}, nil
}

// RecordRetry notes a failed attempt that will be retried.
func (d *Dispatcher) RecordRetry(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) {
	if err := d.store.RecordAttempt(ctx, id, kind, attempt, cause); err != nil {
		d.log.Error("record delivery attempt", zap.Uint("invoice_id", id), zap.Error(err))
	}
}

// Fail settles a delivery whose attempts are exhausted and returns the warning.
func (d *Dispatcher) Fail(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) string {
	warning, err := d.store.FailDelivery(ctx, id, kind, attempt, cause)
	if err != nil {
		d.log.Error("record delivery failure", zap.Uint("invoice_id", id), zap.Error(err))
	}
	return warning
}

// staleReason is empty when the delivery still makes sense.
func staleReason(inv *models.Invoice, kind models.DeliveryKind) string {
	switch kind {
	case models.KindInvoice:
		if inv.Status != models.StatusDraft {
			return fmt.Sprintf("invoice is already %s", inv.Status)
		}
	case models.KindReminder:
		if !inv.Status.AwaitingPayment() {
			return fmt.Sprintf("invoice is %s", inv.Status)
		}
	case models.KindCopy:
		if inv.Status == models.StatusCancelled {
			return "invoice is cancelled"
		}
	}
	return ""
}

func dateString(d datatypes.Date) string {
	return time.Time(d).Format("02/01/2006")
}
