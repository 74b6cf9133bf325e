package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoicesnap-backend/delivery"
	"invoicesnap-backend/models"
	"invoicesnap-backend/services"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Deliveries is the dispatcher as seen by task handlers.
type Deliveries interface {
	Deliver(ctx context.Context, id uint, kind models.DeliveryKind, attempt int) (delivery.Result, error)
	RecordRetry(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error)
	Fail(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) string
}

// Sweeper runs the overdue sweep for a day.
type Sweeper interface {
	Run(ctx context.Context, today time.Time) (services.SweepReport, error)
}

// Processor holds the dependencies of the task handlers.
type Processor struct {
	deliveries Deliveries
	sweep      Sweeper
	loc        *time.Location
	log        *zap.Logger
	now        func() time.Time
}

func NewProcessor(deliveries Deliveries, sweep Sweeper, loc *time.Location, log *zap.Logger) *Processor {
	return &Processor{deliveries: deliveries, sweep: sweep, loc: loc, log: log, now: time.Now}
}

// HandleDeliveryTask performs one attempt. The last failed attempt settles
// the delivery as failed so the invoice keeps its draft status.
func (p *Processor) HandleDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload DeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode delivery payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.InvoiceID == 0 || !payload.Kind.Valid() {
		return fmt.Errorf("invalid delivery payload %s: %w", t.Payload(), asynq.SkipRetry)
	}

	attempt, final := attemptInfo(ctx)
	log := p.log.With(zap.Uint("invoice_id", payload.InvoiceID), zap.String("kind", string(payload.Kind)), zap.Int("attempt", attempt))

	res, err := p.deliveries.Deliver(ctx, payload.InvoiceID, payload.Kind, attempt)
	if err == nil {
		if res.Skipped {
			log.Info("delivery task skipped", zap.String("reason", res.Reason))
		}
		return nil
	}

	if errors.Is(err, services.ErrNotFound) {
		log.Warn("invoice gone, dropping delivery")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if final || delivery.Permanent(err) {
		warning := p.deliveries.Fail(context.WithoutCancel(ctx), payload.InvoiceID, payload.Kind, attempt, err)
		log.Warn("delivery task failed for good", zap.String("warning", warning), zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	p.deliveries.RecordRetry(ctx, payload.InvoiceID, payload.Kind, attempt, err)
	return err
}

// HandleSweepTask runs the overdue sweep for today in the scheduler's zone.
func (p *Processor) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	today := p.now().In(p.loc)
	report, err := p.sweep.Run(ctx, today)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	p.log.Info("sweep task done", zap.Int("flipped", report.Flipped), zap.Int("enqueued", report.Enqueued), zap.Int("failed", report.Failed))
	return nil
}

// attemptInfo returns the 1-based attempt number and whether it is the last
// one. Outside a worker every call is a single, final attempt.
func attemptInfo(ctx context.Context) (int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1, true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return retried + 1, true
	}
	return retried + 1, retried >= maxRetry
}
