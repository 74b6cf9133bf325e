package delivery

import (
	"context"
	"time"

	"invoicesnap-backend/models"
	"invoicesnap-backend/services"

	"go.uber.org/zap"
)

// SyncRunner runs deliveries inline when no queue is available. All
// attempts of one delivery share a single timeout.
type SyncRunner struct {
	dispatcher *Dispatcher
	policy     Policy
	timeout    time.Duration
	log        *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewSyncRunner(d *Dispatcher, policy Policy, timeout time.Duration, log *zap.Logger) *SyncRunner {
	return &SyncRunner{dispatcher: d, policy: policy, timeout: timeout, log: log, sleep: sleepCtx}
}

// RequestDelivery implements services.Deliverer.
func (r *SyncRunner) RequestDelivery(ctx context.Context, id uint, kind models.DeliveryKind) (services.DeliveryOutcome, error) {
	// Bookkeeping must survive the send timeout.
	book := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var lastErr error
	attempt := 0
	for attempt < r.policy.MaxAttempts {
		attempt++
		res, err := r.dispatcher.Deliver(runCtx, id, kind, attempt)
		if err == nil {
			if res.Skipped {
				return services.DeliveryOutcome{Warning: "delivery skipped: " + res.Reason}, nil
			}
			return services.DeliveryOutcome{Delivered: true}, nil
		}
		lastErr = err
		if Permanent(err) || attempt == r.policy.MaxAttempts || runCtx.Err() != nil {
			break
		}
		r.dispatcher.RecordRetry(book, id, kind, attempt, err)
		if err := r.sleep(runCtx, r.policy.Backoff(attempt-1)); err != nil {
			lastErr = err
			break
		}
	}

	warning := r.dispatcher.Fail(book, id, kind, attempt, lastErr)
	r.log.Warn("inline delivery gave up", zap.Uint("invoice_id", id), zap.String("kind", string(kind)), zap.Int("attempts", attempt), zap.Error(lastErr))
	return services.DeliveryOutcome{Warning: warning}, nil
}

// EnqueueReminder implements services.ReminderQueue by delivering at once.
func (r *SyncRunner) EnqueueReminder(ctx context.Context, id uint, _ time.Time) (bool, error) {
	if _, err := r.RequestDelivery(ctx, id, models.KindReminder); err != nil {
		return false, err
	}
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
