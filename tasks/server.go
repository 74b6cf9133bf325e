package tasks

import (
	"context"
	"time"

	"invoicesnap-backend/delivery"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RetryDelay spaces retries by the policy backoff; n is the number of
// retries already done.
func RetryDelay(policy delivery.Policy) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return policy.Backoff(n)
	}
}

// SetupServer builds the worker server and its handler mux.
func SetupServer(opt asynq.RedisClientOpt, processor *Processor, concurrency int, policy delivery.Policy, log *zap.Logger) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		RetryDelayFunc: RetryDelay(policy),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			log.Warn("task failed", zap.String("type", task.Type()), zap.ByteString("payload", task.Payload()), zap.Int("retried", retried), zap.Error(err))
		}),
		Logger: newAsynqLogger(log),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeInvoiceDeliver, processor.HandleDeliveryTask)
	mux.HandleFunc(TypeOverdueSweep, processor.HandleSweepTask)
	return srv, mux
}

// NewScheduler registers the daily overdue sweep.
func NewScheduler(opt asynq.RedisClientOpt, cron string, loc *time.Location, log *zap.Logger) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: loc,
		Logger:   newAsynqLogger(log),
	})
	entryID, err := s.Register(cron, NewSweepTask(), asynq.Queue(QueueDefault), asynq.MaxRetry(1))
	if err != nil {
		return nil, err
	}
	log.Info("overdue sweep scheduled", zap.String("cron", cron), zap.String("tz", loc.String()), zap.String("entry_id", entryID))
	return s, nil
}

// asynqLogger adapts zap to asynq.Logger.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func newAsynqLogger(log *zap.Logger) asynqLogger {
	return asynqLogger{s: log.Named("asynq").Sugar()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
