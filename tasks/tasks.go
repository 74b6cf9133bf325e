// Package tasks runs invoice deliveries and the overdue sweep on asynq.
package tasks

import (
	"encoding/json"
	"fmt"

	"invoicesnap-backend/models"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	TypeInvoiceDeliver = "invoice:deliver"
	TypeOverdueSweep   = "invoice:sweep_overdue"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// DeliveryPayload only carries identifiers; the worker re-reads the invoice.
type DeliveryPayload struct {
	InvoiceID uint                `json:"invoice_id"`
	Kind      models.DeliveryKind `json:"kind"`
}

func NewDeliveryTask(invoiceID uint, kind models.DeliveryKind) (*asynq.Task, error) {
	payload, err := json.Marshal(DeliveryPayload{InvoiceID: invoiceID, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("encode delivery payload: %w", err)
	}
	return asynq.NewTask(TypeInvoiceDeliver, payload), nil
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeOverdueSweep, nil)
}

// RedisOpt derives the asynq connection from the shared redis client options.
func RedisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}
