package services

import (
	"fmt"

	"invoicesnap-backend/models"
)

// Trigger names who asks for a transition. Some transitions may only be
// performed by a specific trigger.
type Trigger string

const (
	TriggerUser     Trigger = "user"     // explicit manual action
	TriggerDelivery Trigger = "delivery" // successful delivery
	TriggerSweep    Trigger = "sweep"    // daily overdue sweep
)

type transition struct {
	from models.InvoiceStatus
	to   models.InvoiceStatus
}

var transitions = map[transition]Trigger{
	{models.StatusDraft, models.StatusSent}:        TriggerDelivery,
	{models.StatusSent, models.StatusOverdue}:      TriggerSweep,
	{models.StatusSent, models.StatusPaid}:         TriggerUser,
	{models.StatusOverdue, models.StatusPaid}:      TriggerUser,
	{models.StatusDraft, models.StatusCancelled}:   TriggerUser,
	{models.StatusSent, models.StatusCancelled}:    TriggerUser,
	{models.StatusOverdue, models.StatusCancelled}: TriggerUser,
}

// CanTransition reports whether trigger may move an invoice from one status to another.
func CanTransition(from, to models.InvoiceStatus, by Trigger) bool {
	want, ok := transitions[transition{from, to}]
	return ok && want == by
}

// checkTransition wraps ErrInvalidTransition with the offending pair.
func checkTransition(from, to models.InvoiceStatus, by Trigger) error {
	if !CanTransition(from, to, by) {
		return fmt.Errorf("%w: %s -> %s by %s", ErrInvalidTransition, from, to, by)
	}
	return nil
}
