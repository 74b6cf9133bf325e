package services

import (
	"errors"
	"testing"

	"invoicesnap-backend/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.InvoiceStatus
		by       Trigger
		want     bool
	}{
		{models.StatusDraft, models.StatusSent, TriggerDelivery, true},
		{models.StatusDraft, models.StatusSent, TriggerUser, false},
		{models.StatusSent, models.StatusOverdue, TriggerSweep, true},
		{models.StatusSent, models.StatusOverdue, TriggerUser, false},
		{models.StatusDraft, models.StatusOverdue, TriggerSweep, false},
		{models.StatusSent, models.StatusPaid, TriggerUser, true},
		{models.StatusOverdue, models.StatusPaid, TriggerUser, true},
		{models.StatusDraft, models.StatusPaid, TriggerUser, false},
		{models.StatusDraft, models.StatusCancelled, TriggerUser, true},
		{models.StatusOverdue, models.StatusCancelled, TriggerUser, true},
		{models.StatusPaid, models.StatusCancelled, TriggerUser, false},
		{models.StatusCancelled, models.StatusDraft, TriggerUser, false},
		{models.StatusPaid, models.StatusSent, TriggerDelivery, false},
		{models.StatusOverdue, models.StatusSent, TriggerUser, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.to)+"_"+string(tt.by), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.by))
		})
	}
}

func TestCheckTransitionWrapsSentinel(t *testing.T) {
	err := checkTransition(models.StatusPaid, models.StatusDraft, TriggerUser)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "paid -> draft")
}
