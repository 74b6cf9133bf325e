package services

import (
	"context"
	"fmt"
	"time"

	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReminderQueue schedules one reminder per invoice and day. It reports false
// when that reminder was already scheduled.
type ReminderQueue interface {
	EnqueueReminder(ctx context.Context, invoiceID uint, on time.Time) (bool, error)
}

// ReminderKey identifies the reminder of an invoice for one sweep day.
func ReminderKey(invoiceID uint, on time.Time) string {
	return fmt.Sprintf("reminder:%d:%s", invoiceID, models.DateOf(on).Format("2006-01-02"))
}

// OverdueNotifier tells tenants which of their invoices became overdue.
type OverdueNotifier interface {
	NotifyOverdue(ctx context.Context, invoiceIDs []uint, day time.Time) error
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Flipped  int `json:"flipped"`
	Enqueued int `json:"enqueued"`
	Failed   int `json:"failed"`
}

// OverdueSweep marks past-due sent invoices overdue across all tenants and
// schedules their reminders.
type OverdueSweep struct {
	db        *gorm.DB
	reminders ReminderQueue
	notifier  OverdueNotifier
	log       *zap.Logger
}

func NewOverdueSweep(db *gorm.DB, reminders ReminderQueue, log *zap.Logger) *OverdueSweep {
	return &OverdueSweep{db: db, reminders: reminders, log: log}
}

// WithNotifier sends a per-tenant digest after each run that flipped invoices.
func (s *OverdueSweep) WithNotifier(n OverdueNotifier) *OverdueSweep {
	s.notifier = n
	return s
}

// Run evaluates every invoice in sent whose due date is before today. Each
// flip is a conditional update, so concurrent runs flip an invoice once and
// only the winner schedules its reminder.
func (s *OverdueSweep) Run(ctx context.Context, today time.Time) (SweepReport, error) {
	var report SweepReport
	day := models.DateOf(today)

	var candidates []models.Invoice
	err := s.db.WithContext(ctx).
		Select("id", "status").
		Where("status = ? AND due_date < ?", models.StatusSent, datatypes.Date(day)).
		Order("id").
		Find(&candidates).Error
	if err != nil {
		return report, fmt.Errorf("load sweep candidates: %w", err)
	}
	report.Scanned = len(candidates)
	var flipped []uint

	for _, inv := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := checkTransition(inv.Status, models.StatusOverdue, TriggerSweep); err != nil {
			continue
		}
		res := s.db.WithContext(ctx).Model(&models.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, models.StatusSent).
			Update("status", models.StatusOverdue)
		if res.Error != nil {
			report.Failed++
			s.log.Error("flip invoice overdue", zap.Uint("invoice_id", inv.ID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		report.Flipped++
		flipped = append(flipped, inv.ID)

		if s.reminders == nil {
			continue
		}
		queued, err := s.reminders.EnqueueReminder(ctx, inv.ID, day)
		if err != nil {
			report.Failed++
			s.log.Error("enqueue reminder", zap.Uint("invoice_id", inv.ID), zap.Error(err))
			continue
		}
		if queued {
			report.Enqueued++
		}
	}

	if s.notifier != nil && len(flipped) > 0 {
		// The digest is informational; reminders already carry the flip.
		if err := s.notifier.NotifyOverdue(ctx, flipped, day); err != nil {
			s.log.Warn("overdue digest failed", zap.Error(err))
		}
	}

	s.log.Info("overdue sweep finished",
		zap.Time("day", day),
		zap.Int("scanned", report.Scanned),
		zap.Int("flipped", report.Flipped),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("failed", report.Failed))
	return report, nil
}
