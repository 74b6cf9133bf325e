package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicesnap-backend/database"
	"invoicesnap-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTaxRate is applied when an invoice is created without a rate.
var DefaultTaxRate = decimal.NewFromInt(20)

// DeliveryOutcome is what a caller learns right after asking for a delivery.
type DeliveryOutcome struct {
	Queued    bool   `json:"queued"`
	Delivered bool   `json:"delivered"`
	Warning   string `json:"warning,omitempty"`
}

// Deliverer hands a delivery to the background queue or runs it inline.
type Deliverer interface {
	RequestDelivery(ctx context.Context, invoiceID uint, kind models.DeliveryKind) (DeliveryOutcome, error)
}

// ItemInput is one line item as submitted by the tenant.
type ItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// InvoiceInput is the editable part of an invoice.
type InvoiceInput struct {
	ClientID  uint
	Number    string
	IssueDate time.Time // zero means today
	DueDate   time.Time
	TaxRate   *decimal.Decimal // nil means DefaultTaxRate
	Notes     string
	Items     []ItemInput
}

// InvoiceStats are the dashboard counters of one tenant.
type InvoiceStats struct {
	Total     int64 `json:"total"`
	Draft     int64 `json:"draft"`
	Sent      int64 `json:"sent"`
	Paid      int64 `json:"paid"`
	Overdue   int64 `json:"overdue"`
	Cancelled int64 `json:"cancelled"`
}

// InvoiceService owns the invoice lifecycle: totals, transitions and the
// bookkeeping around deliveries.
type InvoiceService struct {
	db        *gorm.DB
	log       *zap.Logger
	now       func() time.Time
	deliverer Deliverer
}

func NewInvoiceService(db *gorm.DB, log *zap.Logger) *InvoiceService {
	return &InvoiceService{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// UseDeliverer sets the delivery path. It is set after construction because
// the dispatcher records its outcomes through this service.
func (s *InvoiceService) UseDeliverer(d Deliverer) {
	s.deliverer = d
}

// WithClock replaces the time source; used by tests and the sweep command.
func (s *InvoiceService) WithClock(now func() time.Time) *InvoiceService {
	s.now = now
	return s
}

func (s *InvoiceService) today() time.Time {
	return models.DateOf(s.now())
}

// Create stores a draft invoice with its items. When send is set the
// invoice is handed to delivery after the commit; it only becomes sent once
// the delivery succeeded.
func (s *InvoiceService) Create(ctx context.Context, tenantID string, in InvoiceInput, send bool) (*models.Invoice, *DeliveryOutcome, error) {
	items, err := s.validateInput(&in, true)
	if err != nil {
		return nil, nil, err
	}
	if in.Number == "" {
		in.Number = s.generateNumber()
	}

	inv := models.Invoice{
		UserID:        tenantID,
		ClientID:      in.ClientID,
		Number:        in.Number,
		Status:        models.StatusDraft,
		IssueDate:     datatypes.Date(in.IssueDate),
		DueDate:       datatypes.Date(in.DueDate),
		TaxRate:       *in.TaxRate,
		Subtotal:      decimal.Zero,
		TaxAmount:     decimal.Zero,
		Total:         decimal.Zero,
		Notes:         in.Notes,
		DeliveryState: models.DeliveryNone,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkClient(tx, tenantID, in.ClientID); err != nil {
			return err
		}
		if err := s.checkNumberFree(tx, in.Number, 0); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&inv).Error; err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		if err := replaceItems(tx, inv.ID, items); err != nil {
			return err
		}
		return recalculate(tx, &inv)
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("invoice created", zap.Uint("invoice_id", inv.ID), zap.String("user_id", tenantID), zap.Bool("send", send))

	var outcome *DeliveryOutcome
	if send {
		out := s.requestDelivery(ctx, inv.ID, models.KindInvoice)
		outcome = &out
	}
	created, err := s.Get(ctx, tenantID, inv.ID)
	if err != nil {
		return nil, nil, err
	}
	return created, outcome, nil
}

// Update replaces the header fields and the items of an invoice. Sending is
// only requested when the invoice is still a draft.
func (s *InvoiceService) Update(ctx context.Context, tenantID string, id uint, in InvoiceInput, send bool) (*models.Invoice, *DeliveryOutcome, error) {
	items, err := s.validateInput(&in, false)
	if err != nil {
		return nil, nil, err
	}

	var wasDraft bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := findInvoice(tx, tenantID, id)
		if err != nil {
			return err
		}
		if inv.Status.Terminal() {
			return invalid("status", fmt.Sprintf("a %s invoice can no longer be edited", inv.Status))
		}
		wasDraft = inv.Status == models.StatusDraft
		if err := s.checkClient(tx, tenantID, in.ClientID); err != nil {
			return err
		}
		if in.Number == "" {
			in.Number = inv.Number
		}
		if err := s.checkNumberFree(tx, in.Number, inv.ID); err != nil {
			return err
		}
		if err := tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).Updates(map[string]any{
			"client_id":  in.ClientID,
			"number":     in.Number,
			"issue_date": datatypes.Date(in.IssueDate),
			"due_date":   datatypes.Date(in.DueDate),
			"tax_rate":   *in.TaxRate,
			"notes":      in.Notes,
		}).Error; err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		inv.TaxRate = *in.TaxRate
		if err := replaceItems(tx, inv.ID, items); err != nil {
			return err
		}
		return recalculate(tx, inv)
	})
	if err != nil {
		return nil, nil, err
	}

	var outcome *DeliveryOutcome
	if send && wasDraft {
		out := s.requestDelivery(ctx, id, models.KindInvoice)
		outcome = &out
	}
	updated, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, outcome, nil
}

// Get loads one invoice of the tenant with client and items.
func (s *InvoiceService) Get(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Scopes(database.TenantScope(tenantID)).
		Preload("Client").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// List returns the tenant's invoices, newest first, optionally filtered by status.
func (s *InvoiceService) List(ctx context.Context, tenantID string, status models.InvoiceStatus) ([]models.Invoice, error) {
	q := s.db.WithContext(ctx).Scopes(database.TenantScope(tenantID)).Preload("Client")
	if status != "" {
		if !status.Valid() {
			return nil, invalid("status", "unknown status")
		}
		q = q.Where("status = ?", status)
	}
	var invoices []models.Invoice
	if err := q.Order("issue_date DESC").Order("created_at DESC").Order("id DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListOverdue is the "is overdue" query: awaiting payment and past due.
func (s *InvoiceService) ListOverdue(ctx context.Context, tenantID string, today time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Scopes(database.TenantScope(tenantID)).
		Where("status IN ?", []models.InvoiceStatus{models.StatusSent, models.StatusOverdue}).
		Where("due_date < ?", datatypes.Date(models.DateOf(today))).
		Order("due_date").
		Find(&invoices).Error
	return invoices, err
}

// Stats counts the tenant's invoices per status.
func (s *InvoiceService) Stats(ctx context.Context, tenantID string) (InvoiceStats, error) {
	var rows []struct {
		Status models.InvoiceStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Scopes(database.TenantScope(tenantID)).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return InvoiceStats{}, err
	}
	var st InvoiceStats
	for _, r := range rows {
		st.Total += r.Count
		switch r.Status {
		case models.StatusDraft:
			st.Draft = r.Count
		case models.StatusSent:
			st.Sent = r.Count
		case models.StatusPaid:
			st.Paid = r.Count
		case models.StatusOverdue:
			st.Overdue = r.Count
		case models.StatusCancelled:
			st.Cancelled = r.Count
		}
	}
	return st, nil
}

// Delete removes an invoice and its items. It returns the deleted number.
func (s *InvoiceService) Delete(ctx context.Context, tenantID string, id uint) (string, error) {
	var number string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := findInvoice(tx, tenantID, id)
		if err != nil {
			return err
		}
		number = inv.Number
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Invoice{}, inv.ID).Error
	})
	return number, err
}

// AddItem appends a line item and recomputes the invoice aggregates.
func (s *InvoiceService) AddItem(ctx context.Context, tenantID string, invoiceID uint, in ItemInput) (*models.Invoice, error) {
	item, err := buildItem(in, "")
	if err != nil {
		return nil, err
	}
	err = s.mutateItems(ctx, tenantID, invoiceID, func(tx *gorm.DB, inv *models.Invoice) error {
		item.InvoiceID = inv.ID
		return tx.Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, invoiceID)
}

// UpdateItem edits a line item and recomputes the invoice aggregates.
func (s *InvoiceService) UpdateItem(ctx context.Context, tenantID string, invoiceID, itemID uint, in ItemInput) (*models.Invoice, error) {
	item, err := buildItem(in, "")
	if err != nil {
		return nil, err
	}
	err = s.mutateItems(ctx, tenantID, invoiceID, func(tx *gorm.DB, inv *models.Invoice) error {
		res := tx.Model(&models.InvoiceItem{}).
			Where("id = ? AND invoice_id = ?", itemID, inv.ID).
			Updates(map[string]any{
				"description": item.Description,
				"quantity":    item.Quantity,
				"unit_price":  item.UnitPrice,
				"total":       item.Total,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, invoiceID)
}

// DeleteItem removes a line item and recomputes the invoice aggregates.
func (s *InvoiceService) DeleteItem(ctx context.Context, tenantID string, invoiceID, itemID uint) (*models.Invoice, error) {
	err := s.mutateItems(ctx, tenantID, invoiceID, func(tx *gorm.DB, inv *models.Invoice) error {
		res := tx.Where("id = ? AND invoice_id = ?", itemID, inv.ID).Delete(&models.InvoiceItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, invoiceID)
}

// Recalculate recomputes the aggregates of an invoice from its current items.
func (s *InvoiceService) Recalculate(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := findInvoice(tx, tenantID, id)
		if err != nil {
			return err
		}
		return recalculate(tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, id)
}

// RequestSend asks for the first delivery of a draft invoice.
func (s *InvoiceService) RequestSend(ctx context.Context, tenantID string, id uint) (*models.Invoice, DeliveryOutcome, error) {
	inv, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, DeliveryOutcome{}, err
	}
	if err := checkTransition(inv.Status, models.StatusSent, TriggerDelivery); err != nil {
		return nil, DeliveryOutcome{}, err
	}
	outcome := s.requestDelivery(ctx, inv.ID, models.KindInvoice)
	inv, err = s.Get(ctx, tenantID, id)
	return inv, outcome, err
}

// SendCopy e-mails the invoice again without touching its status.
func (s *InvoiceService) SendCopy(ctx context.Context, tenantID string, id uint) (DeliveryOutcome, error) {
	inv, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return DeliveryOutcome{}, err
	}
	if inv.Status == models.StatusCancelled {
		return DeliveryOutcome{}, invalid("status", "a cancelled invoice cannot be sent")
	}
	return s.requestDelivery(ctx, inv.ID, models.KindCopy), nil
}

// MarkPaid settles an awaiting-payment invoice.
func (s *InvoiceService) MarkPaid(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	now := s.now()
	return s.transition(ctx, tenantID, id, models.StatusPaid, TriggerUser, map[string]any{"paid_at": &now})
}

// Cancel moves a non-terminal invoice to cancelled.
func (s *InvoiceService) Cancel(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	return s.transition(ctx, tenantID, id, models.StatusCancelled, TriggerUser, nil)
}

func (s *InvoiceService) transition(ctx context.Context, tenantID string, id uint, to models.InvoiceStatus, by Trigger, extra map[string]any) (*models.Invoice, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := findInvoice(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := checkTransition(inv.Status, to, by); err != nil {
			return err
		}
		updates := map[string]any{"status": to}
		for k, v := range extra {
			updates[k] = v
		}
		res := tx.Model(&models.Invoice{}).Where("id = ? AND status = ?", inv.ID, inv.Status).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: invoice %d changed concurrently", ErrInvalidTransition, inv.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("invoice status changed", zap.Uint("invoice_id", id), zap.String("status", string(to)), zap.String("trigger", string(by)))
	return s.Get(ctx, tenantID, id)
}

// LoadForDelivery re-reads an invoice with everything a delivery needs.
func (s *InvoiceService) LoadForDelivery(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Client").
		Preload("User.Profile").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// RecordAttempt logs one failed delivery try. Successful tries are recorded
// by CompleteDelivery together with their effect.
func (s *InvoiceService) RecordAttempt(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) error {
	return s.db.WithContext(ctx).Create(&models.DeliveryAttempt{
		InvoiceID: id,
		Kind:      kind,
		Attempt:   attempt,
		Succeeded: false,
		Error:     errString(cause),
	}).Error
}

// CompleteDelivery records a successful delivery and, for the first
// delivery of a draft, moves it to sent. Both writes share a transaction so
// a sent invoice always has a recorded successful delivery.
func (s *InvoiceService) CompleteDelivery(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, detail datatypes.JSON) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		if err := tx.First(&inv, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("invoice %d: %w", id, ErrNotFound)
			}
			return err
		}
		if err := tx.Create(&models.DeliveryAttempt{
			InvoiceID: id,
			Kind:      kind,
			Attempt:   attempt,
			Succeeded: true,
			Detail:    detail,
		}).Error; err != nil {
			return err
		}
		if kind != models.KindInvoice {
			return nil
		}
		if inv.Status != models.StatusDraft {
			// Duplicate execution of an already completed delivery.
			return nil
		}
		if err := checkTransition(inv.Status, models.StatusSent, TriggerDelivery); err != nil {
			return err
		}
		now := s.now()
		return tx.Model(&models.Invoice{}).Where("id = ? AND status = ?", id, models.StatusDraft).Updates(map[string]any{
			"status":           models.StatusSent,
			"sent_at":          &now,
			"delivery_state":   models.DeliveryDelivered,
			"delivery_warning": "",
		}).Error
	})
	if err != nil {
		return err
	}
	s.log.Info("delivery completed", zap.Uint("invoice_id", id), zap.String("kind", string(kind)), zap.Int("attempt", attempt))
	return nil
}

// FailDelivery records that a delivery exhausted its attempts. The invoice
// status never advances; a first delivery leaves the invoice in draft.
func (s *InvoiceService) FailDelivery(ctx context.Context, id uint, kind models.DeliveryKind, attempt int, cause error) (string, error) {
	warning := fmt.Sprintf("%s delivery failed after %d attempt(s): %s", kind, attempt, errString(cause))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if attempt > 0 {
			if err := tx.Create(&models.DeliveryAttempt{
				InvoiceID: id,
				Kind:      kind,
				Attempt:   attempt,
				Succeeded: false,
				Error:     errString(cause),
			}).Error; err != nil {
				return err
			}
		}
		updates := map[string]any{"delivery_warning": warning}
		if kind == models.KindInvoice {
			updates["delivery_state"] = models.DeliveryFailed
			updates["status"] = models.StatusDraft
			updates["sent_at"] = nil
			return tx.Model(&models.Invoice{}).Where("id = ? AND status IN ?", id, []models.InvoiceStatus{models.StatusDraft, models.StatusSent}).
				Where("delivery_state <> ?", models.DeliveryDelivered).
				Updates(updates).Error
		}
		return tx.Model(&models.Invoice{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return warning, err
	}
	s.log.Warn("delivery failed", zap.Uint("invoice_id", id), zap.String("kind", string(kind)), zap.Int("attempt", attempt), zap.Error(cause))
	return warning, nil
}

// requestDelivery never fails the calling CRUD action: problems come back
// as a warning.
func (s *InvoiceService) requestDelivery(ctx context.Context, id uint, kind models.DeliveryKind) DeliveryOutcome {
	if s.deliverer == nil {
		warning, _ := s.FailDelivery(ctx, id, kind, 0, errors.New("delivery is not configured"))
		return DeliveryOutcome{Warning: warning}
	}
	if kind == models.KindInvoice {
		if err := s.db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", id).Updates(map[string]any{
			"delivery_state":   models.DeliveryPending,
			"delivery_warning": "",
		}).Error; err != nil {
			s.log.Error("mark delivery pending", zap.Uint("invoice_id", id), zap.Error(err))
		}
	}
	out, err := s.deliverer.RequestDelivery(ctx, id, kind)
	if err != nil {
		warning, ferr := s.FailDelivery(ctx, id, kind, 0, err)
		if ferr != nil {
			s.log.Error("record delivery failure", zap.Uint("invoice_id", id), zap.Error(ferr))
		}
		return DeliveryOutcome{Warning: warning}
	}
	return out
}

func (s *InvoiceService) mutateItems(ctx context.Context, tenantID string, invoiceID uint, fn func(tx *gorm.DB, inv *models.Invoice) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := findInvoice(tx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status.Terminal() {
			return invalid("status", fmt.Sprintf("a %s invoice can no longer be edited", inv.Status))
		}
		if err := fn(tx, inv); err != nil {
			return err
		}
		return recalculate(tx, inv)
	})
}

func (s *InvoiceService) validateInput(in *InvoiceInput, creating bool) ([]models.InvoiceItem, error) {
	var errs ValidationErrors
	in.Number = strings.TrimSpace(in.Number)
	in.Notes = strings.TrimSpace(in.Notes)

	if in.ClientID == 0 {
		errs = append(errs, invalid("client_id", "is required"))
	}
	today := s.today()
	if in.IssueDate.IsZero() {
		in.IssueDate = today
	}
	in.IssueDate = models.DateOf(in.IssueDate)
	if creating && in.IssueDate.After(today) {
		errs = append(errs, invalid("issue_date", "must not be in the future"))
	}
	if in.DueDate.IsZero() {
		errs = append(errs, invalid("due_date", "is required"))
	} else {
		in.DueDate = models.DateOf(in.DueDate)
		if in.DueDate.Before(in.IssueDate) {
			errs = append(errs, invalid("due_date", "must not be before the issue date"))
		}
	}
	if in.TaxRate == nil {
		rate := DefaultTaxRate
		in.TaxRate = &rate
	}
	rate := in.TaxRate.Round(2)
	in.TaxRate = &rate
	if err := validateTaxRate(rate); err != nil {
		errs = append(errs, err.(*ValidationError))
	}

	items := make([]models.InvoiceItem, 0, len(in.Items))
	for i, it := range in.Items {
		item, err := buildItem(it, fmt.Sprintf("items[%d].", i))
		if err != nil {
			var ve ValidationErrors
			if errors.As(err, &ve) {
				errs = append(errs, ve...)
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *InvoiceService) checkClient(tx *gorm.DB, tenantID string, clientID uint) error {
	var count int64
	if err := tx.Model(&models.Client{}).Scopes(database.TenantScope(tenantID)).Where("id = ?", clientID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return invalid("client_id", "unknown client")
	}
	return nil
}

func (s *InvoiceService) checkNumberFree(tx *gorm.DB, number string, selfID uint) error {
	var count int64
	if err := tx.Model(&models.Invoice{}).Where("number = ? AND id <> ?", number, selfID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("invoice number %s: %w", number, ErrDuplicate)
	}
	return nil
}

func (s *InvoiceService) generateNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("INV-%d-%s", s.now().Year(), id[:8])
}

// buildItem validates an item and computes its line total.
func buildItem(in ItemInput, prefix string) (models.InvoiceItem, error) {
	desc := strings.TrimSpace(in.Description)
	var errs ValidationErrors
	if desc == "" {
		errs = append(errs, invalid(prefix+"description", "is required"))
	}
	total, err := LineTotal(in.Quantity, in.UnitPrice)
	if err != nil {
		var ve ValidationErrors
		if !errors.As(err, &ve) {
			return models.InvoiceItem{}, err
		}
		for _, e := range ve {
			errs = append(errs, invalid(prefix+e.Field, e.Message))
		}
	}
	if err := errs.orNil(); err != nil {
		return models.InvoiceItem{}, err
	}
	return models.InvoiceItem{
		Description: desc,
		Quantity:    in.Quantity.Round(2),
		UnitPrice:   in.UnitPrice.Round(2),
		Total:       total,
	}, nil
}

func findInvoice(tx *gorm.DB, tenantID string, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Scopes(database.TenantScope(tenantID)).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func replaceItems(tx *gorm.DB, invoiceID uint, items []models.InvoiceItem) error {
	if err := tx.Where("invoice_id = ?", invoiceID).Delete(&models.InvoiceItem{}).Error; err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	for i := range items {
		items[i].ID = 0
		items[i].InvoiceID = invoiceID
		if err := tx.Create(&items[i]).Error; err != nil {
			return fmt.Errorf("create item: %w", err)
		}
	}
	return nil
}

// recalculate writes subtotal, tax and total from the current items in a
// single UPDATE of the caller's transaction.
func recalculate(tx *gorm.DB, inv *models.Invoice) error {
	var items []models.InvoiceItem
	if err := tx.Where("invoice_id = ?", inv.ID).Order("id").Find(&items).Error; err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	t := ComputeTotals(items, inv.TaxRate)
	if err := tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).Updates(map[string]any{
		"subtotal":   t.Subtotal,
		"tax_amount": t.TaxAmount,
		"total":      t.Total,
	}).Error; err != nil {
		return fmt.Errorf("store totals: %w", err)
	}
	inv.Items = items
	inv.Subtotal, inv.TaxAmount, inv.Total = t.Subtotal, t.TaxAmount, t.Total
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
