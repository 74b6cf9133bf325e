package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"invoicesnap-backend/database"
	"invoicesnap-backend/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	return db
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	u := &models.User{FirstName: "Jane", LastName: "Doe", Email: email, Password: []byte("x")}
	require.NoError(t, db.Create(u).Error)
	return u
}

func createClient(t *testing.T, db *gorm.DB, tenantID, email string) *models.Client {
	t.Helper()
	c := &models.Client{
		UserID:     tenantID,
		Name:       "Acme",
		Email:      email,
		Address:    "1 rue de la Paix",
		PostalCode: "75002",
		City:       "Paris",
		Country:    "France",
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(offset int) time.Time {
	return models.DateOf(fixedNow).AddDate(0, 0, offset)
}

func newInvoiceService(db *gorm.DB) *InvoiceService {
	return NewInvoiceService(db, zap.NewNop()).WithClock(func() time.Time { return fixedNow })
}

// scenarioInput is 2 x 50.00 and 1 x 25.00 at 20%.
func scenarioInput(clientID uint) InvoiceInput {
	rate := dec("20")
	return InvoiceInput{
		ClientID:  clientID,
		IssueDate: day(0),
		DueDate:   day(30),
		TaxRate:   &rate,
		Items: []ItemInput{
			{Description: "Design", Quantity: dec("2"), UnitPrice: dec("50.00")},
			{Description: "Hosting", Quantity: dec("1"), UnitPrice: dec("25.00")},
		},
	}
}

// fakeDeliverer records requests and lets a test decide the outcome.
type fakeDeliverer struct {
	mu       sync.Mutex
	requests []models.DeliveryKind
	handle   func(ctx context.Context, id uint, kind models.DeliveryKind) (DeliveryOutcome, error)
}

func (f *fakeDeliverer) RequestDelivery(ctx context.Context, id uint, kind models.DeliveryKind) (DeliveryOutcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, kind)
	f.mu.Unlock()
	if f.handle == nil {
		return DeliveryOutcome{Queued: true}, nil
	}
	return f.handle(ctx, id, kind)
}

// fakeReminders is an in-memory reminder queue keyed like the real one.
type fakeReminders struct {
	mu   sync.Mutex
	seen map[string]bool
	ids  []uint
	err  error
}

func (f *fakeReminders) EnqueueReminder(_ context.Context, id uint, on time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := ReminderKey(id, on)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.ids = append(f.ids, id)
	return true, nil
}
