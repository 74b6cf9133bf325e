package services

import (
	"context"
	"testing"
	"time"

	"invoicesnap-backend/billing"
	"invoicesnap-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) RetrieveCheckoutSession(ctx context.Context, id string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(billing.Event), args.Error(1)
}

func newBilling(t *testing.T, provider billing.Provider) (*BillingService, *SubscriptionGate, *models.User) {
	db := openDB(t)
	u := createUser(t, db, "jane@example.com")
	expired := fixedNow.Add(-time.Hour)
	require.NoError(t, db.Create(&models.SubscriptionProfile{UserID: u.Id, TrialEnd: &expired}).Error)
	gate := NewSubscriptionGate(db, 30, zap.NewNop())
	return NewBillingService(db, provider, gate, "https://app.test", 9, zap.NewNop()), gate, u
}

func TestWebhookActivatesExpiredTrial(t *testing.T) {
	svc, gate, u := newBilling(t, &mockProvider{})
	ctx := context.Background()

	d, err := gate.Check(ctx, u, fixedNow)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	ev := billing.CheckoutCompleted{
		Envelope:       billing.Envelope{ID: "evt_1", Type: billing.TypeCheckoutCompleted, Payload: []byte(`{"id":"cs_1"}`)},
		UserID:         u.Id,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	}
	outcome, err := svc.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "premium activated", outcome)

	d, err = gate.Check(ctx, u, fixedNow)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Premium)

	p, err := gate.Profile(ctx, u.Id, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", p.StripeCustomerID)
	assert.Equal(t, "sub_1", p.StripeSubscriptionID)
	assert.NotNil(t, p.PremiumSince)

	outcome, err = svc.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", outcome)
}

func TestWebhookLookupMissesAreSwallowed(t *testing.T) {
	svc, _, _ := newBilling(t, &mockProvider{})
	ctx := context.Background()

	tests := []struct {
		ev   billing.Event
		want string
	}{
		{billing.CheckoutCompleted{Envelope: billing.Envelope{ID: "evt_a"}, UserID: "missing"}, "user missing"},
		{billing.CheckoutCompleted{Envelope: billing.Envelope{ID: "evt_b"}}, "user missing"},
		{billing.SubscriptionDeleted{Envelope: billing.Envelope{ID: "evt_c"}, SubscriptionID: "sub_x"}, "profile missing"},
		{billing.PaymentFailed{Envelope: billing.Envelope{ID: "evt_d"}, CustomerID: "cus_x"}, "profile missing"},
		{billing.Unhandled{Envelope: billing.Envelope{ID: "evt_e", Type: "customer.created"}}, "ignored"},
	}
	for _, tt := range tests {
		outcome, err := svc.HandleEvent(ctx, tt.ev)
		require.NoError(t, err)
		assert.Equal(t, tt.want, outcome)
	}
}

func TestSubscriptionDeletedRevokesPremium(t *testing.T) {
	svc, gate, u := newBilling(t, &mockProvider{})
	ctx := context.Background()

	_, err := svc.HandleEvent(ctx, billing.CheckoutCompleted{Envelope: billing.Envelope{ID: "evt_1"}, UserID: u.Id, CustomerID: "cus_1", SubscriptionID: "sub_1"})
	require.NoError(t, err)

	_, err = svc.HandleEvent(ctx, billing.PaymentFailed{Envelope: billing.Envelope{ID: "evt_2"}, CustomerID: "cus_1"})
	require.NoError(t, err)
	d, err := gate.Check(ctx, u, fixedNow)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a failed payment does not revoke access")

	outcome, err := svc.HandleEvent(ctx, billing.SubscriptionDeleted{Envelope: billing.Envelope{ID: "evt_3"}, SubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.Equal(t, "premium revoked", outcome)
	d, err = gate.Check(ctx, u, fixedNow)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCheckoutFlow(t *testing.T) {
	provider := &mockProvider{}
	svc, gate, u := newBilling(t, provider)
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	provider.On("CreateCheckoutSession", ctx, billing.CheckoutRequest{
		UserID:     u.Id,
		Email:      u.Email,
		SuccessURL: "https://app.test/api/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://app.test/api/billing/upgrade",
	}).Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil)
	url, err := svc.StartCheckout(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_1", url)

	provider.On("RetrieveCheckoutSession", ctx, "cs_1").
		Return(&billing.CheckoutSession{ID: "cs_1", UserID: u.Id, CustomerID: "cus_1", SubscriptionID: "sub_1", Paid: true}, nil)
	p, err := svc.ConfirmCheckout(ctx, u, "cs_1")
	require.NoError(t, err)
	assert.True(t, p.IsPremium)

	provider.On("CancelSubscription", ctx, "sub_1").Return(nil)
	require.NoError(t, svc.CancelSubscription(ctx, u))
	d, err := gate.Check(ctx, u, fixedNow)
	require.NoError(t, err)
	assert.False(t, d.Premium)

	err = svc.CancelSubscription(ctx, u)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	provider.AssertExpectations(t)
}

func TestConfirmCheckoutForAnotherUser(t *testing.T) {
	provider := &mockProvider{}
	svc, _, u := newBilling(t, provider)
	ctx := context.Background()

	provider.On("RetrieveCheckoutSession", ctx, "cs_2").Return(&billing.CheckoutSession{ID: "cs_2", UserID: "someone-else"}, nil)
	_, err := svc.ConfirmCheckout(ctx, u, "cs_2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmCheckoutRequiresPaidSessionOfTheUser(t *testing.T) {
	provider := &mockProvider{}
	svc, gate, u := newBilling(t, provider)
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	provider.On("RetrieveCheckoutSession", ctx, "cs_unpaid").
		Return(&billing.CheckoutSession{ID: "cs_unpaid", UserID: u.Id, CustomerID: "cus_1", SubscriptionID: "sub_1", Paid: false}, nil)
	_, err := svc.ConfirmCheckout(ctx, u, "cs_unpaid")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "session_id", ve.Field)

	provider.On("RetrieveCheckoutSession", ctx, "cs_anon").
		Return(&billing.CheckoutSession{ID: "cs_anon", CustomerID: "cus_2", SubscriptionID: "sub_2", Paid: true}, nil)
	_, err = svc.ConfirmCheckout(ctx, u, "cs_anon")
	assert.ErrorIs(t, err, ErrNotFound)

	d, err := gate.Check(ctx, u, fixedNow)
	require.NoError(t, err)
	assert.False(t, d.Premium)
	assert.False(t, d.Allowed)
	provider.AssertExpectations(t)
}

func TestUpgradeInfo(t *testing.T) {
	svc, _, u := newBilling(t, &mockProvider{})
	svc.now = func() time.Time { return fixedNow }
	info, err := svc.Upgrade(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, info.TrialActive)
	assert.Zero(t, info.TrialDaysLeft)
	assert.Equal(t, 9.0, info.MonthlyPrice)
}
