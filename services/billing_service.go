package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoicesnap-backend/billing"
	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpgradeInfo backs the upgrade page.
type UpgradeInfo struct {
	Premium       bool    `json:"is_premium"`
	TrialActive   bool    `json:"trial_active"`
	TrialDaysLeft int     `json:"trial_days_left"`
	MonthlyPrice  float64 `json:"monthly_price"`
}

// BillingService ties provider checkouts and webhooks to subscription profiles.
type BillingService struct {
	db           *gorm.DB
	provider     billing.Provider
	gate         *SubscriptionGate
	siteURL      string
	monthlyPrice float64
	log          *zap.Logger
	now          func() time.Time
}

func NewBillingService(db *gorm.DB, provider billing.Provider, gate *SubscriptionGate, siteURL string, monthlyPrice float64, log *zap.Logger) *BillingService {
	return &BillingService{
		db:           db,
		provider:     provider,
		gate:         gate,
		siteURL:      siteURL,
		monthlyPrice: monthlyPrice,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *BillingService) Upgrade(ctx context.Context, user *models.User) (UpgradeInfo, error) {
	now := s.now()
	p, err := s.gate.Profile(ctx, user.Id, now)
	if err != nil {
		return UpgradeInfo{}, err
	}
	return UpgradeInfo{
		Premium:       p.IsPremium,
		TrialActive:   p.TrialActive(now),
		TrialDaysLeft: p.TrialDaysLeft(now),
		MonthlyPrice:  s.monthlyPrice,
	}, nil
}

// StartCheckout opens a subscription checkout and returns its URL.
func (s *BillingService) StartCheckout(ctx context.Context, user *models.User) (string, error) {
	sess, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		UserID:     user.Id,
		Email:      user.Email,
		SuccessURL: s.siteURL + "/api/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.siteURL + "/api/billing/upgrade",
	})
	if err != nil {
		return "", err
	}
	s.log.Info("checkout started", zap.String("user_id", user.Id), zap.String("session_id", sess.ID))
	return sess.URL, nil
}

// ConfirmCheckout activates premium from the success page once the session
// is paid. The webhook does the same; whichever arrives first wins and the
// other is a no-op.
func (s *BillingService) ConfirmCheckout(ctx context.Context, user *models.User, sessionID string) (*models.SubscriptionProfile, error) {
	if sessionID == "" {
		return nil, invalid("session_id", "is required")
	}
	sess, err := s.provider.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != user.Id {
		return nil, fmt.Errorf("checkout session %s: %w", sessionID, ErrNotFound)
	}
	if !sess.Paid {
		return nil, invalid("session_id", "checkout is not paid yet")
	}
	if _, err := s.gate.Profile(ctx, user.Id, s.now()); err != nil {
		return nil, err
	}
	if err := s.activate(ctx, user.Id, sess.CustomerID, sess.SubscriptionID); err != nil {
		return nil, err
	}
	return s.gate.Profile(ctx, user.Id, s.now())
}

// CancelSubscription ends the subscription at the provider and downgrades the profile.
func (s *BillingService) CancelSubscription(ctx context.Context, user *models.User) error {
	p, err := s.gate.Profile(ctx, user.Id, s.now())
	if err != nil {
		return err
	}
	if p.StripeSubscriptionID == "" {
		return invalid("subscription", "there is no active subscription")
	}
	if err := s.provider.CancelSubscription(ctx, p.StripeSubscriptionID); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&models.SubscriptionProfile{}).Where("id = ?", p.ID).Updates(map[string]any{
		"is_premium":             false,
		"stripe_subscription_id": "",
	}).Error
	if err != nil {
		return err
	}
	s.log.Info("subscription cancelled", zap.String("user_id", user.Id))
	return nil
}

// ParseWebhook verifies and decodes a provider payload.
func (s *BillingService) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	return s.provider.ParseWebhook(payload, signature)
}

// HandleEvent applies a verified provider event once. Lookup misses are
// logged and acknowledged so the provider stops retrying.
func (s *BillingService) HandleEvent(ctx context.Context, ev billing.Event) (string, error) {
	meta := ev.Meta()
	log := s.log.With(zap.String("event_id", meta.ID), zap.String("type", meta.Type))

	if meta.ID != "" {
		var seen int64
		if err := s.db.WithContext(ctx).Model(&models.BillingEvent{}).Where("event_id = ?", meta.ID).Count(&seen).Error; err != nil {
			return "", err
		}
		if seen > 0 {
			log.Info("billing event already processed")
			return "duplicate", nil
		}
	}

	var outcome string
	var err error
	switch e := ev.(type) {
	case billing.CheckoutCompleted:
		outcome, err = s.onCheckoutCompleted(ctx, e)
	case billing.SubscriptionDeleted:
		outcome, err = s.onSubscriptionDeleted(ctx, e)
	case billing.PaymentFailed:
		outcome, err = s.onPaymentFailed(ctx, e)
	default:
		outcome = "ignored"
	}
	if err != nil {
		return "", err
	}
	log.Info("billing event handled", zap.String("outcome", outcome))

	if meta.ID != "" {
		rec := models.BillingEvent{EventID: meta.ID, Type: meta.Type, Outcome: outcome}
		if len(meta.Payload) > 0 {
			rec.Payload = datatypes.JSON(meta.Payload)
		}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			log.Warn("record billing event", zap.Error(err))
		}
	}
	return outcome, nil
}

func (s *BillingService) onCheckoutCompleted(ctx context.Context, e billing.CheckoutCompleted) (string, error) {
	if e.UserID == "" {
		s.log.Warn("checkout without user_id metadata", zap.String("event_id", e.ID))
		return "user missing", nil
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", e.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("checkout for unknown user", zap.String("user_id", e.UserID))
			return "user missing", nil
		}
		return "", err
	}
	if _, err := s.gate.Profile(ctx, user.Id, s.now()); err != nil {
		return "", err
	}
	if err := s.activate(ctx, user.Id, e.CustomerID, e.SubscriptionID); err != nil {
		return "", err
	}
	return "premium activated", nil
}

func (s *BillingService) onSubscriptionDeleted(ctx context.Context, e billing.SubscriptionDeleted) (string, error) {
	res := s.db.WithContext(ctx).Model(&models.SubscriptionProfile{}).
		Where("stripe_subscription_id = ? AND stripe_subscription_id <> ''", e.SubscriptionID).
		Updates(map[string]any{"is_premium": false})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Warn("subscription deleted for unknown profile", zap.String("subscription_id", e.SubscriptionID))
		return "profile missing", nil
	}
	return "premium revoked", nil
}

func (s *BillingService) onPaymentFailed(ctx context.Context, e billing.PaymentFailed) (string, error) {
	var p models.SubscriptionProfile
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ? AND stripe_customer_id <> ''", e.CustomerID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("payment failed for unknown customer", zap.String("customer_id", e.CustomerID))
		return "profile missing", nil
	}
	if err != nil {
		return "", err
	}
	s.log.Warn("subscription payment failed", zap.String("user_id", p.UserID), zap.String("invoice_id", e.InvoiceID))
	return "payment failure noted", nil
}

func (s *BillingService) activate(ctx context.Context, userID, customerID, subscriptionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.SubscriptionProfile
		if err := tx.Where("user_id = ?", userID).First(&p).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"is_premium":             true,
			"stripe_customer_id":     customerID,
			"stripe_subscription_id": subscriptionID,
		}
		if !p.IsPremium || p.PremiumSince == nil {
			now := s.now()
			updates["premium_since"] = &now
		}
		if err := tx.Model(&models.SubscriptionProfile{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return err
		}
		s.log.Info("premium activated", zap.String("user_id", userID))
		return nil
	})
}
