package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed       bool `json:"allowed"`
	Staff         bool `json:"staff"`
	Premium       bool `json:"premium"`
	TrialActive   bool `json:"trial_active"`
	TrialDaysLeft int  `json:"trial_days_left"`
}

// SubscriptionGate decides whether a tenant may use the gated features.
type SubscriptionGate struct {
	db        *gorm.DB
	trialDays int
	log       *zap.Logger
}

func NewSubscriptionGate(db *gorm.DB, trialDays int, log *zap.Logger) *SubscriptionGate {
	return &SubscriptionGate{db: db, trialDays: trialDays, log: log}
}

// Check never mutates anything except creating a missing profile.
func (g *SubscriptionGate) Check(ctx context.Context, user *models.User, now time.Time) (Decision, error) {
	if user.IsStaff {
		return Decision{Allowed: true, Staff: true}, nil
	}
	p, err := g.Profile(ctx, user.Id, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:       p.CanAccess(now),
		Premium:       p.IsPremium,
		TrialActive:   p.TrialActive(now),
		TrialDaysLeft: p.TrialDaysLeft(now),
	}, nil
}

// Profile returns the user's subscription profile, creating one with a fresh
// trial when it is missing.
func (g *SubscriptionGate) Profile(ctx context.Context, userID string, now time.Time) (*models.SubscriptionProfile, error) {
	var p models.SubscriptionProfile
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p = models.NewTrialProfile(userID, now, g.trialDays)
	if err := g.db.WithContext(ctx).Create(&p).Error; err != nil {
		// Lost a race with a concurrent request creating the same profile.
		var existing models.SubscriptionProfile
		if ferr := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	g.log.Info("subscription profile created", zap.String("user_id", userID), zap.Timep("trial_end", p.TrialEnd))
	return &p, nil
}
