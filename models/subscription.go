package models

import "time"

// SubscriptionProfile carries the tenant's access window, the billing provider
// identifiers and the freelancer identity printed on invoices.
type SubscriptionProfile struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"-" gorm:"size:36;not null;uniqueIndex"`

	IsPremium            bool       `json:"is_premium" gorm:"not null;default:false"`
	TrialEnd             *time.Time `json:"trial_end"`
	PremiumSince         *time.Time `json:"premium_since"`
	StripeCustomerID     string     `json:"-" gorm:"size:100;index"`
	StripeSubscriptionID string     `json:"-" gorm:"size:100;index"`

	CompanyName string `json:"company_name" gorm:"size:200"`
	Address     string `json:"address" gorm:"type:text"`
	PostalCode  string `json:"postal_code" gorm:"size:10"`
	City        string `json:"city" gorm:"size:100"`
	Country     string `json:"country" gorm:"size:100;default:France"`
	SIRET       string `json:"siret" gorm:"size:14"`
	Phone       string `json:"phone" gorm:"size:17"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTrialProfile returns a profile whose trial ends trialDays after now.
func NewTrialProfile(userID string, now time.Time, trialDays int) SubscriptionProfile {
	end := now.Add(time.Duration(trialDays) * 24 * time.Hour)
	return SubscriptionProfile{UserID: userID, TrialEnd: &end, Country: "France"}
}

// TrialActive reports whether now is inside the trial window. A profile
// without a trial end never has an active trial.
func (p *SubscriptionProfile) TrialActive(now time.Time) bool {
	if p.TrialEnd == nil {
		return false
	}
	return !now.After(*p.TrialEnd)
}

// CanAccess is the access rule of the application: premium or inside the trial.
func (p *SubscriptionProfile) CanAccess(now time.Time) bool {
	return p.IsPremium || p.TrialActive(now)
}

// TrialDaysLeft returns the whole days remaining in the trial, never negative.
func (p *SubscriptionProfile) TrialDaysLeft(now time.Time) int {
	if p.TrialEnd == nil {
		return 0
	}
	left := p.TrialEnd.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}
