package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminStats are the platform-wide counters of the admin console.
type AdminStats struct {
	TotalUsers     int64          `json:"total_users"`
	PremiumUsers   int64          `json:"premium_users"`
	FreeUsers      int64          `json:"free_users"`
	MonthlyRevenue float64        `json:"monthly_revenue"`
	TotalInvoices  int64          `json:"total_invoices"`
	PaidInvoices   int64          `json:"paid_invoices"`
	UnpaidInvoices int64          `json:"unpaid_invoices"`
	NewUsersWeek   int64          `json:"new_users_week"`
	ActiveUsers    int64          `json:"active_users"`
	TopUsers       []UserActivity `json:"top_users"`
}

// UserActivity is a user row with its invoice counters.
type UserActivity struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	IsPremium    bool       `json:"is_premium"`
	TrialEnd     *time.Time `json:"trial_end"`
	InvoiceCount int64      `json:"invoice_count"`
	PaidCount    int64      `json:"paid_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserFilter selects users in the admin list: all, premium, free or trial.
type UserFilter string

const (
	FilterAll     UserFilter = "all"
	FilterPremium UserFilter = "premium"
	FilterFree    UserFilter = "free"
	FilterTrial   UserFilter = "trial"
)

// UserDetail is the admin view of one user.
type UserDetail struct {
	User           models.User      `json:"user"`
	RecentInvoices []models.Invoice `json:"recent_invoices"`
	Clients        []models.Client  `json:"clients"`
	TotalInvoices  int64            `json:"total_invoices"`
	PaidInvoices   int64            `json:"paid_invoices"`
	UnpaidInvoices int64            `json:"unpaid_invoices"`
}

type AdminService struct {
	db           *gorm.DB
	gate         *SubscriptionGate
	monthlyPrice float64
	log          *zap.Logger
	now          func() time.Time
}

func NewAdminService(db *gorm.DB, gate *SubscriptionGate, monthlyPrice float64, log *zap.Logger) *AdminService {
	return &AdminService{db: db, gate: gate, monthlyPrice: monthlyPrice, log: log, now: func() time.Time { return time.Now().UTC() }}
}

var unpaidStatuses = []models.InvoiceStatus{models.StatusSent, models.StatusOverdue}

func (s *AdminService) Stats(ctx context.Context) (AdminStats, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	var st AdminStats

	counts := []struct {
		dst *int64
		q   *gorm.DB
	}{
		{&st.TotalUsers, db.Model(&models.User{})},
		{&st.PremiumUsers, db.Model(&models.SubscriptionProfile{}).Where("is_premium = ?", true)},
		{&st.TotalInvoices, db.Model(&models.Invoice{})},
		{&st.PaidInvoices, db.Model(&models.Invoice{}).Where("status = ?", models.StatusPaid)},
		{&st.UnpaidInvoices, db.Model(&models.Invoice{}).Where("status IN ?", unpaidStatuses)},
		{&st.NewUsersWeek, db.Model(&models.User{}).Where("created_at >= ?", now.AddDate(0, 0, -7))},
		{&st.ActiveUsers, db.Model(&models.Invoice{}).Where("created_at >= ?", now.AddDate(0, 0, -30)).Distinct("user_id")},
	}
	for _, c := range counts {
		if err := c.q.Count(c.dst).Error; err != nil {
			return AdminStats{}, fmt.Errorf("admin stats: %w", err)
		}
	}
	st.FreeUsers = st.TotalUsers - st.PremiumUsers
	st.MonthlyRevenue = float64(st.PremiumUsers) * s.monthlyPrice

	top, err := s.activity(ctx, FilterAll, "", "invoice_count DESC, users.created_at", 5)
	if err != nil {
		return AdminStats{}, err
	}
	st.TopUsers = top
	return st, nil
}

// Users lists users newest first, filtered by plan and a free-text search
// over email and names.
func (s *AdminService) Users(ctx context.Context, filter UserFilter, search string) ([]UserActivity, error) {
	if filter == "" {
		filter = FilterAll
	}
	switch filter {
	case FilterAll, FilterPremium, FilterFree, FilterTrial:
	default:
		return nil, invalid("status", "must be one of all, premium, free, trial")
	}
	return s.activity(ctx, filter, strings.TrimSpace(search), "users.created_at DESC", 0)
}

func (s *AdminService) activity(ctx context.Context, filter UserFilter, search, order string, limit int) ([]UserActivity, error) {
	q := s.db.WithContext(ctx).Table("users").
		Select(`users.id, users.email, users.first_name, users.last_name, users.created_at,
			COALESCE(subscription_profiles.is_premium, false) AS is_premium,
			subscription_profiles.trial_end,
			COUNT(invoices.id) AS invoice_count,
			COALESCE(SUM(CASE WHEN invoices.status = ? THEN 1 ELSE 0 END), 0) AS paid_count`, models.StatusPaid).
		Joins("LEFT JOIN subscription_profiles ON subscription_profiles.user_id = users.id").
		Joins("LEFT JOIN invoices ON invoices.user_id = users.id").
		Group("users.id, users.email, users.first_name, users.last_name, users.created_at, subscription_profiles.is_premium, subscription_profiles.trial_end")

	switch filter {
	case FilterPremium:
		q = q.Where("subscription_profiles.is_premium = ?", true)
	case FilterFree:
		q = q.Where("subscription_profiles.is_premium IS NULL OR subscription_profiles.is_premium = ?", false)
	case FilterTrial:
		q = q.Where("subscription_profiles.is_premium = ? AND subscription_profiles.trial_end >= ?", false, s.now())
	}
	if search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("LOWER(users.email) LIKE ? OR LOWER(users.first_name) LIKE ? OR LOWER(users.last_name) LIKE ?", like, like, like)
	}
	q = q.Order(order)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []UserActivity
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return rows, nil
}

// UserDetail loads one user with the ten latest invoices and all clients.
func (s *AdminService) UserDetail(ctx context.Context, userID string) (*UserDetail, error) {
	db := s.db.WithContext(ctx)
	var d UserDetail
	if err := db.Preload("Profile").First(&d.User, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Limit(10).Find(&d.RecentInvoices).Error; err != nil {
		return nil, err
	}
	if err := db.Where("user_id = ?", userID).Order("name").Find(&d.Clients).Error; err != nil {
		return nil, err
	}
	base := func() *gorm.DB { return db.Model(&models.Invoice{}).Where("user_id = ?", userID) }
	if err := base().Count(&d.TotalInvoices).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ?", models.StatusPaid).Count(&d.PaidInvoices).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status IN ?", unpaidStatuses).Count(&d.UnpaidInvoices).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// TogglePremium flips the premium flag by hand. Revoking also forgets the
// provider subscription id.
func (s *AdminService) TogglePremium(ctx context.Context, userID string) (*models.SubscriptionProfile, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	now := s.now()
	p, err := s.gate.Profile(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"is_premium": !p.IsPremium}
	if p.IsPremium {
		updates["stripe_subscription_id"] = ""
	} else {
		updates["premium_since"] = &now
	}
	if err := s.db.WithContext(ctx).Model(&models.SubscriptionProfile{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	s.log.Info("premium toggled by admin", zap.String("user_id", userID), zap.Bool("is_premium", !p.IsPremium))
	return s.gate.Profile(ctx, userID, now)
}
