package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// RegisterInput is a signup request.
type RegisterInput struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	PasswordConfirm string
}

// SettingsInput updates the user and the identity printed on invoices.
type SettingsInput struct {
	FirstName   string
	LastName    string
	Email       string
	CompanyName string
	Address     string
	PostalCode  string
	City        string
	Country     string
	SIRET       string
	Phone       string
}

// AccountService handles signup, login and the settings page.
type AccountService struct {
	db        *gorm.DB
	gate      *SubscriptionGate
	trialDays int
	log       *zap.Logger
	now       func() time.Time
}

func NewAccountService(db *gorm.DB, gate *SubscriptionGate, trialDays int, log *zap.Logger) *AccountService {
	return &AccountService{db: db, gate: gate, trialDays: trialDays, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates the user and its trial profile in one transaction.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	var errs ValidationErrors
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		errs = append(errs, invalid("email", "is not a valid address"))
	}
	if len(in.Password) < minPasswordLength {
		errs = append(errs, invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength)))
	}
	if in.Password != in.PasswordConfirm {
		errs = append(errs, invalid("password_confirm", "passwords do not match"))
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}

	user := models.User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     email,
	}
	if err := user.SetPassword(in.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("user %s: %w", email, ErrDuplicate)
		}
		if err := tx.Omit("Profile").Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		profile := models.NewTrialProfile(user.Id, s.now(), s.trialDays)
		if err := tx.Create(&profile).Error; err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		user.Profile = &profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", user.Id))
	return &user, nil
}

// Authenticate checks the credentials and stamps the login time.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := user.ComparePassword(password); err != nil {
		return nil, ErrBadCredentials
	}
	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.Id).Update("last_login", &now).Error; err != nil {
		s.log.Warn("stamp last login", zap.String("user_id", user.Id), zap.Error(err))
	}
	user.LastLogin = &now
	return &user, nil
}

// Settings returns the user with its profile, creating a missing profile.
func (s *AccountService) Settings(ctx context.Context, user *models.User) (*models.User, error) {
	p, err := s.gate.Profile(ctx, user.Id, s.now())
	if err != nil {
		return nil, err
	}
	out := *user
	out.Profile = p
	return &out, nil
}

// UpdateSettings saves the user names, email and invoice identity.
func (s *AccountService) UpdateSettings(ctx context.Context, user *models.User, in SettingsInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		email = user.Email
	}
	var errs ValidationErrors
	if _, err := mail.ParseAddress(email); err != nil {
		errs = append(errs, invalid("email", "is not a valid address"))
	}
	siret, err := NormalizeSIRET(in.SIRET)
	if err != nil {
		errs = append(errs, err.(*ValidationError))
	}
	phone := strings.TrimSpace(in.Phone)
	if !ValidPhone(phone) {
		errs = append(errs, invalid("phone", "must be 9 to 15 digits, optionally prefixed with +"))
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}
	country := strings.TrimSpace(in.Country)
	if country == "" {
		country = "France"
	}

	if _, err := s.gate.Profile(ctx, user.Id, s.now()); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", email, user.Id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("user %s: %w", email, ErrDuplicate)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.Id).Updates(map[string]any{
			"first_name": strings.TrimSpace(in.FirstName),
			"last_name":  strings.TrimSpace(in.LastName),
			"email":      email,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.SubscriptionProfile{}).Where("user_id = ?", user.Id).Updates(map[string]any{
			"company_name": strings.TrimSpace(in.CompanyName),
			"address":      strings.TrimSpace(in.Address),
			"postal_code":  strings.TrimSpace(in.PostalCode),
			"city":         strings.TrimSpace(in.City),
			"country":      country,
			"siret":        siret,
			"phone":        phone,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	var updated models.User
	if err := s.db.WithContext(ctx).Preload("Profile").First(&updated, "id = ?", user.Id).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}
