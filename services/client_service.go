package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"invoicesnap-backend/database"
	"invoicesnap-backend/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	siretPattern = regexp.MustCompile(`^\d{14}$`)
	phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)
)

// NormalizeSIRET strips spaces. An empty SIRET is allowed.
func NormalizeSIRET(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return "", nil
	}
	if !siretPattern.MatchString(s) {
		return "", invalid("siret", "must contain exactly 14 digits")
	}
	return s, nil
}

// ValidPhone accepts an optional leading + and 9 to 15 digits.
func ValidPhone(s string) bool {
	return s == "" || phonePattern.MatchString(s)
}

// ClientInput is the editable part of a client.
type ClientInput struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	PostalCode string
	City       string
	Country    string
	SIRET      string
}

// ClientDetail is a client with its invoices and payment counters.
type ClientDetail struct {
	Client       models.Client    `json:"client"`
	Invoices     []models.Invoice `json:"invoices"`
	PaidCount    int64            `json:"paid_count"`
	PendingCount int64            `json:"pending_count"`
}

type ClientService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewClientService(db *gorm.DB, log *zap.Logger) *ClientService {
	return &ClientService{db: db, log: log}
}

func (s *ClientService) List(ctx context.Context, tenantID string) ([]models.Client, error) {
	var clients []models.Client
	err := s.db.WithContext(ctx).Scopes(database.TenantScope(tenantID)).Order("name").Find(&clients).Error
	return clients, err
}

func (s *ClientService) Get(ctx context.Context, tenantID string, id uint) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).Scopes(database.TenantScope(tenantID)).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Detail loads the client with its invoices, newest first.
func (s *ClientService) Detail(ctx context.Context, tenantID string, id uint) (*ClientDetail, error) {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	d := &ClientDetail{Client: *c}
	db := s.db.WithContext(ctx).Scopes(database.TenantScope(tenantID))
	if err := db.Where("client_id = ?", id).Order("issue_date DESC").Find(&d.Invoices).Error; err != nil {
		return nil, err
	}
	for _, inv := range d.Invoices {
		switch {
		case inv.Status == models.StatusPaid:
			d.PaidCount++
		case inv.Status.AwaitingPayment():
			d.PendingCount++
		}
	}
	return d, nil
}

func (s *ClientService) Create(ctx context.Context, tenantID string, in ClientInput) (*models.Client, error) {
	if err := normalizeClient(&in); err != nil {
		return nil, err
	}
	c := models.Client{UserID: tenantID}
	applyClient(&c, in)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkClientEmail(tx, tenantID, in.Email, 0); err != nil {
			return err
		}
		return tx.Omit("User").Create(&c).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("client created", zap.Uint("client_id", c.ID), zap.String("user_id", tenantID))
	return &c, nil
}

func (s *ClientService) Update(ctx context.Context, tenantID string, id uint, in ClientInput) (*models.Client, error) {
	if err := normalizeClient(&in); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Client
		if err := tx.Scopes(database.TenantScope(tenantID)).First(&c, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("client %d: %w", id, ErrNotFound)
			}
			return err
		}
		if err := checkClientEmail(tx, tenantID, in.Email, id); err != nil {
			return err
		}
		return tx.Model(&models.Client{}).Where("id = ?", id).Updates(map[string]any{
			"name":        in.Name,
			"email":       in.Email,
			"phone":       in.Phone,
			"address":     in.Address,
			"postal_code": in.PostalCode,
			"city":        in.City,
			"country":     in.Country,
			"siret":       in.SIRET,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, id)
}

// Delete refuses to remove a client that still has invoices. It returns the
// deleted client's name.
func (s *ClientService) Delete(ctx context.Context, tenantID string, id uint) (string, error) {
	var name string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Client
		if err := tx.Scopes(database.TenantScope(tenantID)).First(&c, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("client %d: %w", id, ErrNotFound)
			}
			return err
		}
		name = c.Name
		var count int64
		if err := tx.Model(&models.Invoice{}).Where("client_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%s: %w", c.Name, ErrClientInUse)
		}
		return tx.Delete(&models.Client{}, id).Error
	})
	return name, err
}

func normalizeClient(in *ClientInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	in.City = strings.TrimSpace(in.City)
	in.Country = strings.TrimSpace(in.Country)
	if in.Country == "" {
		in.Country = "France"
	}

	var errs ValidationErrors
	for field, v := range map[string]string{"name": in.Name, "email": in.Email, "address": in.Address, "postal_code": in.PostalCode, "city": in.City} {
		if v == "" {
			errs = append(errs, invalid(field, "is required"))
		}
	}
	if !ValidPhone(in.Phone) {
		errs = append(errs, invalid("phone", "must be 9 to 15 digits, optionally prefixed with +"))
	}
	siret, err := NormalizeSIRET(in.SIRET)
	if err != nil {
		errs = append(errs, err.(*ValidationError))
	}
	in.SIRET = siret
	return errs.orNil()
}

func applyClient(c *models.Client, in ClientInput) {
	c.Name = in.Name
	c.Email = in.Email
	c.Phone = in.Phone
	c.Address = in.Address
	c.PostalCode = in.PostalCode
	c.City = in.City
	c.Country = in.Country
	c.SIRET = in.SIRET
}

func checkClientEmail(tx *gorm.DB, tenantID, email string, selfID uint) error {
	var count int64
	if err := tx.Model(&models.Client{}).Scopes(database.TenantScope(tenantID)).
		Where("email = ? AND id <> ?", email, selfID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("client with email %s: %w", email, ErrDuplicate)
	}
	return nil
}
