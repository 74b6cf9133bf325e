package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicesnap-backend/models"

	"gorm.io/gorm"
)

// EnsureAdmin creates a staff account when no staff user exists yet.
// It reports whether an account was created.
func EnsureAdmin(db *gorm.DB, email, password string, trialDays int) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, nil
	}

	var count int64
	if err := db.Model(&models.User{}).Where("is_staff = ?", true).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Where("email = ?", email).First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&existing).Update("is_staff", true).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		admin := models.User{FirstName: "Admin", Email: email, IsStaff: true}
		if err := admin.SetPassword(password); err != nil {
			return err
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		profile := models.NewTrialProfile(admin.Id, time.Now().UTC(), trialDays)
		return tx.Create(&profile).Error
	})
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	return true, nil
}
