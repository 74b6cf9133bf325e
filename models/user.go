package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a registered freelancer account, the unit of data isolation.
type User struct {
	Id        string               `json:"id" gorm:"primaryKey;size:36"`
	FirstName string               `json:"first_name" gorm:"not null"`
	LastName  string               `json:"last_name" gorm:"not null"`
	Password  []byte               `json:"-" gorm:"not null"`
	Email     string               `json:"email" gorm:"unique;not null"`
	IsStaff   bool                 `json:"is_staff" gorm:"not null;default:false"`
	Profile   *SubscriptionProfile `json:"profile,omitempty" gorm:"foreignKey:UserID;references:Id;constraint:OnDelete:CASCADE"`
	LastLogin *time.Time           `json:"last_login"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (user *User) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	if user.Id == "" {
		user.Id = uuid.NewString()
	}
	return
}

func (user *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return err
	}
	user.Password = hashedPassword
	return nil
}

func (user *User) ComparePassword(password string) error {
	return bcrypt.CompareHashAndPassword(user.Password, []byte(password))
}

// FullName falls back to the email when no name was given.
func (user *User) FullName() string {
	name := user.FirstName
	if user.LastName != "" {
		if name != "" {
			name += " "
		}
		name += user.LastName
	}
	if name == "" {
		return user.Email
	}
	return name
}
