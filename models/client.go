package models

import "time"

// Client is a customer of the freelancer. Email is unique per tenant.
type Client struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"-" gorm:"size:36;not null;uniqueIndex:idx_clients_user_email,priority:1"`
	User       User      `json:"-" gorm:"foreignKey:UserID;references:Id;constraint:OnDelete:CASCADE"`
	Name       string    `json:"name" gorm:"size:200;not null"`
	Email      string    `json:"email" gorm:"size:254;not null;uniqueIndex:idx_clients_user_email,priority:2"`
	Phone      string    `json:"phone" gorm:"size:17"`
	Address    string    `json:"address" gorm:"type:text;not null"`
	PostalCode string    `json:"postal_code" gorm:"size:10;not null"`
	City       string    `json:"city" gorm:"size:100;not null"`
	Country    string    `json:"country" gorm:"size:100;not null"`
	SIRET      string    `json:"siret" gorm:"size:14"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FullAddress formats the postal address the way it is printed on invoices.
func (c *Client) FullAddress() string {
	return c.Address + "\n" + c.PostalCode + " " + c.City + "\n" + c.Country
}
