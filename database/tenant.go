package database

import "gorm.io/gorm"

// TenantScope restricts a query to rows owned by userID. Every tenant-facing
// read and write goes through it.
func TenantScope(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}
