package database

import (
	"fmt"

	"invoicesnap-backend/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns/index tags)
// - on postgres: CHECK constraints guarding line items and aggregates
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.SubscriptionProfile{},
		&models.Client{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.DeliveryAttempt{},
		&models.BillingEvent{},
		&models.IdempotencyKey{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	if db.Dialector.Name() != "postgres" {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		checks := []struct{ table, name, expr string }{
			{"invoice_items", "chk_invoice_items_quantity_pos", "quantity > 0"},
			{"invoice_items", "chk_invoice_items_unit_price_nonneg", "unit_price >= 0"},
			{"invoices", "chk_invoices_due_after_issue", "due_date >= issue_date"},
			{"invoices", "chk_invoices_tax_rate_nonneg", "tax_rate >= 0"},
			{"invoices", "chk_invoices_total_consistent", "total = subtotal + tax_amount"},
			{"invoices", "chk_invoices_status", "status IN ('draft','sent','paid','overdue','cancelled')"},
		}
		for _, c := range checks {
			stmt := fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = '%s'::regclass
		  AND conname  = '%s'
	) THEN
		ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s);
	END IF;
END $$;`, c.table, c.name, c.table, c.name, c.expr)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed on %s: %w", c.name, err)
			}
		}
		return nil
	})
}
