package controllers

import (
	"invoicesnap-backend/models"

	"github.com/gofiber/fiber/v2"
)

// Home is the public landing endpoint.
func (ctl *Controller) Home(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "InvoiceSnap API", "status": "ok"})
}

// Dashboard lists the tenant's invoices, optionally filtered by status, with
// the per-status counters.
func (ctl *Controller) Dashboard(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	status := models.InvoiceStatus(c.Query("status"))
	invoices, err := ctl.Invoices.List(c.UserContext(), user.Id, status)
	if err != nil {
		return err
	}
	stats, err := ctl.Invoices.Stats(c.UserContext(), user.Id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"invoices":      invoices,
		"stats":         stats,
		"status_filter": status,
		"subscription":  c.Locals("subscription"),
	})
}
