package controllers

import (
	"time"

	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/models"
	"invoicesnap-backend/services"
	"invoicesnap-backend/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

var timeNow = func() time.Time { return time.Now().UTC() }

// Renderer turns an invoice into PDF bytes.
type Renderer interface {
	Render(inv *models.Invoice) ([]byte, error)
}

// Controller holds the services behind the HTTP handlers.
type Controller struct {
	Accounts  *services.AccountService
	Clients   *services.ClientService
	Invoices  *services.InvoiceService
	Billing   *services.BillingService
	Admin     *services.AdminService
	Renderer  Renderer
	JWTSecret []byte
	JWTTTL    time.Duration
	Log       *zap.Logger
}

func currentUser(c *fiber.Ctx) (*models.User, error) {
	u := middlewares.CurrentUser(c)
	if u == nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}
	return u, nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, ok := utils.ParseID(c.Params(name))
	if !ok {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &services.ValidationError{Field: field, Message: "must be a date like 2006-01-02"}
	}
	return t, nil
}

// deliveryReply answers a delivery request: 202 while queued, 200 once
// delivered, 200 with a warning when the delivery failed.
func deliveryReply(c *fiber.Ctx, message string, outcome services.DeliveryOutcome, extra fiber.Map) error {
	body := fiber.Map{"message": message}
	for k, v := range extra {
		body[k] = v
	}
	switch {
	case outcome.Warning != "":
		body["warning"] = outcome.Warning
		return c.Status(fiber.StatusOK).JSON(body)
	case outcome.Queued:
		body["message"] = message + " Delivery is queued."
		return c.Status(fiber.StatusAccepted).JSON(body)
	default:
		return c.Status(fiber.StatusOK).JSON(body)
	}
}
