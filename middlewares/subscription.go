package middlewares

import (
	"strings"
	"time"

	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UpgradePath is where denied requests are redirected.
const UpgradePath = "/api/billing/upgrade"

var (
	openPrefixes = []string{"/api/registration", "/api/login", "/api/logout", "/api/billing", "/api/settings"}
	openExact    = []string{"/"}
)

// GateExempt reports whether path bypasses the subscription gate. "/" is
// matched exactly, the others as path prefixes.
func GateExempt(path string) bool {
	for _, p := range openExact {
		if path == p {
			return true
		}
	}
	for _, p := range openPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Subscription denies users without premium or an active trial. Run it after
// IsAuthenticatedHeader. Denials answer 303 See Other to the upgrade page.
func Subscription(gate *services.SubscriptionGate, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GateExempt(c.Path()) {
			return c.Next()
		}
		user := CurrentUser(c)
		if user == nil {
			return c.Next()
		}

		decision, err := gate.Check(c.UserContext(), user, time.Now().UTC())
		if err != nil {
			return err
		}
		if !decision.Allowed {
			log.Info("subscription required", zap.String("user_id", user.Id), zap.String("path", c.Path()))
			c.Location(UpgradePath)
			return c.Status(fiber.StatusSeeOther).JSON(fiber.Map{
				"message":  "Your trial has ended. Upgrade to premium to keep using InvoiceSnap.",
				"redirect": UpgradePath,
			})
		}
		c.Locals("subscription", decision)
		return c.Next()
	}
}
