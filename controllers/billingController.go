package controllers

import (
	"errors"

	"invoicesnap-backend/billing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (ctl *Controller) Upgrade(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	info, err := ctl.Billing.Upgrade(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(info)
}

func (ctl *Controller) Checkout(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	url, err := ctl.Billing.StartCheckout(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Redirecting to checkout.", "url": url})
}

func (ctl *Controller) CheckoutSuccess(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	profile, err := ctl.Billing.ConfirmCheckout(c.UserContext(), user, c.Query("session_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Payment received. Premium is now active.", "profile": profile})
}

func (ctl *Controller) CancelSubscription(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := ctl.Billing.CancelSubscription(c.UserContext(), user); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Your subscription has been cancelled."})
}

// Webhook verifies the provider signature. Handled and ignored events both
// answer 200 so the provider stops retrying.
func (ctl *Controller) Webhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	ev, err := ctl.Billing.ParseWebhook(payload, c.Get("Stripe-Signature"))
	if errors.Is(err, billing.ErrNotConfigured) {
		return err
	}
	if err != nil {
		ctl.Log.Warn("webhook rejected", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid webhook payload"})
	}
	outcome, err := ctl.Billing.HandleEvent(c.UserContext(), ev)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": outcome, "type": ev.Meta().Type})
}
