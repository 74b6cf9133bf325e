package controllers

import (
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
)

func (ctl *Controller) AdminStats(c *fiber.Ctx) error {
	stats, err := ctl.Admin.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (ctl *Controller) AdminUsers(c *fiber.Ctx) error {
	filter := services.UserFilter(c.Query("status", string(services.FilterAll)))
	users, err := ctl.Admin.Users(c.UserContext(), filter, c.Query("q"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"users": users, "status_filter": filter, "search": c.Query("q")})
}

func (ctl *Controller) AdminUserDetail(c *fiber.Ctx) error {
	detail, err := ctl.Admin.UserDetail(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

func (ctl *Controller) AdminTogglePremium(c *fiber.Ctx) error {
	profile, err := ctl.Admin.TogglePremium(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	message := "Premium revoked."
	if profile.IsPremium {
		message = "Premium granted."
	}
	return c.JSON(fiber.Map{"message": message, "profile": profile})
}
