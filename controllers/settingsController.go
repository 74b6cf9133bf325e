package controllers

import (
	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
)

type settingsDTO struct {
	FirstName   string `json:"first_name" validate:"max=150"`
	LastName    string `json:"last_name" validate:"max=150"`
	Email       string `json:"email" validate:"required,email"`
	CompanyName string `json:"company_name" validate:"max=200"`
	Address     string `json:"address"`
	PostalCode  string `json:"postal_code" validate:"max=10"`
	City        string `json:"city" validate:"max=100"`
	Country     string `json:"country" validate:"max=100"`
	SIRET       string `json:"siret" validate:"omitempty,siret"`
	Phone       string `json:"phone" validate:"omitempty,phone"`
}

func (ctl *Controller) GetSettings(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	u, err := ctl.Accounts.Settings(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (ctl *Controller) UpdateSettings(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var dto settingsDTO
	if err := middlewares.BindNormalized(c, &dto); err != nil {
		return err
	}

	u, err := ctl.Accounts.UpdateSettings(c.UserContext(), user, services.SettingsInput{
		FirstName:   dto.FirstName,
		LastName:    dto.LastName,
		Email:       dto.Email,
		CompanyName: dto.CompanyName,
		Address:     dto.Address,
		PostalCode:  dto.PostalCode,
		City:        dto.City,
		Country:     dto.Country,
		SIRET:       dto.SIRET,
		Phone:       dto.Phone,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Settings saved.", "user": u})
}
