package controllers

import (
	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/services"
	"invoicesnap-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type clientDTO struct {
	Name       string `json:"name" validate:"required,max=200"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"omitempty,phone"`
	Address    string `json:"address" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required,max=10"`
	City       string `json:"city" validate:"required,max=100"`
	Country    string `json:"country" validate:"max=100"`
	SIRET      string `json:"siret" validate:"omitempty,siret"`
}

func (d clientDTO) input() services.ClientInput {
	return services.ClientInput{
		Name:       d.Name,
		Email:      d.Email,
		Phone:      d.Phone,
		Address:    d.Address,
		PostalCode: d.PostalCode,
		City:       d.City,
		Country:    d.Country,
		SIRET:      d.SIRET,
	}
}

func (ctl *Controller) GetClients(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	clients, err := ctl.Clients.List(c.UserContext(), user.Id)
	if err != nil {
		return err
	}
	return c.JSON(clients)
}

func (ctl *Controller) GetClient(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	detail, err := ctl.Clients.Detail(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

func (ctl *Controller) CreateClient(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var dto clientDTO
	if err := middlewares.BindNormalized(c, &dto); err != nil {
		return err
	}

	client, err := ctl.Clients.Create(c.UserContext(), user.Id, dto.input())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Client " + client.Name + " created.",
		"client":  client,
	})
}

func (ctl *Controller) UpdateClient(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var dto clientDTO
	if err := middlewares.BindNormalized(c, &dto); err != nil {
		return err
	}

	client, err := ctl.Clients.Update(c.UserContext(), user.Id, id, dto.input())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "Client " + client.Name + " updated.",
		"client":  client,
	})
}

func (ctl *Controller) DeleteClient(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	name, err := ctl.Clients.Delete(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Client " + name + " deleted."})
}

// clientPatchDTO carries only the fields to change.
type clientPatchDTO struct {
	Name       *string `json:"name" validate:"omitempty,max=200"`
	Email      *string `json:"email" validate:"omitempty,email"`
	Phone      *string `json:"phone" validate:"omitempty,phone"`
	Address    *string `json:"address"`
	PostalCode *string `json:"postal_code" validate:"omitempty,max=10"`
	City       *string `json:"city" validate:"omitempty,max=100"`
	Country    *string `json:"country" validate:"omitempty,max=100"`
	SIRET      *string `json:"siret" validate:"omitempty,siret"`
}

func (d clientPatchDTO) apply(in *services.ClientInput) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&in.Name, d.Name)
	set(&in.Email, d.Email)
	set(&in.Phone, d.Phone)
	set(&in.Address, d.Address)
	set(&in.PostalCode, d.PostalCode)
	set(&in.City, d.City)
	set(&in.Country, d.Country)
	set(&in.SIRET, d.SIRET)
}

// PatchClient updates the given fields and keeps the others.
func (ctl *Controller) PatchClient(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var dto clientPatchDTO
	if err := c.BodyParser(&dto); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	utils.NormalizePtrDTO(&dto)
	if err := middlewares.ValidateStruct(dto); err != nil {
		return err
	}

	current, err := ctl.Clients.Get(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	in := services.ClientInput{
		Name:       current.Name,
		Email:      current.Email,
		Phone:      current.Phone,
		Address:    current.Address,
		PostalCode: current.PostalCode,
		City:       current.City,
		Country:    current.Country,
		SIRET:      current.SIRET,
	}
	dto.apply(&in)

	client, err := ctl.Clients.Update(c.UserContext(), user.Id, id, in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "Client " + client.Name + " updated.",
		"client":  client,
	})
}
