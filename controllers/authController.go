package controllers

import (
	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/models"
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type registerDTO struct {
	FirstName       string `json:"first_name" validate:"max=150"`
	LastName        string `json:"last_name" validate:"max=150"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

type loginDTO struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (ctl *Controller) Register(c *fiber.Ctx) error {
	var dto registerDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}

	user, err := ctl.Accounts.Register(c.UserContext(), services.RegisterInput{
		FirstName:       dto.FirstName,
		LastName:        dto.LastName,
		Email:           dto.Email,
		Password:        dto.Password,
		PasswordConfirm: dto.PasswordConfirm,
	})
	if err != nil {
		return err
	}
	return ctl.issueToken(c, fiber.StatusCreated, "Account created. Your free trial has started.", user)
}

func (ctl *Controller) Login(c *fiber.Ctx) error {
	var dto loginDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	user, err := ctl.Accounts.Authenticate(c.UserContext(), dto.Email, dto.Password)
	if err != nil {
		return err
	}
	return ctl.issueToken(c, fiber.StatusOK, "Welcome back, "+user.FullName()+".", user)
}

// Logout is stateless: tokens expire on their own and the client drops it.
func (ctl *Controller) Logout(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "You have been logged out."})
}

func (ctl *Controller) issueToken(c *fiber.Ctx, status int, message string, user *models.User) error {
	token, err := middlewares.GenerateJWT(user.Id, ctl.JWTSecret, ctl.JWTTTL)
	if err != nil {
		return err
	}
	ctl.Log.Info("token issued", zap.String("user_id", user.Id))
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"token":   token,
		"user":    user,
	})
}
