package middlewares

import (
	"errors"

	"invoicesnap-backend/billing"
	"invoicesnap-backend/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NewErrorHandler centralizes error responses and keeps messages sanitized.
func NewErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// 1) Fiber errors (use their status code + message)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// 2) Validation errors (422 + per-field info)
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(map[string]string, len(ve))
			for _, fe := range ve {
				out[fe.Field()] = validationMessage(fe)
			}
			return validationFailed(c, out)
		}
		var sves services.ValidationErrors
		if errors.As(err, &sves) {
			return validationFailed(c, sves.Fields())
		}
		var sve *services.ValidationError
		if errors.As(err, &sve) {
			return validationFailed(c, map[string]string{sve.Field: sve.Message})
		}

		// 3) Domain errors
		switch {
		case errors.Is(err, services.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "not found"})
		case errors.Is(err, services.ErrInvalidTransition),
			errors.Is(err, services.ErrClientInUse),
			errors.Is(err, services.ErrDuplicate):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": err.Error()})
		case errors.Is(err, services.ErrBadCredentials):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid email or password"})
		case errors.Is(err, billing.ErrInvalidSignature):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid webhook payload"})
		case errors.Is(err, billing.ErrNotConfigured):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"message": "payments are not configured"})
		}

		// 4) Unknown errors (500)
		log.Error("internal error", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal server error",
		})
	}
}

func validationFailed(c *fiber.Ctx, fields map[string]string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"message": "validation failed",
		"errors":  fields,
	})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "siret":
		return "SIRET must have 14 digits"
	case "phone":
		return "invalid phone number"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "eqfield":
		return "must match " + fe.Param()
	}
	return fe.Tag()
}
