package middlewares

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"invoicesnap-backend/billing"
	"invoicesnap-backend/database"
	"invoicesnap-backend/models"
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGateExempt(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/api/login", true},
		{"/api/registration", true},
		{"/api/logout", true},
		{"/api/settings", true},
		{"/api/billing/upgrade", true},
		{"/api/billing/webhook", true},
		{"/api/billingx", false},
		{"/api/invoices", false},
		{"/api/clients/1", false},
		{"/api/dashboard", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, GateExempt(tt.path))
		})
	}
}

func statusOf(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestAuthLoadsUser(t *testing.T) {
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	u := models.User{Email: "jane@example.com", FirstName: "Jane", Password: []byte("x")}
	require.NoError(t, db.Create(&u).Error)
	secret := []byte("s3cret")

	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zap.NewNop())})
	app.Get("/me", IsAuthenticatedHeader(db, secret), func(c *fiber.Ctx) error {
		return c.SendString(CurrentUser(c).Email)
	})
	app.Get("/staff", IsAuthenticatedHeader(db, secret), RequireStaff(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	token, err := GenerateJWT(u.Id, secret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, body := statusOf(t, app, req)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "jane@example.com", body)

	req = httptest.NewRequest(http.MethodGet, "/staff", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, _ = statusOf(t, app, req)
	assert.Equal(t, fiber.StatusForbidden, code)

	expired, err := GenerateJWT(u.Id, secret, -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	code, _ = statusOf(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	other, err := GenerateJWT(u.Id, []byte("other"), time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	code, _ = statusOf(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	ghost, err := GenerateJWT("no-such-user", secret, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+ghost)
	code, _ = statusOf(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestGenerateJWTNeedsSecret(t *testing.T) {
	_, err := GenerateJWT("u", nil, time.Hour)
	assert.Error(t, err)
}

func TestErrorHandlerMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fiber.NewError(fiber.StatusTeapot, "short and stout"), fiber.StatusTeapot},
		{fmt.Errorf("invoice 3: %w", services.ErrNotFound), fiber.StatusNotFound},
		{fmt.Errorf("%w: paid -> draft by user", services.ErrInvalidTransition), fiber.StatusConflict},
		{services.ErrClientInUse, fiber.StatusConflict},
		{services.ErrDuplicate, fiber.StatusConflict},
		{services.ErrBadCredentials, fiber.StatusUnauthorized},
		{&services.ValidationError{Field: "due_date", Message: "is required"}, fiber.StatusUnprocessableEntity},
		{services.ValidationErrors{{Field: "a", Message: "b"}}, fiber.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bad", billing.ErrInvalidSignature), fiber.StatusBadRequest},
		{billing.ErrNotConfigured, fiber.StatusServiceUnavailable},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zap.NewNop())})
			app.Get("/", func(*fiber.Ctx) error { return tt.err })
			code, body := statusOf(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.want, code)
			assert.Contains(t, body, `"message"`)
		})
	}
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zap.NewNop())})
	app.Get("/", func(*fiber.Ctx) error { return errors.New("pq: password authentication failed") })
	_, body := statusOf(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotContains(t, body, "pq:")
}

type siretDTO struct {
	SIRET string `json:"siret" validate:"omitempty,siret"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

func TestCustomValidators(t *testing.T) {
	assert.NoError(t, ValidateStruct(siretDTO{SIRET: "732 829 320 00074", Phone: "+33612345678"}))
	assert.NoError(t, ValidateStruct(siretDTO{}))

	err := ValidateStruct(siretDTO{SIRET: "1234", Phone: "call me"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "siret")
	assert.Contains(t, err.Error(), "phone")
}

type bindLineDTO struct {
	Description string `json:"description" validate:"required"`
}

type bindDTO struct {
	Email string        `json:"email" validate:"required,email"`
	Lines []bindLineDTO `json:"lines" validate:"dive"`
}

func TestBindNormalizedTrimsBeforeValidating(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zap.NewNop())})
	app.Post("/", func(c *fiber.Ctx) error {
		var dto bindDTO
		if err := BindNormalized(c, &dto); err != nil {
			return err
		}
		return c.JSON(dto)
	})
	post := func(body string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return statusOf(t, app, req)
	}

	status, body := post(`{"email":"  ap@acme.test ","lines":[{"description":" Design "}]}`)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.JSONEq(t, `{"email":"ap@acme.test","lines":[{"description":"Design"}]}`, body)

	status, body = post(`{"email":"ap@acme.test","lines":[{"description":"   "}]}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "description")

	status, _ = post(`{"email":`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
