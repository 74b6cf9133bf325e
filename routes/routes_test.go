package routes_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"invoicesnap-backend/billing"
	"invoicesnap-backend/controllers"
	"invoicesnap-backend/database"
	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/models"
	"invoicesnap-backend/pdf"
	"invoicesnap-backend/routes"
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

type stubDeliverer struct {
	outcome services.DeliveryOutcome
	calls   []models.DeliveryKind
}

func (s *stubDeliverer) RequestDelivery(_ context.Context, _ uint, kind models.DeliveryKind) (services.DeliveryOutcome, error) {
	s.calls = append(s.calls, kind)
	return s.outcome, nil
}

type harness struct {
	app       *fiber.App
	db        *gorm.DB
	deliverer *stubDeliverer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)

	log := zap.NewNop()
	gate := services.NewSubscriptionGate(db, 30, log)
	invoices := services.NewInvoiceService(db, log)
	d := &stubDeliverer{outcome: services.DeliveryOutcome{Queued: true}}
	invoices.UseDeliverer(d)

	ctl := &controllers.Controller{
		Accounts:  services.NewAccountService(db, gate, 30, log),
		Clients:   services.NewClientService(db, log),
		Invoices:  invoices,
		Billing:   services.NewBillingService(db, billing.NewStripe(billing.StripeConfig{WebhookSecret: webhookSecret}), gate, "http://localhost:8080", 9, log),
		Admin:     services.NewAdminService(db, gate, 9, log),
		Renderer:  pdf.NewRenderer(),
		JWTSecret: []byte("test-secret"),
		JWTTTL:    time.Hour,
		Log:       log,
	}
	app := fiber.New(fiber.Config{ErrorHandler: middlewares.NewErrorHandler(log)})
	routes.Register(app, ctl, routes.Deps{DB: db, Gate: gate, Log: log})
	return &harness{app: app, db: db, deliverer: d}
}

type reply struct {
	status int
	header http.Header
	body   []byte
}

func (r reply) json(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(r.body, &out), string(r.body))
	return out
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers ...string) reply {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return reply{status: resp.StatusCode, header: resp.Header, body: raw}
}

// signup registers a user and returns its token and id.
func (h *harness) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	r := h.do(t, http.MethodPost, "/api/registration", "", fiber.Map{
		"first_name": "Jane", "last_name": "Doe", "email": email,
		"password": "correct-horse", "password_confirm": "correct-horse",
	})
	require.Equal(t, fiber.StatusCreated, r.status, string(r.body))
	out := r.json(t)
	user := out["user"].(map[string]any)
	return out["token"].(string), user["id"].(string)
}

func (h *harness) newClient(t *testing.T, token string) uint {
	t.Helper()
	r := h.do(t, http.MethodPost, "/api/clients", token, fiber.Map{
		"name": "Acme", "email": "ap@acme.test", "address": "1 rue de la Paix",
		"postal_code": "75002", "city": "Paris", "siret": "732 829 320 00074",
	})
	require.Equal(t, fiber.StatusCreated, r.status, string(r.body))
	return uint(r.json(t)["client"].(map[string]any)["id"].(float64))
}

func (h *harness) newInvoice(t *testing.T, token string, clientID uint) map[string]any {
	t.Helper()
	r := h.do(t, http.MethodPost, "/api/invoices", token, fiber.Map{
		"client_id": clientID,
		"due_date":  time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02"),
		"tax_rate":  "20",
		"items": []fiber.Map{
			{"description": "Design", "quantity": 2, "unit_price": "50"},
			{"description": "Hosting", "quantity": 1, "unit_price": 25},
		},
	})
	require.Equal(t, fiber.StatusCreated, r.status, string(r.body))
	return r.json(t)["invoice"].(map[string]any)
}

func amount(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(fmt.Sprint(v))
	require.NoError(t, err)
	return d
}

func TestHome(t *testing.T) {
	h := newHarness(t)
	r := h.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "ok", r.json(t)["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "jane@example.com")

	r := h.do(t, http.MethodPost, "/api/login", "", fiber.Map{"email": "Jane@Example.com", "password": "correct-horse"})
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	assert.NotEmpty(t, r.json(t)["token"])

	r = h.do(t, http.MethodPost, "/api/login", "", fiber.Map{"email": "jane@example.com", "password": "wrong-horse"})
	assert.Equal(t, fiber.StatusUnauthorized, r.status)

	r = h.do(t, http.MethodPost, "/api/registration", "", fiber.Map{
		"email": "jane@example.com", "password": "correct-horse", "password_confirm": "correct-horse",
	})
	assert.Equal(t, fiber.StatusConflict, r.status)

	r = h.do(t, http.MethodPost, "/api/registration", "", fiber.Map{
		"email": "other@example.com", "password": "correct-horse", "password_confirm": "different",
	})
	require.Equal(t, fiber.StatusUnprocessableEntity, r.status)
	assert.Contains(t, r.json(t)["errors"], "password_confirm")

	r = h.do(t, http.MethodPost, "/api/logout", "", nil)
	assert.Equal(t, fiber.StatusOK, r.status)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, fiber.StatusUnauthorized, h.do(t, http.MethodGet, "/api/clients", "", nil).status)
	assert.Equal(t, fiber.StatusUnauthorized, h.do(t, http.MethodGet, "/api/clients", "not-a-jwt", nil).status)
}

func TestClientValidation(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup(t, "jane@example.com")

	r := h.do(t, http.MethodPost, "/api/clients", token, fiber.Map{"name": "Acme", "email": "nope", "siret": "123"})
	require.Equal(t, fiber.StatusUnprocessableEntity, r.status)
	errs := r.json(t)["errors"].(map[string]any)
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "siret")
	assert.Contains(t, errs, "city")
}

func TestPatchClientKeepsOmittedFields(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup(t, "jane@example.com")
	id := h.newClient(t, token)
	path := fmt.Sprintf("/api/clients/%d", id)

	r := h.do(t, http.MethodPatch, path, token, fiber.Map{"city": "  Lyon ", "postal_code": "69001"})
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	client := r.json(t)["client"].(map[string]any)
	assert.Equal(t, "Lyon", client["city"])
	assert.Equal(t, "69001", client["postal_code"])
	assert.Equal(t, "Acme", client["name"])
	assert.Equal(t, "ap@acme.test", client["email"])

	r = h.do(t, http.MethodPatch, path, token, fiber.Map{"email": "nope"})
	require.Equal(t, fiber.StatusUnprocessableEntity, r.status)
	assert.Contains(t, r.json(t)["errors"], "email")

	r = h.do(t, http.MethodPatch, "/api/clients/9999", token, fiber.Map{"city": "Nice"})
	assert.Equal(t, fiber.StatusNotFound, r.status)
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup(t, "jane@example.com")
	clientID := h.newClient(t, token)
	inv := h.newInvoice(t, token, clientID)

	assert.Equal(t, "draft", inv["status"])
	assert.True(t, amount(t, inv["subtotal"]).Equal(decimal.NewFromInt(125)))
	assert.True(t, amount(t, inv["tax_amount"]).Equal(decimal.NewFromInt(25)))
	assert.True(t, amount(t, inv["total"]).Equal(decimal.NewFromInt(150)))
	id := uint(inv["id"].(float64))

	// queued delivery answers 202 and leaves the invoice in draft
	r := h.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%d/send", id), token, nil)
	require.Equal(t, fiber.StatusAccepted, r.status, string(r.body))
	out := r.json(t)
	assert.Contains(t, out["message"], "queued")
	assert.Equal(t, "draft", out["invoice"].(map[string]any)["status"])
	assert.Equal(t, []models.DeliveryKind{models.KindInvoice}, h.deliverer.calls)

	// item edits recompute totals
	r = h.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%d/items", id), token, fiber.Map{
		"description": "Support", "quantity": "1", "unit_price": "10",
	})
	require.Equal(t, fiber.StatusCreated, r.status, string(r.body))
	assert.True(t, amount(t, r.json(t)["invoice"].(map[string]any)["total"]).Equal(decimal.NewFromInt(162)))

	r = h.do(t, http.MethodGet, fmt.Sprintf("/api/invoices/%d/pdf", id), token, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "application/pdf", r.header.Get("Content-Type"))
	assert.Contains(t, r.header.Get("Content-Disposition"), "inline; filename=\"invoice_"+inv["invoice_number"].(string)+".pdf\"")
	assert.True(t, bytes.HasPrefix(r.body, []byte("%PDF-")))

	// a draft cannot be paid
	r = h.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%d/paid", id), token, nil)
	assert.Equal(t, fiber.StatusConflict, r.status)

	r = h.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%d/cancel", id), token, nil)
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	assert.Equal(t, "cancelled", r.json(t)["invoice"].(map[string]any)["status"])

	r = h.do(t, http.MethodGet, "/api/dashboard?status=cancelled", token, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	stats := r.json(t)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["cancelled"])

	// the client now has an invoice and cannot be deleted
	r = h.do(t, http.MethodDelete, fmt.Sprintf("/api/clients/%d", clientID), token, nil)
	assert.Equal(t, fiber.StatusConflict, r.status)
}

func TestDeliveryWarningIsReported(t *testing.T) {
	h := newHarness(t)
	h.deliverer.outcome = services.DeliveryOutcome{Warning: "invoice was not delivered: brevo: 503"}
	token, _ := h.signup(t, "jane@example.com")
	id := uint(h.newInvoice(t, token, h.newClient(t, token))["id"].(float64))

	r := h.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%d/send", id), token, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "invoice was not delivered: brevo: 503", r.json(t)["warning"])
}

func TestTenantsCannotSeeEachOther(t *testing.T) {
	h := newHarness(t)
	jane, _ := h.signup(t, "jane@example.com")
	bob, _ := h.signup(t, "bob@example.com")
	id := uint(h.newInvoice(t, jane, h.newClient(t, jane))["id"].(float64))

	assert.Equal(t, fiber.StatusNotFound, h.do(t, http.MethodGet, fmt.Sprintf("/api/invoices/%d", id), bob, nil).status)
	assert.Equal(t, fiber.StatusNotFound, h.do(t, http.MethodGet, fmt.Sprintf("/api/invoices/%d/pdf", id), bob, nil).status)

	r := h.do(t, http.MethodGet, "/api/invoices", bob, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	var list []any
	require.NoError(t, json.Unmarshal(r.body, &list))
	assert.Empty(t, list)
}

func TestExpiredTrialIsRedirected(t *testing.T) {
	h := newHarness(t)
	token, userID := h.signup(t, "jane@example.com")
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.db.Model(&models.SubscriptionProfile{}).Where("user_id = ?", userID).Update("trial_end", past).Error)

	r := h.do(t, http.MethodGet, "/api/clients", token, nil)
	require.Equal(t, fiber.StatusSeeOther, r.status)
	assert.Equal(t, middlewares.UpgradePath, r.header.Get("Location"))
	assert.NotEmpty(t, r.json(t)["message"])

	assert.Equal(t, fiber.StatusOK, h.do(t, http.MethodGet, "/api/settings", token, nil).status)

	r = h.do(t, http.MethodGet, "/api/billing/upgrade", token, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	out := r.json(t)
	assert.EqualValues(t, 0, out["trial_days_left"])
	assert.Equal(t, false, out["is_premium"])

	// checkout without a configured provider
	assert.Equal(t, fiber.StatusServiceUnavailable, h.do(t, http.MethodPost, "/api/billing/checkout", token, nil).status)
}

func signed(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookActivatesPremium(t *testing.T) {
	h := newHarness(t)
	token, userID := h.signup(t, "jane@example.com")
	require.NoError(t, h.db.Model(&models.SubscriptionProfile{}).Where("user_id = ?", userID).Update("trial_end", time.Now().UTC().Add(-time.Hour)).Error)
	require.Equal(t, fiber.StatusSeeOther, h.do(t, http.MethodGet, "/api/clients", token, nil).status)

	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1","metadata":{"user_id":%q}}}}`,
		billing.TypeCheckoutCompleted, userID))

	r := h.do(t, http.MethodPost, "/api/billing/webhook", "", json.RawMessage(payload), "Stripe-Signature", "t=1,v1=bad")
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = h.do(t, http.MethodPost, "/api/billing/webhook", "", json.RawMessage(payload), "Stripe-Signature", signed(payload))
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	assert.Equal(t, "premium activated", r.json(t)["message"])

	r = h.do(t, http.MethodPost, "/api/billing/webhook", "", json.RawMessage(payload), "Stripe-Signature", signed(payload))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "duplicate", r.json(t)["message"])

	assert.Equal(t, fiber.StatusOK, h.do(t, http.MethodGet, "/api/clients", token, nil).status)
}

func TestAdminRequiresStaff(t *testing.T) {
	h := newHarness(t)
	token, userID := h.signup(t, "jane@example.com")
	_, bobID := h.signup(t, "bob@example.com")

	assert.Equal(t, fiber.StatusForbidden, h.do(t, http.MethodGet, "/api/admin/stats", token, nil).status)

	require.NoError(t, h.db.Model(&models.User{}).Where("id = ?", userID).Update("is_staff", true).Error)
	r := h.do(t, http.MethodGet, "/api/admin/stats", token, nil)
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	assert.EqualValues(t, 2, r.json(t)["total_users"])

	r = h.do(t, http.MethodGet, "/api/admin/users?status=trial&q=bob", token, nil)
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	assert.Len(t, r.json(t)["users"], 1)

	r = h.do(t, http.MethodPost, "/api/admin/users/"+bobID+"/toggle-premium", token, nil)
	require.Equal(t, fiber.StatusOK, r.status, string(r.body))
	assert.Equal(t, "Premium granted.", r.json(t)["message"])

	assert.Equal(t, fiber.StatusNotFound, h.do(t, http.MethodGet, "/api/admin/users/missing", token, nil).status)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	h := newHarness(t)
	token, userID := h.signup(t, "jane@example.com")
	body := fiber.Map{"name": "Acme", "email": "ap@acme.test", "address": "1 rue", "postal_code": "75002", "city": "Paris"}

	first := h.do(t, http.MethodPost, "/api/clients", token, body, "Idempotency-Key", "k-1")
	require.Equal(t, fiber.StatusCreated, first.status, string(first.body))
	second := h.do(t, http.MethodPost, "/api/clients", token, body, "Idempotency-Key", "k-1")
	require.Equal(t, fiber.StatusCreated, second.status)
	assert.Equal(t, "true", second.header.Get("Idempotent-Replayed"))
	assert.JSONEq(t, string(first.body), string(second.body))

	var count int64
	require.NoError(t, h.db.Model(&models.Client{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	body["name"] = "Other"
	r := h.do(t, http.MethodPost, "/api/clients", token, body, "Idempotency-Key", "k-1")
	assert.Equal(t, fiber.StatusConflict, r.status)
}
