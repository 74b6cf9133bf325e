package routes

import (
	"invoicesnap-backend/controllers"
	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the shared pieces the route middlewares need.
type Deps struct {
	DB   *gorm.DB
	Gate *services.SubscriptionGate
	Log  *zap.Logger
}

// Register wires all HTTP routes. Public routes are registered before the
// protected group so its middlewares never run for them.
func Register(app *fiber.App, ctl *controllers.Controller, deps Deps) {
	app.Get("/", ctl.Home)

	api := app.Group("/api")

	// Public endpoints
	api.Post("/registration", ctl.Register)
	api.Post("/login", ctl.Login)
	api.Post("/logout", ctl.Logout)
	api.Post("/billing/webhook", ctl.Webhook)

	// Protected endpoints (JWT auth, then the subscription gate, then idempotency)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader(deps.DB, ctl.JWTSecret))
	protected.Use(middlewares.Subscription(deps.Gate, deps.Log))
	protected.Use(middlewares.Idempotency(deps.DB, deps.Log))

	// Settings and billing (open to expired trials)
	protected.Get("/settings", ctl.GetSettings)
	protected.Put("/settings", ctl.UpdateSettings)
	protected.Get("/billing/upgrade", ctl.Upgrade)
	protected.Post("/billing/checkout", ctl.Checkout)
	protected.Get("/billing/success", ctl.CheckoutSuccess)
	protected.Post("/billing/cancel", ctl.CancelSubscription)

	// Dashboard
	protected.Get("/dashboard", ctl.Dashboard)

	// Clients
	protected.Get("/clients", ctl.GetClients)
	protected.Post("/clients", ctl.CreateClient)
	protected.Get("/clients/:id", ctl.GetClient)
	protected.Put("/clients/:id", ctl.UpdateClient)
	protected.Patch("/clients/:id", ctl.PatchClient)
	protected.Delete("/clients/:id", ctl.DeleteClient)

	// Invoices
	protected.Get("/invoices", ctl.GetInvoices)
	protected.Post("/invoices", ctl.CreateInvoice)
	protected.Get("/invoices/overdue", ctl.GetOverdueInvoices)
	protected.Get("/invoices/:id", ctl.GetInvoice)
	protected.Put("/invoices/:id", ctl.UpdateInvoice)
	protected.Delete("/invoices/:id", ctl.DeleteInvoice)
	protected.Post("/invoices/:id/items", ctl.AddItem)
	protected.Put("/invoices/:id/items/:itemId", ctl.UpdateItem)
	protected.Delete("/invoices/:id/items/:itemId", ctl.DeleteItem)
	protected.Post("/invoices/:id/recalculate", ctl.RecalculateInvoice)
	protected.Post("/invoices/:id/send", ctl.SendInvoice)
	protected.Post("/invoices/:id/copy", ctl.SendCopy)
	protected.Post("/invoices/:id/paid", ctl.MarkPaid)
	protected.Post("/invoices/:id/cancel", ctl.CancelInvoice)
	protected.Get("/invoices/:id/pdf", ctl.InvoicePDF)

	// Admin console
	admin := protected.Group("/admin", middlewares.RequireStaff())
	admin.Get("/stats", ctl.AdminStats)
	admin.Get("/users", ctl.AdminUsers)
	admin.Get("/users/:id", ctl.AdminUserDetail)
	admin.Post("/users/:id/toggle-premium", ctl.AdminTogglePremium)
}
