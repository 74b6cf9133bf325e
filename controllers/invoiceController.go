package controllers

import (
	"fmt"

	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/models"
	"invoicesnap-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type itemDTO struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (d itemDTO) input() services.ItemInput {
	return services.ItemInput{Description: d.Description, Quantity: d.Quantity, UnitPrice: d.UnitPrice}
}

type invoiceDTO struct {
	ClientID  uint             `json:"client_id" validate:"required"`
	Number    string           `json:"invoice_number" validate:"max=50"`
	IssueDate string           `json:"issue_date"`
	DueDate   string           `json:"due_date" validate:"required"`
	TaxRate   *decimal.Decimal `json:"tax_rate"`
	Notes     string           `json:"notes"`
	Items     []itemDTO        `json:"items" validate:"dive"`
	Send      bool             `json:"send"`
}

func (d invoiceDTO) input() (services.InvoiceInput, error) {
	issue, err := parseDate("issue_date", d.IssueDate)
	if err != nil {
		return services.InvoiceInput{}, err
	}
	due, err := parseDate("due_date", d.DueDate)
	if err != nil {
		return services.InvoiceInput{}, err
	}
	in := services.InvoiceInput{
		ClientID:  d.ClientID,
		Number:    d.Number,
		IssueDate: issue,
		DueDate:   due,
		TaxRate:   d.TaxRate,
		Notes:     d.Notes,
	}
	for _, it := range d.Items {
		in.Items = append(in.Items, it.input())
	}
	return in, nil
}

func (ctl *Controller) bindInvoice(c *fiber.Ctx) (invoiceDTO, services.InvoiceInput, error) {
	var dto invoiceDTO
	if err := middlewares.BindNormalized(c, &dto); err != nil {
		return dto, services.InvoiceInput{}, err
	}
	in, err := dto.input()
	return dto, in, err
}

func (ctl *Controller) GetInvoices(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	invoices, err := ctl.Invoices.List(c.UserContext(), user.Id, models.InvoiceStatus(c.Query("status")))
	if err != nil {
		return err
	}
	return c.JSON(invoices)
}

func (ctl *Controller) GetOverdueInvoices(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	invoices, err := ctl.Invoices.ListOverdue(c.UserContext(), user.Id, models.DateOf(timeNow()))
	if err != nil {
		return err
	}
	return c.JSON(invoices)
}

func (ctl *Controller) GetInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, err := ctl.Invoices.Get(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(inv)
}

func (ctl *Controller) CreateInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	dto, in, err := ctl.bindInvoice(c)
	if err != nil {
		return err
	}
	inv, outcome, err := ctl.Invoices.Create(c.UserContext(), user.Id, in, dto.Send)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Invoice %s created.", inv.Number)
	if outcome == nil {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message, "invoice": inv})
	}
	if !outcome.Queued && outcome.Warning == "" {
		message = fmt.Sprintf("Invoice %s created and sent.", inv.Number)
	}
	return deliveryReply(c, message, *outcome, fiber.Map{"invoice": inv})
}

func (ctl *Controller) UpdateInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	dto, in, err := ctl.bindInvoice(c)
	if err != nil {
		return err
	}
	inv, outcome, err := ctl.Invoices.Update(c.UserContext(), user.Id, id, in, dto.Send)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Invoice %s updated.", inv.Number)
	if outcome == nil {
		return c.JSON(fiber.Map{"message": message, "invoice": inv})
	}
	return deliveryReply(c, message, *outcome, fiber.Map{"invoice": inv})
}

func (ctl *Controller) DeleteInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	number, err := ctl.Invoices.Delete(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Invoice %s deleted.", number)})
}

// ---- Items

func (ctl *Controller) AddItem(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var dto itemDTO
	if err := middlewares.BindNormalized(c, &dto); err != nil {
		return err
	}
	inv, err := ctl.Invoices.AddItem(c.UserContext(), user.Id, id, dto.input())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Item added.", "invoice": inv})
}

func (ctl *Controller) UpdateItem(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	itemID, err := paramID(c, "itemId")
	if err != nil {
		return err
	}
	var dto itemDTO
	if err := middlewares.BindNormalized(c, &dto); err != nil {
		return err
	}
	inv, err := ctl.Invoices.UpdateItem(c.UserContext(), user.Id, id, itemID, dto.input())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Item updated.", "invoice": inv})
}

func (ctl *Controller) DeleteItem(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	itemID, err := paramID(c, "itemId")
	if err != nil {
		return err
	}
	inv, err := ctl.Invoices.DeleteItem(c.UserContext(), user.Id, id, itemID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Item deleted.", "invoice": inv})
}

func (ctl *Controller) RecalculateInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, err := ctl.Invoices.Recalculate(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Totals recalculated.", "invoice": inv})
}

// ---- Status actions

func (ctl *Controller) SendInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, outcome, err := ctl.Invoices.RequestSend(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Invoice %s sent to %s.", inv.Number, inv.Client.Email)
	if outcome.Queued {
		message = fmt.Sprintf("Invoice %s will be sent to %s.", inv.Number, inv.Client.Email)
	}
	return deliveryReply(c, message, outcome, fiber.Map{"invoice": inv})
}

func (ctl *Controller) SendCopy(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	outcome, err := ctl.Invoices.SendCopy(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return deliveryReply(c, "A copy of the invoice was sent.", outcome, nil)
}

func (ctl *Controller) MarkPaid(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, err := ctl.Invoices.MarkPaid(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Invoice %s marked as paid.", inv.Number), "invoice": inv})
}

func (ctl *Controller) CancelInvoice(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, err := ctl.Invoices.Cancel(c.UserContext(), user.Id, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Invoice %s cancelled.", inv.Number), "invoice": inv})
}

// InvoicePDF renders the invoice inline.
func (ctl *Controller) InvoicePDF(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if _, err := ctl.Invoices.Get(c.UserContext(), user.Id, id); err != nil {
		return err
	}
	inv, err := ctl.Invoices.LoadForDelivery(c.UserContext(), id)
	if err != nil {
		return err
	}
	doc, err := ctl.Renderer.Render(inv)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s"`, inv.PDFFilename()))
	return c.Send(doc)
}
