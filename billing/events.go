package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v74"
)

// Event is one of CheckoutCompleted, SubscriptionDeleted, PaymentFailed or
// Unhandled. The set is closed; handlers switch on the concrete type.
type Event interface {
	Meta() Envelope
	isEvent()
}

// Envelope carries what every provider event has.
type Envelope struct {
	ID      string
	Type    string
	Payload json.RawMessage
}

func (e Envelope) Meta() Envelope { return e }
func (Envelope) isEvent()         {}

// CheckoutCompleted is a finished checkout; UserID comes from the session metadata.
type CheckoutCompleted struct {
	Envelope
	SessionID      string
	UserID         string
	CustomerID     string
	SubscriptionID string
}

// SubscriptionDeleted is a subscription ended on the provider side.
type SubscriptionDeleted struct {
	Envelope
	SubscriptionID string
	CustomerID     string
}

// PaymentFailed is a failed renewal payment.
type PaymentFailed struct {
	Envelope
	InvoiceID  string
	CustomerID string
}

// Unhandled is any other event type; it is acknowledged and ignored.
type Unhandled struct {
	Envelope
}

const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
	TypePaymentFailed       = "invoice.payment_failed"
)

// decodeEvent maps a verified stripe event onto the closed set.
func decodeEvent(ev stripe.Event) (Event, error) {
	env := Envelope{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		env.Payload = ev.Data.Raw
	}

	switch env.Type {
	case TypeCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out := CheckoutCompleted{Envelope: env, SessionID: s.ID, UserID: s.Metadata["user_id"]}
		if s.Customer != nil {
			out.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			out.SubscriptionID = s.Subscription.ID
		}
		return out, nil

	case TypeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(env.Payload, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out := SubscriptionDeleted{Envelope: env, SubscriptionID: sub.ID}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		return out, nil

	case TypePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(env.Payload, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out := PaymentFailed{Envelope: env, InvoiceID: inv.ID}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		return out, nil
	}
	return Unhandled{Envelope: env}, nil
}
