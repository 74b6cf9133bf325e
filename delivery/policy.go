package delivery

import (
	"errors"
	"time"

	"invoicesnap-backend/mailer"
	"invoicesnap-backend/services"
)

// Policy bounds the attempts of one delivery.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy is three attempts with a one minute base delay.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Minute}

// Backoff is the wait before retry n, counting from 0: base, 2*base, 4*base.
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return p.BaseDelay << uint(n)
}

// Permanent reports errors that no retry can fix.
func Permanent(err error) bool {
	return errors.Is(err, mailer.ErrPermanent) || errors.Is(err, services.ErrNotFound)
}
