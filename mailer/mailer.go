package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrPermanent marks a rejection that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Address is a mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attachment is a file sent with a message.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Message is one outgoing email.
type Message struct {
	From        Address
	ReplyTo     *Address
	To          []Address
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Validate checks the fields every transport needs.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.From.Email) == "" {
		return fmt.Errorf("%w: missing sender", ErrPermanent)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("%w: no recipients", ErrPermanent)
	}
	for _, to := range m.To {
		if strings.TrimSpace(to.Email) == "" {
			return fmt.Errorf("%w: empty recipient", ErrPermanent)
		}
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrPermanent)
	}
	return nil
}

func (m *Message) recipients() []string {
	out := make([]string, 0, len(m.To))
	for _, to := range m.To {
		out = append(out, to.Email)
	}
	return out
}

// Sender delivers messages. It returns the transport's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LoggingSender writes messages to the log instead of sending them.
type LoggingSender struct {
	log *zap.Logger
}

func NewLoggingSender(log *zap.Logger) *LoggingSender {
	return &LoggingSender{log: log}
}

func (s *LoggingSender) Send(_ context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Name)
	}
	s.log.Info("email logged",
		zap.Strings("to", msg.recipients()),
		zap.String("from", msg.From.Email),
		zap.String("subject", msg.Subject),
		zap.Strings("attachments", names))
	return "logged", nil
}

// BatchResult reports a SendBatch run.
type BatchResult struct {
	Sent   int
	Failed int
	Errors []error
}

// SendBatch sends each message in turn. Failures are logged and counted;
// with failLoudly the first failure aborts the batch and is returned.
func SendBatch(ctx context.Context, sender Sender, msgs []Message, failLoudly bool, log *zap.Logger) (BatchResult, error) {
	var res BatchResult
	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := sender.Send(ctx, msgs[i]); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err)
			log.Warn("batch email failed", zap.Int("index", i), zap.Strings("to", msgs[i].recipients()), zap.Error(err))
			if failLoudly {
				return res, fmt.Errorf("send message %d: %w", i, err)
			}
			continue
		}
		res.Sent++
	}
	return res, nil
}
