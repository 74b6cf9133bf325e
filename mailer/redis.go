package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSender keeps messages in Redis for a while instead of sending them.
// It backs local and end-to-end runs where a test reads the mailbox.
type RedisSender struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSender(client *redis.Client, ttl time.Duration) *RedisSender {
	return &RedisSender{client: client, ttl: ttl}
}

type storedMessage struct {
	From        string   `json:"from"`
	ReplyTo     string   `json:"reply_to,omitempty"`
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	HTML        string   `json:"html"`
	Attachments []string `json:"attachments"`
	StoredAt    string   `json:"stored_at"`
}

// MailboxKey is where the latest messages for a recipient are kept.
func MailboxKey(recipient string) string {
	return "mailbox:" + strings.ToLower(recipient)
}

func (s *RedisSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	stored := storedMessage{
		From:     msg.From.Email,
		To:       msg.recipients(),
		Subject:  msg.Subject,
		HTML:     msg.HTML,
		StoredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if msg.ReplyTo != nil {
		stored.ReplyTo = msg.ReplyTo.Email
	}
	for _, a := range msg.Attachments {
		stored.Attachments = append(stored.Attachments, a.Name)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("%w: encode message: %v", ErrPermanent, err)
	}

	pipe := s.client.TxPipeline()
	for _, to := range stored.To {
		key := MailboxKey(to)
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, 49)
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store message in redis: %w", err)
	}
	return "redis:" + stored.StoredAt, nil
}
