package mail

import (
	"context"
	"errors"
	"fmt"

	mailgun "github.com/mailgun/mailgun-go/v5"
)

// Mailgun sends messages through the Mailgun HTTP API.
type Mailgun struct {
	domain string
	mg     mailgun.Mailgun
}

// NewMailgun constructs a Mailgun transport for domain. When mg is nil a
// default client is created from apiKey; apiBase, when set, overrides the
// API endpoint (e.g. the EU region).
func NewMailgun(domain, apiKey, apiBase string, mg mailgun.Mailgun) (*Mailgun, error) {
	if domain == "" {
		return nil, errors.New("mailgun domain is required")
	}
	if mg == nil {
		if apiKey == "" {
			return nil, errors.New("mailgun api key is required")
		}
		mg = mailgun.NewMailgun(apiKey)
	}
	if apiBase != "" {
		if err := mg.SetAPIBase(apiBase); err != nil {
			return nil, fmt.Errorf("mailgun api base: %w", err)
		}
	}
	return &Mailgun{domain: domain, mg: mg}, nil
}

// Send delivers msg via Mailgun.
func (m *Mailgun) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}

	message := mailgun.NewMessage(m.domain, msg.From.String(), msg.Subject, msg.Text)
	for _, rcpt := range msg.To {
		if err := message.AddRecipient(rcpt); err != nil {
			return "", fmt.Errorf("add recipient: %w", err)
		}
	}
	if msg.HTML != "" {
		message.SetHTML(msg.HTML)
	}
	if msg.ReplyTo != "" {
		message.SetReplyTo(msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		message.AddHeader(k, v)
	}

	resp, err := m.mg.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}

	return resp.ID, nil
}
