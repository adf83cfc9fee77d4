// Package mail delivers composed messages through an external relay.
package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/mbirochan/portfolio-site/internal/config"
)

// Message is a provider-neutral email with a plain-text and an HTML part.
type Message struct {
	From    netmail.Address
	To      []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// Transport sends a single message and returns the provider message id, if any.
// Implementations open a fresh authenticated channel per call and hold no
// per-message state, so they are safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, msg Message) (string, error)

// Send calls f(ctx, msg).
func (f TransportFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

var (
	errNoRecipients = errors.New("message has no recipients")
	errNoSender     = errors.New("message has no sender")
	errNoAuth       = errors.New("smtp relay does not offer AUTH")
)

func (m Message) validate() error {
	if strings.TrimSpace(m.From.Address) == "" {
		return errNoSender
	}
	if len(m.To) == 0 {
		return errNoRecipients
	}
	for _, addr := range m.To {
		if strings.ContainsAny(addr, "\r\n") {
			return errors.New("recipient contains line break")
		}
	}
	if strings.ContainsAny(m.ReplyTo, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("header value contains line break")
	}
	return nil
}

// NewTransport builds the transport selected by cfg.Provider.
func NewTransport(cfg config.Mail) (Transport, error) {
	switch cfg.Provider {
	case config.ProviderMailgun:
		mg, err := NewMailgun(cfg.MailgunDomain(), cfg.Password, cfg.Mailgun.APIBase, nil)
		if err != nil {
			return nil, err
		}
		return mg, nil
	case config.ProviderSMTP, "":
		s, err := NewSMTP(cfg.SMTPAddr(), cfg.Account, cfg.Password)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.Provider)
	}
}
