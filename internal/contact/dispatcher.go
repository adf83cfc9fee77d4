package contact

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbirochan/portfolio-site/internal/config"
	"github.com/mbirochan/portfolio-site/internal/mail"
)

const tracerName = "github.com/mbirochan/portfolio-site/internal/contact"

// Ack describes a successful dispatch.
type Ack struct {
	NotificationID string
	ConfirmationID string
	Confirmed      bool
}

// Sender defines behaviour required to deliver a contact submission.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, sub Submission) (Ack, error)
}

// Dispatcher relays validated submissions to the site owner and, when the
// submitter left an address, sends them a confirmation. It holds no state
// between calls and is safe for concurrent use.
type Dispatcher struct {
	cfg       config.Mail
	transport mail.Transport
	tracer    trace.Tracer
}

// NewDispatcher constructs a Dispatcher. When transport is nil and cfg is
// configured, the transport named by cfg.Provider is created.
func NewDispatcher(cfg config.Mail, transport mail.Transport) (*Dispatcher, error) {
	if transport == nil && cfg.Configured() {
		t, err := mail.NewTransport(cfg)
		if err != nil {
			return nil, err
		}
		transport = t
	}
	return &Dispatcher{
		cfg:       cfg,
		transport: transport,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Configured reports whether both relay secrets are present.
func (d *Dispatcher) Configured() bool {
	if d == nil {
		return false
	}
	return d.transport != nil && d.cfg.Configured()
}

// Send delivers sub. The owner notification is sent first; the confirmation
// follows only if sub has an email. Either failure yields a *DispatchError.
// There is no retry.
func (d *Dispatcher) Send(ctx context.Context, sub Submission) (Ack, error) {
	if !d.Configured() {
		return Ack{}, ErrNotConfigured
	}

	if timeout := d.cfg.SendTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var ack Ack

	msg, err := notification(sub, d.cfg)
	if err != nil {
		return Ack{}, &DispatchError{Step: StepNotification, Err: err}
	}
	if ack.NotificationID, err = d.deliver(ctx, StepNotification, msg); err != nil {
		return Ack{}, err
	}

	if !sub.HasEmail() {
		return ack, nil
	}

	msg, err = confirmation(sub, d.cfg)
	if err != nil {
		return Ack{}, &DispatchError{Step: StepConfirmation, Err: err}
	}
	if ack.ConfirmationID, err = d.deliver(ctx, StepConfirmation, msg); err != nil {
		return Ack{}, err
	}
	ack.Confirmed = true

	return ack, nil
}

func (d *Dispatcher) deliver(ctx context.Context, step Step, msg mail.Message) (string, error) {
	ctx, span := d.tracer.Start(ctx, "contact.send_"+string(step),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mail.provider", d.cfg.Provider),
			attribute.Int("mail.recipients", len(msg.To)),
		),
	)
	defer span.End()

	id, err := d.transport.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			span.SetAttributes(attribute.Bool("mail.timeout", true))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &DispatchError{Step: step, Err: err}
	}

	span.SetAttributes(attribute.String("mail.message_id", id))
	return id, nil
}
