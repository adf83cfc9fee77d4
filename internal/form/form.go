package form

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbirochan/portfolio-site/internal/contact"
)

// ErrBusy is returned when Submit is called while a submission is in flight.
var ErrBusy = errors.New("submission already in progress")

const (
	labelIdle = "Send Message"
	labelBusy = "Sending..."

	titleSuccess = "Success!"
	titleFailure = "Error"

	fallbackSuccess = "Your message has been sent successfully!"
	fallbackFailure = "Failed to send message. Please try again later."

	maxReplyBytes = 64 << 10
)

// Kind distinguishes notification variants.
type Kind int

const (
	Success Kind = iota + 1
	Failure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Notification is the transient message shown after a submission.
type Notification struct {
	Kind        Kind
	Title       string
	Description string
}

// Controller drives a contact form against the submission endpoint. It owns
// the field values, per-field errors and the in-flight flag.
type Controller struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	fields contact.Submission
	errs   contact.FieldErrors
	busy   bool
	last   *Notification
}

// New returns a controller posting to endpoint. A nil client uses a default
// client with a 60 second timeout.
func New(endpoint string, client *http.Client) *Controller {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Controller{endpoint: endpoint, client: client}
}

// SetFields replaces the current field values.
func (c *Controller) SetFields(sub contact.Submission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = sub
}

// Fields returns the current field values.
func (c *Controller) Fields() contact.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields
}

// Errors returns a copy of the per-field validation messages from the last
// submit attempt.
func (c *Controller) Errors() contact.FieldErrors {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(contact.FieldErrors, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}

// Busy reports whether a submission is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// SubmitLabel is the text for the submit control.
func (c *Controller) SubmitLabel() string {
	if c.Busy() {
		return labelBusy
	}
	return labelIdle
}

// Notification returns the last notification, if any.
func (c *Controller) Notification() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Notification{}, false
	}
	return *c.last, true
}

// reply mirrors the endpoint's JSON envelope.
type reply struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

// Submit validates the fields locally and, if they pass, posts them. A local
// validation failure returns *contact.ValidationError without network I/O and
// clears the previous notification. Any other failure is reported as a Failure
// notification and a non-nil error; the fields are kept so the user can retry.
func (c *Controller) Submit(ctx context.Context) (Notification, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Notification{}, ErrBusy
	}

	sub, err := contact.Validate(c.fields)
	if err != nil {
		var verr *contact.ValidationError
		if errors.As(err, &verr) {
			c.errs = verr.Fields
		}
		c.last = nil
		c.mu.Unlock()
		return Notification{}, err
	}

	c.errs = nil
	c.busy = true
	c.mu.Unlock()

	note, sendErr := c.post(ctx, sub)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.last = &note
	if sendErr == nil {
		c.fields = contact.Submission{}
	}

	return note, sendErr
}

func (c *Controller) post(ctx context.Context, sub contact.Submission) (Notification, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return failure(err.Error()), err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return failure(err.Error()), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return failure(err.Error()), fmt.Errorf("post submission: %w", err)
	}
	defer resp.Body.Close()

	var out reply
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBytes)).Decode(&out)

	if decodeErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && out.Success {
		msg := out.Message
		if msg == "" {
			msg = fallbackSuccess
		}
		return Notification{Kind: Success, Title: titleSuccess, Description: msg}, nil
	}

	desc := describe(resp.StatusCode, out, decodeErr)
	return failure(desc), errors.New(desc)
}

func failure(desc string) Notification {
	if strings.TrimSpace(desc) == "" {
		desc = fallbackFailure
	}
	return Notification{Kind: Failure, Title: titleFailure, Description: desc}
}

// describe picks the most useful text from a failed reply.
func describe(status int, out reply, decodeErr error) string {
	if decodeErr != nil || out.Error == "" {
		if decodeErr == nil && out.Message != "" {
			return out.Message
		}
		return fmt.Sprintf("Server error: %d", status)
	}

	detail := detailText(out.Details)
	if detail == "" {
		return out.Error
	}
	return out.Error + ": " + detail
}

func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err == nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		msgs := make([]string, 0, len(keys))
		for _, k := range keys {
			msgs = append(msgs, fields[k])
		}
		return strings.Join(msgs, "; ")
	}

	return ""
}
