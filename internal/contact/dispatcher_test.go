package contact

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/mbirochan/portfolio-site/internal/config"
	"github.com/mbirochan/portfolio-site/internal/mail"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msg mail.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func testMailConfig() config.Mail {
	return config.Mail{
		Provider:    config.ProviderSMTP,
		Account:     "owner@example.com",
		Password:    "app-password",
		OwnerName:   "Birochan Mainali",
		SendTimeout: config.Duration(5 * time.Second),
	}
}

func toRecipient(addr string) any {
	return mock.MatchedBy(func(msg mail.Message) bool {
		return len(msg.To) == 1 && msg.To[0] == addr
	})
}

func newTestDispatcher(t *testing.T, tr mail.Transport) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(testMailConfig(), tr)
	require.NoError(t, err)
	return d
}

func TestDispatcherSendWithoutEmail(t *testing.T) {
	tr := new(mockTransport)
	tr.On("Send", mock.Anything, toRecipient("owner@example.com")).Return("n-1", nil).Once()

	d := newTestDispatcher(t, tr)
	ack, err := d.Send(context.Background(), validSubmission())
	require.NoError(t, err)

	assert.Equal(t, Ack{NotificationID: "n-1"}, ack)
	tr.AssertNumberOfCalls(t, "Send", 1)

	msg := tr.Calls[0].Arguments.Get(1).(mail.Message)
	assert.Equal(t, "New Contact Form Submission: Hello there", msg.Subject)
	assert.Equal(t, "owner@example.com", msg.ReplyTo)
	assert.Equal(t, "Portfolio Contact Form", msg.From.Name)
	assert.Equal(t, "owner@example.com", msg.From.Address)
	assert.Contains(t, msg.Text, "Email: Not provided")
	assert.Contains(t, msg.HTML, "Not provided")
	assert.Empty(t, msg.Headers)
}

func TestDispatcherSendWithEmailSendsTwo(t *testing.T) {
	tr := new(mockTransport)
	tr.On("Send", mock.Anything, toRecipient("owner@example.com")).Return("n-1", nil).Once()
	tr.On("Send", mock.Anything, toRecipient("jane@example.com")).Return("c-1", nil).Once()

	sub := validSubmission()
	sub.Name = "Jane"
	sub.Email = "jane@example.com"

	d := newTestDispatcher(t, tr)
	ack, err := d.Send(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, Ack{NotificationID: "n-1", ConfirmationID: "c-1", Confirmed: true}, ack)
	tr.AssertExpectations(t)
	tr.AssertNumberOfCalls(t, "Send", 2)

	first := tr.Calls[0].Arguments.Get(1).(mail.Message)
	assert.Equal(t, []string{"owner@example.com"}, first.To, "notification must go first")
	assert.Equal(t, "jane@example.com", first.ReplyTo)
	assert.Contains(t, first.Text, "Email: jane@example.com")
	assert.Equal(t, map[string]string{"X-Originating-Email": "jane@example.com"}, first.Headers)

	second := tr.Calls[1].Arguments.Get(1).(mail.Message)
	assert.Equal(t, "Thank you for your message", second.Subject)
	assert.Equal(t, "Birochan Mainali", second.From.Name)
	assert.Contains(t, second.Text, "Hello Jane,")
	assert.Contains(t, second.HTML, "Birochan Mainali")
	assert.Empty(t, second.Headers)
}

func TestDispatcherNotificationFailure(t *testing.T) {
	relayErr := errors.New("535 5.7.8 Username and Password not accepted")
	tr := new(mockTransport)
	tr.On("Send", mock.Anything, mock.Anything).Return("", relayErr).Once()

	sub := validSubmission()
	sub.Email = "jane@example.com"

	d := newTestDispatcher(t, tr)
	_, err := d.Send(context.Background(), sub)

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, StepNotification, derr.Step)
	assert.False(t, derr.IsPartial())
	assert.ErrorIs(t, err, relayErr)
	assert.Equal(t, relayErr.Error(), err.Error())
	tr.AssertNumberOfCalls(t, "Send", 1)
}

// A confirmation failure is reported as a failed dispatch even though the
// owner notification was accepted by the relay.
func TestDispatcherConfirmationFailureIsFullFailure(t *testing.T) {
	relayErr := errors.New("550 mailbox unavailable")
	tr := new(mockTransport)
	tr.On("Send", mock.Anything, toRecipient("owner@example.com")).Return("n-1", nil).Once()
	tr.On("Send", mock.Anything, toRecipient("jane@example.com")).Return("", relayErr).Once()

	sub := validSubmission()
	sub.Email = "jane@example.com"

	d := newTestDispatcher(t, tr)
	ack, err := d.Send(context.Background(), sub)

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, StepConfirmation, derr.Step)
	assert.True(t, derr.IsPartial())
	assert.Equal(t, Ack{}, ack)
	tr.AssertNumberOfCalls(t, "Send", 2)
}

func TestDispatcherNotConfigured(t *testing.T) {
	tr := new(mockTransport)

	for _, cfg := range []config.Mail{
		{Account: "owner@example.com"},
		{Password: "pw"},
		{},
	} {
		d, err := NewDispatcher(cfg, tr)
		require.NoError(t, err)
		assert.False(t, d.Configured())

		_, err = d.Send(context.Background(), validSubmission())
		assert.ErrorIs(t, err, ErrNotConfigured)
	}

	var nilDispatcher *Dispatcher
	_, err := nilDispatcher.Send(context.Background(), validSubmission())
	assert.ErrorIs(t, err, ErrNotConfigured)

	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDispatcherNoDeduplication(t *testing.T) {
	tr := new(mockTransport)
	tr.On("Send", mock.Anything, mock.Anything).Return("id", nil)

	d := newTestDispatcher(t, tr)
	for i := 0; i < 2; i++ {
		_, err := d.Send(context.Background(), validSubmission())
		require.NoError(t, err)
	}
	tr.AssertNumberOfCalls(t, "Send", 2)
}

func TestDispatcherAppliesTimeout(t *testing.T) {
	cfg := testMailConfig()
	cfg.SendTimeout = config.Duration(50 * time.Millisecond)

	tr := mail.TransportFunc(func(ctx context.Context, _ mail.Message) (string, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			return "", errors.New("no deadline")
		}
		if time.Until(deadline) > time.Second {
			return "", errors.New("deadline too far")
		}
		<-ctx.Done()
		return "", ctx.Err()
	})

	d, err := NewDispatcher(cfg, tr)
	require.NoError(t, err)

	_, err = d.Send(context.Background(), validSubmission())
	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotificationHTMLEscapesAndBreaksLines(t *testing.T) {
	sub := Submission{
		Name:    "<b>Eve</b>",
		Subject: "Hello there",
		Message: "line one\nline <two> & more\r\nline three",
	}

	msg, err := notification(sub, testMailConfig())
	require.NoError(t, err)

	assert.NotContains(t, msg.HTML, "<b>Eve</b>")
	assert.NotContains(t, msg.HTML, "<two>")
	assert.Contains(t, msg.HTML, "line one<br>line &lt;two&gt; &amp; more<br>line three")

	doc, err := html.Parse(strings.NewReader(msg.HTML))
	require.NoError(t, err)

	var brs int
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "br" {
			brs++
		}
		if n.Type == html.ElementNode && n.Data == "b" {
			t.Errorf("user markup leaked into notification HTML")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	assert.Equal(t, 2, brs)

	assert.Contains(t, msg.Text, "Message: line one\nline <two> & more")
}

func TestNotificationSubjectIsSingleLine(t *testing.T) {
	sub := validSubmission()
	sub.Subject = "Hello\r\nBcc: victim@example.com"

	msg, err := notification(sub, testMailConfig())
	require.NoError(t, err)
	assert.Equal(t, "New Contact Form Submission: Hello Bcc: victim@example.com", msg.Subject)
}
