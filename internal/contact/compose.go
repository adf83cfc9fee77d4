package contact

import (
	"bytes"
	"fmt"
	"html/template"
	netmail "net/mail"
	"strings"

	"golang.org/x/net/html"

	"github.com/mbirochan/portfolio-site/internal/config"
	"github.com/mbirochan/portfolio-site/internal/mail"
)

const (
	notificationSender = "Portfolio Contact Form"
	notificationPrefix = "New Contact Form Submission: "
	confirmationTitle  = "Thank you for your message"
	notProvided        = "Not provided"
	originatingHeader  = "X-Originating-Email"
)

var notificationHTML = template.Must(template.New("notification").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">New Contact Form Submission</h2>
  <div style="margin: 20px 0; padding: 15px; background-color: #f5f5f5; border-radius: 4px;">
    <p><strong>Name:</strong> {{.Name}}</p>
    <p><strong>Email:</strong> {{.Email}}</p>
    <p><strong>Subject:</strong> {{.Subject}}</p>
    <p><strong>Message:</strong></p>
    <div style="margin-top: 10px; padding: 10px; background-color: #fff; border-radius: 4px;">{{.Body}}</div>
  </div>
</div>
`))

var confirmationHTML = template.Must(template.New("confirmation").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Thank you for your message</h2>
  <p>Hello {{.Name}},</p>
  <p>Thank you for contacting me. I have received your message and will get back to you soon.</p>
  <p style="margin-top: 20px;">Best regards,<br>{{.Owner}}</p>
</div>
`))

// notification builds the message delivered to the site owner.
func notification(sub Submission, cfg config.Mail) (mail.Message, error) {
	email := sub.Email
	if email == "" {
		email = notProvided
	}
	replyTo := sub.Email
	if replyTo == "" {
		replyTo = cfg.Account
	}

	var body bytes.Buffer
	err := notificationHTML.Execute(&body, struct {
		Name, Email, Subject string
		Body                 template.HTML
	}{
		Name:    sub.Name,
		Email:   email,
		Subject: sub.Subject,
		Body:    lineBreaks(sub.Message),
	})
	if err != nil {
		return mail.Message{}, fmt.Errorf("render notification: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Name: %s\n", sub.Name)
	fmt.Fprintf(&text, "Email: %s\n", email)
	fmt.Fprintf(&text, "Subject: %s\n", sub.Subject)
	fmt.Fprintf(&text, "Message: %s\n", sub.Message)

	msg := mail.Message{
		From:    netmail.Address{Name: notificationSender, Address: cfg.Account},
		To:      []string{cfg.Account},
		ReplyTo: replyTo,
		Subject: notificationPrefix + singleLine(sub.Subject),
		Text:    text.String(),
		HTML:    body.String(),
	}
	if sub.HasEmail() {
		msg.Headers = map[string]string{originatingHeader: sub.Email}
	}

	return msg, nil
}

// confirmation builds the acknowledgement sent back to the submitter.
func confirmation(sub Submission, cfg config.Mail) (mail.Message, error) {
	var body bytes.Buffer
	err := confirmationHTML.Execute(&body, struct{ Name, Owner string }{Name: sub.Name, Owner: cfg.OwnerName})
	if err != nil {
		return mail.Message{}, fmt.Errorf("render confirmation: %w", err)
	}

	text := fmt.Sprintf("Hello %s,\nThank you for contacting me. I have received your message and will get back to you soon.\nBest regards,\n%s\n",
		sub.Name, cfg.OwnerName)

	return mail.Message{
		From:    netmail.Address{Name: cfg.OwnerName, Address: cfg.Account},
		To:      []string{sub.Email},
		Subject: confirmationTitle,
		Text:    text,
		HTML:    body.String(),
	}, nil
}

// lineBreaks escapes s and turns each newline into <br>.
func lineBreaks(s string) template.HTML {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = html.EscapeString(l)
	}
	return template.HTML(strings.Join(lines, "<br>"))
}

// singleLine folds any line breaks so user text cannot inject headers.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
