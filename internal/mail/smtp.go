package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTP sends messages through an authenticated SMTP relay such as Gmail.
type SMTP struct {
	addr     string
	host     string
	username string
	password string

	// TLSConfig overrides the STARTTLS configuration. Nil uses the relay host
	// as server name.
	TLSConfig *tls.Config

	now func() time.Time
}

// NewSMTP constructs an SMTP transport for host:port authenticating with the
// provided account credential.
func NewSMTP(addr, username, password string) (*SMTP, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp addr: %w", err)
	}
	return &SMTP{
		addr:     addr,
		host:     host,
		username: username,
		password: password,
		now:      time.Now,
	}, nil
}

// Send dials the relay, upgrades to TLS when offered, authenticates and
// submits msg. The connection deadline follows ctx.
func (s *SMTP) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}

	id := s.messageID(msg.From.Address)
	body, err := s.render(msg, id)
	if err != nil {
		return "", fmt.Errorf("render message: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		cfg := s.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: s.host}
		}
		if err := c.StartTLS(cfg); err != nil {
			return "", fmt.Errorf("starttls: %w", err)
		}
	}

	if ok, _ := c.Extension("AUTH"); !ok {
		return "", errNoAuth
	}
	if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
		return "", fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(msg.From.Address); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return "", fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return "", fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}

	if err := c.Quit(); err != nil {
		return "", fmt.Errorf("smtp quit: %w", err)
	}

	return id, nil
}

func (s *SMTP) messageID(from string) string {
	domain := s.host
	if at := strings.LastIndexByte(from, '@'); at >= 0 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// render builds a multipart/alternative RFC 5322 message.
func (s *SMTP) render(msg Message, id string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("From", msg.From.String())
	header.Set("To", strings.Join(msg.To, ", "))
	if msg.ReplyTo != "" {
		header.Set("Reply-To", msg.ReplyTo)
	}
	header.Set("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header.Set("Date", s.now().Format(time.RFC1123Z))
	header.Set("Message-Id", id)
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	for k, v := range msg.Headers {
		if strings.ContainsAny(k+v, "\r\n") {
			return nil, fmt.Errorf("header %q contains line break", k)
		}
		header.Set(k, v)
	}

	var head bytes.Buffer
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range header[k] {
			fmt.Fprintf(&head, "%s: %s\r\n", k, v)
		}
	}
	head.WriteString("\r\n")

	if err := writePart(mw, "text/plain; charset=utf-8", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writePart(mw, "text/html; charset=utf-8", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return append(head.Bytes(), buf.Bytes()...), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	ph := make(textproto.MIMEHeader)
	ph.Set("Content-Type", contentType)
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(ph)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}
