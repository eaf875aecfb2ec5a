package service

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type EmailConfig struct {
	Server    string
	Port      int
	Username  string
	Password  string
	Sender    string
	Recipient string
}

// Email шлёт письма через SMTP с STARTTLS.
type Email struct {
	conf EmailConfig
}

func NewEmail(conf EmailConfig) *Email { return &Email{conf: conf} }

func (e *Email) Name() string { return "email" }

func (e *Email) Deliver(ctx context.Context, m Message) error {
	addr := net.JoinHostPort(e.conf.Server, strconv.Itoa(e.conf.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "smtp dial")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.conf.Server)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.conf.Server}); err != nil {
			return errors.Wrap(err, "smtp starttls")
		}
	}
	if e.conf.Username != "" {
		auth := smtp.PlainAuth("", e.conf.Username, e.conf.Password, e.conf.Server)
		if err := c.Auth(auth); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}
	if err := c.Mail(e.conf.Sender); err != nil {
		return errors.Wrap(err, "smtp mail from")
	}
	if err := c.Rcpt(e.conf.Recipient); err != nil {
		return errors.Wrap(err, "smtp rcpt to")
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write(composeEmail(e.conf.Sender, e.conf.Recipient, m)); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "smtp write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "smtp data close")
	}
	return c.Quit()
}

func composeEmail(from, to string, m Message) []byte {
	at := m.At
	if at.IsZero() {
		at = time.Now()
	}
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(m.Title) + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
