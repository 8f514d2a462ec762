package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"warranty-reminder/internal/config"
	"warranty-reminder/internal/errs"
)

// EmailNotifier sends email through an SMTP relay
type EmailNotifier struct {
	config *config.EmailConfig
	now    func() time.Time
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg, now: time.Now}
}

// Send delivers one message. The connection honours ctx: its deadline is
// applied to the socket and cancellation aborts in-flight I/O.
func (e *EmailNotifier) Send(ctx context.Context, to, subject, body string) error {
	host := e.config.SMTPHost
	addr := net.JoinHostPort(host, strconv.Itoa(e.config.SMTPPort))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return smtpError(fmt.Errorf("failed to connect to %s: %w", addr, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return smtpError(err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return smtpError(fmt.Errorf("starttls: %w", err))
		}
	}

	if e.config.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			username := e.config.Username
			if username == "" {
				username = e.config.From
			}
			if err := client.Auth(smtp.PlainAuth("", username, e.config.Password, host)); err != nil {
				return smtpError(fmt.Errorf("auth: %w", err))
			}
		}
	}

	if err := client.Mail(e.config.From); err != nil {
		return smtpError(err)
	}
	if err := client.Rcpt(to); err != nil {
		return smtpError(err)
	}

	w, err := client.Data()
	if err != nil {
		return smtpError(err)
	}
	if _, err := w.Write(e.buildMessage(to, subject, body)); err != nil {
		return smtpError(err)
	}
	if err := w.Close(); err != nil {
		return smtpError(err)
	}

	if err := client.Quit(); err != nil {
		// Some providers answer QUIT with a "short response" although the
		// message was accepted; the DATA reply above already confirmed it.
		if !strings.Contains(err.Error(), "short response") {
			return smtpError(err)
		}
	}

	return nil
}

// headerLine folds line breaks so a value cannot start a new header
var headerLine = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func (e *EmailNotifier) buildMessage(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", headerLine.Replace(to))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerLine.Replace(subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// smtpError maps SMTP failures onto transport errors. 4xx replies and
// network failures are transient; 5xx replies are permanent.
func smtpError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return errs.NewTransportError(ChannelEmail, tpErr.Code >= 400 && tpErr.Code < 500, err)
	}
	return errs.NewTransportError(ChannelEmail, true, err)
}
