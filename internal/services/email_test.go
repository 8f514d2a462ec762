package services

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-reminder/internal/config"
	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
	"warranty-reminder/internal/warranty"
)

// smtpServer speaks just enough SMTP for net/smtp to deliver a message
type smtpServer struct {
	ln        net.Listener
	rcptReply string
	silent    bool

	mu       sync.Mutex
	messages []string
}

func startSMTPServer(t *testing.T, rcptReply string) *smtpServer {
	return listenSMTP(t, &smtpServer{rcptReply: rcptReply})
}

// startSilentSMTPServer accepts connections but never greets
func startSilentSMTPServer(t *testing.T) *smtpServer {
	return listenSMTP(t, &smtpServer{silent: true})
}

func listenSMTP(t *testing.T, s *smtpServer) *smtpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s.ln = ln
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *smtpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpServer) handle(conn net.Conn) {
	defer conn.Close()
	if s.silent {
		_, _ = conn.Read(make([]byte, 1))
		return
	}

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(cmd, "HELO"), strings.HasPrefix(cmd, "MAIL"),
			strings.HasPrefix(cmd, "RSET"), strings.HasPrefix(cmd, "NOOP"):
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT"):
			_ = tp.PrintfLine("%s", s.rcptReply)
		case strings.HasPrefix(cmd, "DATA"):
			_ = tp.PrintfLine("354 go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, strings.Join(lines, "\n"))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case strings.HasPrefix(cmd, "QUIT"):
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (s *smtpServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func emailConfig(port int) *config.EmailConfig {
	return &config.EmailConfig{
		Enabled:  true,
		SMTPHost: "127.0.0.1",
		SMTPPort: port,
		From:     "reminders@example.com",
	}
}

func TestEmailNotifierSend(t *testing.T) {
	server := startSMTPServer(t, "250 OK")
	notifier := NewEmailNotifier(emailConfig(server.port()))

	err := notifier.Send(context.Background(), "owner@example.com", "Warranty reminder: TV", "TV warranty expires in 7 day(s) on 2025-01-01.")
	require.NoError(t, err)

	messages := server.received()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "From: reminders@example.com")
	assert.Contains(t, messages[0], "To: owner@example.com")
	assert.Contains(t, messages[0], "Subject: Warranty reminder: TV")
	assert.Contains(t, messages[0], "TV warranty expires in 7 day(s) on 2025-01-01.")
}

func TestEmailNotifierSubjectCannotAddHeaders(t *testing.T) {
	server := startSMTPServer(t, "250 OK")
	notifier := NewEmailNotifier(emailConfig(server.port()))

	product := &models.Product{ProductID: "p-1", Name: "Fridge\r\nBcc: someone@example.net"}
	msg := warranty.RenderMessage(product, 30, time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))

	require.NoError(t, notifier.Send(context.Background(), "owner@example.com", msg.Subject, msg.Body))

	messages := server.received()
	require.Len(t, messages, 1)
	headers, _, found := strings.Cut(messages[0], "\n\n")
	require.True(t, found)
	lines := strings.Split(headers, "\n")
	for _, line := range lines {
		assert.False(t, strings.HasPrefix(strings.ToLower(line), "bcc:"), "unexpected header line %q", line)
	}
	assert.Contains(t, lines, "Subject: Warranty reminder: Fridge Bcc: someone@example.net")
}

func TestEmailNotifierEncodesSubject(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(25))
	notifier.now = func() time.Time { return time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC) }

	raw := string(notifier.buildMessage("owner@example.com", "Warranty reminder: Kühlschrank", "body"))
	assert.Contains(t, raw, "Subject: =?utf-8?q?Warranty_reminder:_K=C3=BChlschrank?=\r\n")
}

func TestEmailNotifierClassifiesReplies(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		retryable bool
	}{
		{name: "mailbox unavailable is permanent", reply: "550 5.1.1 no such user", retryable: false},
		{name: "greylisting is retryable", reply: "451 4.7.1 try again later", retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startSMTPServer(t, tt.reply)
			notifier := NewEmailNotifier(emailConfig(server.port()))

			err := notifier.Send(context.Background(), "owner@example.com", "s", "b")
			require.Error(t, err)

			var te *errs.TransportError
			require.True(t, errs.As(err, &te))
			assert.Equal(t, ChannelEmail, te.Channel)
			assert.Equal(t, tt.retryable, te.Retryable)
			assert.Empty(t, server.received())
		})
	}
}

func TestEmailNotifierConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = NewEmailNotifier(emailConfig(port)).Send(context.Background(), "owner@example.com", "s", "b")
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
}

func TestEmailNotifierHonoursDeadline(t *testing.T) {
	server := startSilentSMTPServer(t)
	notifier := NewEmailNotifier(emailConfig(server.port()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := notifier.Send(ctx, "owner@example.com", "s", "b")
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}
