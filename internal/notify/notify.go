// Package notify delivers account-facing email (OTP codes, ban notices,
// subscription receipts).
//
// Delivery is best-effort everywhere: callers fire sends from goroutines and
// log failures. A lost email must never fail or block the transaction that
// triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"sync"
)

// Notifier sends a message to a recipient.
type Notifier interface {
	Send(ctx context.Context, subject, body, recipient string) error
}

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

// SMTPNotifier sends mail through a plain-auth SMTP relay.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates an SMTP-backed notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q (expected host:port): %w", cfg.Addr, err)
	}
	return &SMTPNotifier{cfg: cfg}, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, subject, body, recipient string) error {
	host, _, err := net.SplitHostPort(n.cfg.Addr)
	if err != nil {
		return err
	}

	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	msg := []byte("From: " + n.cfg.From + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n\r\n" +
		body + "\r\n")

	if err := smtp.SendMail(n.cfg.Addr, auth, n.cfg.From, []string{recipient}, msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", n.cfg.Addr, err)
	}
	return nil
}

// LogNotifier writes notifications to the log instead of sending mail.
// Used in development when no SMTP relay is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, subject, body, recipient string) error {
	n.logger.Info("notification (not sent, no SMTP configured)",
		"recipient", recipient,
		"subject", subject,
	)
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

// Message is one recorded notification.
type Message struct {
	Subject   string
	Body      string
	Recipient string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(ctx context.Context, subject, body, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Subject: subject, Body: body, Recipient: recipient})
	return nil
}

// Sent returns a copy of all recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// LastSubject returns the subject of the most recent message, or "".
func (r *Recorder) LastSubject() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].Subject
}
