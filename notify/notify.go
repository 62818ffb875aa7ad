package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// Notifier delivers a one-time code to a contact address.
type Notifier interface {
	Deliver(ctx context.Context, address, code string) error
}

// LogNotifier writes the would-be message to a logger instead of contacting
// a mail transport. It is the suppressed-delivery implementation: exactly
// one log line per challenge, carrying everything the real message would.
type LogNotifier struct {
	logger  *log.Logger
	sender  string
	subject string
}

// NewLogNotifier creates a [LogNotifier]. A nil logger falls back to the
// standard logger.
func NewLogNotifier(logger *log.Logger, sender, subject string) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{
		logger:  logger,
		sender:  sender,
		subject: subject,
	}
}

// Deliver describes the deliver operation and its observable behavior.
//
// Deliver may return an error when input validation, dependency calls, or security checks fail.
// Deliver does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (n *LogNotifier) Deliver(_ context.Context, address, code string) error {
	n.logger.Printf("passcode: suppressed delivery to=%s from=%s subject=%q code=%s", address, n.sender, n.subject, code)
	return nil
}

// SMTPConfig carries the transport settings for [SMTPNotifier].
type SMTPConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	Sender   string
	Subject  string
}

// SMTPNotifier delivers codes over SMTP. With UseTLS it opens an implicit
// TLS connection; otherwise it relies on the server offering STARTTLS or
// plaintext submission.
type SMTPNotifier struct {
	config SMTPConfig
}

// NewSMTPNotifier creates an [SMTPNotifier] from the given config.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.New("invalid smtp port")
	}
	if cfg.Sender == "" {
		return nil, errors.New("smtp sender required")
	}
	return &SMTPNotifier{config: cfg}, nil
}

// Deliver describes the deliver operation and its observable behavior.
//
// Deliver may return an error when input validation, dependency calls, or security checks fail.
// Deliver does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (n *SMTPNotifier) Deliver(ctx context.Context, address, code string) error {
	if address == "" {
		return errors.New("empty recipient address")
	}

	msg := n.buildMessage(address, code)
	addr := net.JoinHostPort(n.config.Host, strconv.Itoa(n.config.Port))

	if n.config.UseTLS {
		return n.deliverTLS(ctx, addr, address, msg)
	}

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}
	return smtp.SendMail(addr, auth, n.config.Sender, []string{address}, msg)
}

func (n *SMTPNotifier) deliverTLS(ctx context.Context, addr, recipient string, msg []byte) error {
	dialer := &tls.Dialer{
		Config: &tls.Config{ServerName: n.config.Host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, n.config.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if n.config.Username != "" {
		auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(n.config.Sender); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

func (n *SMTPNotifier) buildMessage(address, code string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.config.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", address)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.config.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Your one-time sign-in code is: %s\r\n", code)
	b.WriteString("\r\nIf you did not request this code, you can ignore this message.\r\n")
	return []byte(b.String())
}
