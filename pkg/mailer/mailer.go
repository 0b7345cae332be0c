package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/stagehub/stages-api/pkg/config"
)

// ErrPermanent marks a send failure that must not be retried.
var ErrPermanent = errors.New("permanent send failure")

// IsPermanent reports whether the error is a non-retryable send failure.
// Anything not explicitly permanent is treated as transient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Message is a single outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers email messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	dialer  *gomail.Dialer
	from    string
	timeout time.Duration
}

// NewSMTPSender builds a sender from mail configuration.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPSender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		timeout: timeout,
	}
}

// Send delivers one message, honoring the context deadline.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("%w: invalid recipient %q", ErrPermanent, msg.To)
	}
	if msg.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrPermanent)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}
