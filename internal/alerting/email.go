package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"
)

// EmailOptions describe the SMTP relay.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailNotifier 通过 SMTP 向商品所有者发送邮件。
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmailNotifier 构造邮件告警器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &EmailNotifier{opts: opts, logger: logger.With().Str("component", "alert_email").Logger()}
}

// Notify sends the alert to the owner's address.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	if note.OwnerEmail == "" {
		return errors.New("email notification requires an owner email")
	}

	msg := email.NewEmail()
	msg.From = n.opts.From
	msg.To = []string{note.OwnerEmail}
	msg.Subject = subject(note)
	msg.Text = []byte(renderMessage(note))

	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- msg.Send(addr, auth)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
	}

	n.logger.Info().Int64("alert_id", note.AlertID).
		Str("product_id", note.ProductID.String()).
		Str("kind", string(note.Kind)).
		Msg("告警已发送 (Email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
