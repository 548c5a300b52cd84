package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// EmailOptions configure the SMTP notifier.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// EmailNotifier delivers alerts over SMTP.
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
	sendFn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier constructs an SMTP notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
		sendFn: smtp.SendMail,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var mail strings.Builder
	mail.WriteString(fmt.Sprintf("From: %s\r\n", n.opts.From))
	mail.WriteString(fmt.Sprintf("To: %s\r\n", n.opts.To))
	mail.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Title))
	mail.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	mail.WriteString(msg.Body)
	mail.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}

	if err := n.sendFn(addr, auth, n.opts.From, []string{n.opts.To}, []byte(mail.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	n.logger.Info().Str("title", msg.Title).Msg("告警已发送 (Email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
