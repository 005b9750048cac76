package notifications

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"465"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
	Subject  string `env:"SMTP_SUBJECT" envDefault:"Your Verification Code"`
}

// LoadSMTPConfig reads SMTPConfig from the environment.
func LoadSMTPConfig() (SMTPConfig, error) {
	cfg, err := env.ParseAs[SMTPConfig]()
	if err != nil {
		return SMTPConfig{}, fmt.Errorf("parse smtp env: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether enough is set to attempt delivery.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing SMTP_HOST environment variable")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing SMTP_PORT environment variable")
	}
	if c.Username == "" {
		return fmt.Errorf("missing SMTP_USERNAME environment variable")
	}
	if c.Password == "" {
		return fmt.Errorf("missing SMTP_PASSWORD environment variable")
	}
	if c.From == "" {
		return fmt.Errorf("missing SMTP_FROM environment variable")
	}
	return nil
}

// sender is the part of *gomail.Dialer the notifier needs.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPNotifier struct {
	cfg    SMTPConfig
	dialer sender
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &SMTPNotifier{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

func (n *SMTPNotifier) SendVerificationCode(ctx context.Context, in VerificationCodeInput) error {
	if in.Email == "" {
		return fmt.Errorf("no recipients specified")
	}

	msg := n.message(in)

	// gomail has no context support; run the dial in the background and
	// stop waiting once ctx is done.
	done := make(chan error, 1)
	go func() {
		done <- n.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *SMTPNotifier) message(in VerificationCodeInput) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", n.cfg.From)
	msg.SetHeader("To", in.Email)
	msg.SetHeader("Subject", n.cfg.Subject)
	msg.SetBody("text/plain", fmt.Sprintf("Your verification code is %s", in.Code))
	return msg
}
