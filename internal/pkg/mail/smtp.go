package mail

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

const defaultSMTPPort = 587

// SMTP delivers through an SMTP relay.
type SMTP struct {
	cfg    Config
	dialer *gomail.Dialer
}

func NewSMTP(cfg Config) *SMTP {
	port := cfg.Port
	if port == 0 {
		port = defaultSMTPPort
	}
	return &SMTP{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, port, cfg.User, cfg.Pass),
	}
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := validate(ctx, msg); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.build(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTP) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.sender())
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if s.cfg.ReplyTo != "" {
		m.SetHeader("Reply-To", s.cfg.ReplyTo)
	}

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}
