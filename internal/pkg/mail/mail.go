package mail

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

const (
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
)

var ErrNoRecipient = errors.New("mail: message has no recipient")

// Config holds mail provider settings.
type Config struct {
	Enable    bool
	Provider  string
	Host      string
	Port      int
	User      string
	Pass      string
	From      string
	ReplyTo   string
	ResendKey string
}

// Message is a single email to a single recipient. HTML and Text are sent as
// multipart/alternative when both are set.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the transport from cfg. A disabled config yields a sender that
// only logs.
func New(cfg Config, logger *zap.Logger) Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enable {
		return &Noop{logger: logger}
	}
	if strings.EqualFold(cfg.Provider, ProviderResend) && cfg.ResendKey != "" {
		return NewResend(cfg, nil)
	}
	return NewSMTP(cfg)
}

func (c Config) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.User
}

func validate(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	return nil
}

// Noop drops messages after logging them.
type Noop struct {
	logger *zap.Logger
}

func (n *Noop) Send(ctx context.Context, msg Message) error {
	if err := validate(ctx, msg); err != nil {
		return err
	}
	n.logger.Info("mail disabled, message not sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
