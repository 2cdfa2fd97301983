package mail

import (
	"github.com/newsdigest/core/internal/config"
)

// BuildMailConfig maps the application config onto the mail settings.
func BuildMailConfig(cfg *config.AppConfig) Config {
	if cfg == nil {
		return Config{}
	}
	m := cfg.Mail
	return Config{
		Enable:    m.Enable,
		Provider:  m.Provider,
		Host:      m.Host,
		Port:      m.Port,
		User:      m.User,
		Pass:      m.Pass,
		From:      m.From,
		ReplyTo:   m.ReplyTo,
		ResendKey: m.ResendKey,
	}
}
