package app

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newsdigest/core/internal/config"
	"go.uber.org/zap"
)

// resolveJWTSecret returns the configured secret. Without one a random secret
// is used, so no externally issued token validates.
func resolveJWTSecret(cfg *config.AppConfig, logger *zap.Logger) string {
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		return secret
	}
	logger.Warn("jwt_secret is empty, staff endpoints will reject every token")
	return uuid.NewString()
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	if d < time.Hour {
		return d.Truncate(time.Minute).String()
	}
	if d < 24*time.Hour {
		return d.Truncate(time.Hour).String()
	}
	return d.Truncate(24 * time.Hour).String()
}
