package email

import (
	"errors"

	"labcase_backend/platform/config"
	"labcase_backend/platform/logger"
)

// NewSender picks a delivery backend from configuration. Disabled email
// falls back to the logging noop sender so the rest of the pipeline keeps
// working in development.
func NewSender(cfg config.EmailConfig, log *logger.Logger) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NewNoopSender(log), nil
	}
	if cfg.GetSMTPHost() == "" {
		return nil, errors.New("email enabled but SMTP_HOST not configured")
	}
	return NewSMTPSender(cfg), nil
}
