package email

import (
	"context"

	"labcase_backend/platform/logger"
)

// NoopSender logs instead of sending, for environments without SMTP.
type NoopSender struct {
	log *logger.Logger
}

// NewNoopSender creates a sender that only logs.
func NewNoopSender(log *logger.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (s *NoopSender) Send(ctx context.Context, msg Message) error {
	s.log.Info("email suppressed (noop sender)",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
