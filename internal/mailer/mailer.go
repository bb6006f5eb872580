// Package mailer provides the outbound email transports for the digest.
package mailer

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Notifier sends a subject/body message and returns the transport
// status code. Implementations: SES (production), Log (development).
type Notifier interface {
	Send(ctx context.Context, subject, body string) (int, error)
}

// LogMailer writes the message to the log instead of sending it. Used
// when no recipient is configured, so local runs exercise the full
// digest pipeline without a mail provider.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, subject, body string) (int, error) {
	m.logger.Info("email logged (development mode)",
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	m.logger.Debug("email body", zap.String("body", body))
	return http.StatusOK, nil
}
