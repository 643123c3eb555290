package mailer

import (
	"context"
	"strings"

	"github.com/angelmondragon/chataccess/pkg/logger"
)

// LogSender writes messages to the structured log instead of delivering them.
// Used for local development.
type LogSender struct {
	logg *logger.Logger
	from string
}

func NewLogSender(logg *logger.Logger, from string) *LogSender {
	return &LogSender{logg: logg, from: from}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if s.logg == nil {
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"mail_from":    s.from,
		"mail_to":      strings.Join(msg.Recipients, ","),
		"mail_subject": msg.Subject,
		"mail_body":    msg.Body,
	})
	s.logg.Info(logCtx, "mail delivered to log")
	return nil
}
