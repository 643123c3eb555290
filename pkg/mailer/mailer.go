package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/logger"
)

// Message is a plain-text email ready for a transport.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
}

// Validate reports whether the message can be handed to a transport.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("mail subject is required")
	}
	if len(m.Recipients) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, r := range m.Recipients {
		if strings.TrimSpace(r) == "" {
			return errors.New("recipient address is empty")
		}
	}
	return nil
}

// Sender delivers a message or returns the transport error.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the sender selected by cfg.Provider.
func New(cfg config.MailConfig, logg *logger.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.MailProviderSendgrid:
		return NewSendGridSender(cfg.SendgridAPIKey, cfg.FromEmail)
	case config.MailProviderLog, "":
		return NewLogSender(logg, cfg.FromEmail), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.Provider)
	}
}
