package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	client sendgridClient
	from   *mail.Email
}

func NewSendGridSender(apiKey, fromEmail string) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	return newSendGridSender(sendgrid.NewSendClient(apiKey), fromEmail)
}

func newSendGridSender(client sendgridClient, fromEmail string) (*SendGridSender, error) {
	if client == nil {
		return nil, errors.New("sendgrid client is required")
	}
	if strings.TrimSpace(fromEmail) == "" {
		return nil, errors.New("from email is required")
	}
	return &SendGridSender{
		client: client,
		from:   mail.NewEmail("", strings.TrimSpace(fromEmail)),
	}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	personalization := mail.NewPersonalization()
	for _, addr := range msg.Recipients {
		personalization.AddTos(mail.NewEmail("", strings.TrimSpace(addr)))
	}

	email := mail.NewV3Mail()
	email.SetFrom(s.from)
	email.Subject = msg.Subject
	email.AddPersonalizations(personalization)
	email.AddContent(mail.NewContent("text/plain", msg.Body))

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp == nil {
		return errors.New("sendgrid send: empty response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, truncate(resp.Body, 256))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
