package notifications

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/enums"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/mailer"
	"github.com/angelmondragon/chataccess/pkg/metrics"
	"github.com/angelmondragon/chataccess/pkg/outbox/payloads"
	"github.com/angelmondragon/chataccess/pkg/outbox/registry"
)

const mailConsumerName = "mail-sender"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type idempotencyGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	ClaimedAt(ctx context.Context, consumer string, eventID uuid.UUID) (time.Time, bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// ConsumerParams wires the mail consumer.
type ConsumerParams struct {
	Subscription receiver
	Idempotency  idempotencyGuard
	Sender       mailer.Sender
	Metrics      *metrics.MailMetrics
	Logger       *logger.Logger
}

// Consumer delivers queued mail jobs from the mail subscription.
type Consumer struct {
	subscription receiver
	decoder      *registry.Decoder[payloads.MailRequestedEvent]
	idempotency  idempotencyGuard
	sender       mailer.Sender
	metrics      *metrics.MailMetrics
	logg         *logger.Logger
}

// NewConsumer builds a mail consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("mail subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("mail sender required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: params.Subscription,
		decoder:      registry.MailRequestedDecoder(),
		idempotency:  params.Idempotency,
		sender:       params.Sender,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != string(enums.EventMailRequested) {
		c.logg.Info(logCtx, "skipping non-mail event")
		return processResult{ack: true}
	}

	opened, err := c.decoder.Open(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "dropping undecodable mail event", err)
		return processResult{ack: true}
	}
	eventID, job := opened.EventID, opened.Payload

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":          eventID.String(),
		"access_request_id": job.RequestID.String(),
		"mail_kind":         job.Kind,
	})

	message := mailer.Message{Subject: job.Subject, Body: job.Body, Recipients: job.Recipients}
	if err := message.Validate(); err != nil {
		c.metrics.IncFailed(job.Kind)
		c.logg.Error(logCtx, "mail job is not deliverable", err)
		return processResult{ack: true}
	}

	claimed, err := c.idempotency.Claim(ctx, mailConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		if at, ok, lookupErr := c.idempotency.ClaimedAt(ctx, mailConsumerName, eventID); lookupErr == nil && ok {
			logCtx = c.logg.WithField(logCtx, "first_claimed_at", at.Format(time.RFC3339))
		}
		c.logg.Info(logCtx, "mail already sent")
		return processResult{ack: true}
	}

	start := time.Now()
	err = c.sender.Send(ctx, message)
	c.metrics.ObserveDuration(job.Kind, time.Since(start))
	if err != nil {
		c.metrics.IncFailed(job.Kind)
		c.logg.Error(logCtx, "mail delivery failed", err)
		if relErr := c.idempotency.Release(ctx, mailConsumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "failed to release mail claim", relErr)
		}
		return processResult{nack: true}
	}

	c.metrics.IncSent(job.Kind)
	c.logg.Info(logCtx, "mail sent")
	return processResult{ack: true}
}
