package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/pkg/auth"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/mailer"
	"github.com/angelmondragon/chataccess/pkg/outbox"
	"github.com/angelmondragon/chataccess/pkg/outbox/payloads"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (uuid.UUID, error)
}

// Dispatcher composes notification emails and queues them as outbox rows in
// the caller's transaction. Delivery happens in the mail worker.
type Dispatcher struct {
	outbox    emitter
	templates Templates
	logg      *logger.Logger
}

func NewDispatcher(emit emitter, cfg *config.Config, logg *logger.Logger) (*Dispatcher, error) {
	if emit == nil {
		return nil, errors.New("outbox service required")
	}
	if cfg == nil {
		return nil, errors.New("config required")
	}
	return &Dispatcher{
		outbox:    emit,
		templates: NewTemplates(cfg.Mail, cfg.Links),
		logg:      logg,
	}, nil
}

// NotifySubmitted queues the admin notice and the applicant confirmation.
func (d *Dispatcher) NotifySubmitted(ctx context.Context, tx *gorm.DB, req models.AccessRequest) error {
	if _, err := d.Enqueue(ctx, tx, req, enums.MailKindAdminNotice, d.templates.AdminNotice(req)); err != nil {
		return err
	}
	_, err := d.Enqueue(ctx, tx, req, enums.MailKindApplicantConfirmation, d.templates.ApplicantConfirmation(req))
	return err
}

// NotifyDecision queues one decision email for approved or rejected.
func (d *Dispatcher) NotifyDecision(ctx context.Context, tx *gorm.DB, req models.AccessRequest, decision enums.AccessRequestStatus, reason string) error {
	switch decision {
	case enums.AccessRequestStatusApproved:
		_, err := d.Enqueue(ctx, tx, req, enums.MailKindDecisionApproved, d.templates.Approved(req))
		return err
	case enums.AccessRequestStatusRejected:
		_, err := d.Enqueue(ctx, tx, req, enums.MailKindDecisionRejected, d.templates.Rejected(req, reason))
		return err
	default:
		return fmt.Errorf("no decision email for status %q", decision)
	}
}

// Enqueue writes msg as a mail_requested outbox event and returns its event id.
func (d *Dispatcher) Enqueue(ctx context.Context, tx *gorm.DB, req models.AccessRequest, kind enums.MailKind, msg mailer.Message) (uuid.UUID, error) {
	if !kind.IsValid() {
		return uuid.Nil, fmt.Errorf("invalid mail kind %q", kind)
	}
	if err := msg.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("compose %s: %w", kind, err)
	}
	eventID, err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   req.ID,
		Actor:         actorFrom(ctx),
		Data: payloads.MailRequestedEvent{
			Kind:       kind,
			RequestID:  req.ID,
			Subject:    msg.Subject,
			Body:       msg.Body,
			Recipients: msg.Recipients,
		},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	if d.logg != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"access_request_id": req.ID.String(),
			"mail_kind":         kind,
			"event_id":          eventID.String(),
		})
		d.logg.Debug(logCtx, "mail job queued")
	}
	return eventID, nil
}

// actorFrom names the operator behind an admin decision. Applicant
// submissions have no operator and carry no actor.
func actorFrom(ctx context.Context) *outbox.ActorRef {
	op, ok := auth.OperatorFrom(ctx)
	if !ok {
		return nil
	}
	return &outbox.ActorRef{ActorID: op.ID, Role: string(op.Role)}
}
