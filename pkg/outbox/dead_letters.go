package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DeadLetter is the admin view of a notification the relay gave up on.
type DeadLetter struct {
	EventID         uuid.UUID                  `json:"event_id"`
	EventType       enums.OutboxEventType      `json:"event_type"`
	AccessRequestID uuid.UUID                  `json:"access_request_id"`
	Reason          enums.OutboxDLQErrorReason `json:"error_reason"`
	Message         string                     `json:"error_message,omitempty"`
	Attempts        int                        `json:"attempt_count"`
	FailedAt        time.Time                  `json:"failed_at"`
	Payload         json.RawMessage            `json:"payload,omitempty"`
}

// DeadLetterPage is one page of dead letters.
type DeadLetterPage struct {
	Items []DeadLetter    `json:"items"`
	Page  pagination.Page `json:"page"`
}

func toDeadLetter(row models.OutboxDLQ, withPayload bool) DeadLetter {
	item := DeadLetter{
		EventID:         row.EventID,
		EventType:       row.EventType,
		AccessRequestID: row.AggregateID,
		Reason:          row.ErrorReason,
		Attempts:        row.AttemptCount,
		FailedAt:        row.FailedAt.UTC(),
	}
	if row.ErrorMessage != nil {
		item.Message = *row.ErrorMessage
	}
	if withPayload {
		item.Payload = row.Payload
	}
	return item
}

// DeadLetters lets operators inspect and replay dead-lettered events.
type DeadLetters struct {
	tx     txRunner
	dlq    *DLQRepository
	events *Repository
	logg   *logger.Logger
}

func NewDeadLetters(tx txRunner, dlq *DLQRepository, events *Repository, logg *logger.Logger) *DeadLetters {
	return &DeadLetters{tx: tx, dlq: dlq, events: events, logg: logg}
}

func (d *DeadLetters) List(ctx context.Context, filter DeadLetterFilter) (*DeadLetterPage, error) {
	if filter.Reason != "" && !filter.Reason.IsValid() {
		return nil, pkgerrors.Field("reason", "must be one of "+enums.DLQReasonList())
	}
	rows, total, err := d.dlq.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	page := filter.Params.Normalize()
	out := &DeadLetterPage{
		Items: make([]DeadLetter, 0, len(rows)),
		Page:  pagination.Page{Limit: page.Limit, Offset: page.Offset, Total: total},
	}
	for _, row := range rows {
		out.Items = append(out.Items, toDeadLetter(row, false))
	}
	return out, nil
}

func (d *DeadLetters) Get(ctx context.Context, eventID uuid.UUID) (*DeadLetter, error) {
	row, err := d.dlq.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	item := toDeadLetter(*row, true)
	return &item, nil
}

// Replay drops the dead letter and hands the event back to the relay with a
// fresh attempt budget. Events already purged by retention cannot be replayed.
func (d *DeadLetters) Replay(ctx context.Context, eventID uuid.UUID) error {
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		removed, err := d.dlq.DeleteTx(tx, eventID)
		if err != nil {
			return pkgerrors.Dependency(err, "delete dead letter")
		}
		if removed == 0 {
			return pkgerrors.NotFound("dead letter")
		}
		requeued, err := d.events.RequeueTx(tx, eventID)
		if err != nil {
			return pkgerrors.Dependency(err, "requeue outbox event")
		}
		if requeued == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "outbox event is no longer pending")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if d.logg != nil {
		d.logg.Info(d.logg.WithField(ctx, "event_id", eventID.String()), "dead letter replayed")
	}
	return nil
}
