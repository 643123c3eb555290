package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/api/responses"
	"github.com/angelmondragon/chataccess/api/validators"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/outbox"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

const eventIDParam = "eventId"

// DeadLetterService is what the dead-letter endpoints need from the outbox.
type DeadLetterService interface {
	List(ctx context.Context, filter outbox.DeadLetterFilter) (*outbox.DeadLetterPage, error)
	Get(ctx context.Context, eventID uuid.UUID) (*outbox.DeadLetter, error)
	Replay(ctx context.Context, eventID uuid.UUID) error
}

// ListDeadLetters pages through notifications that could not be published.
func ListDeadLetters(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, maxOffset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		requestID, err := validators.ParseQueryUUID(r, "access_request_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := outbox.DeadLetterFilter{
			AggregateID: requestID,
			Reason:      enums.OutboxDLQErrorReason(strings.TrimSpace(r.URL.Query().Get("reason"))),
			Params:      pagination.Params{Limit: limit, Offset: offset},
		}

		page, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func GetDeadLetter(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseEventID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

// ReplayDeadLetter queues a dead-lettered notification for another publish run.
func ReplayDeadLetter(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseEventID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Replay(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"event_id": id,
			"requeued": true,
		})
	}
}

func parseEventID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, eventIDParam)))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id")
	}
	return id, nil
}
