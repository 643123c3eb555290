package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/api/responses"
	"github.com/angelmondragon/chataccess/api/validators"
	"github.com/angelmondragon/chataccess/internal/accessrequests"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

const (
	maxOffset      = 1_000_000
	requestIDParam = "requestId"
)

type submitAccessRequestBody struct {
	Name   string `json:"name" validate:"required,max=100"`
	Email  string `json:"email" validate:"required,email,max=254"`
	Reason string `json:"reason" validate:"required,max=2000"`
}

type updateStatusBody struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected"`
	Reason string `json:"reason" validate:"max=2000"`
}

type bulkDecisionBody struct {
	IDs    []string `json:"ids" validate:"required,min=1,max=500,dive,uuid"`
	Reason string   `json:"reason" validate:"max=2000"`
}

type bulkDecisionResponse struct {
	Decision   enums.AccessRequestStatus    `json:"decision"`
	Updated    int                          `json:"updated"`
	Failed     int                          `json:"failed"`
	Message    string                       `json:"message"`
	UpdatedIDs []uuid.UUID                  `json:"updated_ids"`
	Failures   []accessrequests.BulkFailure `json:"failures"`
}

// SubmitAccessRequest is the public submission endpoint.
func SubmitAccessRequest(svc accessrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submitAccessRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Submit(r.Context(), accessrequests.SubmitInput{
			Name:   body.Name,
			Email:  body.Email,
			Reason: body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, accessrequests.ToItem(*created))
	}
}

// ListAccessRequests returns a filtered page for administrators.
func ListAccessRequests(svc accessrequests.Service, logg *logger.Logger) http.HandlerFunc {
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

		query := r.URL.Query()
		result, err := svc.List(r.Context(), accessrequests.ListParams{
			Status:   query.Get("status"),
			Search:   query.Get("search"),
			Ordering: query.Get("ordering"),
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func GetAccessRequest(svc accessrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accessrequests.ToItem(*row))
	}
}

// UpdateAccessRequestStatus applies a single administrator decision.
func UpdateAccessRequestStatus(svc accessrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateStatusBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseAccessRequestStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Field("status", err.Error()))
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), id, accessrequests.UpdateStatusInput{
			Status: status,
			Reason: body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accessrequests.ToItem(*updated))
	}
}

// BulkDecideAccessRequests applies decision to every selected request.
func BulkDecideAccessRequests(svc accessrequests.Service, decision enums.AccessRequestStatus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bulkDecisionBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ids := make([]uuid.UUID, 0, len(body.IDs))
		for _, raw := range body.IDs {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Field("ids", "ids must be valid uuids"))
				return
			}
			ids = append(ids, id)
		}

		result, err := svc.BulkDecide(r.Context(), accessrequests.BulkDecideInput{
			IDs:      ids,
			Decision: decision,
			Reason:   body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bulkDecisionResponse{
			Decision:   result.Decision,
			Updated:    len(result.Updated),
			Failed:     len(result.Failed),
			Message:    result.Message,
			UpdatedIDs: result.Updated,
			Failures:   result.Failed,
		})
	}
}

// AccessRequestStatuses exposes the status label/color mapping.
func AccessRequestStatuses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, accessrequests.Displays())
	}
}

func parseRequestID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, requestIDParam))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid access request id")
	}
	return id, nil
}
