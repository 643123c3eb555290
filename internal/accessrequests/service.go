package accessrequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/pkg/db"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

const MaxNameLength = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type requestsRepository interface {
	CreateTx(tx *gorm.DB, req *models.AccessRequest) error
	FindLatestByEmailTx(tx *gorm.DB, email string) (*models.AccessRequest, error)
	FindByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.AccessRequest, error)
	UpdateStatusTx(tx *gorm.DB, id uuid.UUID, status enums.AccessRequestStatus, at time.Time) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error)
	List(ctx context.Context, opts listQuery) ([]models.AccessRequest, int64, error)
}

// Notifier enqueues notification jobs inside the caller's transaction.
type Notifier interface {
	NotifySubmitted(ctx context.Context, tx *gorm.DB, req models.AccessRequest) error
	NotifyDecision(ctx context.Context, tx *gorm.DB, req models.AccessRequest, decision enums.AccessRequestStatus, reason string) error
}

// Service exposes the access request lifecycle.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.AccessRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, input UpdateStatusInput) (*models.AccessRequest, error)
	BulkDecide(ctx context.Context, input BulkDecideInput) (*BulkResult, error)
}

// SubmitInput is the applicant-provided payload.
type SubmitInput struct {
	Name   string
	Email  string
	Reason string
}

// UpdateStatusInput carries a single-record status change. Reason is only
// used in the rejection email and is not stored.
type UpdateStatusInput struct {
	Status enums.AccessRequestStatus
	Reason string
}

// BulkDecideInput applies one decision to a selection of requests.
type BulkDecideInput struct {
	IDs      []uuid.UUID
	Decision enums.AccessRequestStatus
	Reason   string
}

// BulkFailure describes one record the bulk action could not update.
type BulkFailure struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

// BulkResult summarizes a bulk decision.
type BulkResult struct {
	Decision enums.AccessRequestStatus `json:"decision"`
	Updated  []uuid.UUID               `json:"updated"`
	Failed   []BulkFailure             `json:"failed"`
	Message  string                    `json:"message"`
	errs     error
}

// Err returns the combined per-record errors, if any.
func (r *BulkResult) Err() error {
	if r == nil {
		return nil
	}
	return r.errs
}

type service struct {
	tx        txRunner
	repo      requestsRepository
	validator *Validator
	notifier  Notifier
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the lifecycle service.
func NewService(tx txRunner, repo requestsRepository, notifier Notifier, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("access request repository required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &service{
		tx:        tx,
		repo:      repo,
		validator: NewValidator(repo),
		notifier:  notifier,
		logg:      logg,
		now:       db.Now,
	}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.AccessRequest, error) {
	input, err := normalizeSubmit(input)
	if err != nil {
		return nil, err
	}

	createdAt := s.now()
	req := &models.AccessRequest{
		ID:        uuid.New(),
		Name:      input.Name,
		Email:     input.Email,
		Reason:    input.Reason,
		Status:    enums.AccessRequestStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// serializes concurrent submissions for the same email on postgres
		if err := db.AdvisoryXactLock(tx, req.Email); err != nil {
			return pkgerrors.Dependency(err, "lock email")
		}
		if err := s.validator.Check(ctx, tx, req.Email); err != nil {
			return err
		}
		if err := s.repo.CreateTx(tx, req); err != nil {
			if db.IsUniqueViolation(err, PendingEmailConstraint) {
				return pkgerrors.Field("email", MsgPendingExists)
			}
			return pkgerrors.Dependency(err, "create access request")
		}
		if err := s.notifier.NotifySubmitted(ctx, tx, *req); err != nil {
			return pkgerrors.Dependency(err, "enqueue submission notifications")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.info(ctx, req.ID, "access request submitted")
	return req, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access request id required")
	}
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return row, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query, err := buildListQuery(params)
	if err != nil {
		return nil, err
	}
	rows, total, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "list access requests")
	}
	return &ListResult{
		Items: toItems(rows),
		Page: pagination.Page{
			Limit:  query.limit,
			Offset: query.offset,
			Total:  total,
		},
	}, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, input UpdateStatusInput) (*models.AccessRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access request id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.Field("status", "status must be one of pending, approved, rejected")
	}

	var updated *models.AccessRequest
	var previous enums.AccessRequestStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdateTx(tx, id)
		if err != nil {
			return mapLookupError(err)
		}
		previous = current.Status

		decision, notify := Transition(previous, input.Status)
		if previous == input.Status {
			updated = current
			return nil
		}

		now := s.now()
		if err := s.repo.UpdateStatusTx(tx, id, input.Status, now); err != nil {
			return pkgerrors.Dependency(err, "update access request status")
		}
		current.Status = input.Status
		current.UpdatedAt = now
		updated = current

		if notify {
			if err := s.notifier.NotifyDecision(ctx, tx, *current, decision, input.Reason); err != nil {
				return pkgerrors.Dependency(err, "enqueue decision notification")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous.IsTerminal() && input.Status == enums.AccessRequestStatusPending {
		s.warn(ctx, id, fmt.Sprintf("access request reopened from %s", previous))
	} else if previous != input.Status {
		s.info(ctx, id, fmt.Sprintf("access request status changed %s -> %s", previous, input.Status))
	}
	return updated, nil
}

func (s *service) BulkDecide(ctx context.Context, input BulkDecideInput) (*BulkResult, error) {
	if !input.Decision.IsTerminal() {
		return nil, pkgerrors.Field("decision", "decision must be approved or rejected")
	}
	ids := uniqueIDs(input.IDs)
	if len(ids) == 0 {
		return nil, pkgerrors.Field("ids", "at least one id is required")
	}

	result := &BulkResult{
		Decision: input.Decision,
		Updated:  make([]uuid.UUID, 0, len(ids)),
		Failed:   []BulkFailure{},
	}
	for _, id := range ids {
		if err := s.decideOne(ctx, id, input.Decision, input.Reason); err != nil {
			result.errs = multierr.Append(result.errs, fmt.Errorf("%s: %w", id, err))
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: publicMessage(err)})
			continue
		}
		result.Updated = append(result.Updated, id)
	}
	result.Message = bulkMessage(len(result.Updated), input.Decision)

	if result.errs != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"decision": input.Decision,
			"updated":  len(result.Updated),
			"failed":   len(result.Failed),
		})
		s.logg.Warn(logCtx, "bulk decision partially failed: "+result.errs.Error())
	}
	return result, nil
}

// decideOne applies a bulk decision to one record in its own transaction. The
// decision job is enqueued without comparing against the prior status.
func (s *service) decideOne(ctx context.Context, id uuid.UUID, decision enums.AccessRequestStatus, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdateTx(tx, id)
		if err != nil {
			return mapLookupError(err)
		}
		now := s.now()
		if err := s.repo.UpdateStatusTx(tx, id, decision, now); err != nil {
			return pkgerrors.Dependency(err, "update access request status")
		}
		current.Status = decision
		current.UpdatedAt = now
		if err := s.notifier.NotifyDecision(ctx, tx, *current, decision, reason); err != nil {
			return pkgerrors.Dependency(err, "enqueue decision notification")
		}
		return nil
	})
}

func normalizeSubmit(input SubmitInput) (SubmitInput, error) {
	out := SubmitInput{
		Name:   strings.TrimSpace(input.Name),
		Email:  strings.ToLower(strings.TrimSpace(input.Email)),
		Reason: strings.TrimSpace(input.Reason),
	}
	switch {
	case out.Name == "":
		return out, pkgerrors.Field("name", "name is required")
	case utf8.RuneCountInString(out.Name) > MaxNameLength:
		return out, pkgerrors.Field("name", fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	case out.Email == "":
		return out, pkgerrors.Field("email", "email is required")
	case out.Reason == "":
		return out, pkgerrors.Field("reason", "reason is required")
	}
	if err := emailRules.Var(out.Email, "email,max=254"); err != nil {
		return out, pkgerrors.Field("email", "email must be a valid address")
	}
	return out, nil
}

// emailRules applies the same address rules as the submission body decoder.
var emailRules = validator.New()

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.NotFound("access request")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Dependency(err, "load access request")
}

func publicMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func bulkMessage(count int, decision enums.AccessRequestStatus) string {
	noun := "requests"
	if count == 1 {
		noun = "request"
	}
	return fmt.Sprintf("%d %s %s", count, noun, decision)
}

func (s *service) info(ctx context.Context, id uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithAccessRequestID(ctx, id.String()), msg)
}

func (s *service) warn(ctx context.Context, id uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithAccessRequestID(ctx, id.String()), msg)
}
