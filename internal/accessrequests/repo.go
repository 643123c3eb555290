package accessrequests

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/chataccess/pkg/db"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
)

// PendingEmailConstraint is the partial unique index guarding one pending
// request per email.
const PendingEmailConstraint = "ux_access_requests_pending_email"

// Repository exposes access request persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTx inserts a new request. The id is assigned here when missing.
func (r *Repository) CreateTx(tx *gorm.DB, req *models.AccessRequest) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	return tx.Create(req).Error
}

// FindLatestByEmailTx returns the most recent request for email, or nil.
func (r *Repository) FindLatestByEmailTx(tx *gorm.DB, email string) (*models.AccessRequest, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var row models.AccessRequest
	err := tx.Where("email = ?", email).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByIDForUpdateTx loads a request and, on postgres, row-locks it until
// the transaction ends.
func (r *Repository) FindByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.AccessRequest, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	query := tx
	if db.IsPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.AccessRequest
	if err := query.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateStatusTx writes status and updated_at only; created_at is never touched.
func (r *Repository) UpdateStatusTx(tx *gorm.DB, id uuid.UUID, status enums.AccessRequestStatus, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	res := tx.Model(&models.AccessRequest{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByID loads a single request.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error) {
	var row models.AccessRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns one page of requests plus the total matching count.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.AccessRequest, int64, error) {
	var total int64
	if err := r.filtered(ctx, opts).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.AccessRequest
	err := r.filtered(ctx, opts).
		Order(opts.ordering.clause()).
		Order("id " + opts.ordering.direction()).
		Limit(opts.limit).
		Offset(opts.offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *Repository) filtered(ctx context.Context, opts listQuery) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.AccessRequest{})
	if opts.status != "" {
		query = query.Where("status = ?", opts.status)
	}
	if term := strings.TrimSpace(opts.search); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`, like, like)
	}
	return query
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

// Backlog summarises requests still awaiting a decision.
type Backlog struct {
	Pending  int64
	OldestAt *time.Time
}

// PendingBacklog counts pending requests and finds the oldest one.
func (r *Repository) PendingBacklog(ctx context.Context) (Backlog, error) {
	var backlog Backlog
	pending := r.db.WithContext(ctx).Model(&models.AccessRequest{}).
		Where("status = ?", enums.AccessRequestStatusPending)
	if err := pending.Count(&backlog.Pending).Error; err != nil {
		return Backlog{}, err
	}
	if backlog.Pending == 0 {
		return backlog, nil
	}

	var oldest models.AccessRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.AccessRequestStatusPending).
		Order("created_at ASC").
		Limit(1).
		Take(&oldest).Error
	if err != nil {
		return Backlog{}, err
	}
	backlog.OldestAt = &oldest.CreatedAt
	return backlog, nil
}
