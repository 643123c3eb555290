package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

const maxDLQErrorLen = 1024

var errTxRequired = errors.New("transaction required")

// DeadLetterFilter narrows a dead-letter listing. Zero values match all rows.
type DeadLetterFilter struct {
	AggregateID uuid.UUID
	Reason      enums.OutboxDLQErrorReason
	Params      pagination.Params
}

// DLQRepository stores outbox events the relay gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// RecordTx stores entry unless its event already has a dead letter. It
// reports whether a row was written.
func (r *DLQRepository) RecordTx(tx *gorm.DB, entry models.OutboxDLQ) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		clipped := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &clipped
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&entry)
	return res.RowsAffected == 1, res.Error
}

// Get returns the dead letter for an outbox event.
func (r *DLQRepository) Get(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.NotFound("dead letter")
	}
	if err != nil {
		return nil, pkgerrors.Dependency(err, "load dead letter")
	}
	return &row, nil
}

// List returns the newest dead letters matching filter and the total match count.
func (r *DLQRepository) List(ctx context.Context, filter DeadLetterFilter) ([]models.OutboxDLQ, int64, error) {
	page := filter.Params.Normalize()
	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.AggregateID != uuid.Nil {
		query = query.Where("aggregate_id = ?", filter.AggregateID)
	}
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, pkgerrors.Dependency(err, "count dead letters")
	}
	rows := make([]models.OutboxDLQ, 0, page.Limit)
	err := query.Order("failed_at DESC").Order("id DESC").
		Limit(page.Limit).Offset(page.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, pkgerrors.Dependency(err, "list dead letters")
	}
	return rows, total, nil
}

// DeleteTx removes the dead letter for eventID.
func (r *DLQRepository) DeleteTx(tx *gorm.DB, eventID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	res := tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

// DeleteFailedBefore purges dead letters recorded before cutoff.
func (r *DLQRepository) DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	res := tx.Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
