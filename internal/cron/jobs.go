package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/internal/accessrequests"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type purgeFunc func(tx *gorm.DB, cutoff time.Time) (int64, error)

// retentionJob deletes rows older than a fixed window in one transaction.
type retentionJob struct {
	name   string
	logg   *logger.Logger
	db     txRunner
	window time.Duration
	purge  purgeFunc
	now    func() time.Time
}

func newRetentionJob(name string, logg *logger.Logger, db txRunner, window time.Duration, purge purgeFunc) (*retentionJob, error) {
	switch {
	case logg == nil:
		return nil, errors.New("logger required")
	case db == nil:
		return nil, errors.New("db runner required")
	case purge == nil:
		return nil, errors.New("purge function required")
	case window <= 0:
		return nil, fmt.Errorf("%s: retention window must be positive", name)
	}
	return &retentionJob{name: name, logg: logg, db: db, window: window, purge: purge, now: time.Now}, nil
}

type outboxPurger interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type dlqPurger interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewOutboxRetentionJob drops published mail events older than window.
func NewOutboxRetentionJob(logg *logger.Logger, db txRunner, repo outboxPurger, window time.Duration) (Job, error) {
	if repo == nil {
		return nil, errors.New("outbox repository required")
	}
	return newRetentionJob("outbox-retention", logg, db, window, repo.DeletePublishedBefore)
}

// NewDLQRetentionJob drops dead-lettered mail events older than window.
func NewDLQRetentionJob(logg *logger.Logger, db txRunner, repo dlqPurger, window time.Duration) (Job, error) {
	if repo == nil {
		return nil, errors.New("dlq repository required")
	}
	return newRetentionJob("outbox-dlq-retention", logg, db, window, repo.DeleteFailedBefore)
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.purge(tx, cutoff)
		deleted = rows
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.window.String(),
		"rows_deleted": deleted,
	}), "retention cleanup complete")
	return nil
}

type backlogReader interface {
	PendingBacklog(ctx context.Context) (accessrequests.Backlog, error)
}

// backlogJob exports how many requests are waiting on an administrator and
// for how long, and warns once the oldest exceeds staleAfter.
type backlogJob struct {
	logg       *logger.Logger
	repo       backlogReader
	metrics    *metrics.JobMetrics
	staleAfter time.Duration
	now        func() time.Time
}

const defaultStaleAfter = 72 * time.Hour

func NewPendingBacklogJob(logg *logger.Logger, repo backlogReader, m *metrics.JobMetrics) (Job, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if repo == nil {
		return nil, errors.New("access request repository required")
	}
	return &backlogJob{logg: logg, repo: repo, metrics: m, staleAfter: defaultStaleAfter, now: time.Now}, nil
}

func (j *backlogJob) Name() string { return "pending-backlog" }

func (j *backlogJob) Run(ctx context.Context) error {
	backlog, err := j.repo.PendingBacklog(ctx)
	if err != nil {
		return fmt.Errorf("pending backlog: %w", err)
	}
	var age time.Duration
	if backlog.OldestAt != nil {
		age = j.now().Sub(*backlog.OldestAt)
		if age < 0 {
			age = 0
		}
	}
	j.metrics.SetPendingBacklog(backlog.Pending, age)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":         backlog.Pending,
		"oldest_age_secs": int64(age.Seconds()),
	})
	if age > j.staleAfter {
		j.logg.Warn(logCtx, "access requests waiting on a decision")
		return nil
	}
	j.logg.Info(logCtx, "pending backlog measured")
	return nil
}
