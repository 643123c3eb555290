package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(`
CREATE TABLE outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
)`).Error)
	require.NoError(t, conn.Exec(`
CREATE TABLE outbox_dlq (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	error_reason TEXT NOT NULL,
	error_message TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	failed_at DATETIME,
	created_at DATETIME
)`).Error)
	return conn
}

type samplePayload struct {
	Subject string `json:"subject"`
}

func TestServiceEmitWritesEnvelope(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	aggregateID := uuid.New()

	var eventID uuid.UUID
	err := conn.Transaction(func(tx *gorm.DB) error {
		var emitErr error
		eventID, emitErr = svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventMailRequested,
			AggregateType: enums.AggregateAccessRequest,
			AggregateID:   aggregateID,
			Actor:         &ActorRef{ActorID: "admin-1", Role: "admin"},
			Data:          samplePayload{Subject: "hello"},
		})
		return emitErr
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, eventID)

	rows, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, eventID, rows[0].ID)
	assert.Equal(t, aggregateID, rows[0].AggregateID)
	assert.Equal(t, enums.EventMailRequested, rows[0].EventType)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, eventID.String(), envelope.EventID)
	assert.Equal(t, 1, envelope.Version)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "admin-1", envelope.Actor.ActorID)

	var data samplePayload
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "hello", data.Subject)
}

func TestServiceEmitRolledBackWithTransaction(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventMailRequested,
			AggregateType: enums.AggregateAccessRequest,
			AggregateID:   uuid.New(),
			Data:          samplePayload{Subject: "lost"},
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	rows, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestServiceEmitRejectsInvalidInput(t *testing.T) {
	conn := openOutboxDB(t)
	svc := NewService(NewRepository(conn), nil)

	_, err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)

	_, err = svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("unknown"),
		AggregateType: enums.AggregateAccessRequest,
	})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)

	first := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	second := first
	second.ID = uuid.New()
	require.NoError(t, repo.Insert(conn, first))
	require.NoError(t, repo.Insert(conn, second))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New("publish timeout")))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "publish timeout", *rows[0].LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("gave up"), 3))
	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func deadLetter(eventID, aggregateID uuid.UUID, reason enums.OutboxDLQErrorReason, failedAt time.Time) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   aggregateID,
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   reason,
		FailedAt:      failedAt,
	}
}

func TestDLQRepositoryRecordTruncatesAndSkipsDuplicates(t *testing.T) {
	conn := openOutboxDB(t)
	dlq := NewDLQRepository(conn)

	msg := strings.Repeat("x", maxDLQErrorLen+50)
	entry := deadLetter(uuid.New(), uuid.New(), enums.OutboxDLQReasonNonRetryable, time.Now().UTC())
	entry.ErrorMessage = &msg

	recorded, err := dlq.RecordTx(conn, entry)
	require.NoError(t, err)
	assert.True(t, recorded)

	again, err := dlq.RecordTx(conn, entry)
	require.NoError(t, err)
	assert.False(t, again)

	stored, err := dlq.Get(context.Background(), entry.EventID)
	require.NoError(t, err)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxDLQErrorLen)

	_, err = dlq.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = dlq.RecordTx(nil, entry)
	assert.ErrorIs(t, err, errTxRequired)
}

func TestDLQRepositoryListFilters(t *testing.T) {
	conn := openOutboxDB(t)
	dlq := NewDLQRepository(conn)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	request := uuid.New()

	rows := []models.OutboxDLQ{
		deadLetter(uuid.New(), request, enums.OutboxDLQReasonMaxAttempts, now.Add(-3*time.Hour)),
		deadLetter(uuid.New(), request, enums.OutboxDLQReasonNonRetryable, now.Add(-2*time.Hour)),
		deadLetter(uuid.New(), uuid.New(), enums.OutboxDLQReasonMaxAttempts, now.Add(-time.Hour)),
	}
	for _, row := range rows {
		_, err := dlq.RecordTx(conn, row)
		require.NoError(t, err)
	}

	all, total, err := dlq.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, rows[2].EventID, all[0].EventID)

	byRequest, total, err := dlq.List(context.Background(), DeadLetterFilter{AggregateID: request})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, byRequest, 2)

	byReason, total, err := dlq.List(context.Background(), DeadLetterFilter{
		Reason: enums.OutboxDLQReasonMaxAttempts,
		Params: pagination.Params{Limit: 1},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, byReason, 1)
	assert.Equal(t, rows[2].EventID, byReason[0].EventID)
}

type connTx struct{ conn *gorm.DB }

func (c connTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}

func TestDeadLettersReplayRequeuesEvent(t *testing.T) {
	conn := openOutboxDB(t)
	events := NewRepository(conn)
	dlq := NewDLQRepository(conn)
	letters := NewDeadLetters(connTx{conn}, dlq, events, nil)

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, events.Insert(conn, event))
	require.NoError(t, events.MarkTerminalTx(conn, event.ID, errors.New("bad payload"), 10))
	_, err := dlq.RecordTx(conn, deadLetter(event.ID, event.AggregateID, enums.OutboxDLQReasonNonRetryable, time.Now().UTC()))
	require.NoError(t, err)

	item, err := letters.Get(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.AggregateID, item.AccessRequestID)
	assert.JSONEq(t, `{"version":1}`, string(item.Payload))

	require.NoError(t, letters.Replay(context.Background(), event.ID))

	pending, err := events.FetchUnpublishedForPublish(conn, 10, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].AttemptCount)
	assert.Nil(t, pending[0].LastError)

	err = letters.Replay(context.Background(), event.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeadLettersReplayConflictsWhenEventGone(t *testing.T) {
	conn := openOutboxDB(t)
	dlq := NewDLQRepository(conn)
	letters := NewDeadLetters(connTx{conn}, dlq, NewRepository(conn), nil)

	eventID := uuid.New()
	_, err := dlq.RecordTx(conn, deadLetter(eventID, uuid.New(), enums.OutboxDLQReasonMaxAttempts, time.Now().UTC()))
	require.NoError(t, err)

	err = letters.Replay(context.Background(), eventID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = dlq.Get(context.Background(), eventID)
	require.NoError(t, err, "failed replay must keep the dead letter")
}

func TestDeadLettersListRejectsUnknownReason(t *testing.T) {
	conn := openOutboxDB(t)
	letters := NewDeadLetters(connTx{conn}, NewDLQRepository(conn), NewRepository(conn), nil)

	_, err := letters.List(context.Background(), DeadLetterFilter{Reason: "lost"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	page, err := letters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, pagination.DefaultLimit, page.Page.Limit)
}

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	base := models.OutboxEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	oldPublished, recentPublished, unpublished := base, base, base
	oldPublished.ID, oldPublished.PublishedAt = uuid.New(), &old
	recentPublished.ID, recentPublished.PublishedAt = uuid.New(), &recent
	unpublished.ID = uuid.New()
	for _, row := range []models.OutboxEvent{oldPublished, recentPublished, unpublished} {
		require.NoError(t, repo.Insert(conn, row))
	}

	deleted, err := repo.DeletePublishedBefore(conn, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.EqualValues(t, 2, remaining)
}

func TestDLQRepositoryDeleteFailedBefore(t *testing.T) {
	conn := openOutboxDB(t)
	dlq := NewDLQRepository(conn)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, failedAt := range []time.Time{now.Add(-100 * 24 * time.Hour), now.Add(-time.Hour)} {
		_, err := dlq.RecordTx(conn, deadLetter(uuid.New(), uuid.New(), enums.OutboxDLQReasonMaxAttempts, failedAt))
		require.NoError(t, err)
	}

	deleted, err := dlq.DeleteFailedBefore(conn, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
