package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/internal/accessrequests"
	"github.com/angelmondragon/chataccess/pkg/metrics"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakePurger struct {
	cutoff time.Time
	calls  int
	err    error
}

func (f *fakePurger) DeletePublishedBefore(_ *gorm.DB, cutoff time.Time) (int64, error) {
	return f.record(cutoff)
}

func (f *fakePurger) DeleteFailedBefore(_ *gorm.DB, cutoff time.Time) (int64, error) {
	return f.record(cutoff)
}

func (f *fakePurger) record(cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 4, nil
}

func TestOutboxRetentionJobUsesWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	purger := &fakePurger{}
	job, err := NewOutboxRetentionJob(testLogger(), passthroughTx{}, purger, 30*24*time.Hour)
	require.NoError(t, err)
	job.(*retentionJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "outbox-retention", job.Name())
	assert.Equal(t, 1, purger.calls)
	assert.True(t, purger.cutoff.Equal(now.Add(-30*24*time.Hour)))
}

func TestDLQRetentionJobPropagatesError(t *testing.T) {
	purger := &fakePurger{err: errors.New("boom")}
	job, err := NewDLQRetentionJob(testLogger(), passthroughTx{}, purger, time.Hour)
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox-dlq-retention")
}

func TestRetentionJobRequiresPositiveWindow(t *testing.T) {
	_, err := NewOutboxRetentionJob(testLogger(), passthroughTx{}, &fakePurger{}, 0)
	require.Error(t, err)
}

type fakeBacklog struct {
	backlog accessrequests.Backlog
	err     error
}

func (f fakeBacklog) PendingBacklog(context.Context) (accessrequests.Backlog, error) {
	return f.backlog, f.err
}

func TestPendingBacklogJobExportsGauges(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-2 * time.Hour)
	reg := prometheus.NewRegistry()
	job, err := NewPendingBacklogJob(testLogger(), fakeBacklog{backlog: accessrequests.Backlog{Pending: 5, OldestAt: &oldest}}, metrics.NewJobMetrics(reg))
	require.NoError(t, err)
	job.(*backlogJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			if m.GetGauge() != nil {
				values[family.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.EqualValues(t, 5, values["access_requests_pending"])
	assert.EqualValues(t, 7200, values["access_requests_pending_oldest_age_seconds"])
}

func TestPendingBacklogJobPropagatesError(t *testing.T) {
	job, err := NewPendingBacklogJob(testLogger(), fakeBacklog{err: errors.New("db down")}, nil)
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}
