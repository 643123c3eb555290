package accessrequests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/pkg/db"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
)

func openRequestsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(`
CREATE TABLE access_requests (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	reason TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME,
	updated_at DATETIME
)`).Error)
	require.NoError(t, conn.Exec(`
CREATE UNIQUE INDEX ux_access_requests_pending_email
	ON access_requests (email) WHERE status = 'pending'`).Error)
	return conn
}

type notification struct {
	kind     string
	request  uuid.UUID
	decision enums.AccessRequestStatus
	reason   string
}

type fakeNotifier struct {
	mu        sync.Mutex
	calls     []notification
	failFor   map[uuid.UUID]bool
	submitErr error
}

func (f *fakeNotifier) NotifySubmitted(ctx context.Context, tx *gorm.DB, req models.AccessRequest) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// admin notice plus applicant confirmation
	f.calls = append(f.calls,
		notification{kind: "admin_notice", request: req.ID},
		notification{kind: "applicant_confirmation", request: req.ID},
	)
	return nil
}

func (f *fakeNotifier) NotifyDecision(ctx context.Context, tx *gorm.DB, req models.AccessRequest, decision enums.AccessRequestStatus, reason string) error {
	if f.failFor[req.ID] {
		return errors.New("queue unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{kind: "decision", request: req.ID, decision: decision, reason: reason})
	return nil
}

func (f *fakeNotifier) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if kind == "" || call.kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	conn     *gorm.DB
	repo     *Repository
	notifier *fakeNotifier
	svc      Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := openRequestsDB(t)
	repo := NewRepository(conn)
	notifier := &fakeNotifier{failFor: map[uuid.UUID]bool{}}
	svc, err := NewService(db.NewFromConn(conn), repo, notifier, nil)
	require.NoError(t, err)
	return &harness{conn: conn, repo: repo, notifier: notifier, svc: svc}
}

// seed inserts a record directly, bypassing notifications.
func (h *harness) seed(t *testing.T, name, email string, status enums.AccessRequestStatus, createdAt time.Time) models.AccessRequest {
	t.Helper()
	row := models.AccessRequest{
		Name:      name,
		Email:     email,
		Reason:    "seeded",
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, h.repo.CreateTx(h.conn, &row))
	return row
}

func (h *harness) total(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.AccessRequest{}).Count(&n).Error)
	return n
}
