package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/internal/accessrequests"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
)

type testAccessRequestService struct {
	submitFn func(ctx context.Context, input accessrequests.SubmitInput) (*models.AccessRequest, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error)
	listFn   func(ctx context.Context, params accessrequests.ListParams) (*accessrequests.ListResult, error)
	updateFn func(ctx context.Context, id uuid.UUID, input accessrequests.UpdateStatusInput) (*models.AccessRequest, error)
	bulkFn   func(ctx context.Context, input accessrequests.BulkDecideInput) (*accessrequests.BulkResult, error)
}

func (s *testAccessRequestService) Submit(ctx context.Context, input accessrequests.SubmitInput) (*models.AccessRequest, error) {
	return s.submitFn(ctx, input)
}

func (s *testAccessRequestService) Get(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error) {
	return s.getFn(ctx, id)
}

func (s *testAccessRequestService) List(ctx context.Context, params accessrequests.ListParams) (*accessrequests.ListResult, error) {
	return s.listFn(ctx, params)
}

func (s *testAccessRequestService) UpdateStatus(ctx context.Context, id uuid.UUID, input accessrequests.UpdateStatusInput) (*models.AccessRequest, error) {
	return s.updateFn(ctx, id, input)
}

func (s *testAccessRequestService) BulkDecide(ctx context.Context, input accessrequests.BulkDecideInput) (*accessrequests.BulkResult, error) {
	return s.bulkFn(ctx, input)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withRequestID(req *http.Request, id string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(requestIDParam, id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func sampleRow() *models.AccessRequest {
	return &models.AccessRequest{
		ID:        uuid.New(),
		Name:      "A",
		Email:     "a@x.com",
		Reason:    "r",
		Status:    enums.AccessRequestStatusPending,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSubmitAccessRequestCreated(t *testing.T) {
	row := sampleRow()
	svc := &testAccessRequestService{
		submitFn: func(ctx context.Context, input accessrequests.SubmitInput) (*models.AccessRequest, error) {
			if input.Email != "a@x.com" || input.Name != "A" || input.Reason != "r" {
				t.Fatalf("unexpected input %+v", input)
			}
			return row, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/access-requests", strings.NewReader(`{"name":"A","email":"a@x.com","reason":"r"}`))
	resp := httptest.NewRecorder()
	SubmitAccessRequest(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data accessrequests.Item `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.ID != row.ID || envelope.Data.Status != enums.AccessRequestStatusPending {
		t.Fatalf("unexpected body %+v", envelope.Data)
	}
	if envelope.Data.Display.Color != "orange" {
		t.Fatalf("unexpected display %+v", envelope.Data.Display)
	}
}

func TestSubmitAccessRequestRejectsServerAssignedFields(t *testing.T) {
	svc := &testAccessRequestService{
		submitFn: func(ctx context.Context, input accessrequests.SubmitInput) (*models.AccessRequest, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	for _, body := range []string{
		`{"name":"A","email":"a@x.com","reason":"r","status":"approved"}`,
		`{"name":"A","email":"a@x.com","reason":"r","id":"` + uuid.NewString() + `"}`,
		`{"name":"A","email":"a@x.com","reason":"r","created_at":"2026-01-01T00:00:00Z"}`,
		`{"name":"A","email":"not-an-email","reason":"r"}`,
		`{"name":"` + strings.Repeat("n", 101) + `","email":"a@x.com","reason":"r"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/access-requests", strings.NewReader(body))
		resp := httptest.NewRecorder()
		SubmitAccessRequest(svc, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400 got %d", body, resp.Code)
		}
	}
}

func TestSubmitAccessRequestConflictMessage(t *testing.T) {
	svc := &testAccessRequestService{
		submitFn: func(ctx context.Context, input accessrequests.SubmitInput) (*models.AccessRequest, error) {
			return nil, pkgerrors.Field("email", accessrequests.MsgAlreadyRejected)
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access-requests", strings.NewReader(`{"name":"A","email":"a@x.com","reason":"r"}`))
	resp := httptest.NewRecorder()
	SubmitAccessRequest(svc, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Details["email"] != accessrequests.MsgAlreadyRejected {
		t.Fatalf("unexpected details %+v", envelope.Error)
	}
}

func TestListAccessRequestsPassesFilters(t *testing.T) {
	var got accessrequests.ListParams
	svc := &testAccessRequestService{
		listFn: func(ctx context.Context, params accessrequests.ListParams) (*accessrequests.ListResult, error) {
			got = params
			return &accessrequests.ListResult{Items: []accessrequests.Item{}}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/access-requests?status=approved&search=ada&ordering=-status&limit=10&offset=20", nil)
	resp := httptest.NewRecorder()
	ListAccessRequests(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	want := accessrequests.ListParams{Status: "approved", Search: "ada", Ordering: "-status", Limit: 10, Offset: 20}
	if got != want {
		t.Fatalf("unexpected params %+v", got)
	}
}

func TestListAccessRequestsRejectsBadLimit(t *testing.T) {
	svc := &testAccessRequestService{}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/access-requests?limit=1000", nil)
	resp := httptest.NewRecorder()
	ListAccessRequests(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetAccessRequest(t *testing.T) {
	row := sampleRow()
	svc := &testAccessRequestService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error) {
			if id != row.ID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "access request not found")
			}
			return row, nil
		},
	}

	ok := httptest.NewRecorder()
	GetAccessRequest(svc, testLogger())(ok, withRequestID(httptest.NewRequest(http.MethodGet, "/", nil), row.ID.String()))
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", ok.Code)
	}

	missing := httptest.NewRecorder()
	GetAccessRequest(svc, testLogger())(missing, withRequestID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", missing.Code)
	}

	bad := httptest.NewRecorder()
	GetAccessRequest(svc, testLogger())(bad, withRequestID(httptest.NewRequest(http.MethodGet, "/", nil), "nope"))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", bad.Code)
	}
}

func TestUpdateAccessRequestStatus(t *testing.T) {
	row := sampleRow()
	svc := &testAccessRequestService{
		updateFn: func(ctx context.Context, id uuid.UUID, input accessrequests.UpdateStatusInput) (*models.AccessRequest, error) {
			if input.Status != enums.AccessRequestStatusRejected || input.Reason != "full" {
				t.Fatalf("unexpected input %+v", input)
			}
			updated := *row
			updated.Status = input.Status
			return &updated, nil
		},
	}
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"rejected","reason":"full"}`))
	resp := httptest.NewRecorder()
	UpdateAccessRequestStatus(svc, testLogger())(resp, withRequestID(req, row.ID.String()))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}

	invalid := httptest.NewRecorder()
	badReq := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"archived"}`))
	UpdateAccessRequestStatus(svc, testLogger())(invalid, withRequestID(badReq, row.ID.String()))
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", invalid.Code)
	}
}

func TestBulkDecideAccessRequests(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	svc := &testAccessRequestService{
		bulkFn: func(ctx context.Context, input accessrequests.BulkDecideInput) (*accessrequests.BulkResult, error) {
			if input.Decision != enums.AccessRequestStatusApproved || len(input.IDs) != 2 {
				t.Fatalf("unexpected input %+v", input)
			}
			return &accessrequests.BulkResult{
				Decision: input.Decision,
				Updated:  input.IDs,
				Failed:   []accessrequests.BulkFailure{},
				Message:  "2 requests approved",
			}, nil
		},
	}
	body := `{"ids":["` + ids[0].String() + `","` + ids[1].String() + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	resp := httptest.NewRecorder()
	BulkDecideAccessRequests(svc, enums.AccessRequestStatusApproved, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data bulkDecisionResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Updated != 2 || envelope.Data.Failed != 0 || envelope.Data.Message != "2 requests approved" {
		t.Fatalf("unexpected response %+v", envelope.Data)
	}

	empty := httptest.NewRecorder()
	BulkDecideAccessRequests(svc, enums.AccessRequestStatusApproved, testLogger())(empty, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids":["nope"]}`)))
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", empty.Code)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := testHealthConfig()

	ok := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), stubPinger{}, stubPinger{})(ok, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", ok.Code)
	}

	down := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), stubPinger{}, stubPinger{err: context.DeadlineExceeded})(down, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if down.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", down.Code)
	}
}

func testHealthConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}
