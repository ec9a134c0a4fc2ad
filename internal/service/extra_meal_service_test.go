package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/repository"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

const extraHolderID = "6f1c2a9e-4d1b-4c7a-9e57-0b7f3c2d1a10"

type extraMealRepoStub struct {
	requests  map[string]*models.ExtraMealRequest
	filter    models.ExtraMealFilter
	reviewErr error
	reads     int
	seq       int
}

func newExtraMealRepoStub() *extraMealRepoStub {
	return &extraMealRepoStub{requests: make(map[string]*models.ExtraMealRequest)}
}

func (r *extraMealRepoStub) Create(ctx context.Context, req *models.ExtraMealRequest) (*models.ExtraMealRequest, bool, error) {
	if req.IdempotencyKey != nil {
		for _, existing := range r.requests {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *req.IdempotencyKey {
				copy := *existing
				return &copy, true, nil
			}
		}
	}
	r.seq++
	stored := *req
	stored.ID = fmt.Sprintf("extra-%d", r.seq)
	r.requests[stored.ID] = &stored
	copy := stored
	return &copy, false, nil
}

func (r *extraMealRepoStub) GetByID(ctx context.Context, id string) (*models.ExtraMealRequest, error) {
	r.reads++
	req, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *req
	return &copy, nil
}

func (r *extraMealRepoStub) List(ctx context.Context, filter models.ExtraMealFilter) ([]models.ExtraMealRequest, int, error) {
	r.filter = filter
	items := make([]models.ExtraMealRequest, 0, len(r.requests))
	for _, req := range r.requests {
		items = append(items, *req)
	}
	return items, len(items), nil
}

func (r *extraMealRepoStub) Review(ctx context.Context, params repository.ReviewParams) error {
	if r.reviewErr != nil {
		return r.reviewErr
	}
	req, ok := r.requests[params.ID]
	if !ok || req.Status != models.ExtraMealStatusPending {
		return sql.ErrNoRows
	}
	req.Status = params.Status
	req.ApprovedBy = &params.ReviewedBy
	req.ApprovedAt = &params.ReviewedAt
	req.ApprovalNotes = params.Note
	return nil
}

func (r *extraMealRepoStub) Update(ctx context.Context, req *models.ExtraMealRequest, expected models.ExtraMealStatus) error {
	current, ok := r.requests[req.ID]
	if !ok || current.Status != expected {
		return sql.ErrNoRows
	}
	copy := *req
	r.requests[req.ID] = &copy
	return nil
}

func (r *extraMealRepoStub) Delete(ctx context.Context, id string) error {
	req, ok := r.requests[id]
	if !ok || req.Status == models.ExtraMealStatusApproved {
		return sql.ErrNoRows
	}
	delete(r.requests, id)
	return nil
}

type userStoreStub struct {
	users map[string]*models.User
	calls int
}

func (u *userStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	u.calls++
	user, ok := u.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

type extraMealFixture struct {
	svc   *ExtraMealService
	repo  *extraMealRepoStub
	users *userStoreStub
	audit *auditSink
	guard *SessionGuard
}

func newExtraMealFixture(t *testing.T) *extraMealFixture {
	t.Helper()
	c := newCanteen(t)
	holders := &holderStub{byCode: map[string]*models.VoucherHolder{
		"4321": {ID: extraHolderID, Code: "4321", FullName: "Carla Dias", Active: true},
	}}
	users := &userStoreStub{users: map[string]*models.User{
		"approver": {ID: "approver", Role: models.RoleManager, Active: true, Permissions: []string{models.PermissionExtraMeals}},
		"operator": {ID: "operator", Role: models.RoleOperator, Active: true},
		"admin":    {ID: "admin", Role: models.RoleAdmin, Active: true},
		"gone":     {ID: "gone", Role: models.RoleAdmin, Active: false},
	}}
	repo := newExtraMealRepoStub()
	audit := &auditSink{}
	guard := NewSessionGuard(users, zap.NewNop())
	guard.now = func() time.Time { return time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC) }
	svc := NewExtraMealService(repo, holders, c.mealTypes, guard, testExecutor(c.metrics), audit, fixedClock(12, 0), nil, zap.NewNop())
	return &extraMealFixture{svc: svc, repo: repo, users: users, audit: audit, guard: guard}
}

func session(userID string) *models.ActorSession {
	return &models.ActorSession{UserID: userID, ExpiresAt: time.Date(2024, 3, 11, 13, 0, 0, 0, time.UTC)}
}

func internalRequest() dto.CreateExtraMealRequest {
	return dto.CreateExtraMealRequest{
		HolderID:      strPtr(extraHolderID),
		MealTypeID:    "extra",
		RequestedDate: "2024-03-11",
		RequestedTime: "20:30",
		Reason:        "overtime",
		RequesterName: "Supervisor",
	}
}

func (f *extraMealFixture) pending(t *testing.T) *models.ExtraMealRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), internalRequest(), session("operator"))
	require.NoError(t, err)
	return req
}

func TestExtraMealServiceCreateInternal(t *testing.T) {
	f := newExtraMealFixture(t)

	req, err := f.svc.Create(context.Background(), internalRequest(), session("operator"))
	require.NoError(t, err)
	assert.Equal(t, models.ExtraMealStatusPending, req.Status)
	assert.Equal(t, models.InternalHolder{HolderID: extraHolderID}, req.Beneficiary())
	assert.Equal(t, 25.0, req.Price)
	assert.Equal(t, timewindow.Clock(20, 30), req.RequestedTime)
	assert.Equal(t, "operator", req.CreatedBy)
	assert.Equal(t, []string{models.AuditActionExtraMealCreate}, f.audit.actions())
}

func TestExtraMealServiceCreateVisitor(t *testing.T) {
	f := newExtraMealFixture(t)
	payload := internalRequest()
	payload.HolderID = nil
	payload.VisitorName = strPtr("Diego Ramos")
	payload.VisitorCompany = strPtr("Acme")
	payload.VisitorDocument = strPtr("123.456.789-00")

	req, err := f.svc.Create(context.Background(), payload, session("operator"))
	require.NoError(t, err)
	visitor, ok := req.Beneficiary().(models.ExternalVisitor)
	require.True(t, ok)
	assert.Equal(t, "Diego Ramos", visitor.Name)
	assert.Equal(t, "Acme", visitor.Company)
	require.NotNil(t, visitor.Document)
	assert.Nil(t, req.HolderID)
}

func TestExtraMealServiceCreateValidation(t *testing.T) {
	cases := map[string]func(*dto.CreateExtraMealRequest){
		"no beneficiary":     func(r *dto.CreateExtraMealRequest) { r.HolderID = nil },
		"both beneficiaries": func(r *dto.CreateExtraMealRequest) { r.VisitorName, r.VisitorCompany = strPtr("Ana"), strPtr("Acme") },
		"visitor no company": func(r *dto.CreateExtraMealRequest) { r.HolderID, r.VisitorName = nil, strPtr("Ana") },
		"unknown holder":     func(r *dto.CreateExtraMealRequest) { r.HolderID = strPtr("0e9c3b1a-5a3d-4f0e-8a57-6d1c2b3a4f50") },
		"past date":          func(r *dto.CreateExtraMealRequest) { r.RequestedDate = "2024-03-10" },
		"bad time":           func(r *dto.CreateExtraMealRequest) { r.RequestedTime = "25:00" },
		"regular meal type":  func(r *dto.CreateExtraMealRequest) { r.MealTypeID = "lunch" },
		"unknown meal type":  func(r *dto.CreateExtraMealRequest) { r.MealTypeID = "brunch" },
		"missing reason":     func(r *dto.CreateExtraMealRequest) { r.Reason = "" },
		"holder not a uuid":  func(r *dto.CreateExtraMealRequest) { r.HolderID = strPtr("holder-1") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newExtraMealFixture(t)
			payload := internalRequest()
			mutate(&payload)
			_, err := f.svc.Create(context.Background(), payload, session("operator"))
			require.ErrorIs(t, err, appErrors.ErrValidation)
			assert.Empty(t, f.repo.requests)
		})
	}
}

func TestExtraMealServiceCreateIsIdempotent(t *testing.T) {
	f := newExtraMealFixture(t)
	payload := internalRequest()
	payload.IdempotencyKey = "req-1"

	first, err := f.svc.Create(context.Background(), payload, session("operator"))
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), payload, session("operator"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.repo.requests, 1)
	assert.Len(t, f.audit.logs, 1)
}

func TestExtraMealServiceRejectRequiresReason(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)
	reads, userCalls := f.repo.reads, f.users.calls

	_, err := f.svc.Reject(context.Background(), req.ID, dto.ReviewExtraMealRequest{Note: "  "}, session("approver"))
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, reads, f.repo.reads)
	assert.Equal(t, userCalls, f.users.calls)
	assert.Equal(t, models.ExtraMealStatusPending, f.repo.requests[req.ID].Status)

	rejected, err := f.svc.Reject(context.Background(), req.ID, dto.ReviewExtraMealRequest{Note: "no budget"}, session("approver"))
	require.NoError(t, err)
	assert.Equal(t, models.ExtraMealStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ApprovalNotes)
	assert.Equal(t, "no budget", *rejected.ApprovalNotes)
}

func TestExtraMealServiceApprove(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)

	_, err := f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("operator"))
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	approved, err := f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("approver"))
	require.NoError(t, err)
	assert.Equal(t, models.ExtraMealStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "approver", *approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.ApprovalNotes)
	assert.Contains(t, f.audit.actions(), models.AuditActionExtraMealReview)
}

func TestExtraMealServiceTerminalStatesAreFrozen(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)
	_, err := f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("admin"))
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("admin"))
	require.ErrorIs(t, err, appErrors.ErrFinalized)
	_, err = f.svc.Reject(context.Background(), req.ID, dto.ReviewExtraMealRequest{Note: "late"}, session("admin"))
	require.ErrorIs(t, err, appErrors.ErrFinalized)
	err = f.svc.Delete(context.Background(), req.ID, session("admin"))
	require.ErrorIs(t, err, appErrors.ErrFinalized)
	assert.Equal(t, models.ExtraMealStatusApproved, f.repo.requests[req.ID].Status)
}

func TestExtraMealServiceConcurrentReviewConflicts(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)
	f.repo.reviewErr = sql.ErrNoRows

	_, err := f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("approver"))
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestExtraMealServiceSessionRevalidation(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)

	expired := session("approver")
	expired.ExpiresAt = time.Date(2024, 3, 11, 11, 0, 0, 0, time.UTC)
	_, err := f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, expired)
	require.ErrorIs(t, err, appErrors.ErrSessionExpired)

	_, err = f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("gone"))
	require.ErrorIs(t, err, appErrors.ErrInactiveAccount)

	_, err = f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, session("nobody"))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{}, nil)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Equal(t, models.ExtraMealStatusPending, f.repo.requests[req.ID].Status)
}

func TestExtraMealServiceUpdate(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)

	updated, err := f.svc.Update(context.Background(), req.ID, dto.UpdateExtraMealRequest{
		HolderID:       nil,
		VisitorName:    strPtr("Eva Prado"),
		VisitorCompany: strPtr("Contoso"),
		RequestedTime:  strPtr("21:00"),
	}, session("operator"))
	require.NoError(t, err)
	assert.Equal(t, models.BeneficiaryExternal, updated.Beneficiary().Kind())
	assert.Nil(t, updated.HolderID)
	assert.Equal(t, timewindow.Clock(21, 0), updated.RequestedTime)
	assert.Equal(t, models.ExtraMealStatusPending, updated.Status)

	_, err = f.svc.Approve(context.Background(), req.ID, dto.ReviewExtraMealRequest{Note: "ok"}, session("approver"))
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), req.ID, dto.UpdateExtraMealRequest{Reason: strPtr("edited")}, session("operator"))
	require.ErrorIs(t, err, appErrors.ErrFinalized)

	edited, err := f.svc.Update(context.Background(), req.ID, dto.UpdateExtraMealRequest{Reason: strPtr("edited")}, session("approver"))
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Reason)
	assert.Equal(t, models.ExtraMealStatusApproved, edited.Status)
}

func TestExtraMealServiceDelete(t *testing.T) {
	f := newExtraMealFixture(t)
	req := f.pending(t)

	require.NoError(t, f.svc.Delete(context.Background(), req.ID, session("operator")))
	assert.Empty(t, f.repo.requests)
	assert.Contains(t, f.audit.actions(), models.AuditActionExtraMealDelete)

	err := f.svc.Delete(context.Background(), req.ID, session("operator"))
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExtraMealServiceList(t *testing.T) {
	f := newExtraMealFixture(t)
	f.pending(t)

	items, page, err := f.svc.List(context.Background(), dto.ExtraMealQuery{
		Status:   []string{"pending,Approved"},
		DateFrom: "2024-03-01",
		DateTo:   "2024-03-31",
		Kind:     "INTERNAL",
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, []models.ExtraMealStatus{models.ExtraMealStatusPending, models.ExtraMealStatusApproved}, f.repo.filter.Status)
	assert.Equal(t, models.BeneficiaryInternal, f.repo.filter.Kind)
	require.NotNil(t, f.repo.filter.DateTo)

	_, _, err = f.svc.List(context.Background(), dto.ExtraMealQuery{Status: []string{"DONE"}})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = f.svc.List(context.Background(), dto.ExtraMealQuery{DateFrom: "2024-03-10", DateTo: "2024-03-01"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	for _, bad := range []dto.ExtraMealQuery{{DateFrom: "2024-02-30"}, {DateTo: "11/03/2024"}} {
		_, _, err = f.svc.List(context.Background(), bad)
		require.ErrorIs(t, err, appErrors.ErrValidation, "%+v", bad)
	}
}

func TestExtraMealServiceUpdateVisitorKeepsUnpatchedFields(t *testing.T) {
	f := newExtraMealFixture(t)
	payload := internalRequest()
	payload.HolderID = nil
	payload.VisitorName = strPtr("Diego Ramos")
	payload.VisitorCompany = strPtr("Acme")
	payload.VisitorDocument = strPtr("123")
	req, err := f.svc.Create(context.Background(), payload, session("operator"))
	require.NoError(t, err)

	updated, err := f.svc.Update(context.Background(), req.ID, dto.UpdateExtraMealRequest{VisitorName: strPtr("Diego R. Ramos")}, session("operator"))
	require.NoError(t, err)
	visitor, ok := updated.Beneficiary().(models.ExternalVisitor)
	require.True(t, ok)
	assert.Equal(t, "Diego R. Ramos", visitor.Name)
	assert.Equal(t, "Acme", visitor.Company)
	require.NotNil(t, visitor.Document)
	assert.Equal(t, "123", *visitor.Document)

	updated, err = f.svc.Update(context.Background(), req.ID, dto.UpdateExtraMealRequest{
		VisitorName:    strPtr("Diego Ramos"),
		VisitorCompany: strPtr("Globex"),
	}, session("operator"))
	require.NoError(t, err)
	visitor = updated.Beneficiary().(models.ExternalVisitor)
	assert.Equal(t, "Globex", visitor.Company)
	require.NotNil(t, visitor.Document)
	assert.Equal(t, "123", *visitor.Document)

	stored := f.repo.requests[req.ID]
	require.NotNil(t, stored.VisitorDocument)
	assert.Equal(t, "123", *stored.VisitorDocument)

	_, err = f.svc.Update(context.Background(), f.pending(t).ID, dto.UpdateExtraMealRequest{VisitorName: strPtr("Eva Prado")}, session("operator"))
	require.ErrorIs(t, err, appErrors.ErrValidation)
}
