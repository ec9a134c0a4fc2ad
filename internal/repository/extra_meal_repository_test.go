package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
)

var extraMealRowColumns = []string{"id", "holder_id", "visitor_name", "visitor_company", "visitor_document", "meal_type_id", "requested_date", "requested_time",
	"reason", "requester_name", "status", "approved_by", "approved_at", "approval_notes", "price", "idempotency_key", "created_by", "created_at", "updated_at"}

func TestExtraMealRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	req := &models.ExtraMealRequest{
		MealTypeID:    "supper",
		RequestedDate: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		RequestedTime: timewindow.Clock(22, 0),
		Reason:        "audit visit",
		RequesterName: "HR",
		Price:         25,
		CreatedBy:     "user-1",
	}
	req.SetBeneficiary(models.ExternalVisitor{Name: "Ana", Company: "Acme"})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO extra_meal_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	stored, replayed, err := repo.Create(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, models.ExtraMealStatusPending, stored.Status)
	assert.NotEmpty(t, stored.ID)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM extra_meal_requests WHERE id = $1")).
		WithArgs(stored.ID).
		WillReturnRows(sqlmock.NewRows(extraMealRowColumns).
			AddRow(stored.ID, nil, "Ana", "Acme", nil, "supper", req.RequestedDate, "22:00:00", "audit visit", "HR", "PENDING", nil, nil, nil, 25.0, nil, "user-1", now, now))

	found, err := repo.GetByID(context.Background(), stored.ID)
	require.NoError(t, err)
	visitor, ok := found.Beneficiary().(models.ExternalVisitor)
	require.True(t, ok)
	assert.Equal(t, "Acme", visitor.Company)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtraMealRepositoryCreateReplay(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	key := "idem-1"
	holder := "holder-1"
	req := &models.ExtraMealRequest{MealTypeID: "supper", IdempotencyKey: &key, HolderID: &holder}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (idempotency_key) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM extra_meal_requests WHERE idempotency_key = $1")).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(extraMealRowColumns).
			AddRow("req-original", holder, nil, nil, nil, "supper", now, "22:00:00", "late shift", "HR", "PENDING", nil, nil, nil, 25.0, key, "user-1", now, now))

	stored, replayed, err := repo.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "req-original", stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtraMealRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ($1) AND requested_date >= $2 AND holder_id IS NULL ORDER BY requested_date DESC")).
		WithArgs(models.ExtraMealStatusPending, "2024-03-01").
		WillReturnRows(sqlmock.NewRows(extraMealRowColumns).
			AddRow("req-1", nil, "Ana", "Acme", nil, "supper", now, "22:00:00", "visit", "HR", "PENDING", nil, nil, nil, 25.0, nil, "user-1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM extra_meal_requests WHERE")).
		WithArgs(models.ExtraMealStatusPending, "2024-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ExtraMealFilter{
		Status:   []models.ExtraMealStatus{models.ExtraMealStatusPending},
		DateFrom: &from,
		Kind:     models.BeneficiaryExternal,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtraMealRepositoryReviewGuardsPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	note := "ok"
	params := ReviewParams{ID: "req-1", Status: models.ExtraMealStatusApproved, ReviewedBy: "admin-1", ReviewedAt: time.Now(), Note: &note}

	mock.ExpectExec(regexp.QuoteMeta("AND status = 'PENDING'")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Review(context.Background(), params))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE extra_meal_requests SET status")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Review(context.Background(), params), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtraMealRepositoryDeleteSkipsApproved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM extra_meal_requests WHERE id = $1 AND status <> 'APPROVED'")).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.Delete(context.Background(), "req-1"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtraMealRepositoryUpdateExpectsStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	holder := "holder-1"
	req := &models.ExtraMealRequest{ID: "req-1", HolderID: &holder, MealTypeID: "supper", RequestedDate: time.Now()}
	expectGuardedUpdate(mock).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), req, models.ExtraMealStatusPending))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtraMealRepositoryUpdateStatusChanged(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewExtraMealRepository(db)

	holder := "holder-1"
	req := &models.ExtraMealRequest{ID: "req-1", HolderID: &holder, MealTypeID: "supper", RequestedDate: time.Now()}
	expectGuardedUpdate(mock).WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.Update(context.Background(), req, models.ExtraMealStatusPending), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// expectGuardedUpdate matches the named update rebound for the sqlmock driver, checking
// the trailing id and expected status arguments.
func expectGuardedUpdate(mock sqlmock.Sqlmock) *sqlmock.ExpectedExec {
	arg := sqlmock.AnyArg()
	return mock.ExpectExec(`(?s)UPDATE extra_meal_requests SET holder_id = \?.*WHERE id = \? AND status = \?`).
		WithArgs(arg, arg, arg, arg, arg, arg, arg, arg, arg, arg, arg, "req-1", string(models.ExtraMealStatusPending))
}
