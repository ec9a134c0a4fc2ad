package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	"github.com/noah-isme/meal-voucher-api/pkg/database"
)

var mealRecordRowColumns = []string{"id", "holder_id", "meal_type_id", "meal_date", "meal_time", "price", "validation_method", "status", "idempotency_key", "terminal_id", "created_at"}

func TestMealRecordRepositoryCountUsedOnDate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMealRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM meal_records WHERE holder_id = $1 AND meal_date = $2 AND status = 'used'")).
		WithArgs("holder-1", "2024-03-09").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountUsedOnDate(context.Background(), "holder-1", "2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMealRecordRepositoryExistsUsed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMealRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("holder-1", "2024-03-09", "lunch").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsUsed(context.Background(), "holder-1", "2024-03-09", "lunch")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMealRecordRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMealRecordRepository(db)

	key := "key-1"
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	record := &models.MealRecord{
		HolderID:         "holder-1",
		MealTypeID:       "lunch",
		MealDate:         date,
		MealTime:         timewindow.Clock(12, 5),
		Price:            18.5,
		ValidationMethod: models.ValidationMethodVoucher,
		Status:           models.MealRecordStatusUsed,
		IdempotencyKey:   &key,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO meal_records")).
		WillReturnRows(sqlmock.NewRows(mealRecordRowColumns).
			AddRow("rec-1", "holder-1", "lunch", date, "12:05:00", 18.5, "voucher", "used", key, nil, time.Now()))

	stored, replayed, err := repo.Insert(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "rec-1", stored.ID)
	assert.Equal(t, timewindow.Clock(12, 5), stored.MealTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMealRecordRepositoryInsertReplay(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMealRecordRepository(db)

	key := "key-1"
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (idempotency_key) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(mealRecordRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM meal_records WHERE idempotency_key = $1")).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(mealRecordRowColumns).
			AddRow("rec-original", "holder-1", "lunch", date, "12:00:00", 18.5, "voucher", "used", key, nil, time.Now()))

	stored, replayed, err := repo.Insert(context.Background(), &models.MealRecord{
		HolderID: "holder-1", MealTypeID: "lunch", MealDate: date, IdempotencyKey: &key,
		Status: models.MealRecordStatusUsed, ValidationMethod: models.ValidationMethodVoucher,
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "rec-original", stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMealRecordRepositoryInsertDuplicateSurfacesConstraint(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMealRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO meal_records")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: OncePerDayConstraint})

	_, _, err := repo.Insert(context.Background(), &models.MealRecord{HolderID: "holder-1", MealTypeID: "lunch"})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err, OncePerDayConstraint))
	assert.False(t, database.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMealRecordRepositoryFindByKeyNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMealRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM meal_records WHERE idempotency_key = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByIdempotencyKey(context.Background(), "nope")
	require.ErrorIs(t, err, sql.ErrNoRows)
}
