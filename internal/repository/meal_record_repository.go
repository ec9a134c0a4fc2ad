package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/meal-voucher-api/internal/models"
)

// OncePerDayConstraint is the partial unique index guarding one used record per
// holder, date and meal type.
const OncePerDayConstraint = "meal_records_once_per_day"

const mealRecordColumns = `id, holder_id, meal_type_id, meal_date, meal_time, price, validation_method, status, idempotency_key, terminal_id, created_at`

// MealRecordRepository persists redemptions.
type MealRecordRepository struct {
	db *sqlx.DB
}

// NewMealRecordRepository constructs the repository.
func NewMealRecordRepository(db *sqlx.DB) *MealRecordRepository {
	return &MealRecordRepository{db: db}
}

// CountUsedOnDate counts the holder's used records on a local date (YYYY-MM-DD).
func (r *MealRecordRepository) CountUsedOnDate(ctx context.Context, holderID, date string) (int, error) {
	const query = `SELECT COUNT(*) FROM meal_records WHERE holder_id = $1 AND meal_date = $2 AND status = 'used'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, holderID, date); err != nil {
		return 0, fmt.Errorf("count meal records: %w", err)
	}
	return count, nil
}

// ExistsUsed reports whether the holder already redeemed the meal type on date.
func (r *MealRecordRepository) ExistsUsed(ctx context.Context, holderID, date, mealTypeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM meal_records WHERE holder_id = $1 AND meal_date = $2 AND meal_type_id = $3 AND status = 'used')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, holderID, date, mealTypeID); err != nil {
		return false, fmt.Errorf("check meal record: %w", err)
	}
	return exists, nil
}

// UsedMealTypesOnDate lists the meal types the holder already redeemed on date.
func (r *MealRecordRepository) UsedMealTypesOnDate(ctx context.Context, holderID, date string) ([]string, error) {
	const query = `SELECT meal_type_id FROM meal_records WHERE holder_id = $1 AND meal_date = $2 AND status = 'used'`
	ids := make([]string, 0)
	if err := r.db.SelectContext(ctx, &ids, query, holderID, date); err != nil {
		return nil, fmt.Errorf("list used meal types: %w", err)
	}
	return ids, nil
}

// Insert stores a record. When the idempotency key was already used the stored
// record is returned with replayed set to true.
func (r *MealRecordRepository) Insert(ctx context.Context, record *models.MealRecord) (stored *models.MealRecord, replayed bool, err error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO meal_records (` + mealRecordColumns + `)
	VALUES (:id, :holder_id, :meal_type_id, :meal_date, :meal_time, :price, :validation_method, :status, :idempotency_key, :terminal_id, :created_at)
	ON CONFLICT (idempotency_key) DO NOTHING
	RETURNING ` + mealRecordColumns

	rows, err := r.db.NamedQueryContext(ctx, query, record)
	if err != nil {
		return nil, false, fmt.Errorf("insert meal record: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var inserted models.MealRecord
		if err := rows.StructScan(&inserted); err != nil {
			return nil, false, fmt.Errorf("scan meal record: %w", err)
		}
		return &inserted, false, nil
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("insert meal record: %w", err)
	}
	if record.IdempotencyKey == nil {
		return nil, false, fmt.Errorf("insert meal record: no row returned")
	}

	existing, err := r.FindByIdempotencyKey(ctx, *record.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// FindByIdempotencyKey returns the record created under key.
func (r *MealRecordRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.MealRecord, error) {
	query := `SELECT ` + mealRecordColumns + ` FROM meal_records WHERE idempotency_key = $1`
	var record models.MealRecord
	if err := r.db.GetContext(ctx, &record, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find meal record by key: %w", err)
	}
	return &record, nil
}
