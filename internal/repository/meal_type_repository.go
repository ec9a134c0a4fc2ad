package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/meal-voucher-api/internal/models"
)

const mealTypeColumns = `id, name, start_time, end_time, price, special, active, created_at, updated_at`

// MealTypeRepository persists meal types.
type MealTypeRepository struct {
	db *sqlx.DB
}

// NewMealTypeRepository constructs the repository.
func NewMealTypeRepository(db *sqlx.DB) *MealTypeRepository {
	return &MealTypeRepository{db: db}
}

// ListActive returns every active meal type, regular and special.
func (r *MealTypeRepository) ListActive(ctx context.Context) ([]models.MealType, error) {
	active := true
	return r.List(ctx, models.MealTypeFilter{Active: &active})
}

// List returns meal types ordered by window start.
func (r *MealTypeRepository) List(ctx context.Context, filter models.MealTypeFilter) ([]models.MealType, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.Special != nil {
		args = append(args, *filter.Special)
		conditions = append(conditions, fmt.Sprintf("special = $%d", len(args)))
	}
	query := `SELECT ` + mealTypeColumns + ` FROM meal_types`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time, name"

	types := make([]models.MealType, 0)
	if err := r.db.SelectContext(ctx, &types, query, args...); err != nil {
		return nil, fmt.Errorf("list meal types: %w", err)
	}
	return types, nil
}

// GetByID fetches a meal type by identifier.
func (r *MealTypeRepository) GetByID(ctx context.Context, id string) (*models.MealType, error) {
	query := `SELECT ` + mealTypeColumns + ` FROM meal_types WHERE id = $1`
	var mealType models.MealType
	if err := r.db.GetContext(ctx, &mealType, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get meal type: %w", err)
	}
	return &mealType, nil
}

// Create inserts a meal type.
func (r *MealTypeRepository) Create(ctx context.Context, mealType *models.MealType) error {
	if mealType.ID == "" {
		mealType.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	mealType.CreatedAt, mealType.UpdatedAt = now, now
	const query = `INSERT INTO meal_types (id, name, start_time, end_time, price, special, active, created_at, updated_at)
	VALUES (:id, :name, :start_time, :end_time, :price, :special, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mealType); err != nil {
		return fmt.Errorf("create meal type: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of a meal type.
func (r *MealTypeRepository) Update(ctx context.Context, mealType *models.MealType) error {
	mealType.UpdatedAt = time.Now().UTC()
	const query = `UPDATE meal_types SET name = :name, start_time = :start_time, end_time = :end_time, price = :price,
	special = :special, active = :active, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, mealType)
	if err != nil {
		return fmt.Errorf("update meal type: %w", err)
	}
	return expectAffected(result, "update meal type")
}
