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

const shiftColumns = `id, name, start_time, end_time, active, created_at, updated_at`

// ShiftRepository persists shifts.
type ShiftRepository struct {
	db *sqlx.DB
}

// NewShiftRepository constructs the repository.
func NewShiftRepository(db *sqlx.DB) *ShiftRepository {
	return &ShiftRepository{db: db}
}

// GetByID fetches a shift by identifier.
func (r *ShiftRepository) GetByID(ctx context.Context, id string) (*models.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE id = $1`
	var shift models.Shift
	if err := r.db.GetContext(ctx, &shift, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return &shift, nil
}

// List returns shifts ordered by start time.
func (r *ShiftRepository) List(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)))
	}
	query := `SELECT ` + shiftColumns + ` FROM shifts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time, name"

	var shifts []models.Shift
	if err := r.db.SelectContext(ctx, &shifts, query, args...); err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	return shifts, nil
}

// Create inserts a shift.
func (r *ShiftRepository) Create(ctx context.Context, shift *models.Shift) error {
	if shift.ID == "" {
		shift.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	shift.CreatedAt, shift.UpdatedAt = now, now
	const query = `INSERT INTO shifts (id, name, start_time, end_time, active, created_at, updated_at)
	VALUES (:id, :name, :start_time, :end_time, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, shift); err != nil {
		return fmt.Errorf("create shift: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of a shift.
func (r *ShiftRepository) Update(ctx context.Context, shift *models.Shift) error {
	shift.UpdatedAt = time.Now().UTC()
	const query = `UPDATE shifts SET name = :name, start_time = :start_time, end_time = :end_time, active = :active, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, shift)
	if err != nil {
		return fmt.Errorf("update shift: %w", err)
	}
	return expectAffected(result, "update shift")
}
