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
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
)

const extraMealColumns = `id, holder_id, visitor_name, visitor_company, visitor_document, meal_type_id, requested_date, requested_time,
       reason, requester_name, status, approved_by, approved_at, approval_notes, price, idempotency_key, created_by, created_at, updated_at`

// ExtraMealRepository persists extra-meal workflow data.
type ExtraMealRepository struct {
	db *sqlx.DB
}

// NewExtraMealRepository constructs the repository.
func NewExtraMealRepository(db *sqlx.DB) *ExtraMealRepository {
	return &ExtraMealRepository{db: db}
}

// Create inserts a pending request. A repeated idempotency key returns the stored row
// with replayed set to true.
func (r *ExtraMealRepository) Create(ctx context.Context, req *models.ExtraMealRequest) (stored *models.ExtraMealRequest, replayed bool, err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ExtraMealStatusPending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	const query = `INSERT INTO extra_meal_requests
	(id, holder_id, visitor_name, visitor_company, visitor_document, meal_type_id, requested_date, requested_time,
	 reason, requester_name, status, approved_by, approved_at, approval_notes, price, idempotency_key, created_by, created_at, updated_at)
	VALUES (:id, :holder_id, :visitor_name, :visitor_company, :visitor_document, :meal_type_id, :requested_date, :requested_time,
	 :reason, :requester_name, :status, :approved_by, :approved_at, :approval_notes, :price, :idempotency_key, :created_by, :created_at, :updated_at)
	ON CONFLICT (idempotency_key) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, req)
	if err != nil {
		return nil, false, fmt.Errorf("create extra meal request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create extra meal request rows affected: %w", err)
	}
	if rows > 0 || req.IdempotencyKey == nil {
		return req, false, nil
	}

	existing, err := r.findOne(ctx, "idempotency_key = $1", *req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// GetByID fetches a request by identifier.
func (r *ExtraMealRepository) GetByID(ctx context.Context, id string) (*models.ExtraMealRequest, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *ExtraMealRepository) findOne(ctx context.Context, condition string, arg interface{}) (*models.ExtraMealRequest, error) {
	query := `SELECT ` + extraMealColumns + ` FROM extra_meal_requests WHERE ` + condition
	var req models.ExtraMealRequest
	if err := r.db.GetContext(ctx, &req, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get extra meal request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter (latest requested date first) and the total count.
func (r *ExtraMealRepository) List(ctx context.Context, filter models.ExtraMealFilter) ([]models.ExtraMealRequest, int, error) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 4)

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.DateFrom != nil {
		args = append(args, timewindow.DateString(*filter.DateFrom))
		conditions = append(conditions, fmt.Sprintf("requested_date >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, timewindow.DateString(*filter.DateTo))
		conditions = append(conditions, fmt.Sprintf("requested_date <= $%d", len(args)))
	}
	switch filter.Kind {
	case models.BeneficiaryInternal:
		conditions = append(conditions, "holder_id IS NOT NULL")
	case models.BeneficiaryExternal:
		conditions = append(conditions, "holder_id IS NULL")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	listQuery := fmt.Sprintf("SELECT %s FROM extra_meal_requests%s ORDER BY requested_date DESC, created_at DESC LIMIT %d OFFSET %d",
		extraMealColumns, where, pageSize, (page-1)*pageSize)
	requests := make([]models.ExtraMealRequest, 0)
	if err := r.db.SelectContext(ctx, &requests, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list extra meal requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM extra_meal_requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count extra meal requests: %w", err)
	}
	return requests, total, nil
}

// ReviewParams groups the columns written by approve and reject.
type ReviewParams struct {
	ID         string
	Status     models.ExtraMealStatus
	ReviewedBy string
	ReviewedAt time.Time
	Note       *string
}

// Review moves a pending request to a terminal status. A request that is no longer
// pending yields sql.ErrNoRows.
func (r *ExtraMealRepository) Review(ctx context.Context, params ReviewParams) error {
	query := fmt.Sprintf(`UPDATE extra_meal_requests SET status = :status, approved_by = :approved_by, approved_at = :approved_at,
	approval_notes = :approval_notes, updated_at = :approved_at WHERE id = :id AND status = '%s'`, models.ExtraMealStatusPending)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":             params.ID,
		"status":         params.Status,
		"approved_by":    params.ReviewedBy,
		"approved_at":    params.ReviewedAt,
		"approval_notes": params.Note,
	})
	if err != nil {
		return fmt.Errorf("review extra meal request: %w", err)
	}
	return expectAffected(result, "review extra meal request")
}

// Update writes the editable columns provided the status is still expectedStatus.
func (r *ExtraMealRepository) Update(ctx context.Context, req *models.ExtraMealRequest, expectedStatus models.ExtraMealStatus) error {
	req.UpdatedAt = time.Now().UTC()
	const query = `UPDATE extra_meal_requests SET holder_id = :holder_id, visitor_name = :visitor_name, visitor_company = :visitor_company,
	visitor_document = :visitor_document, meal_type_id = :meal_type_id, requested_date = :requested_date, requested_time = :requested_time,
	reason = :reason, requester_name = :requester_name, price = :price, updated_at = :updated_at
	WHERE id = :id AND status = :expected_status`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               req.ID,
		"holder_id":        req.HolderID,
		"visitor_name":     req.VisitorName,
		"visitor_company":  req.VisitorCompany,
		"visitor_document": req.VisitorDocument,
		"meal_type_id":     req.MealTypeID,
		"requested_date":   timewindow.DateString(req.RequestedDate),
		"requested_time":   req.RequestedTime,
		"reason":           req.Reason,
		"requester_name":   req.RequesterName,
		"price":            req.Price,
		"updated_at":       req.UpdatedAt,
		"expected_status":  expectedStatus,
	})
	if err != nil {
		return fmt.Errorf("update extra meal request: %w", err)
	}
	return expectAffected(result, "update extra meal request")
}

// Delete removes a request that has not been approved. Approved or missing rows yield
// sql.ErrNoRows.
func (r *ExtraMealRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM extra_meal_requests WHERE id = $1 AND status <> '%s'`, models.ExtraMealStatusApproved)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete extra meal request: %w", err)
	}
	return expectAffected(result, "delete extra meal request")
}
