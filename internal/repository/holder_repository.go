package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/meal-voucher-api/internal/models"
)

const holderColumns = `id, voucher_code, full_name, document, active, shift_id, company_id, department_id, position_id, created_at, updated_at`

// HolderRepository reads voucher holders.
type HolderRepository struct {
	db *sqlx.DB
}

// NewHolderRepository constructs the repository.
func NewHolderRepository(db *sqlx.DB) *HolderRepository {
	return &HolderRepository{db: db}
}

// FindActiveByCode resolves an active holder by voucher code.
func (r *HolderRepository) FindActiveByCode(ctx context.Context, code string) (*models.VoucherHolder, error) {
	query := `SELECT ` + holderColumns + ` FROM voucher_holders WHERE voucher_code = $1 AND active = TRUE LIMIT 1`
	var holder models.VoucherHolder
	if err := r.db.GetContext(ctx, &holder, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find holder by code: %w", err)
	}
	return &holder, nil
}

// FindByID returns a holder regardless of its active flag.
func (r *HolderRepository) FindByID(ctx context.Context, id string) (*models.VoucherHolder, error) {
	query := `SELECT ` + holderColumns + ` FROM voucher_holders WHERE id = $1`
	var holder models.VoucherHolder
	if err := r.db.GetContext(ctx, &holder, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find holder by id: %w", err)
	}
	return &holder, nil
}
