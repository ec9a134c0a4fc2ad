package models

import (
	"time"

	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
)

// VoucherHolder is an employee entitled to redeem meals with a 4-digit code.
type VoucherHolder struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"voucher_code" json:"voucher_code"`
	FullName     string    `db:"full_name" json:"full_name"`
	Document     *string   `db:"document" json:"document,omitempty"`
	Active       bool      `db:"active" json:"active"`
	ShiftID      *string   `db:"shift_id" json:"shift_id,omitempty"`
	CompanyID    *string   `db:"company_id" json:"company_id,omitempty"`
	DepartmentID *string   `db:"department_id" json:"department_id,omitempty"`
	PositionID   *string   `db:"position_id" json:"position_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// HolderSummary is the masked projection shown on kiosks.
type HolderSummary struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	ShiftName string `json:"shift_name,omitempty"`
}

// Shift is a recurring working window assigned to holders.
type Shift struct {
	ID        string               `db:"id" json:"id"`
	Name      string               `db:"name" json:"name"`
	StartTime timewindow.TimeOfDay `db:"start_time" json:"start_time"`
	EndTime   timewindow.TimeOfDay `db:"end_time" json:"end_time"`
	Active    bool                 `db:"active" json:"active"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt time.Time            `db:"updated_at" json:"updated_at"`
}

// Contains evaluates the shift window at the given wall-clock reading.
func (s *Shift) Contains(at timewindow.TimeOfDay, grace time.Duration) bool {
	return timewindow.IsWithinWindow(at, s.StartTime, s.EndTime, grace)
}

// ShiftFilter constrains shift listings.
type ShiftFilter struct {
	Active *bool
	Search string
}
