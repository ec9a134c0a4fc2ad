package models

import (
	"time"

	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
)

// MealType is a priced serving window. Special types are reserved for extra-meal requests.
type MealType struct {
	ID        string               `db:"id" json:"id"`
	Name      string               `db:"name" json:"name"`
	StartTime timewindow.TimeOfDay `db:"start_time" json:"start_time"`
	EndTime   timewindow.TimeOfDay `db:"end_time" json:"end_time"`
	Price     float64              `db:"price" json:"price"`
	Special   bool                 `db:"special" json:"special"`
	Active    bool                 `db:"active" json:"active"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt time.Time            `db:"updated_at" json:"updated_at"`
}

// OpenAt reports whether the type is redeemable by voucher at the given reading.
func (m *MealType) OpenAt(at timewindow.TimeOfDay) bool {
	return m.Active && !m.Special && timewindow.IsWithinWindow(at, m.StartTime, m.EndTime, 0)
}

// OpenMealTypes keeps the regular, active types whose window contains at.
func OpenMealTypes(types []MealType, at timewindow.TimeOfDay) []MealType {
	open := make([]MealType, 0, len(types))
	for i := range types {
		if types[i].OpenAt(at) {
			open = append(open, types[i])
		}
	}
	return open
}

// MealTypeFilter constrains meal type listings.
type MealTypeFilter struct {
	Active  *bool
	Special *bool
}

// MealRecordStatus captures the outcome stored for a redemption.
type MealRecordStatus string

const (
	MealRecordStatusUsed      MealRecordStatus = "used"
	MealRecordStatusCancelled MealRecordStatus = "cancelled"
)

// ValidationMethodVoucher tags records created by code redemption.
const ValidationMethodVoucher = "voucher"

// MealRecord is the immutable fact that a holder redeemed a meal.
type MealRecord struct {
	ID               string               `db:"id" json:"id"`
	HolderID         string               `db:"holder_id" json:"holder_id"`
	MealTypeID       string               `db:"meal_type_id" json:"meal_type_id"`
	MealDate         time.Time            `db:"meal_date" json:"meal_date"`
	MealTime         timewindow.TimeOfDay `db:"meal_time" json:"meal_time"`
	Price            float64              `db:"price" json:"price"`
	ValidationMethod string               `db:"validation_method" json:"validation_method"`
	Status           MealRecordStatus     `db:"status" json:"status"`
	IdempotencyKey   *string              `db:"idempotency_key" json:"idempotency_key,omitempty"`
	TerminalID       *string              `db:"terminal_id" json:"terminal_id,omitempty"`
	CreatedAt        time.Time            `db:"created_at" json:"created_at"`
}
