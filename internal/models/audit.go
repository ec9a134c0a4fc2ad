package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin           = "LOGIN"
	AuditActionLogout          = "LOGOUT"
	AuditActionTokenRefresh    = "TOKEN_REFRESH"
	AuditActionPasswordChange  = "PASSWORD_CHANGE"
	AuditActionRedeem          = "MEAL_REDEEM"
	AuditActionExtraMealCreate = "EXTRA_MEAL_CREATE"
	AuditActionExtraMealUpdate = "EXTRA_MEAL_UPDATE"
	AuditActionExtraMealDelete = "EXTRA_MEAL_DELETE"
	AuditActionExtraMealReview = "EXTRA_MEAL_REVIEW"
	AuditActionShiftWrite      = "SHIFT_WRITE"
	AuditActionMealTypeWrite   = "MEAL_TYPE_WRITE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
