package models

import "time"

// TerminalState enumerates the kiosk interaction states.
type TerminalState string

const (
	TerminalStateInitial              TerminalState = "INITIAL"
	TerminalStateValidating           TerminalState = "VALIDATING"
	TerminalStateAwaitingConfirmation TerminalState = "AWAITING_CONFIRMATION"
	TerminalStateSuccess              TerminalState = "SUCCESS"
)

// TerminalAction names an operator input.
type TerminalAction string

const (
	TerminalActionKey       TerminalAction = "KEY"
	TerminalActionSubmit    TerminalAction = "SUBMIT"
	TerminalActionResolve   TerminalAction = "RESOLVE"
	TerminalActionSelect    TerminalAction = "SELECT"
	TerminalActionConfirm   TerminalAction = "CONFIRM"
	TerminalActionCancel    TerminalAction = "CANCEL"
	TerminalActionStartOver TerminalAction = "START_OVER"
)

// NotificationLevel classifies kiosk messages.
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification is a single message surfaced to the operator.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Code    string            `json:"code,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Message string            `json:"message"`
	Hint    string            `json:"hint,omitempty"`
	At      time.Time         `json:"at"`
}

// RetryNotice reports an in-flight retry while a code is validated.
type RetryNotice struct {
	Attempt     int   `json:"attempt"`
	MaxAttempts int   `json:"max_attempts"`
	DelayMs     int64 `json:"delay_ms"`
}

// TerminalSnapshot is the read model of a kiosk session.
type TerminalSnapshot struct {
	TerminalID     string           `json:"terminal_id"`
	State          TerminalState    `json:"state"`
	MaskedCode     string           `json:"masked_code"`
	CodeLength     int              `json:"code_length"`
	Holder         *HolderSummary   `json:"holder,omitempty"`
	MealTypes      []MealType       `json:"meal_types,omitempty"`
	SelectedMeal   string           `json:"selected_meal_type_id,omitempty"`
	Record         *MealRecord      `json:"record,omitempty"`
	Retry          *RetryNotice     `json:"retry,omitempty"`
	Notification   *Notification    `json:"notification,omitempty"`
	AllowedActions []TerminalAction `json:"allowed_actions"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AvailabilitySnapshot is the latest result of the background availability probe.
type AvailabilitySnapshot struct {
	OpenMealTypes []MealType `json:"open_meal_types"`
	Online        bool       `json:"online"`
	DatabaseOK    bool       `json:"database_ok"`
	CacheOK       bool       `json:"cache_ok"`
	CheckedAt     time.Time  `json:"checked_at"`
}
