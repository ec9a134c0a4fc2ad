package dto

// ShiftRequest creates or replaces a shift.
type ShiftRequest struct {
	Name      string `json:"name" validate:"required,max=80"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
	Active    *bool  `json:"active"`
}

// MealTypeRequest creates or replaces a meal type.
type MealTypeRequest struct {
	Name      string  `json:"name" validate:"required,max=80"`
	StartTime string  `json:"start_time" validate:"required,hhmm"`
	EndTime   string  `json:"end_time" validate:"required,hhmm"`
	Price     float64 `json:"price" validate:"gte=0"`
	Special   bool    `json:"special"`
	Active    *bool   `json:"active"`
}
