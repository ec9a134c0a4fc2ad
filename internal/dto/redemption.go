package dto

// ValidateVoucherRequest asks whether a code may redeem a meal now.
type ValidateVoucherRequest struct {
	Code string `json:"code" validate:"required,voucher_code"`
}

// RedeemRequest redeems a code in one call. MealTypeID may be omitted when exactly one
// meal is being served.
type RedeemRequest struct {
	Code           string `json:"code" validate:"required,voucher_code"`
	MealTypeID     string `json:"meal_type_id"`
	TerminalID     string `json:"terminal_id" validate:"omitempty,max=64"`
	IdempotencyKey string `json:"-"`
}

// KeyPressRequest is a single kiosk keypad input: a digit, "clear" or "backspace".
type KeyPressRequest struct {
	Key string `json:"key" validate:"required,terminal_key"`
}

// SelectMealTypeRequest picks one of the offered meal types.
type SelectMealTypeRequest struct {
	MealTypeID string `json:"meal_type_id" validate:"required"`
}
