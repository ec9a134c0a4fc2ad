package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

// VoucherCodeLength is the fixed number of digits in a voucher code.
const VoucherCodeLength = 4

// Keypad inputs other than digits.
const (
	KeyClear     = "clear"
	KeyBackspace = "backspace"
)

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// newValidator returns validate (or a fresh validator) with the domain tags registered.
func newValidator(validate *validator.Validate) *validator.Validate {
	if validate == nil {
		validate = validator.New()
	}
	_ = validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := timewindow.Parse(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("voucher_code", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		return len(code) == VoucherCodeLength && isDigits(code)
	})
	_ = validate.RegisterValidation("terminal_key", func(fl validator.FieldLevel) bool {
		key := strings.ToLower(fl.Field().String())
		return key == KeyClear || key == KeyBackspace || (len(key) == 1 && isDigits(key))
	})
	return validate
}

// validationError converts validator output into a VALIDATION_ERROR naming the first bad field.
func validationError(err error, message string) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		message = fmt.Sprintf("%s: %s failed %s", message, strings.ToLower(fe.Field()), fe.Tag())
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
