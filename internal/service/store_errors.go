package service

import (
	"database/sql"
	"errors"

	"github.com/noah-isme/meal-voucher-api/pkg/database"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

// storeError maps a failed store call onto the error taxonomy. Typed errors (for
// example an exhausted retry) pass through unchanged.
func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if database.IsSchemaError(err) {
		return appErrors.WithCause(appErrors.ErrMisconfigured, err)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// notFoundOr maps sql.ErrNoRows to notFound and everything else through storeError.
func notFoundOr(err error, notFound *appErrors.Error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return storeError(err, message)
}
