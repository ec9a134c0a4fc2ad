package repository

import (
	"database/sql"
	"fmt"
)

// expectAffected turns a zero-row write into sql.ErrNoRows so services can map it.
func expectAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
