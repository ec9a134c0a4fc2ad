package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", sql.ErrNoRows, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "db"}, true},
		{"pq connection failure", &pq.Error{Code: "08006"}, true},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq unique", &pq.Error{Code: "23505"}, false},
		{"pq undefined table", &pq.Error{Code: "42P01"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestConstraintHelpers(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "meal_records_once_per_day"})
	assert.True(t, IsUniqueViolation(unique, ""))
	assert.True(t, IsUniqueViolation(unique, "meal_records_once_per_day"))
	assert.False(t, IsUniqueViolation(unique, "other"))
	assert.True(t, IsSchemaError(&pq.Error{Code: "42703"}))
	assert.False(t, IsSchemaError(errors.New("x")))
	assert.True(t, IsCheckViolation(&pq.Error{Code: "23514"}))
}
