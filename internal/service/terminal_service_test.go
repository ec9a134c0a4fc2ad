package service

import (
	"context"
	"database/sql/driver"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

const kiosk = "kiosk-1"

type availabilityStub struct {
	snap models.AvailabilitySnapshot
}

func (a availabilityStub) Snapshot() models.AvailabilitySnapshot { return a.snap }

type deferredRunner struct {
	mu    sync.Mutex
	tasks []func()
}

func (d *deferredRunner) run(task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

func (d *deferredRunner) drain() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

func syncRunner(task func()) { task() }

func newTerminal(t *testing.T, c *canteen, opts ...TerminalOption) *TerminalService {
	t.Helper()
	opts = append([]TerminalOption{WithTerminalRunner(syncRunner)}, opts...)
	svc := NewTerminalService(c.redemption(fixedClock(12, 5)), nil, c.metrics, time.Minute, zap.NewNop(), opts...)
	t.Cleanup(svc.Close)
	return svc
}

func typeCode(t *testing.T, svc *TerminalService, code string) {
	t.Helper()
	for _, r := range code {
		_, err := svc.PressKey(kiosk, dto.KeyPressRequest{Key: string(r)})
		require.NoError(t, err)
	}
}

func TestKioskFSMTransitions(t *testing.T) {
	cases := []struct {
		from   models.TerminalState
		action models.TerminalAction
		ok     bool
	}{
		{models.TerminalStateInitial, models.TerminalActionKey, true},
		{models.TerminalStateInitial, models.TerminalActionSubmit, true},
		{models.TerminalStateInitial, models.TerminalActionConfirm, false},
		{models.TerminalStateValidating, models.TerminalActionKey, false},
		{models.TerminalStateValidating, models.TerminalActionCancel, true},
		{models.TerminalStateAwaitingConfirmation, models.TerminalActionSelect, true},
		{models.TerminalStateAwaitingConfirmation, models.TerminalActionConfirm, true},
		{models.TerminalStateAwaitingConfirmation, models.TerminalActionStartOver, false},
		{models.TerminalStateSuccess, models.TerminalActionStartOver, true},
		{models.TerminalStateSuccess, models.TerminalActionCancel, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, kioskFSM.CanTransition(tc.from, tc.action), "%s %s", tc.from, tc.action)
	}
}

func TestTerminalServiceKeypad(t *testing.T) {
	svc := newTerminal(t, newCanteen(t))

	typeCode(t, svc, "12345")
	snap, err := svc.Snapshot(kiosk)
	require.NoError(t, err)
	assert.Equal(t, "****", snap.MaskedCode)
	assert.Contains(t, snap.AllowedActions, models.TerminalActionSubmit)

	snap, err = svc.PressKey(kiosk, dto.KeyPressRequest{Key: "backspace"})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.CodeLength)
	assert.NotContains(t, snap.AllowedActions, models.TerminalActionSubmit)

	_, err = svc.Submit(kiosk)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	snap, err = svc.PressKey(kiosk, dto.KeyPressRequest{Key: "CLEAR"})
	require.NoError(t, err)
	assert.Zero(t, snap.CodeLength)

	_, err = svc.PressKey(kiosk, dto.KeyPressRequest{Key: "#"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Snapshot("")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTerminalServiceFullRedemption(t *testing.T) {
	c := newCanteen(t)
	svc := newTerminal(t, c)

	typeCode(t, svc, "1234")
	snap, err := svc.Submit(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateValidating, snap.State)

	snap, err = svc.Snapshot(kiosk)
	require.NoError(t, err)
	require.Equal(t, models.TerminalStateAwaitingConfirmation, snap.State)
	require.NotNil(t, snap.Holder)
	assert.Equal(t, "Ana Souza", snap.Holder.FullName)
	require.Len(t, snap.MealTypes, 1)
	assert.Equal(t, "lunch", snap.SelectedMeal)
	assert.ElementsMatch(t, []models.TerminalAction{models.TerminalActionSelect, models.TerminalActionConfirm, models.TerminalActionCancel}, snap.AllowedActions)

	snap, err = svc.Confirm(context.Background(), kiosk)
	require.NoError(t, err)
	require.Equal(t, models.TerminalStateSuccess, snap.State)
	require.NotNil(t, snap.Record)
	assert.Equal(t, models.NotificationSuccess, snap.Notification.Level)
	assert.Equal(t, kiosk, *snap.Record.TerminalID)
	assert.NotNil(t, snap.Record.IdempotencyKey)

	_, err = svc.Cancel(kiosk)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	snap, err = svc.StartOver(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateInitial, snap.State)
	assert.Nil(t, snap.Holder)
	assert.Zero(t, snap.CodeLength)
	assert.Nil(t, snap.Record)
}

func TestTerminalServiceValidationFailureReturnsToInitial(t *testing.T) {
	svc := newTerminal(t, newCanteen(t))

	typeCode(t, svc, "0000")
	_, err := svc.Submit(kiosk)
	require.NoError(t, err)

	snap, err := svc.Snapshot(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateInitial, snap.State)
	assert.Zero(t, snap.CodeLength)
	require.NotNil(t, snap.Notification)
	assert.Equal(t, appErrors.ErrVoucherNotFound.Code, snap.Notification.Code)
	assert.Equal(t, string(appErrors.KindNotFound), snap.Notification.Kind)
}

func TestTerminalServiceRejectsActionsOutsideTheirState(t *testing.T) {
	svc := newTerminal(t, newCanteen(t))

	_, err := svc.Confirm(context.Background(), kiosk)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	_, err = svc.SelectMealType(kiosk, dto.SelectMealTypeRequest{MealTypeID: "lunch"})
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	_, err = svc.StartOver(kiosk)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	typeCode(t, svc, "1234")
	_, err = svc.Submit(kiosk)
	require.NoError(t, err)

	_, err = svc.PressKey(kiosk, dto.KeyPressRequest{Key: "1"})
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	_, err = svc.SelectMealType(kiosk, dto.SelectMealTypeRequest{MealTypeID: "snack"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTerminalServiceCancelDiscardsLateValidation(t *testing.T) {
	runner := &deferredRunner{}
	svc := newTerminal(t, newCanteen(t), WithTerminalRunner(runner.run))

	typeCode(t, svc, "1234")
	_, err := svc.Submit(kiosk)
	require.NoError(t, err)

	snap, err := svc.Cancel(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateInitial, snap.State)

	runner.drain()

	snap, err = svc.Snapshot(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateInitial, snap.State)
	assert.Nil(t, snap.Holder)
	assert.Nil(t, snap.Notification)
}

func TestTerminalServiceReportsRetryProgress(t *testing.T) {
	c := newCanteen(t)
	c.holders.failures = []error{driver.ErrBadConn}
	svc := newTerminal(t, c)

	var during *models.TerminalSnapshot
	c.holders.onCall = func(n int) {
		if n == 2 {
			during, _ = svc.Snapshot(kiosk)
		}
	}

	typeCode(t, svc, "1234")
	_, err := svc.Submit(kiosk)
	require.NoError(t, err)

	require.NotNil(t, during)
	assert.Equal(t, models.TerminalStateValidating, during.State)
	require.NotNil(t, during.Retry)
	assert.Equal(t, 2, during.Retry.Attempt)
	assert.Equal(t, 4, during.Retry.MaxAttempts)
	assert.Equal(t, appErrors.ErrConnectivity.Code, during.Notification.Code)

	snap, err := svc.Snapshot(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateAwaitingConfirmation, snap.State)
	assert.Nil(t, snap.Retry)
}

func TestTerminalServiceSubmitNeedsAnOpenMeal(t *testing.T) {
	c := newCanteen(t)
	closed := availabilityStub{snap: models.AvailabilitySnapshot{Online: true, CheckedAt: time.Now()}}
	svc := NewTerminalService(c.redemption(fixedClock(12, 5)), closed, c.metrics, time.Minute, nil, WithTerminalRunner(syncRunner))

	typeCode(t, svc, "1234")
	snap, err := svc.Submit(kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateInitial, snap.State)
	assert.Equal(t, appErrors.ErrNoMealAvailable.Code, snap.Notification.Code)
	assert.Zero(t, c.holders.calls)
}

func TestTerminalServiceConfirmFailureKeepsAwaiting(t *testing.T) {
	c := newCanteen(t)
	svc := newTerminal(t, c)

	typeCode(t, svc, "1234")
	_, err := svc.Submit(kiosk)
	require.NoError(t, err)

	c.records.seed("holder-1", "lunch", canteenDay)
	snap, err := svc.Confirm(context.Background(), kiosk)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStateAwaitingConfirmation, snap.State)
	assert.Equal(t, appErrors.ErrMealAlreadyUsed.Code, snap.Notification.Code)
	assert.Equal(t, models.NotificationError, snap.Notification.Level)
}

func TestTerminalServiceExpiresIdleSessions(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	svc := newTerminal(t, newCanteen(t), WithTerminalClock(func() time.Time { return now }))

	_, err := svc.Snapshot(kiosk)
	require.NoError(t, err)
	_, err = svc.Snapshot("kiosk-2")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Sessions())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, svc.Sessions())
}
