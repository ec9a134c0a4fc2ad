package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	"github.com/noah-isme/meal-voucher-api/pkg/retry"
)

func strPtr(s string) *string { return &s }

func fixedClock(hour, minute int) timewindow.WallClock {
	at := time.Date(2024, 3, 11, hour, minute, 0, 0, time.UTC)
	return timewindow.WallClock{Now: func() time.Time { return at }, Location: time.UTC}
}

func testExecutor(metrics *MetricsService) *retry.Executor {
	return retry.NewExecutor(retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		retry.WithObserver(metrics), retry.WithLogger(zap.NewNop()))
}

type holderStub struct {
	mu       sync.Mutex
	byCode   map[string]*models.VoucherHolder
	failures []error
	calls    int
	onCall   func(n int)
}

func (h *holderStub) FindActiveByCode(ctx context.Context, code string) (*models.VoucherHolder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.onCall != nil {
		h.onCall(h.calls)
	}
	if len(h.failures) > 0 {
		err := h.failures[0]
		h.failures = h.failures[1:]
		return nil, err
	}
	holder, ok := h.byCode[code]
	if !ok || !holder.Active {
		return nil, sql.ErrNoRows
	}
	copy := *holder
	return &copy, nil
}

func (h *holderStub) FindByID(ctx context.Context, id string) (*models.VoucherHolder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, holder := range h.byCode {
		if holder.ID == id {
			copy := *holder
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

type shiftStub struct {
	shifts map[string]*models.Shift
}

func (s *shiftStub) GetByID(ctx context.Context, id string) (*models.Shift, error) {
	shift, ok := s.shifts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *shift
	return &copy, nil
}

type mealTypeListStub struct {
	types []models.MealType
	err   error
	calls int
}

func (m *mealTypeListStub) ListActive(ctx context.Context) ([]models.MealType, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	active := make([]models.MealType, 0, len(m.types))
	for _, mt := range m.types {
		if mt.Active {
			active = append(active, mt)
		}
	}
	return active, nil
}

func (m *mealTypeListStub) GetByID(ctx context.Context, id string) (*models.MealType, error) {
	for _, mt := range m.types {
		if mt.ID == id {
			copy := mt
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

// mealRecordStub keeps used records in memory and enforces the once-per-day rule
// the way the partial unique index does.
type mealRecordStub struct {
	mu         sync.Mutex
	records    []models.MealRecord
	countErrs  []error
	insertErr  error
	insertHook func()
	inserts    int
	replays    int
}

func (m *mealRecordStub) CountUsedOnDate(ctx context.Context, holderID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.countErrs) > 0 {
		err := m.countErrs[0]
		m.countErrs = m.countErrs[1:]
		return 0, err
	}
	count := 0
	for _, r := range m.records {
		if r.HolderID == holderID && timewindow.DateString(r.MealDate) == date && r.Status == models.MealRecordStatusUsed {
			count++
		}
	}
	return count, nil
}

func (m *mealRecordStub) ExistsUsed(ctx context.Context, holderID, date, mealTypeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked(holderID, date, mealTypeID), nil
}

func (m *mealRecordStub) existsLocked(holderID, date, mealTypeID string) bool {
	for _, r := range m.records {
		if r.HolderID == holderID && timewindow.DateString(r.MealDate) == date && r.MealTypeID == mealTypeID && r.Status == models.MealRecordStatusUsed {
			return true
		}
	}
	return false
}

func (m *mealRecordStub) Insert(ctx context.Context, record *models.MealRecord) (*models.MealRecord, bool, error) {
	if m.insertHook != nil {
		m.insertHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, false, m.insertErr
	}
	if record.IdempotencyKey != nil {
		for _, r := range m.records {
			if r.IdempotencyKey != nil && *r.IdempotencyKey == *record.IdempotencyKey {
				m.replays++
				copy := r
				return &copy, true, nil
			}
		}
	}
	if m.existsLocked(record.HolderID, timewindow.DateString(record.MealDate), record.MealTypeID) {
		return nil, false, uniqueViolation("meal_records_once_per_day")
	}
	m.inserts++
	stored := *record
	if stored.ID == "" {
		stored.ID = "rec-" + record.HolderID + "-" + record.MealTypeID
	}
	m.records = append(m.records, stored)
	return &stored, false, nil
}

func (m *mealRecordStub) FindByIdempotencyKey(ctx context.Context, key string) (*models.MealRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.IdempotencyKey != nil && *r.IdempotencyKey == key {
			copy := r
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mealRecordStub) used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mealRecordStub) seed(holderID, mealTypeID string, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, models.MealRecord{
		ID:         "seed-" + mealTypeID,
		HolderID:   holderID,
		MealTypeID: mealTypeID,
		MealDate:   date,
		Status:     models.MealRecordStatusUsed,
	})
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint, Message: "duplicate key value violates unique constraint"}
}

type auditSink struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditSink) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

// canteen is the shared redemption fixture: one holder on a 06:00-17:00 shift and
// lunch, dinner and a special type.
type canteen struct {
	holders   *holderStub
	shifts    *shiftStub
	records   *mealRecordStub
	mealTypes *mealTypeListStub
	metrics   *MetricsService
	audit     *auditSink
}

func newCanteen(t *testing.T) *canteen {
	t.Helper()
	shiftID := "shift-morning"
	return &canteen{
		holders: &holderStub{byCode: map[string]*models.VoucherHolder{
			"1234": {ID: "holder-1", Code: "1234", FullName: "Ana Souza", Active: true, ShiftID: &shiftID},
			"5678": {ID: "holder-2", Code: "5678", FullName: "Bruno Lima", Active: true},
			"9999": {ID: "holder-3", Code: "9999", FullName: "Inactive", Active: false},
		}},
		shifts: &shiftStub{shifts: map[string]*models.Shift{
			shiftID: {ID: shiftID, Name: "Morning", StartTime: timewindow.Clock(6, 0), EndTime: timewindow.Clock(17, 0), Active: true},
		}},
		records: &mealRecordStub{},
		mealTypes: &mealTypeListStub{types: []models.MealType{
			{ID: "lunch", Name: "Lunch", StartTime: timewindow.Clock(11, 0), EndTime: timewindow.Clock(14, 0), Price: 18.5, Active: true},
			{ID: "snack", Name: "Snack", StartTime: timewindow.Clock(16, 30), EndTime: timewindow.Clock(18, 0), Price: 6, Active: true},
			{ID: "supper", Name: "Supper", StartTime: timewindow.Clock(22, 0), EndTime: timewindow.Clock(2, 0), Price: 15, Active: true},
			{ID: "extra", Name: "Extra", StartTime: timewindow.Clock(0, 0), EndTime: timewindow.Clock(23, 59), Price: 25, Special: true, Active: true},
		}},
		metrics: NewMetricsService(),
		audit:   &auditSink{},
	}
}

func (c *canteen) checker(clock timewindow.WallClock) *EligibilityChecker {
	return NewEligibilityChecker(c.holders, c.shifts, c.records, c.mealTypes, testExecutor(c.metrics), clock, DefaultShiftGrace, zap.NewNop())
}

func (c *canteen) redemption(clock timewindow.WallClock) *RedemptionService {
	return NewRedemptionService(c.checker(clock), c.records, c.mealTypes, testExecutor(c.metrics), c.audit, c.metrics, clock, nil, zap.NewNop())
}
