package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/retry"
)

// terminalFSM lists the actions accepted in each kiosk state and where they lead.
// RESOLVE is internal: it delivers the outcome of an asynchronous validation.
type terminalFSM map[models.TerminalState]map[models.TerminalAction][]models.TerminalState

var kioskFSM = terminalFSM{
	models.TerminalStateInitial: {
		models.TerminalActionKey:    {models.TerminalStateInitial},
		models.TerminalActionSubmit: {models.TerminalStateValidating},
	},
	models.TerminalStateValidating: {
		models.TerminalActionResolve: {models.TerminalStateAwaitingConfirmation, models.TerminalStateInitial},
		models.TerminalActionCancel:  {models.TerminalStateInitial},
	},
	models.TerminalStateAwaitingConfirmation: {
		models.TerminalActionSelect:  {models.TerminalStateAwaitingConfirmation},
		models.TerminalActionConfirm: {models.TerminalStateSuccess, models.TerminalStateAwaitingConfirmation},
		models.TerminalActionCancel:  {models.TerminalStateInitial},
	},
	models.TerminalStateSuccess: {
		models.TerminalActionStartOver: {models.TerminalStateInitial},
	},
}

// CanTransition reports whether action is accepted in state from.
func (f terminalFSM) CanTransition(from models.TerminalState, action models.TerminalAction) bool {
	_, ok := f[from][action]
	return ok
}

// leadsTo reports whether action may move from into to.
func (f terminalFSM) leadsTo(from models.TerminalState, action models.TerminalAction, to models.TerminalState) bool {
	for _, target := range f[from][action] {
		if target == to {
			return true
		}
	}
	return false
}

var operatorActions = []models.TerminalAction{
	models.TerminalActionKey,
	models.TerminalActionSubmit,
	models.TerminalActionSelect,
	models.TerminalActionConfirm,
	models.TerminalActionCancel,
	models.TerminalActionStartOver,
}

type terminalRedeemer interface {
	Validate(ctx context.Context, req dto.ValidateVoucherRequest) (*EligibilityResult, error)
	Commit(ctx context.Context, req CommitRequest) (*models.MealRecord, error)
}

type availabilitySource interface {
	Snapshot() models.AvailabilitySnapshot
}

// TerminalRunner executes a background validation. Production runs it on a goroutine.
type TerminalRunner func(task func())

// TerminalOption customises the terminal service.
type TerminalOption func(*TerminalService)

// WithTerminalRunner overrides how validations are scheduled.
func WithTerminalRunner(r TerminalRunner) TerminalOption {
	return func(s *TerminalService) {
		if r != nil {
			s.run = r
		}
	}
}

// WithTerminalClock overrides the time source used for timestamps and expiry.
func WithTerminalClock(now func() time.Time) TerminalOption {
	return func(s *TerminalService) {
		if now != nil {
			s.now = now
		}
	}
}

type terminalSession struct {
	id             string
	state          models.TerminalState
	code           []byte
	holderID       string
	holder         *models.HolderSummary
	mealTypes      []models.MealType
	selected       string
	record         *models.MealRecord
	retry          *models.RetryNotice
	notification   *models.Notification
	generation     uint64
	committing     bool
	idempotencyKey string
	updatedAt      time.Time
}

func (t *terminalSession) reset() {
	t.state = models.TerminalStateInitial
	t.code = t.code[:0]
	t.holderID = ""
	t.holder = nil
	t.mealTypes = nil
	t.selected = ""
	t.record = nil
	t.retry = nil
	t.idempotencyKey = ""
	t.generation++
}

// TerminalService drives the kiosk interaction: code entry, asynchronous validation,
// meal selection and confirmation. Sessions live in memory and expire after the TTL.
type TerminalService struct {
	mu       sync.Mutex
	sessions map[string]*terminalSession

	redeemer     terminalRedeemer
	availability availabilitySource
	metrics      *MetricsService
	logger       *zap.Logger
	ttl          time.Duration
	run          TerminalRunner
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTerminalService constructs the kiosk service.
func NewTerminalService(redeemer terminalRedeemer, availability availabilitySource, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, opts ...TerminalOption) *TerminalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &TerminalService{
		sessions:     make(map[string]*terminalSession),
		redeemer:     redeemer,
		availability: availability,
		metrics:      metrics,
		logger:       logger,
		ttl:          ttl,
		run:          func(task func()) { go task() },
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close abandons in-flight validations.
func (s *TerminalService) Close() {
	s.cancel()
}

// Snapshot returns the current view of a terminal, creating an idle session on first use.
func (s *TerminalService) Snapshot(terminalID string) (*models.TerminalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.sessionLocked(terminalID)
	if err != nil {
		return nil, err
	}
	return s.snapshotLocked(sess), nil
}

// PressKey handles a digit, "clear" or "backspace". Digits beyond the code length are ignored.
func (s *TerminalService) PressKey(terminalID string, req dto.KeyPressRequest) (*models.TerminalSnapshot, error) {
	key := strings.ToLower(strings.TrimSpace(req.Key))
	if !(key == KeyClear || key == KeyBackspace || (len(key) == 1 && isDigits(key))) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "key must be a digit, clear or backspace")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.guardLocked(terminalID, models.TerminalActionKey)
	if err != nil {
		return nil, err
	}
	switch key {
	case KeyClear:
		sess.code = sess.code[:0]
	case KeyBackspace:
		if len(sess.code) > 0 {
			sess.code = sess.code[:len(sess.code)-1]
		}
	default:
		if len(sess.code) < VoucherCodeLength {
			sess.code = append(sess.code, key[0])
		}
	}
	sess.notification = nil
	sess.updatedAt = s.now()
	return s.snapshotLocked(sess), nil
}

// Submit starts validating the entered code in the background.
func (s *TerminalService) Submit(terminalID string) (*models.TerminalSnapshot, error) {
	s.mu.Lock()
	sess, err := s.guardLocked(terminalID, models.TerminalActionSubmit)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(sess.code) != VoucherCodeLength {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("enter all %d digits of the code", VoucherCodeLength))
	}
	if s.availability != nil {
		if snap := s.availability.Snapshot(); !snap.CheckedAt.IsZero() && len(snap.OpenMealTypes) == 0 {
			sess.notification = s.notice(models.NotificationError, appErrors.ErrNoMealAvailable)
			sess.updatedAt = s.now()
			defer s.mu.Unlock()
			return s.snapshotLocked(sess), nil
		}
	}

	sess.state = models.TerminalStateValidating
	sess.generation++
	sess.notification = nil
	sess.retry = nil
	sess.updatedAt = s.now()
	generation := sess.generation
	code := string(sess.code)
	snap := s.snapshotLocked(sess)
	s.mu.Unlock()

	s.run(func() { s.validate(terminalID, generation, code) })
	return snap, nil
}

func (s *TerminalService) validate(terminalID string, generation uint64, code string) {
	ctx := retry.WithProgress(s.ctx, func(p retry.Progress) {
		s.resolve(terminalID, generation, false, func(sess *terminalSession) {
			sess.retry = &models.RetryNotice{Attempt: p.Attempt, MaxAttempts: p.MaxAttempts, DelayMs: p.Delay.Milliseconds()}
			sess.notification = &models.Notification{
				Level:   models.NotificationInfo,
				Code:    appErrors.ErrConnectivity.Code,
				Kind:    string(appErrors.KindTransient),
				Message: fmt.Sprintf("connection problem, retrying (attempt %d of %d)", p.Attempt, p.MaxAttempts),
				At:      s.now(),
			}
		})
	})

	result, err := s.redeemer.Validate(ctx, dto.ValidateVoucherRequest{Code: code})
	s.resolve(terminalID, generation, true, func(sess *terminalSession) {
		sess.retry = nil
		if err != nil {
			sess.reset()
			sess.notification = s.notice(models.NotificationError, err)
			return
		}
		holder := result.Summary
		sess.state = models.TerminalStateAwaitingConfirmation
		sess.holderID = result.Holder.ID
		sess.holder = &holder
		sess.mealTypes = result.Available
		sess.idempotencyKey = uuid.NewString()
		if len(result.Available) == 1 {
			sess.selected = result.Available[0].ID
		}
		sess.notification = &models.Notification{
			Level:   models.NotificationInfo,
			Message: fmt.Sprintf("%s, confirm your meal", holder.FullName),
			At:      s.now(),
		}
	})
}

// resolve applies fn when the session is still validating under generation. Results for a
// cancelled or restarted validation are dropped.
func (s *TerminalService) resolve(terminalID string, generation uint64, final bool, fn func(*terminalSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[terminalID]
	if !ok || sess.generation != generation || sess.state != models.TerminalStateValidating {
		if final {
			s.logger.Debug("discarding stale validation result", zap.String("terminal_id", terminalID))
		}
		return
	}
	before := sess.state
	fn(sess)
	if final && !kioskFSM.leadsTo(before, models.TerminalActionResolve, sess.state) {
		s.logger.Error("validation resolved into an unexpected state", zap.String("terminal_id", terminalID), zap.String("state", string(sess.state)))
	}
	sess.updatedAt = s.now()
}

// SelectMealType picks one of the offered meal types.
func (s *TerminalService) SelectMealType(terminalID string, req dto.SelectMealTypeRequest) (*models.TerminalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.guardLocked(terminalID, models.TerminalActionSelect)
	if err != nil {
		return nil, err
	}
	for _, mt := range sess.mealTypes {
		if mt.ID == req.MealTypeID {
			sess.selected = mt.ID
			sess.notification = nil
			sess.updatedAt = s.now()
			return s.snapshotLocked(sess), nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "meal type is not offered to this holder")
}

// Confirm commits the selected meal. Business failures are reported as a notification
// and the terminal stays awaiting confirmation.
func (s *TerminalService) Confirm(ctx context.Context, terminalID string) (*models.TerminalSnapshot, error) {
	s.mu.Lock()
	sess, err := s.guardLocked(terminalID, models.TerminalActionConfirm)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if sess.selected == "" {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrValidation, "select a meal first")
	}
	sess.committing = true
	req := CommitRequest{
		HolderID:       sess.holderID,
		MealTypeID:     sess.selected,
		IdempotencyKey: sess.idempotencyKey,
		Terminal:       terminalID,
	}
	s.mu.Unlock()

	record, err := s.redeemer.Commit(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.committing = false
	sess.updatedAt = s.now()
	if err != nil {
		sess.notification = s.notice(models.NotificationError, err)
		return s.snapshotLocked(sess), nil
	}
	sess.state = models.TerminalStateSuccess
	sess.record = record
	sess.notification = &models.Notification{
		Level:   models.NotificationSuccess,
		Message: fmt.Sprintf("%s redeemed for %s", mealTypeName(sess.mealTypes, record.MealTypeID), sess.holder.FullName),
		At:      s.now(),
	}
	return s.snapshotLocked(sess), nil
}

// Cancel abandons the current code or holder and returns to code entry.
func (s *TerminalService) Cancel(terminalID string) (*models.TerminalSnapshot, error) {
	return s.restart(terminalID, models.TerminalActionCancel)
}

// StartOver clears a completed redemption.
func (s *TerminalService) StartOver(terminalID string) (*models.TerminalSnapshot, error) {
	return s.restart(terminalID, models.TerminalActionStartOver)
}

func (s *TerminalService) restart(terminalID string, action models.TerminalAction) (*models.TerminalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.guardLocked(terminalID, action)
	if err != nil {
		return nil, err
	}
	sess.reset()
	sess.notification = nil
	sess.updatedAt = s.now()
	return s.snapshotLocked(sess), nil
}

// Sessions reports how many terminals currently hold a session.
func (s *TerminalService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	return len(s.sessions)
}

func (s *TerminalService) guardLocked(terminalID string, action models.TerminalAction) (*terminalSession, error) {
	sess, err := s.sessionLocked(terminalID)
	if err != nil {
		return nil, err
	}
	if sess.committing || !kioskFSM.CanTransition(sess.state, action) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("%s is not allowed while the terminal is %s", action, sess.state))
	}
	return sess, nil
}

func (s *TerminalService) sessionLocked(terminalID string) (*terminalSession, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" || len(terminalID) > 64 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "terminal id is required and at most 64 characters")
	}
	s.evictLocked()
	sess, ok := s.sessions[terminalID]
	if !ok {
		sess = &terminalSession{
			id:        terminalID,
			state:     models.TerminalStateInitial,
			code:      make([]byte, 0, VoucherCodeLength),
			updatedAt: s.now(),
		}
		s.sessions[terminalID] = sess
		s.metrics.SetTerminalSessions(len(s.sessions))
	}
	return sess, nil
}

func (s *TerminalService) evictLocked() {
	cutoff := s.now().Add(-s.ttl)
	evicted := false
	for id, sess := range s.sessions {
		if sess.updatedAt.Before(cutoff) && !sess.committing {
			delete(s.sessions, id)
			evicted = true
		}
	}
	if evicted {
		s.metrics.SetTerminalSessions(len(s.sessions))
	}
}

func (s *TerminalService) snapshotLocked(sess *terminalSession) *models.TerminalSnapshot {
	snap := &models.TerminalSnapshot{
		TerminalID:     sess.id,
		State:          sess.state,
		MaskedCode:     strings.Repeat("*", len(sess.code)),
		CodeLength:     len(sess.code),
		SelectedMeal:   sess.selected,
		Record:         sess.record,
		AllowedActions: make([]models.TerminalAction, 0, len(operatorActions)),
		UpdatedAt:      sess.updatedAt,
	}
	if sess.holder != nil {
		holder := *sess.holder
		snap.Holder = &holder
	}
	if len(sess.mealTypes) > 0 {
		snap.MealTypes = append([]models.MealType(nil), sess.mealTypes...)
	}
	if sess.retry != nil {
		r := *sess.retry
		snap.Retry = &r
	}
	if sess.notification != nil {
		n := *sess.notification
		snap.Notification = &n
	}
	if sess.committing {
		return snap
	}
	for _, action := range operatorActions {
		if !kioskFSM.CanTransition(sess.state, action) {
			continue
		}
		if action == models.TerminalActionSubmit && len(sess.code) != VoucherCodeLength {
			continue
		}
		if action == models.TerminalActionConfirm && sess.selected == "" {
			continue
		}
		snap.AllowedActions = append(snap.AllowedActions, action)
	}
	return snap
}

func (s *TerminalService) notice(level models.NotificationLevel, err error) *models.Notification {
	appErr := appErrors.FromError(err)
	message := appErr.Message
	if appErrors.KindOf(err) == appErrors.KindInternal {
		message = appErrors.ErrInternal.Message
	}
	return &models.Notification{
		Level:   level,
		Code:    appErr.Code,
		Kind:    string(appErrors.KindOf(err)),
		Message: message,
		Hint:    appErr.Hint,
		At:      s.now(),
	}
}
