package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/repository"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	"github.com/noah-isme/meal-voucher-api/pkg/database"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/retry"
)

type mealRecordStore interface {
	mealUsageReader
	Insert(ctx context.Context, record *models.MealRecord) (*models.MealRecord, bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.MealRecord, error)
}

// CommitRequest persists a redemption for an already validated holder.
type CommitRequest struct {
	HolderID       string
	MealTypeID     string
	IdempotencyKey string
	Terminal       string
}

// RedemptionReceipt is returned by the one-shot redeem call.
type RedemptionReceipt struct {
	Record   *models.MealRecord   `json:"record"`
	Holder   models.HolderSummary `json:"holder"`
	MealType models.MealType      `json:"meal_type"`
	Replayed bool                 `json:"replayed"`
}

// RedemptionService validates codes and records meals.
type RedemptionService struct {
	checker   *EligibilityChecker
	records   mealRecordStore
	mealTypes activeMealTypeLister
	exec      *retry.Executor
	audit     auditLogger
	metrics   *MetricsService
	clock     timewindow.WallClock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRedemptionService wires the redemption use cases.
func NewRedemptionService(checker *EligibilityChecker, records mealRecordStore, mealTypes activeMealTypeLister, exec *retry.Executor,
	audit auditLogger, metrics *MetricsService, clock timewindow.WallClock, validate *validator.Validate, logger *zap.Logger) *RedemptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = retry.NewExecutor(retry.Policy{})
	}
	return &RedemptionService{
		checker:   checker,
		records:   records,
		mealTypes: mealTypes,
		exec:      exec,
		audit:     audit,
		metrics:   metrics,
		clock:     clock,
		validator: newValidator(validate),
		logger:    logger,
	}
}

// Validate runs the guard chain for code without writing anything.
func (s *RedemptionService) Validate(ctx context.Context, req dto.ValidateVoucherRequest) (*EligibilityResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid voucher code")
	}
	return s.checker.Check(ctx, req.Code, "")
}

// Commit records the meal for a validated holder. The meal type must still be open
// and the daily limit must still hold; storage rejects a second record for the same
// holder, date and meal type.
func (s *RedemptionService) Commit(ctx context.Context, req CommitRequest) (*models.MealRecord, error) {
	receipt, err := s.commit(ctx, req)
	if err != nil {
		return nil, err
	}
	return receipt.Record, nil
}

// Redeem validates code and commits in one call. Without a meal type the single open
// one is used; with several open the caller must choose.
func (s *RedemptionService) Redeem(ctx context.Context, req dto.RedeemRequest) (*RedemptionReceipt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid redeem payload")
	}
	var replayHolder *models.VoucherHolder
	receipt, err := s.replay(ctx, req.IdempotencyKey, func(record *models.MealRecord) (bool, error) {
		if req.MealTypeID != "" && req.MealTypeID != record.MealTypeID {
			return false, nil
		}
		holder, err := s.checker.lookupHolder(ctx, req.Code)
		if errors.Is(err, appErrors.ErrVoucherNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		replayHolder = holder
		return holder.ID == record.HolderID, nil
	})
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		receipt.Holder = models.HolderSummary{ID: replayHolder.ID, FullName: replayHolder.FullName}
		return receipt, nil
	}

	result, err := s.checker.Check(ctx, req.Code, req.MealTypeID)
	if err != nil {
		s.observe(err)
		return nil, err
	}
	mealTypeID := req.MealTypeID
	if mealTypeID == "" {
		if len(result.Available) > 1 {
			names := make([]string, 0, len(result.Available))
			for _, mt := range result.Available {
				names = append(names, mt.Name)
			}
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("meal_type_id is required while several meals are served (%s)", strings.Join(names, ", ")))
		}
		mealTypeID = result.Available[0].ID
	}

	receipt, err = s.commit(ctx, CommitRequest{
		HolderID:       result.Holder.ID,
		MealTypeID:     mealTypeID,
		IdempotencyKey: req.IdempotencyKey,
		Terminal:       req.TerminalID,
	})
	if err != nil {
		return nil, err
	}
	receipt.Holder = result.Summary
	return receipt, nil
}

// replay returns the receipt stored under key, or nil when the key is unused. A key
// already spent on a different holder or meal type is a conflict.
func (s *RedemptionService) replay(ctx context.Context, key string, matches func(*models.MealRecord) (bool, error)) (*RedemptionReceipt, error) {
	if key == "" {
		return nil, nil
	}
	record, err := retry.Value(ctx, s.exec, "find_meal_record", func(ctx context.Context) (*models.MealRecord, error) {
		return s.records.FindByIdempotencyKey(ctx, key)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.fail(storeError(err, "failed to look up idempotency key"))
	}
	ok, err := matches(record)
	if err != nil {
		return nil, s.fail(err)
	}
	if !ok {
		return nil, s.fail(s.keyReused(key, record))
	}
	s.metrics.ObserveRedemption("replayed")
	receipt := &RedemptionReceipt{Record: record, Replayed: true, MealType: s.mealTypeOf(ctx, record.MealTypeID)}
	receipt.Holder.ID = record.HolderID
	return receipt, nil
}

func (s *RedemptionService) keyReused(key string, record *models.MealRecord) error {
	s.logger.Warn("idempotency key reused for another redemption",
		zap.String("idempotency_key", key), zap.String("record_id", record.ID))
	return appErrors.Clone(appErrors.ErrConflict, "idempotency key already used for another redemption")
}

// mealTypeOf resolves the meal type of a replayed record. Lookup failures leave the
// receipt without it.
func (s *RedemptionService) mealTypeOf(ctx context.Context, id string) models.MealType {
	types, err := retry.Value(ctx, s.exec, "list_meal_types", s.mealTypes.ListActive)
	if err != nil {
		s.logger.Warn("meal type not resolved for replayed redemption", zap.String("meal_type_id", id), zap.Error(err))
		return models.MealType{}
	}
	for _, mt := range types {
		if mt.ID == id {
			return mt
		}
	}
	return models.MealType{}
}

func (s *RedemptionService) commit(ctx context.Context, req CommitRequest) (*RedemptionReceipt, error) {
	if req.HolderID == "" || req.MealTypeID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "holder and meal type are required")
	}
	receipt, err := s.replay(ctx, req.IdempotencyKey, func(record *models.MealRecord) (bool, error) {
		return record.HolderID == req.HolderID && record.MealTypeID == req.MealTypeID, nil
	})
	if receipt != nil || err != nil {
		return receipt, err
	}

	now := s.clock.Current()
	date := timewindow.LocalDate(now, s.clock.Location)
	at := timewindow.FromTime(now)

	types, err := retry.Value(ctx, s.exec, "list_meal_types", s.mealTypes.ListActive)
	if err != nil {
		return nil, s.fail(storeError(err, "failed to load meal types"))
	}
	var mealType *models.MealType
	for i := range types {
		if types[i].ID == req.MealTypeID && types[i].OpenAt(at) {
			mealType = &types[i]
			break
		}
	}
	if mealType == nil {
		return nil, s.fail(appErrors.Clone(appErrors.ErrNoMealAvailable, "the selected meal is not being served right now"))
	}

	used, err := retry.Value(ctx, s.exec, "count_used", func(ctx context.Context) (int, error) {
		return s.records.CountUsedOnDate(ctx, req.HolderID, timewindow.DateString(date))
	})
	if err != nil {
		return nil, s.fail(storeError(err, "failed to count meals"))
	}
	if used >= DailyMealLimit {
		return nil, s.fail(appErrors.Clone(appErrors.ErrDailyQuotaExceeded,
			fmt.Sprintf("daily limit of %d meals reached", DailyMealLimit)))
	}

	record := &models.MealRecord{
		HolderID:         req.HolderID,
		MealTypeID:       mealType.ID,
		MealDate:         date,
		MealTime:         at,
		Price:            mealType.Price,
		ValidationMethod: models.ValidationMethodVoucher,
		Status:           models.MealRecordStatusUsed,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		record.IdempotencyKey = &key
	}
	if req.Terminal != "" {
		terminal := req.Terminal
		record.TerminalID = &terminal
	}

	type insertResult struct {
		record   *models.MealRecord
		replayed bool
	}
	res, err := retry.Value(ctx, s.exec, "insert_meal_record", func(ctx context.Context) (insertResult, error) {
		stored, replayed, err := s.records.Insert(ctx, record)
		return insertResult{record: stored, replayed: replayed}, err
	})
	if err != nil {
		if database.IsUniqueViolation(err, repository.OncePerDayConstraint) {
			return nil, s.fail(appErrors.Clone(appErrors.ErrMealAlreadyUsed,
				fmt.Sprintf("%s already redeemed today", mealType.Name)))
		}
		return nil, s.fail(storeError(err, "failed to record meal"))
	}

	if res.replayed && (res.record.HolderID != req.HolderID || res.record.MealTypeID != mealType.ID) {
		return nil, s.fail(s.keyReused(req.IdempotencyKey, res.record))
	}
	receipt = &RedemptionReceipt{Record: res.record, MealType: *mealType, Replayed: res.replayed}
	receipt.Holder.ID = req.HolderID
	if res.replayed {
		s.metrics.ObserveRedemption("replayed")
		return receipt, nil
	}

	s.metrics.ObserveRedemption("success")
	s.logger.Info("meal redeemed",
		zap.String("holder_id", req.HolderID),
		zap.String("meal_type_id", mealType.ID),
		zap.String("terminal_id", req.Terminal),
	)
	recordID := res.record.ID
	emitAudit(ctx, s.audit, s.logger, "redemption-service", &models.AuditLog{
		Action:     models.AuditActionRedeem,
		Resource:   "meal_record",
		ResourceID: &recordID,
		NewValues:  auditPayload(res.record),
	})
	return receipt, nil
}

func (s *RedemptionService) fail(err error) error {
	s.observe(err)
	return err
}

func (s *RedemptionService) observe(err error) {
	if err == nil {
		return
	}
	s.metrics.ObserveRedemption(appErrors.FromError(err).Code)
}
