package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/retry"
)

// DailyMealLimit caps used records per holder per local calendar date.
const DailyMealLimit = 2

// DefaultShiftGrace is how long after a shift ends its holders may still redeem.
const DefaultShiftGrace = 15 * time.Minute

type holderReader interface {
	FindActiveByCode(ctx context.Context, code string) (*models.VoucherHolder, error)
}

type shiftReader interface {
	GetByID(ctx context.Context, id string) (*models.Shift, error)
}

type mealUsageReader interface {
	CountUsedOnDate(ctx context.Context, holderID, date string) (int, error)
	ExistsUsed(ctx context.Context, holderID, date, mealTypeID string) (bool, error)
}

type activeMealTypeLister interface {
	ListActive(ctx context.Context) ([]models.MealType, error)
}

// EligibilityResult is what a passing guard chain resolved.
type EligibilityResult struct {
	Holder    *models.VoucherHolder `json:"-"`
	Summary   models.HolderSummary  `json:"holder"`
	Shift     *models.Shift         `json:"shift,omitempty"`
	Date      time.Time             `json:"date"`
	At        timewindow.TimeOfDay  `json:"at"`
	UsedToday int                   `json:"used_today"`
	Available []models.MealType     `json:"available_meal_types"`
}

// EligibilityChecker runs the ordered, read-only redemption guards.
type EligibilityChecker struct {
	holders   holderReader
	shifts    shiftReader
	usage     mealUsageReader
	mealTypes activeMealTypeLister
	exec      *retry.Executor
	clock     timewindow.WallClock
	grace     time.Duration
	logger    *zap.Logger
}

// NewEligibilityChecker wires the guard chain.
func NewEligibilityChecker(holders holderReader, shifts shiftReader, usage mealUsageReader, mealTypes activeMealTypeLister,
	exec *retry.Executor, clock timewindow.WallClock, grace time.Duration, logger *zap.Logger) *EligibilityChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = retry.NewExecutor(retry.Policy{})
	}
	if grace <= 0 {
		grace = DefaultShiftGrace
	}
	return &EligibilityChecker{
		holders:   holders,
		shifts:    shifts,
		usage:     usage,
		mealTypes: mealTypes,
		exec:      exec,
		clock:     clock,
		grace:     grace,
		logger:    logger,
	}
}

// lookupHolder resolves the active holder of code.
func (c *EligibilityChecker) lookupHolder(ctx context.Context, code string) (*models.VoucherHolder, error) {
	holder, err := retry.Value(ctx, c.exec, "holder_lookup", func(ctx context.Context) (*models.VoucherHolder, error) {
		return c.holders.FindActiveByCode(ctx, code)
	})
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrVoucherNotFound, "failed to look up voucher")
	}
	return holder, nil
}

// Check evaluates code against every guard in order and stops at the first failure.
// When mealTypeID is set the de-duplication and availability guards consider only that
// meal type; otherwise every open regular meal type is a candidate.
func (c *EligibilityChecker) Check(ctx context.Context, code, mealTypeID string) (*EligibilityResult, error) {
	now := c.clock.Current()
	result := &EligibilityResult{
		Date: timewindow.LocalDate(now, c.clock.Location),
		At:   timewindow.FromTime(now),
	}
	date := timewindow.DateString(result.Date)

	holder, err := c.lookupHolder(ctx, code)
	if err != nil {
		return nil, err
	}
	result.Holder = holder
	result.Summary = models.HolderSummary{ID: holder.ID, FullName: holder.FullName}

	if err := c.checkShift(ctx, result); err != nil {
		return nil, c.reject(holder, err)
	}

	used, err := retry.Value(ctx, c.exec, "count_used", func(ctx context.Context) (int, error) {
		return c.usage.CountUsedOnDate(ctx, holder.ID, date)
	})
	if err != nil {
		return nil, storeError(err, "failed to count meals")
	}
	result.UsedToday = used
	if used >= DailyMealLimit {
		return nil, c.reject(holder, appErrors.Clone(appErrors.ErrDailyQuotaExceeded,
			fmt.Sprintf("daily limit of %d meals reached", DailyMealLimit)))
	}

	types, err := retry.Value(ctx, c.exec, "list_meal_types", c.mealTypes.ListActive)
	if err != nil {
		return nil, storeError(err, "failed to load meal types")
	}
	open := models.OpenMealTypes(types, result.At)

	candidates := open
	if mealTypeID != "" {
		candidates = nil
		for _, mt := range open {
			if mt.ID == mealTypeID {
				candidates = append(candidates, mt)
			}
		}
		used, err := c.usedToday(ctx, holder.ID, date, mealTypeID)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, c.reject(holder, appErrors.Clone(appErrors.ErrMealAlreadyUsed,
				fmt.Sprintf("%s already redeemed today", mealTypeName(types, mealTypeID))))
		}
	} else {
		remaining := make([]models.MealType, 0, len(candidates))
		names := make([]string, 0, len(candidates))
		for _, mt := range candidates {
			used, err := c.usedToday(ctx, holder.ID, date, mt.ID)
			if err != nil {
				return nil, err
			}
			if used {
				names = append(names, mt.Name)
				continue
			}
			remaining = append(remaining, mt)
		}
		if len(candidates) > 0 && len(remaining) == 0 {
			return nil, c.reject(holder, appErrors.Clone(appErrors.ErrMealAlreadyUsed,
				fmt.Sprintf("%s already redeemed today", strings.Join(names, ", "))))
		}
		candidates = remaining
	}

	if len(candidates) == 0 {
		return nil, c.reject(holder, appErrors.Clone(appErrors.ErrNoMealAvailable,
			fmt.Sprintf("no meal is being served at %s", result.At)))
	}
	result.Available = candidates
	return result, nil
}

func (c *EligibilityChecker) checkShift(ctx context.Context, result *EligibilityResult) error {
	holder := result.Holder
	if holder.ShiftID == nil || *holder.ShiftID == "" {
		return nil
	}
	shift, err := retry.Value(ctx, c.exec, "shift_lookup", func(ctx context.Context) (*models.Shift, error) {
		return c.shifts.GetByID(ctx, *holder.ShiftID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("holder references a missing shift", zap.String("holder_id", holder.ID), zap.String("shift_id", *holder.ShiftID))
			return nil
		}
		return storeError(err, "failed to load shift")
	}
	result.Shift = shift
	result.Summary.ShiftName = shift.Name
	if shift.Contains(result.At, c.grace) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrOutOfShift, fmt.Sprintf("shift %s runs %s-%s (+%d min grace); current time is %s",
		shift.Name, shift.StartTime, shift.EndTime, int(c.grace/time.Minute), result.At))
}

func (c *EligibilityChecker) usedToday(ctx context.Context, holderID, date, mealTypeID string) (bool, error) {
	used, err := retry.Value(ctx, c.exec, "exists_used", func(ctx context.Context) (bool, error) {
		return c.usage.ExistsUsed(ctx, holderID, date, mealTypeID)
	})
	if err != nil {
		return false, storeError(err, "failed to check meal usage")
	}
	return used, nil
}

func (c *EligibilityChecker) reject(holder *models.VoucherHolder, err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErrors.KindOf(appErr) == appErrors.KindBusiness {
		c.logger.Info("redemption rejected", zap.String("holder_id", holder.ID), zap.String("code", appErr.Code), zap.String("reason", appErr.Message))
	}
	return err
}

func mealTypeName(types []models.MealType, id string) string {
	for _, mt := range types {
		if mt.ID == id {
			return mt.Name
		}
	}
	return "meal"
}
