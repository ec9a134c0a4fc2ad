package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	"github.com/noah-isme/meal-voucher-api/pkg/database"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/retry"
)

type mealTypeStore interface {
	ListActive(ctx context.Context) ([]models.MealType, error)
	List(ctx context.Context, filter models.MealTypeFilter) ([]models.MealType, error)
	GetByID(ctx context.Context, id string) (*models.MealType, error)
	Create(ctx context.Context, mealType *models.MealType) error
	Update(ctx context.Context, mealType *models.MealType) error
}

// MealTypeService owns meal type windows and serves the active list from cache.
type MealTypeService struct {
	repo      mealTypeStore
	cache     *CacheService
	exec      *retry.Executor
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMealTypeService constructs the service.
func NewMealTypeService(repo mealTypeStore, cache *CacheService, exec *retry.Executor, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *MealTypeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = retry.NewExecutor(retry.Policy{})
	}
	return &MealTypeService{repo: repo, cache: cache, exec: exec, audit: audit, validator: newValidator(validate), logger: logger}
}

// ListActive returns every active meal type. Results are cached until a write.
func (s *MealTypeService) ListActive(ctx context.Context) ([]models.MealType, error) {
	types, _, err := s.ListActiveCached(ctx)
	return types, err
}

// ListActiveCached is ListActive reporting whether the cache served the result.
func (s *MealTypeService) ListActiveCached(ctx context.Context) ([]models.MealType, bool, error) {
	var cached []models.MealType
	if hit, _ := s.cache.Get(ctx, mealTypesActiveKey, &cached); hit {
		return cached, true, nil
	}
	types, err := retry.Value(ctx, s.exec, "list_active_meal_types", s.repo.ListActive)
	if err != nil {
		return nil, false, storeError(err, "failed to load meal types")
	}
	_ = s.cache.Set(ctx, mealTypesActiveKey, types, 0)
	return types, false, nil
}

// List returns meal types matching filter.
func (s *MealTypeService) List(ctx context.Context, filter models.MealTypeFilter) ([]models.MealType, error) {
	types, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "failed to list meal types")
	}
	return types, nil
}

// Get returns a single meal type.
func (s *MealTypeService) Get(ctx context.Context, id string) (*models.MealType, error) {
	mealType, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.Clone(appErrors.ErrNotFound, "meal type not found"), "failed to load meal type")
	}
	return mealType, nil
}

// Create registers a meal type.
func (s *MealTypeService) Create(ctx context.Context, req dto.MealTypeRequest, actorID string) (*models.MealType, error) {
	mealType := &models.MealType{Active: true}
	if err := s.apply(mealType, req); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, mealType); err != nil {
		return nil, windowStoreError(err, "failed to create meal type")
	}
	s.written(ctx, mealType, nil, actorID)
	return mealType, nil
}

// Update replaces a meal type definition.
func (s *MealTypeService) Update(ctx context.Context, id string, req dto.MealTypeRequest, actorID string) (*models.MealType, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *existing
	if err := s.apply(existing, req); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, notFoundOr(err, appErrors.Clone(appErrors.ErrNotFound, "meal type not found"), "failed to update meal type")
	}
	s.written(ctx, existing, &before, actorID)
	return existing, nil
}

func (s *MealTypeService) apply(mealType *models.MealType, req dto.MealTypeRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid meal type payload")
	}
	start, end, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		return err
	}
	mealType.Name = req.Name
	mealType.StartTime = start
	mealType.EndTime = end
	mealType.Price = req.Price
	mealType.Special = req.Special
	if req.Active != nil {
		mealType.Active = *req.Active
	}
	return nil
}

func (s *MealTypeService) written(ctx context.Context, mealType *models.MealType, before *models.MealType, actorID string) {
	if err := s.cache.Invalidate(ctx, mealTypesPattern); err != nil {
		s.logger.Warn("meal type cache not invalidated", zap.Error(err))
	}
	id := mealType.ID
	log := &models.AuditLog{
		Action:     models.AuditActionMealTypeWrite,
		Resource:   "meal_type",
		ResourceID: &id,
		NewValues:  auditPayload(mealType),
	}
	if before != nil {
		log.OldValues = auditPayload(before)
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	emitAudit(ctx, s.audit, s.logger, "meal-type-service", log)
}

// parseWindow parses and checks a start/end pair. Equal bounds are rejected because
// they would describe an empty window.
func parseWindow(rawStart, rawEnd string) (timewindow.TimeOfDay, timewindow.TimeOfDay, error) {
	start, err := timewindow.Parse(rawStart)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "start_time must be HH:MM")
	}
	end, err := timewindow.Parse(rawEnd)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "end_time must be HH:MM")
	}
	if err := timewindow.ValidateWindow(start, end); err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "start_time and end_time must differ")
	}
	return start, end, nil
}

func windowStoreError(err error, message string) error {
	if database.IsCheckViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "start_time and end_time must differ")
	}
	if database.IsUniqueViolation(err, "") {
		return appErrors.Clone(appErrors.ErrConflict, "name already in use")
	}
	return storeError(err, message)
}
