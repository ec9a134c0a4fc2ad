package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

type shiftStore interface {
	GetByID(ctx context.Context, id string) (*models.Shift, error)
	List(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error)
	Create(ctx context.Context, shift *models.Shift) error
	Update(ctx context.Context, shift *models.Shift) error
}

// ShiftService manages working shifts.
type ShiftService struct {
	repo      shiftStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewShiftService constructs the service.
func NewShiftService(repo shiftStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *ShiftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShiftService{repo: repo, audit: audit, validator: newValidator(validate), logger: logger}
}

// List returns shifts matching filter.
func (s *ShiftService) List(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error) {
	shifts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "failed to list shifts")
	}
	return shifts, nil
}

// Get returns one shift.
func (s *ShiftService) Get(ctx context.Context, id string) (*models.Shift, error) {
	shift, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.Clone(appErrors.ErrNotFound, "shift not found"), "failed to load shift")
	}
	return shift, nil
}

// Create registers a shift.
func (s *ShiftService) Create(ctx context.Context, req dto.ShiftRequest, actorID string) (*models.Shift, error) {
	shift := &models.Shift{Active: true}
	if err := s.apply(shift, req); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, shift); err != nil {
		return nil, windowStoreError(err, "failed to create shift")
	}
	s.written(ctx, shift, nil, actorID)
	return shift, nil
}

// Update replaces a shift definition.
func (s *ShiftService) Update(ctx context.Context, id string, req dto.ShiftRequest, actorID string) (*models.Shift, error) {
	shift, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *shift
	if err := s.apply(shift, req); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, shift); err != nil {
		return nil, notFoundOr(err, appErrors.Clone(appErrors.ErrNotFound, "shift not found"), "failed to update shift")
	}
	s.written(ctx, shift, &before, actorID)
	return shift, nil
}

func (s *ShiftService) apply(shift *models.Shift, req dto.ShiftRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid shift payload")
	}
	start, end, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		return err
	}
	shift.Name = req.Name
	shift.StartTime = start
	shift.EndTime = end
	if req.Active != nil {
		shift.Active = *req.Active
	}
	return nil
}

func (s *ShiftService) written(ctx context.Context, shift *models.Shift, before *models.Shift, actorID string) {
	id := shift.ID
	log := &models.AuditLog{
		Action:     models.AuditActionShiftWrite,
		Resource:   "shift",
		ResourceID: &id,
		NewValues:  auditPayload(shift),
	}
	if before != nil {
		log.OldValues = auditPayload(before)
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	emitAudit(ctx, s.audit, s.logger, "shift-service", log)
}
