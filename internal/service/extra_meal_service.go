package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

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

type extraMealStore interface {
	Create(ctx context.Context, req *models.ExtraMealRequest) (*models.ExtraMealRequest, bool, error)
	GetByID(ctx context.Context, id string) (*models.ExtraMealRequest, error)
	List(ctx context.Context, filter models.ExtraMealFilter) ([]models.ExtraMealRequest, int, error)
	Review(ctx context.Context, params repository.ReviewParams) error
	Update(ctx context.Context, req *models.ExtraMealRequest, expectedStatus models.ExtraMealStatus) error
	Delete(ctx context.Context, id string) error
}

type holderByID interface {
	FindByID(ctx context.Context, id string) (*models.VoucherHolder, error)
}

type mealTypeByID interface {
	GetByID(ctx context.Context, id string) (*models.MealType, error)
}

var errExtraMealNotFound = appErrors.Clone(appErrors.ErrNotFound, "extra meal request not found")

// ExtraMealService runs the extra-meal request workflow: PENDING requests are
// approved or rejected once, after which they are frozen.
type ExtraMealService struct {
	repo      extraMealStore
	holders   holderByID
	mealTypes mealTypeByID
	guard     *SessionGuard
	exec      *retry.Executor
	audit     auditLogger
	clock     timewindow.WallClock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExtraMealService constructs the workflow service.
func NewExtraMealService(repo extraMealStore, holders holderByID, mealTypes mealTypeByID, guard *SessionGuard, exec *retry.Executor,
	audit auditLogger, clock timewindow.WallClock, validate *validator.Validate, logger *zap.Logger) *ExtraMealService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = retry.NewExecutor(retry.Policy{})
	}
	return &ExtraMealService{
		repo:      repo,
		holders:   holders,
		mealTypes: mealTypes,
		guard:     guard,
		exec:      exec,
		audit:     audit,
		clock:     clock,
		validator: newValidator(validate),
		logger:    logger,
	}
}

// Create registers a pending request. A repeated idempotency key returns the original.
func (s *ExtraMealService) Create(ctx context.Context, req dto.CreateExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid extra meal payload")
	}
	user, err := s.guard.Revalidate(ctx, session)
	if err != nil {
		return nil, err
	}

	beneficiary, err := beneficiaryFrom(req.HolderID, req.VisitorName, req.VisitorCompany, req.VisitorDocument)
	if err != nil {
		return nil, err
	}
	if err := s.checkBeneficiary(ctx, beneficiary); err != nil {
		return nil, err
	}
	mealType, err := s.specialMealType(ctx, req.MealTypeID)
	if err != nil {
		return nil, err
	}
	date, err := s.requestedDate(req.RequestedDate)
	if err != nil {
		return nil, err
	}
	at, err := timewindow.Parse(req.RequestedTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "requested_time must be HH:MM")
	}

	request := &models.ExtraMealRequest{
		MealTypeID:    mealType.ID,
		RequestedDate: date,
		RequestedTime: at,
		Reason:        strings.TrimSpace(req.Reason),
		RequesterName: strings.TrimSpace(req.RequesterName),
		Status:        models.ExtraMealStatusPending,
		Price:         mealType.Price,
		CreatedBy:     user.ID,
	}
	request.SetBeneficiary(beneficiary)
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		request.IdempotencyKey = &key
	}

	type created struct {
		request  *models.ExtraMealRequest
		replayed bool
	}
	res, err := retry.Value(ctx, s.exec, "create_extra_meal", func(ctx context.Context) (created, error) {
		stored, replayed, err := s.repo.Create(ctx, request)
		return created{request: stored, replayed: replayed}, err
	})
	if err != nil {
		if database.IsCheckViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "beneficiary must be a holder or a visitor")
		}
		return nil, storeError(err, "failed to create extra meal request")
	}
	if res.replayed {
		return res.request, nil
	}

	s.emit(ctx, models.AuditActionExtraMealCreate, user.ID, res.request, nil)
	return res.request, nil
}

// Get returns a request by id.
func (s *ExtraMealService) Get(ctx context.Context, id string) (*models.ExtraMealRequest, error) {
	req, err := retry.Value(ctx, s.exec, "get_extra_meal", func(ctx context.Context) (*models.ExtraMealRequest, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, notFoundOr(err, errExtraMealNotFound, "failed to load extra meal request")
	}
	return req, nil
}

// List returns requests filtered by status, date range and beneficiary kind.
func (s *ExtraMealService) List(ctx context.Context, query dto.ExtraMealQuery) ([]models.ExtraMealRequest, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, validationError(err, "invalid extra meal filter")
	}
	filter := models.ExtraMealFilter{
		Kind:     models.BeneficiaryKind(query.Kind),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	for _, raw := range query.Status {
		for _, part := range strings.Split(raw, ",") {
			status := models.ExtraMealStatus(strings.ToUpper(strings.TrimSpace(part)))
			switch status {
			case models.ExtraMealStatusPending, models.ExtraMealStatusApproved, models.ExtraMealStatusRejected:
				filter.Status = append(filter.Status, status)
			case "":
			default:
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", part))
			}
		}
	}
	if query.DateFrom != "" {
		from, err := time.ParseInLocation("2006-01-02", query.DateFrom, s.location())
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date_from must be YYYY-MM-DD")
		}
		filter.DateFrom = &from
	}
	if query.DateTo != "" {
		to, err := time.ParseInLocation("2006-01-02", query.DateTo, s.location())
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date_to must be YYYY-MM-DD")
		}
		filter.DateTo = &to
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "date_to must not be before date_from")
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "failed to list extra meal requests")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Approve moves a pending request to APPROVED, recording the approver and an optional note.
func (s *ExtraMealService) Approve(ctx context.Context, id string, req dto.ReviewExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error) {
	return s.review(ctx, id, models.ExtraMealStatusApproved, req, session)
}

// Reject moves a pending request to REJECTED. The note is mandatory.
func (s *ExtraMealService) Reject(ctx context.Context, id string, req dto.ReviewExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error) {
	if strings.TrimSpace(req.Note) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection reason is required")
	}
	return s.review(ctx, id, models.ExtraMealStatusRejected, req, session)
}

func (s *ExtraMealService) review(ctx context.Context, id string, status models.ExtraMealStatus, req dto.ReviewExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid review payload")
	}
	user, err := s.guard.RequireApprover(ctx, session)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrFinalized, fmt.Sprintf("request already %s", strings.ToLower(string(current.Status))))
	}

	params := repository.ReviewParams{
		ID:         id,
		Status:     status,
		ReviewedBy: user.ID,
		ReviewedAt: s.clock.Current().UTC(),
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		params.Note = &note
	}
	err = s.exec.Do(ctx, "review_extra_meal", func(ctx context.Context) error {
		return s.repo.Review(ctx, params)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was reviewed concurrently")
		}
		return nil, storeError(err, "failed to review extra meal request")
	}

	before := *current
	current.Status = status
	current.ApprovedBy = &params.ReviewedBy
	current.ApprovedAt = &params.ReviewedAt
	current.ApprovalNotes = params.Note
	current.UpdatedAt = params.ReviewedAt
	s.emit(ctx, models.AuditActionExtraMealReview, user.ID, current, &before)
	s.logger.Info("extra meal reviewed", zap.String("id", id), zap.String("status", string(status)), zap.String("reviewer", user.ID))
	return current, nil
}

// Update patches a request. Approved requests may only be edited by approvers, and
// never change status here.
func (s *ExtraMealService) Update(ctx context.Context, id string, patch dto.UpdateExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error) {
	if err := s.validator.Struct(patch); err != nil {
		return nil, validationError(err, "invalid extra meal payload")
	}
	user, err := s.guard.Revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.ExtraMealStatusApproved && !CanApproveExtraMeals(user) {
		return nil, appErrors.Clone(appErrors.ErrFinalized, "approved requests can only be edited by an approver")
	}
	before := *current
	next := *current

	if patch.TouchesBeneficiary() {
		name, company, document := patch.VisitorName, patch.VisitorCompany, patch.VisitorDocument
		if visitor, ok := current.Beneficiary().(models.ExternalVisitor); ok && patch.HolderID == nil {
			if name == nil {
				name = &visitor.Name
			}
			if company == nil {
				company = &visitor.Company
			}
			if document == nil {
				document = visitor.Document
			}
		}
		beneficiary, err := beneficiaryFrom(patch.HolderID, name, company, document)
		if err != nil {
			return nil, err
		}
		if err := s.checkBeneficiary(ctx, beneficiary); err != nil {
			return nil, err
		}
		next.SetBeneficiary(beneficiary)
	}
	if patch.MealTypeID != nil && *patch.MealTypeID != next.MealTypeID {
		mealType, err := s.specialMealType(ctx, *patch.MealTypeID)
		if err != nil {
			return nil, err
		}
		next.MealTypeID = mealType.ID
		next.Price = mealType.Price
	}
	if patch.RequestedDate != nil {
		date, err := s.requestedDate(*patch.RequestedDate)
		if err != nil {
			return nil, err
		}
		next.RequestedDate = date
	}
	if patch.RequestedTime != nil {
		at, err := timewindow.Parse(*patch.RequestedTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "requested_time must be HH:MM")
		}
		next.RequestedTime = at
	}
	if patch.Reason != nil {
		reason := strings.TrimSpace(*patch.Reason)
		if reason == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "reason must not be empty")
		}
		next.Reason = reason
	}
	if patch.RequesterName != nil {
		next.RequesterName = strings.TrimSpace(*patch.RequesterName)
	}

	err = s.exec.Do(ctx, "update_extra_meal", func(ctx context.Context) error {
		return s.repo.Update(ctx, &next, before.Status)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request changed while it was being edited")
		}
		if database.IsCheckViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "beneficiary must be a holder or a visitor")
		}
		return nil, storeError(err, "failed to update extra meal request")
	}
	s.emit(ctx, models.AuditActionExtraMealUpdate, user.ID, &next, &before)
	return &next, nil
}

// Delete removes a request that was not approved.
func (s *ExtraMealService) Delete(ctx context.Context, id string, session *models.ActorSession) error {
	user, err := s.guard.Revalidate(ctx, session)
	if err != nil {
		return err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == models.ExtraMealStatusApproved {
		return appErrors.Clone(appErrors.ErrFinalized, "approved requests cannot be deleted")
	}
	err = s.exec.Do(ctx, "delete_extra_meal", func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "request was approved or removed concurrently")
		}
		return storeError(err, "failed to delete extra meal request")
	}
	s.emit(ctx, models.AuditActionExtraMealDelete, user.ID, nil, current)
	return nil
}

func beneficiaryFrom(holderID, name, company, document *string) (models.Beneficiary, error) {
	trim := func(v *string) string {
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	}
	holder, visitorName, visitorCompany := trim(holderID), trim(name), trim(company)
	switch {
	case holder != "" && (visitorName != "" || visitorCompany != ""):
		return nil, appErrors.Clone(appErrors.ErrValidation, "provide either holder_id or visitor details, not both")
	case holder != "":
		return models.InternalHolder{HolderID: holder}, nil
	case visitorName != "" && visitorCompany != "":
		visitor := models.ExternalVisitor{Name: visitorName, Company: visitorCompany}
		if doc := trim(document); doc != "" {
			visitor.Document = &doc
		}
		return visitor, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "beneficiary required: holder_id or visitor_name and visitor_company")
	}
}

func (s *ExtraMealService) checkBeneficiary(ctx context.Context, b models.Beneficiary) error {
	internal, ok := b.(models.InternalHolder)
	if !ok {
		return nil
	}
	holder, err := retry.Value(ctx, s.exec, "find_holder", func(ctx context.Context) (*models.VoucherHolder, error) {
		return s.holders.FindByID(ctx, internal.HolderID)
	})
	if err != nil {
		return notFoundOr(err, appErrors.Clone(appErrors.ErrValidation, "holder not found"), "failed to load holder")
	}
	if !holder.Active {
		return appErrors.Clone(appErrors.ErrValidation, "holder is inactive")
	}
	return nil
}

func (s *ExtraMealService) specialMealType(ctx context.Context, id string) (*models.MealType, error) {
	mealType, err := retry.Value(ctx, s.exec, "find_meal_type", func(ctx context.Context) (*models.MealType, error) {
		return s.mealTypes.GetByID(ctx, id)
	})
	if err != nil {
		return nil, notFoundOr(err, appErrors.Clone(appErrors.ErrValidation, "meal type not found"), "failed to load meal type")
	}
	if !mealType.Active || !mealType.Special {
		return nil, appErrors.Clone(appErrors.ErrValidation, "extra meals must use an active special meal type")
	}
	return mealType, nil
}

func (s *ExtraMealService) location() *time.Location {
	if s.clock.Location == nil {
		return time.Local
	}
	return s.clock.Location
}

func (s *ExtraMealService) requestedDate(raw string) (time.Time, error) {
	date, err := time.ParseInLocation("2006-01-02", raw, s.location())
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "requested_date must be YYYY-MM-DD")
	}
	if date.Before(s.clock.Today()) {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "requested_date must not be in the past")
	}
	return date, nil
}

func (s *ExtraMealService) emit(ctx context.Context, action, actorID string, after, before *models.ExtraMealRequest) {
	log := &models.AuditLog{
		Action:   action,
		Resource: "extra_meal_request",
		UserID:   &actorID,
	}
	if after != nil {
		id := after.ID
		log.ResourceID = &id
		log.NewValues = auditPayload(after)
	}
	if before != nil {
		if log.ResourceID == nil {
			id := before.ID
			log.ResourceID = &id
		}
		log.OldValues = auditPayload(before)
	}
	emitAudit(ctx, s.audit, s.logger, "extra-meal-service", log)
}
