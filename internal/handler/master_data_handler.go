package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/middleware"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

type mealTypeService interface {
	ListActiveCached(ctx context.Context) ([]models.MealType, bool, error)
	List(ctx context.Context, filter models.MealTypeFilter) ([]models.MealType, error)
	Get(ctx context.Context, id string) (*models.MealType, error)
	Create(ctx context.Context, req dto.MealTypeRequest, actorID string) (*models.MealType, error)
	Update(ctx context.Context, id string, req dto.MealTypeRequest, actorID string) (*models.MealType, error)
}

type shiftService interface {
	List(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error)
	Get(ctx context.Context, id string) (*models.Shift, error)
	Create(ctx context.Context, req dto.ShiftRequest, actorID string) (*models.Shift, error)
	Update(ctx context.Context, id string, req dto.ShiftRequest, actorID string) (*models.Shift, error)
}

// MasterDataHandler manages the shifts and meal types that drive eligibility.
type MasterDataHandler struct {
	mealTypes mealTypeService
	shifts    shiftService
}

// NewMasterDataHandler constructs the handler.
func NewMasterDataHandler(mealTypes mealTypeService, shifts shiftService) *MasterDataHandler {
	return &MasterDataHandler{mealTypes: mealTypes, shifts: shifts}
}

func optionalBool(c *gin.Context, key string) (*bool, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must be a boolean"))
		return nil, false
	}
	return &value, true
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// ListMealTypes godoc
// @Summary List meal types
// @Description Without filters the active set is served from cache
// @Tags Meal Types
// @Produce json
// @Param active query bool false "Active flag"
// @Param special query bool false "Special flag"
// @Success 200 {object} response.Envelope
// @Router /meal-types [get]
func (h *MasterDataHandler) ListMealTypes(c *gin.Context) {
	active, ok := optionalBool(c, "active")
	if !ok {
		return
	}
	special, ok := optionalBool(c, "special")
	if !ok {
		return
	}

	if active != nil && *active && special == nil {
		items, hit, err := h.mealTypes.ListActiveCached(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		middleware.SetCacheHit(c, hit)
		respond(c, http.StatusOK, items, nil)
		return
	}

	items, err := h.mealTypes.List(c.Request.Context(), models.MealTypeFilter{Active: active, Special: special})
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, items, nil)
}

// GetMealType godoc
// @Summary Get a meal type
// @Tags Meal Types
// @Produce json
// @Param id path string true "Meal type ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /meal-types/{id} [get]
func (h *MasterDataHandler) GetMealType(c *gin.Context) {
	item, err := h.mealTypes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// CreateMealType godoc
// @Summary Create a meal type
// @Tags Meal Types
// @Accept json
// @Produce json
// @Param payload body dto.MealTypeRequest true "Meal type"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /meal-types [post]
func (h *MasterDataHandler) CreateMealType(c *gin.Context) {
	var req dto.MealTypeRequest
	if !bindJSON(c, &req, "invalid meal type payload") {
		return
	}
	item, err := h.mealTypes.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// UpdateMealType godoc
// @Summary Replace a meal type
// @Tags Meal Types
// @Accept json
// @Produce json
// @Param id path string true "Meal type ID"
// @Param payload body dto.MealTypeRequest true "Meal type"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /meal-types/{id} [put]
func (h *MasterDataHandler) UpdateMealType(c *gin.Context) {
	var req dto.MealTypeRequest
	if !bindJSON(c, &req, "invalid meal type payload") {
		return
	}
	item, err := h.mealTypes.Update(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// ListShifts godoc
// @Summary List shifts
// @Tags Shifts
// @Produce json
// @Param active query bool false "Active flag"
// @Param search query string false "Name contains"
// @Success 200 {object} response.Envelope
// @Router /shifts [get]
func (h *MasterDataHandler) ListShifts(c *gin.Context) {
	active, ok := optionalBool(c, "active")
	if !ok {
		return
	}
	items, err := h.shifts.List(c.Request.Context(), models.ShiftFilter{Active: active, Search: c.Query("search")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// GetShift godoc
// @Summary Get a shift
// @Tags Shifts
// @Produce json
// @Param id path string true "Shift ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /shifts/{id} [get]
func (h *MasterDataHandler) GetShift(c *gin.Context) {
	item, err := h.shifts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// CreateShift godoc
// @Summary Create a shift
// @Tags Shifts
// @Accept json
// @Produce json
// @Param payload body dto.ShiftRequest true "Shift"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /shifts [post]
func (h *MasterDataHandler) CreateShift(c *gin.Context) {
	var req dto.ShiftRequest
	if !bindJSON(c, &req, "invalid shift payload") {
		return
	}
	item, err := h.shifts.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// UpdateShift godoc
// @Summary Replace a shift
// @Tags Shifts
// @Accept json
// @Produce json
// @Param id path string true "Shift ID"
// @Param payload body dto.ShiftRequest true "Shift"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /shifts/{id} [put]
func (h *MasterDataHandler) UpdateShift(c *gin.Context) {
	var req dto.ShiftRequest
	if !bindJSON(c, &req, "invalid shift payload") {
		return
	}
	item, err := h.shifts.Update(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
