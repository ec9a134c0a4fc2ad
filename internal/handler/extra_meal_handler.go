package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

type extraMealService interface {
	Create(ctx context.Context, req dto.CreateExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error)
	Get(ctx context.Context, id string) (*models.ExtraMealRequest, error)
	List(ctx context.Context, query dto.ExtraMealQuery) ([]models.ExtraMealRequest, *models.Pagination, error)
	Approve(ctx context.Context, id string, req dto.ReviewExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error)
	Reject(ctx context.Context, id string, req dto.ReviewExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error)
	Update(ctx context.Context, id string, patch dto.UpdateExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error)
	Delete(ctx context.Context, id string, session *models.ActorSession) error
}

// ExtraMealHandler exposes the extra-meal request workflow.
type ExtraMealHandler struct {
	service extraMealService
}

// NewExtraMealHandler constructs the handler.
func NewExtraMealHandler(svc extraMealService) *ExtraMealHandler {
	return &ExtraMealHandler{service: svc}
}

// List godoc
// @Summary List extra-meal requests
// @Tags Extra Meals
// @Produce json
// @Param status query []string false "Statuses" collectionFormat(multi)
// @Param date_from query string false "From date (YYYY-MM-DD)"
// @Param date_to query string false "To date (YYYY-MM-DD)"
// @Param kind query string false "INTERNAL or EXTERNAL"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /extra-meals [get]
func (h *ExtraMealHandler) List(c *gin.Context) {
	var query dto.ExtraMealQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get an extra-meal request
// @Tags Extra Meals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /extra-meals/{id} [get]
func (h *ExtraMealHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Create godoc
// @Summary Request an extra meal
// @Description Files a PENDING request for a holder or an external visitor
// @Tags Extra Meals
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param payload body dto.CreateExtraMealRequest true "Request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /extra-meals [post]
func (h *ExtraMealHandler) Create(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var req dto.CreateExtraMealRequest
	if !bindJSON(c, &req, "invalid extra meal payload") {
		return
	}
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	item, err := h.service.Create(c.Request.Context(), req, session)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Amend an extra-meal request
// @Tags Extra Meals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.UpdateExtraMealRequest true "Patch"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /extra-meals/{id} [patch]
func (h *ExtraMealHandler) Update(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var req dto.UpdateExtraMealRequest
	if !bindJSON(c, &req, "invalid extra meal patch") {
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("id"), req, session)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Approve godoc
// @Summary Approve a pending request
// @Tags Extra Meals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewExtraMealRequest false "Optional note"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /extra-meals/{id}/approve [post]
func (h *ExtraMealHandler) Approve(c *gin.Context) {
	h.review(c, h.service.Approve)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags Extra Meals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewExtraMealRequest true "Mandatory note"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /extra-meals/{id}/reject [post]
func (h *ExtraMealHandler) Reject(c *gin.Context) {
	h.review(c, h.service.Reject)
}

type reviewFunc func(ctx context.Context, id string, req dto.ReviewExtraMealRequest, session *models.ActorSession) (*models.ExtraMealRequest, error)

func (h *ExtraMealHandler) review(c *gin.Context, fn reviewFunc) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var req dto.ReviewExtraMealRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "invalid review payload") {
		return
	}
	item, err := fn(c.Request.Context(), c.Param("id"), req, session)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete a request that was not approved
// @Tags Extra Meals
// @Param id path string true "Request ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /extra-meals/{id} [delete]
func (h *ExtraMealHandler) Delete(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), session); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
