package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

const terminalParam = "terminalId"

type terminalService interface {
	Snapshot(terminalID string) (*models.TerminalSnapshot, error)
	PressKey(terminalID string, req dto.KeyPressRequest) (*models.TerminalSnapshot, error)
	Submit(terminalID string) (*models.TerminalSnapshot, error)
	SelectMealType(terminalID string, req dto.SelectMealTypeRequest) (*models.TerminalSnapshot, error)
	Confirm(ctx context.Context, terminalID string) (*models.TerminalSnapshot, error)
	Cancel(terminalID string) (*models.TerminalSnapshot, error)
	StartOver(terminalID string) (*models.TerminalSnapshot, error)
}

// TerminalHandler drives kiosk sessions. Every endpoint answers with the session snapshot.
type TerminalHandler struct {
	service terminalService
}

// NewTerminalHandler constructs a kiosk handler.
func NewTerminalHandler(svc terminalService) *TerminalHandler {
	return &TerminalHandler{service: svc}
}

func (h *TerminalHandler) reply(c *gin.Context, status int, snapshot *models.TerminalSnapshot, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, status, snapshot, nil)
}

// Snapshot godoc
// @Summary Kiosk session state
// @Tags Terminals
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Success 200 {object} response.Envelope
// @Router /terminals/{terminalId} [get]
func (h *TerminalHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.service.Snapshot(c.Param(terminalParam))
	h.reply(c, http.StatusOK, snapshot, err)
}

// PressKey godoc
// @Summary Keypad input
// @Tags Terminals
// @Accept json
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Param payload body dto.KeyPressRequest true "Key"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terminals/{terminalId}/keys [post]
func (h *TerminalHandler) PressKey(c *gin.Context) {
	var req dto.KeyPressRequest
	if !bindJSON(c, &req, "invalid key payload") {
		return
	}
	snapshot, err := h.service.PressKey(c.Param(terminalParam), req)
	h.reply(c, http.StatusOK, snapshot, err)
}

// Submit godoc
// @Summary Validate the entered code
// @Description Starts validation in the background; poll the session for the outcome
// @Tags Terminals
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terminals/{terminalId}/submit [post]
func (h *TerminalHandler) Submit(c *gin.Context) {
	snapshot, err := h.service.Submit(c.Param(terminalParam))
	h.reply(c, http.StatusAccepted, snapshot, err)
}

// SelectMealType godoc
// @Summary Pick an offered meal type
// @Tags Terminals
// @Accept json
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Param payload body dto.SelectMealTypeRequest true "Meal type"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terminals/{terminalId}/meal-type [post]
func (h *TerminalHandler) SelectMealType(c *gin.Context) {
	var req dto.SelectMealTypeRequest
	if !bindJSON(c, &req, "invalid meal type payload") {
		return
	}
	snapshot, err := h.service.SelectMealType(c.Param(terminalParam), req)
	h.reply(c, http.StatusOK, snapshot, err)
}

// Confirm godoc
// @Summary Record the selected meal
// @Tags Terminals
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terminals/{terminalId}/confirm [post]
func (h *TerminalHandler) Confirm(c *gin.Context) {
	snapshot, err := h.service.Confirm(c.Request.Context(), c.Param(terminalParam))
	h.reply(c, http.StatusOK, snapshot, err)
}

// Cancel godoc
// @Summary Abandon the current code
// @Tags Terminals
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Success 200 {object} response.Envelope
// @Router /terminals/{terminalId}/cancel [post]
func (h *TerminalHandler) Cancel(c *gin.Context) {
	snapshot, err := h.service.Cancel(c.Param(terminalParam))
	h.reply(c, http.StatusOK, snapshot, err)
}

// StartOver godoc
// @Summary Reset after a successful redemption
// @Tags Terminals
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Success 200 {object} response.Envelope
// @Router /terminals/{terminalId}/start-over [post]
func (h *TerminalHandler) StartOver(c *gin.Context) {
	snapshot, err := h.service.StartOver(c.Param(terminalParam))
	h.reply(c, http.StatusOK, snapshot, err)
}
