package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/dto"
	"github.com/noah-isme/meal-voucher-api/internal/service"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

type redemptionService interface {
	Validate(ctx context.Context, req dto.ValidateVoucherRequest) (*service.EligibilityResult, error)
	Redeem(ctx context.Context, req dto.RedeemRequest) (*service.RedemptionReceipt, error)
}

// RedemptionHandler exposes the stateless voucher API used by integrations.
type RedemptionHandler struct {
	service redemptionService
}

// NewRedemptionHandler constructs a redemption handler.
func NewRedemptionHandler(svc redemptionService) *RedemptionHandler {
	return &RedemptionHandler{service: svc}
}

// Validate godoc
// @Summary Check a voucher code
// @Description Runs the redemption guards without recording anything
// @Tags Vouchers
// @Accept json
// @Produce json
// @Param payload body dto.ValidateVoucherRequest true "Voucher code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /vouchers/validate [post]
func (h *RedemptionHandler) Validate(c *gin.Context) {
	var req dto.ValidateVoucherRequest
	if !bindJSON(c, &req, "invalid voucher payload") {
		return
	}
	result, err := h.service.Validate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Redeem godoc
// @Summary Redeem a voucher
// @Description Validates the code and records the meal. Repeating a call with the same Idempotency-Key returns the original record.
// @Tags Vouchers
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param payload body dto.RedeemRequest true "Redemption"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "replayed"
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /vouchers/redeem [post]
func (h *RedemptionHandler) Redeem(c *gin.Context) {
	var req dto.RedeemRequest
	if !bindJSON(c, &req, "invalid redemption payload") {
		return
	}
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	receipt, err := h.service.Redeem(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	response.JSON(c, status, receipt, nil)
}
