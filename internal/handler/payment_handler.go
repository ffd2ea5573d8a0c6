package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kelasku/kelasku-api/internal/service"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
	"github.com/kelasku/kelasku-api/pkg/response"
)

// PaymentHandler exposes the subscribe checkout flow and the gateway
// callback.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Subscribe godoc
// @Summary Subscribe to a course
// @Description Enrolls the student. Paid courses answer with a pending
// payment holding the Snap checkout token; free courses activate at once.
// @Tags Payments
// @Produce json
// @Param id path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/subscribe [post]
func (h *PaymentHandler) Subscribe(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.payments.Subscribe(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Notification godoc
// @Summary Midtrans server-to-server callback
// @Description Verifies the gateway signature and settles or fails the
// payment. The route carries no session; the signature is the credential.
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /payments/notification [post]
func (h *PaymentHandler) Notification(c *gin.Context) {
	var payload service.GatewayNotification
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notification payload"))
		return
	}

	pay, err := h.payments.HandleNotification(c.Request.Context(), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pay, nil)
}
