package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/arfor-backend/internal/http/response"
	"github.com/yungbote/arfor-backend/internal/services"
)

const maxWebhookBody = 1 << 20

type CheckoutHandler struct {
	purchases services.PurchaseService
}

func NewCheckoutHandler(purchases services.PurchaseService) *CheckoutHandler {
	return &CheckoutHandler{purchases: purchases}
}

// GET /api/checkout/packs
func (h *CheckoutHandler) Packs(c *gin.Context) {
	response.RespondOK(c, gin.H{"packs": h.purchases.Packs()})
}

// POST /api/checkout/webhook
// The signature covers the raw body, so it is read before any decoding.
func (h *CheckoutHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", errors.New("Invalid payload"))
		return
	}
	res, err := h.purchases.HandleWebhook(c.Request.Context(), body, c.GetHeader(services.SignatureHeader))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
