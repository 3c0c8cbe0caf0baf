package handler

import (
	"encoding/json"
	"net/http"

	"medbook/internal/payments/service"
	httputil "medbook/pkg/http"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

// GatewayWebhookHandler settles transactions from asynchronous gateway
// callbacks. Signature verification happens in the webhook middleware
// chain before this handler runs.
type GatewayWebhookHandler struct {
	service service.PaymentService
	log     *logger.Logger
}

type gatewayCallback struct {
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Reference     string `json:"reference"`
}

func NewGatewayWebhookHandler(paymentService service.PaymentService, log *logger.Logger) *GatewayWebhookHandler {
	return &GatewayWebhookHandler{
		service: paymentService,
		log:     log,
	}
}

func (h *GatewayWebhookHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/webhooks/gateway", h.handleCallback)
}

func (h *GatewayWebhookHandler) handleCallback(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cb gatewayCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid callback body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "handleCallback", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	tx, err := h.service.Capture(r.Context(), cb.TransactionID, &model.GatewayResult{
		Success:   cb.Success,
		Code:      cb.Code,
		Message:   cb.Message,
		Reference: cb.Reference,
	})
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "handleCallback", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, tx); err != nil {
		h.log.Error("failed to write success response", "handler", "handleCallback", "operation", "WriteSuccess", "error", err)
	}
}
