package handler

import (
	"encoding/json"
	"net/http"

	"medbook/internal/payments/repository"
	"medbook/internal/payments/service"
	"medbook/pkg/config"
	httputil "medbook/pkg/http"
	"medbook/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

type PaymentHandler struct {
	service     service.PaymentService
	distributor service.RevenueDistributor
	cfg         *config.Config
	log         *logger.Logger
}

func NewPaymentHandler(paymentService service.PaymentService, distributor service.RevenueDistributor, cfg *config.Config, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:     paymentService,
		distributor: distributor,
		cfg:         cfg,
		log:         log,
	}
}

type chargeRequest struct {
	BookingID  string  `json:"booking_id"`
	Method     string  `json:"method"`
	Instrument string  `json:"instrument"`
	Amount     float64 `json:"amount"`
}

type refundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

func (h *PaymentHandler) Charge(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Charge", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	tx, err := h.service.Charge(r.Context(), req.BookingID, req.Method, req.Instrument, req.Amount)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Charge", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, tx); err != nil {
		h.log.Error("failed to write created response", "handler", "Charge", "operation", "WriteCreated", "error", err)
	}
}

func (h *PaymentHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAll", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	filter := repository.TransactionFilter{
		BookingID:  r.URL.Query().Get("booking_id"),
		HospitalID: r.URL.Query().Get("hospital_id"),
		UserID:     r.URL.Query().Get("user_id"),
		Status:     r.URL.Query().Get("status"),
	}

	txs, total, err := h.service.GetAll(r.Context(), filter, limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAll", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WritePaginated(w, txs, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *PaymentHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tx, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetByID", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, tx); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Refund", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	tx, err := h.service.Refund(r.Context(), ps.ByName("id"), req.Amount, req.Reason)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Refund", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, tx); err != nil {
		h.log.Error("failed to write success response", "handler", "Refund", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) Distribute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	result, err := h.distributor.Distribute(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Distribute", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "Distribute", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) GetBalance(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	balance, err := h.distributor.GetBalance(r.Context(), r.URL.Query().Get("user_id"), r.URL.Query().Get("hospital_id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetBalance", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, balance); err != nil {
		h.log.Error("failed to write success response", "handler", "GetBalance", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) GetLedger(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetLedger", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	entries, total, err := h.distributor.GetLedger(r.Context(), ps.ByName("id"), limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetLedger", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WritePaginated(w, entries, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetLedger", "operation", "WritePaginated", "error", err)
	}
}

func (h *PaymentHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/payments", h.Charge)
	router.GET("/api/v1/payments", h.GetAll)
	router.GET("/api/v1/payments/:id", h.GetByID)
	router.POST("/api/v1/payments/:id/refund", h.Refund)
	router.POST("/api/v1/payments/:id/distribute", h.Distribute)
	router.GET("/api/v1/balances", h.GetBalance)
	router.GET("/api/v1/balances/:id/ledger", h.GetLedger)
}
