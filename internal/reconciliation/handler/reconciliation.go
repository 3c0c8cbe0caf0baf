package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"medbook/internal/reconciliation/service"
	"medbook/pkg/config"
	apperrors "medbook/pkg/errors"
	httputil "medbook/pkg/http"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type ReconciliationHandler struct {
	service service.ReconciliationService
	cfg     *config.Config
	log     *logger.Logger
}

func NewReconciliationHandler(reconciliationService service.ReconciliationService, cfg *config.Config, log *logger.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{
		service: reconciliationService,
		cfg:     cfg,
		log:     log,
	}
}

type runRequest struct {
	Date string `json:"date"`
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

type correctionRequest struct {
	BalanceID      string  `json:"balance_id"`
	CurrentBalance float64 `json:"current_balance"`
	CorrectBalance float64 `json:"correct_balance"`
	Reason         string  `json:"reason"`
}

type runResponse struct {
	Record *model.ReconciliationRecord `json:"record"`
	Alerts []*model.DiscrepancyAlert   `json:"alerts"`
}

func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req runRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
				Error: "Invalid request body",
			}); writeErr != nil {
				h.log.Error("failed to write JSON response", "handler", "Run", "operation", "WriteJSON", "error", writeErr)
			}
			return
		}
	}

	// Defaults to reconciling yesterday, the most recent complete day.
	date := time.Now().UTC().AddDate(0, 0, -1)
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			if writeErr := httputil.WriteError(w, apperrors.InvalidInput("Date must be YYYY-MM-DD")); writeErr != nil {
				h.log.Error("failed to write error response", "handler", "Run", "operation", "WriteError", "error", writeErr)
			}
			return
		}
		date = parsed
	}

	record, alerts, err := h.service.RunDailyReconciliation(r.Context(), date, r.Header.Get("X-User-ID"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Run", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, runResponse{Record: record, Alerts: alerts}); err != nil {
		h.log.Error("failed to write created response", "handler", "Run", "operation", "WriteCreated", "error", err)
	}
}

func (h *ReconciliationHandler) GetRecords(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetRecords", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	records, total, err := h.service.GetRecords(r.Context(), limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetRecords", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WritePaginated(w, records, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetRecords", "operation", "WritePaginated", "error", err)
	}
}

func (h *ReconciliationHandler) GetOpenAlerts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetOpenAlerts", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	alerts, err := h.service.GetOutstandingDiscrepancies(r.Context(), limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetOpenAlerts", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, alerts); err != nil {
		h.log.Error("failed to write success response", "handler", "GetOpenAlerts", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReconciliationHandler) ResolveAlert(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req resolveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
				Error: "Invalid request body",
			}); writeErr != nil {
				h.log.Error("failed to write JSON response", "handler", "ResolveAlert", "operation", "WriteJSON", "error", writeErr)
			}
			return
		}
	}

	alert, err := h.service.ResolveDiscrepancy(r.Context(), ps.ByName("id"), r.Header.Get("X-User-ID"), req.Notes)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "ResolveAlert", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, alert); err != nil {
		h.log.Error("failed to write success response", "handler", "ResolveAlert", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReconciliationHandler) CorrectBalance(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "CorrectBalance", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	balance, err := h.service.CorrectBalance(r.Context(), req.BalanceID, req.CurrentBalance, req.CorrectBalance, req.Reason, r.Header.Get("X-User-ID"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "CorrectBalance", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, balance); err != nil {
		h.log.Error("failed to write success response", "handler", "CorrectBalance", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReconciliationHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/reconciliation/runs", h.Run)
	router.GET("/api/v1/reconciliation/runs", h.GetRecords)
	router.GET("/api/v1/reconciliation/alerts", h.GetOpenAlerts)
	router.POST("/api/v1/reconciliation/alerts/:id/resolve", h.ResolveAlert)
	router.POST("/api/v1/reconciliation/corrections", h.CorrectBalance)
}
