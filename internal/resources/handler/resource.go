package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"medbook/internal/resources/service"
	apperrors "medbook/pkg/errors"
	httputil "medbook/pkg/http"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type ResourceHandler struct {
	service service.ResourceService
	log     *logger.Logger
}

func NewResourceHandler(service service.ResourceService, log *logger.Logger) *ResourceHandler {
	return &ResourceHandler{
		service: service,
		log:     log,
	}
}

type createPoolRequest struct {
	HospitalID   string `json:"hospital_id"`
	ResourceType string `json:"resource_type"`
	Total        int    `json:"total"`
}

type adminUpdateRequest struct {
	Total       int   `json:"total"`
	Reserved    int   `json:"reserved"`
	Maintenance int   `json:"maintenance"`
	Version     int64 `json:"version"`
}

func (h *ResourceHandler) CreatePool(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "CreatePool", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	pool := &model.ResourcePool{
		HospitalID:   req.HospitalID,
		ResourceType: req.ResourceType,
		Counters:     model.PoolCounters{Total: req.Total},
	}

	if err := h.service.CreatePool(r.Context(), pool, r.Header.Get("X-User-ID")); err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "CreatePool", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, pool); err != nil {
		h.log.Error("failed to write created response", "handler", "CreatePool", "operation", "WriteCreated", "error", err)
	}
}

func (h *ResourceHandler) GetPools(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pools, err := h.service.GetPools(r.Context(), ps.ByName("hospitalId"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetPools", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, pools); err != nil {
		h.log.Error("failed to write success response", "handler", "GetPools", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ResourceHandler) GetPool(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pool, err := h.service.GetPool(r.Context(), ps.ByName("hospitalId"), ps.ByName("resourceType"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetPool", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, pool); err != nil {
		h.log.Error("failed to write success response", "handler", "GetPool", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ResourceHandler) CheckAvailability(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	quantity := 1
	if qStr := r.URL.Query().Get("quantity"); qStr != "" {
		var err error
		quantity, err = strconv.Atoi(qStr)
		if err != nil {
			if writeErr := httputil.WriteError(w, apperrors.InvalidInput(fmt.Sprintf("invalid quantity parameter: %s", qStr))); writeErr != nil {
				h.log.Error("failed to write error response", "handler", "CheckAvailability", "operation", "WriteError", "error", writeErr)
			}
			return
		}
	}

	availability, err := h.service.CheckAvailability(r.Context(), ps.ByName("hospitalId"), ps.ByName("resourceType"), quantity)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "CheckAvailability", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, availability); err != nil {
		h.log.Error("failed to write success response", "handler", "CheckAvailability", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ResourceHandler) AdminUpdate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req adminUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "AdminUpdate", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	update := &service.AdminPoolUpdate{
		Total:       req.Total,
		Reserved:    req.Reserved,
		Maintenance: req.Maintenance,
	}

	pool, err := h.service.AdminSetQuantities(
		r.Context(),
		ps.ByName("hospitalId"),
		ps.ByName("resourceType"),
		update,
		req.Version,
		r.Header.Get("X-User-ID"),
	)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "AdminUpdate", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, pool); err != nil {
		h.log.Error("failed to write success response", "handler", "AdminUpdate", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ResourceHandler) GetAuditLog(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAuditLog", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	entries, total, err := h.service.GetAuditLog(r.Context(), ps.ByName("hospitalId"), ps.ByName("resourceType"), limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAuditLog", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WritePaginated(w, entries, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAuditLog", "operation", "WritePaginated", "error", err)
	}
}

func (h *ResourceHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/resources", h.CreatePool)
	router.GET("/api/v1/resources/hospital/:hospitalId", h.GetPools)
	router.GET("/api/v1/resources/hospital/:hospitalId/type/:resourceType", h.GetPool)
	router.GET("/api/v1/resources/hospital/:hospitalId/type/:resourceType/availability", h.CheckAvailability)
	router.PUT("/api/v1/resources/hospital/:hospitalId/type/:resourceType", h.AdminUpdate)
	router.GET("/api/v1/resources/hospital/:hospitalId/type/:resourceType/audit", h.GetAuditLog)
}
