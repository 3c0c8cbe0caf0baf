package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"medbook/internal/bookings/repository"
	"medbook/internal/bookings/service"
	"medbook/pkg/config"
	httputil "medbook/pkg/http"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type BookingHandler struct {
	service service.BookingService
	cfg     *config.Config
	log     *logger.Logger
}

func NewBookingHandler(service service.BookingService, cfg *config.Config, log *logger.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		cfg:     cfg,
		log:     log,
	}
}

type createBookingRequest struct {
	HospitalID             string    `json:"hospital_id"`
	UserID                 string    `json:"user_id"`
	ResourceType           string    `json:"resource_type"`
	Urgency                string    `json:"urgency"`
	PatientName            string    `json:"patient_name"`
	PatientGender          string    `json:"patient_gender"`
	ScheduledDate          time.Time `json:"scheduled_date"`
	EstimatedDurationHours int       `json:"estimated_duration_hours"`
	PaymentAmount          float64   `json:"payment_amount"`
	ResourcesAllocated     int       `json:"resources_allocated"`
	Notes                  string    `json:"notes"`
}

type approveRequest struct {
	ResourcesAllocated int    `json:"resources_allocated"`
	Notes              string `json:"notes"`
	AutoAllocate       *bool  `json:"auto_allocate"`
}

type declineRequest struct {
	Reason       string   `json:"reason"`
	Notes        string   `json:"notes"`
	Alternatives []string `json:"alternatives"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type completeRequest struct {
	Notes string `json:"notes"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Create", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}

	booking := &model.Booking{
		HospitalID:             req.HospitalID,
		UserID:                 userID,
		ResourceType:           req.ResourceType,
		Urgency:                req.Urgency,
		PatientName:            req.PatientName,
		PatientGender:          req.PatientGender,
		ScheduledDate:          req.ScheduledDate,
		EstimatedDurationHours: req.EstimatedDurationHours,
		PaymentAmount:          req.PaymentAmount,
		ResourcesAllocated:     req.ResourcesAllocated,
		Notes:                  req.Notes,
	}

	created, err := h.service.Create(r.Context(), booking)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Create", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, created); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *BookingHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAll", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	filter := repository.BookingFilter{
		HospitalID: r.URL.Query().Get("hospital_id"),
		UserID:     r.URL.Query().Get("user_id"),
		Status:     r.URL.Query().Get("status"),
	}

	bookings, total, err := h.service.GetAll(r.Context(), filter, limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAll", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WritePaginated(w, bookings, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *BookingHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	booking, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetByID", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) GetHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entries, err := h.service.GetHistory(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetHistory", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, entries); err != nil {
		h.log.Error("failed to write success response", "handler", "GetHistory", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Approve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req approveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
				Error: "Invalid request body",
			}); writeErr != nil {
				h.log.Error("failed to write JSON response", "handler", "Approve", "operation", "WriteJSON", "error", writeErr)
			}
			return
		}
	}

	opts := service.ApproveOptions{
		ResourcesAllocated: req.ResourcesAllocated,
		Notes:              req.Notes,
		AutoAllocate:       true,
	}
	if req.AutoAllocate != nil {
		opts.AutoAllocate = *req.AutoAllocate
	}

	booking, err := h.service.Approve(r.Context(), ps.ByName("id"), r.Header.Get("X-User-ID"), opts)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Approve", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Approve", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Decline(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req declineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Decline", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	booking, err := h.service.Decline(r.Context(), ps.ByName("id"), r.Header.Get("X-User-ID"), req.Reason, req.Notes, req.Alternatives)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Decline", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Decline", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
				Error: "Invalid request body",
			}); writeErr != nil {
				h.log.Error("failed to write JSON response", "handler", "Cancel", "operation", "WriteJSON", "error", writeErr)
			}
			return
		}
	}

	booking, err := h.service.Cancel(r.Context(), ps.ByName("id"), r.Header.Get("X-User-ID"), req.Reason, req.Notes)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Cancel", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Cancel", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req completeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
				Error: "Invalid request body",
			}); writeErr != nil {
				h.log.Error("failed to write JSON response", "handler", "Complete", "operation", "WriteJSON", "error", writeErr)
			}
			return
		}
	}

	booking, err := h.service.Complete(r.Context(), ps.ByName("id"), r.Header.Get("X-User-ID"), req.Notes)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Complete", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Complete", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/bookings", h.Create)
	router.GET("/api/v1/bookings", h.GetAll)
	router.GET("/api/v1/bookings/:id", h.GetByID)
	router.GET("/api/v1/bookings/:id/history", h.GetHistory)
	router.POST("/api/v1/bookings/:id/approve", h.Approve)
	router.POST("/api/v1/bookings/:id/decline", h.Decline)
	router.POST("/api/v1/bookings/:id/cancel", h.Cancel)
	router.POST("/api/v1/bookings/:id/complete", h.Complete)
}
