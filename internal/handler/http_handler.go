// Package handler maps HTTP requests onto the payment order services. The
// web layer stays thin: decode, delegate, encode, translate error codes.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/logger"
	"github.com/medipagos/be-payment-orders/internal/repository"
	"github.com/medipagos/be-payment-orders/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	orders   *service.OrderService
	profiles *service.ProfileService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(orders *service.OrderService, profiles *service.ProfileService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders:   orders,
		profiles: profiles,
		log:      log,
	}
}

// ── Orders ───────────────────────────────────────────────────────────────────

type createOrderRequest struct {
	BankID        string  `json:"bank_id"`
	SiteID        *string `json:"site_id"`
	WorkflowGroup string  `json:"workflow_group"`
	Comment       *string `json:"comment"`
	CreatedBy     string  `json:"created_by"`
}

// CreateOrder creates a draft payment order.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), &service.CreateOrderRequest{
		BankID:        req.BankID,
		SiteID:        req.SiteID,
		WorkflowGroup: req.WorkflowGroup,
		Comment:       req.Comment,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// GetOrder returns the current order snapshot.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// ListOrders lists orders with filtering and pagination.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := repository.OrderFilter{}

	if v := r.URL.Query().Get("bank_id"); v != "" {
		filter.BankID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := repository.OrderStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("from_date"); v != "" {
		filter.FromDate = &v
	}
	if v := r.URL.Query().Get("to_date"); v != "" {
		filter.ToDate = &v
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":   orders,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

type linkRequest struct {
	OrderID      string `json:"order_id"`
	SettlementID string `json:"settlement_id"`
	UserID       string `json:"user_id"`
}

// AddLink links a settlement to an order.
func (h *HTTPHandler) AddLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.AddLink(r.Context(), req.OrderID, req.SettlementID, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// RemoveLink unlinks a settlement from an order.
func (h *HTTPHandler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.RemoveLink(r.Context(), req.OrderID, req.SettlementID, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type submitRequest struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// Submit moves a draft order into the approval chain.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.Submit(r.Context(), req.OrderID, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type approveRequest struct {
	OrderID string  `json:"order_id"`
	UserID  string  `json:"user_id"`
	Notes   *string `json:"notes"`
}

// Approve resolves the current approval step.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.Approve(r.Context(), req.OrderID, req.UserID, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type rejectRequest struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

// Reject rejects the current approval step and terminates the order.
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.Reject(r.Context(), req.OrderID, req.UserID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// Cancel terminates a draft or pending order.
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.Cancel(r.Context(), req.OrderID, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type paymentRequest struct {
	OrderID   string  `json:"order_id"`
	UserID    string  `json:"user_id"`
	Reference *string `json:"reference"`
}

// RecordPayment marks an approved order as paid.
func (h *HTTPHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.orders.RecordPayment(r.Context(), req.OrderID, req.UserID, req.Reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// GetApprovals returns an order's chain with resolution state.
func (h *HTTPHandler) GetApprovals(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	approvals, err := h.orders.GetApprovals(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, approvals)
}

// GetPendingForUser returns orders awaiting the user's action.
func (h *HTTPHandler) GetPendingForUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	orders, err := h.orders.GetPendingForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// GetAuditTrail returns the order's approval history.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	trail, err := h.orders.GetAuditTrail(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trail)
}

// ── Profiles ─────────────────────────────────────────────────────────────────

type createProfileRequest struct {
	WorkflowGroup string  `json:"workflow_group"`
	Code          string  `json:"code"`
	Description   *string `json:"description"`
	Level         string  `json:"level"`
	Orden         int     `json:"orden"`
}

// CreateProfile creates an approval profile.
func (h *HTTPHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.profiles.CreateProfile(r.Context(), &service.CreateProfileRequest{
		WorkflowGroup: req.WorkflowGroup,
		Code:          req.Code,
		Description:   req.Description,
		Level:         req.Level,
		Orden:         req.Orden,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, profile)
}

// ListProfiles lists a workflow group's profiles in chain order.
func (h *HTTPHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("workflow_group")
	activeOnly := r.URL.Query().Get("active_only") == "true"

	profiles, err := h.profiles.ListProfiles(r.Context(), group, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profiles)
}

type assignUserRequest struct {
	ProfileID string  `json:"profile_id"`
	UserID    string  `json:"user_id"`
	SiteID    *string `json:"site_id"`
}

// AssignProfileUser maps a user to a profile.
func (h *HTTPHandler) AssignProfileUser(w http.ResponseWriter, r *http.Request) {
	var req assignUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	mapping, err := h.profiles.AssignUser(r.Context(), req.ProfileID, req.UserID, req.SiteID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mapping)
}

// RemoveProfileUser deletes a profile-user mapping.
func (h *HTTPHandler) RemoveProfileUser(w http.ResponseWriter, r *http.Request) {
	profileID := r.URL.Query().Get("profile_id")
	userID := r.URL.Query().Get("user_id")
	if profileID == "" || userID == "" {
		http.Error(w, "Profile ID and User ID are required", http.StatusBadRequest)
		return
	}

	if err := h.profiles.RemoveUser(r.Context(), profileID, userID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Response helpers ─────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps service error codes to HTTP status codes.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeValidation:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict, errors.ErrCodeState:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeConcurrency:
		status = http.StatusLocked
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.Code(err)),
		"error": err.Error(),
	})
}
