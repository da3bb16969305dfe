// Package handler содержит HTTP-обработчики API сервиса распределения лидов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/leadmatch/internal/apperr"
	"github.com/mmeshcher/leadmatch/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Recommend(ctx context.Context, lead model.LeadDescriptor, limit int) ([]model.Recommendation, error)
	Assign(ctx context.Context, orderID, submissionID, agentID string) (*model.AssignmentResult, error)
	CreateOrder(ctx context.Context, d model.OrderDraft) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, model.OrderStatus, error)
	ListAssignments(ctx context.Context, orderID string) ([]model.Assignment, error)
}

// AttorneyDirectory возвращает отображаемое имя адвоката.
type AttorneyDirectory interface {
	LabelFor(attorneyID string) string
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service   Service
	attorneys AttorneyDirectory
	logger    *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// attorneys может быть nil: тогда вместо имени отдаётся идентификатор адвоката.
func NewHandler(s Service, attorneys AttorneyDirectory, logger *zap.Logger) *Handler {
	return &Handler{
		service:   s,
		attorneys: attorneys,
		logger:    logger,
	}
}

type errorResponse struct {
	ErrorKind string `json:"errorKind"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
}

func newErrorResponse(err error) *errorResponse {
	return &errorResponse{
		ErrorKind: apperr.Kind(err),
		Reason:    apperr.ReasonCode(err),
		Message:   err.Error(),
	}
}

// statusFor сопоставляет вид ошибки с HTTP-статусом.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("unexpected error", zap.Error(err))
		h.writeJSON(w, status, &errorResponse{
			ErrorKind: apperr.Kind(err),
			Message:   http.StatusText(status),
		})
		return
	}
	h.writeJSON(w, status, newErrorResponse(err))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, apperr.Validation("malformed request body: %v", err))
		return false
	}
	return true
}

type leadRequest struct {
	SubmissionID string            `json:"submissionId"`
	LeadID       string            `json:"leadId"`
	State        string            `json:"state"`
	CaseType     string            `json:"caseType"`
	CaseSubtype  string            `json:"caseSubtype"`
	Attributes   map[string]string `json:"attributes"`
}

type recommendRequest struct {
	Lead  leadRequest `json:"lead"`
	Limit int         `json:"limit"`
}

type recommendationResponse struct {
	OrderID       string    `json:"orderId"`
	AttorneyID    string    `json:"attorneyId"`
	AttorneyLabel string    `json:"attorneyLabel"`
	ExpiresAt     time.Time `json:"expiresAt"`
	QuotaTotal    int       `json:"quotaTotal"`
	QuotaFilled   int       `json:"quotaFilled"`
	Remaining     int       `json:"remaining"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons"`
}

type recommendResponse struct {
	Recommendations []recommendationResponse `json:"recommendations"`
	Error           *errorResponse           `json:"error"`
}

// Recommend возвращает упорядоченный список подходящих заявок для лида.
// Ошибки хранилища не прерывают ответ: список пуст, ошибка передаётся в поле error.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !h.decode(w, r, &req) {
		return
	}

	lead := model.LeadDescriptor{
		SubmissionID: req.Lead.SubmissionID,
		LeadID:       req.Lead.LeadID,
		State:        req.Lead.State,
		CaseType:     req.Lead.CaseType,
		CaseSubtype:  req.Lead.CaseSubtype,
		Attributes:   req.Lead.Attributes,
	}

	recs, err := h.service.Recommend(r.Context(), lead, req.Limit)
	if errors.Is(err, apperr.ErrValidation) {
		h.writeError(w, err)
		return
	}

	resp := recommendResponse{
		Recommendations: make([]recommendationResponse, 0, len(recs)),
	}
	if err != nil {
		h.logger.Warn("recommendations degraded", zap.Error(err), zap.String("submissionID", lead.SubmissionID))
		resp.Error = newErrorResponse(err)
	}

	for _, rec := range recs {
		resp.Recommendations = append(resp.Recommendations, recommendationResponse{
			OrderID:       rec.OrderID,
			AttorneyID:    rec.AttorneyID,
			AttorneyLabel: h.attorneyLabel(rec.AttorneyID),
			ExpiresAt:     rec.ExpiresAt,
			QuotaTotal:    rec.QuotaTotal,
			QuotaFilled:   rec.QuotaFilled,
			Remaining:     rec.Remaining,
			Score:         rec.Score,
			Reasons:       rec.Reasons,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) attorneyLabel(id string) string {
	if h.attorneys == nil {
		return id
	}
	return h.attorneys.LabelFor(id)
}

type assignRequest struct {
	SubmissionID string `json:"submissionId"`
	AgentID      string `json:"agentId"`
}

type assignResponse struct {
	OrderID    string    `json:"orderId"`
	LeadID     string    `json:"leadId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Assign закрепляет лид за заявкой orderID.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Assign(r.Context(), orderID, req.SubmissionID, req.AgentID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, assignResponse{
		OrderID:    res.OrderID,
		LeadID:     res.LeadID,
		AssignedAt: res.AssignedAt,
	})
}

type createOrderRequest struct {
	ID           string    `json:"id"`
	AttorneyID   string    `json:"attorneyId"`
	TargetStates []string  `json:"targetStates"`
	CaseType     string    `json:"caseType"`
	CaseSubtype  string    `json:"caseSubtype"`
	QuotaTotal   int       `json:"quotaTotal"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type orderResponse struct {
	ID              string    `json:"id"`
	AttorneyID      string    `json:"attorneyId"`
	AttorneyLabel   string    `json:"attorneyLabel"`
	TargetStates    []string  `json:"targetStates"`
	CaseType        string    `json:"caseType"`
	CaseSubtype     string    `json:"caseSubtype,omitempty"`
	QuotaTotal      int       `json:"quotaTotal"`
	QuotaFilled     int       `json:"quotaFilled"`
	Remaining       int       `json:"remaining"`
	Status          string    `json:"status"`
	EffectiveStatus string    `json:"effectiveStatus"`
	ExpiresAt       time.Time `json:"expiresAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (h *Handler) orderResponse(o *model.Order, effective model.OrderStatus) orderResponse {
	return orderResponse{
		ID:              o.ID,
		AttorneyID:      o.AttorneyID,
		AttorneyLabel:   h.attorneyLabel(o.AttorneyID),
		TargetStates:    o.TargetStates,
		CaseType:        o.CaseType,
		CaseSubtype:     o.CaseSubtype,
		QuotaTotal:      o.QuotaTotal,
		QuotaFilled:     o.QuotaFilled,
		Remaining:       o.Remaining(),
		Status:          string(o.Status),
		EffectiveStatus: string(effective),
		ExpiresAt:       o.ExpiresAt,
		CreatedAt:       o.CreatedAt,
	}
}

// CreateOrder создаёт новую заявку адвоката.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := h.service.CreateOrder(r.Context(), model.OrderDraft{
		ID:           req.ID,
		AttorneyID:   req.AttorneyID,
		TargetStates: req.TargetStates,
		CaseType:     req.CaseType,
		CaseSubtype:  req.CaseSubtype,
		QuotaTotal:   req.QuotaTotal,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, h.orderResponse(o, o.Status))
}

// GetOrder возвращает заявку вместе с фактическим статусом.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	o, effective, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.orderResponse(o, effective))
}

type assignmentResponse struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"orderId"`
	LeadID       string    `json:"leadId"`
	AgentID      string    `json:"agentId"`
	SubmissionID string    `json:"submissionId"`
	AssignedAt   time.Time `json:"assignedAt"`
}

// ListAssignments возвращает журнал закреплений по заявке.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	assignments, err := h.service.ListAssignments(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp = append(resp, assignmentResponse{
			ID:           a.ID,
			OrderID:      a.OrderID,
			LeadID:       a.LeadID,
			AgentID:      a.AgentID,
			SubmissionID: a.SubmissionID,
			AssignedAt:   a.AssignedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}
