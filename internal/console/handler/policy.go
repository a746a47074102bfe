package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	consoledomain "github.com/xela07ax/webhook-gate/internal/console/domain"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

type PolicyManager interface {
	GetByID(ctx context.Context, id string) (*domain.RepoPolicy, error)
	GetAll(ctx context.Context) ([]domain.RepoPolicy, error)
	Create(ctx context.Context, p *domain.RepoPolicy) error
	Update(ctx context.Context, p *domain.RepoPolicy) error
	Delete(ctx context.Context, id string) error
}

type PolicyHandler struct {
	service PolicyManager
	logger  *zap.Logger
}

func NewPolicyHandler(s PolicyManager, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{service: s, logger: logger}
}

// Get: GET /v1/policies/{id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	policy, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	if policy == nil {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// List: GET /v1/policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.GetAll(r.Context())
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

// Create: POST /v1/policies. repository "*" задает глобальную политику.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePolicy(w, r)
	if !ok {
		return
	}

	p := req.ToRepoPolicy("")
	if err := h.service.Create(r.Context(), p); err != nil {
		h.fail(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Update: PUT /v1/policies/{id}
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePolicy(w, r)
	if !ok {
		return
	}

	if err := h.service.Update(r.Context(), req.ToRepoPolicy(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete: DELETE /v1/policies/{id}
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodePolicy(w http.ResponseWriter, r *http.Request) (consoledomain.PolicyRequest, bool) {
	var req consoledomain.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "validation failed", errs...)
		return req, false
	}
	return req, true
}

func (h *PolicyHandler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	h.logger.Error("policy operation failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
