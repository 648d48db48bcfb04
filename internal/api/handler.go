// Package api exposes the stores lifecycle over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudshelf/store-provisioner/internal/httpserver"
	"github.com/cloudshelf/store-provisioner/internal/lifecycle"
	"github.com/cloudshelf/store-provisioner/internal/store"
)

// Handler provides HTTP handlers for the stores API.
type Handler struct {
	logger *slog.Logger
	api    *lifecycle.API
}

// NewHandler creates a stores Handler backed by the given lifecycle API.
func NewHandler(logger *slog.Logger, api *lifecycle.API) *Handler {
	return &Handler{logger: logger, api: api}
}

// Routes returns a chi.Router with all stores routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Get("/stores", h.handleList)
	r.Post("/stores", h.handleCreate)
	r.Get("/stores/{id}", h.handleGet)
	r.Delete("/stores/{id}", h.handleDelete)
	return r
}

// CreateStoreRequest is the POST /stores request body.
type CreateStoreRequest struct {
	Name          string `json:"name" validate:"required"`
	Engine        string `json:"engine" validate:"required"`
	AdminUsername string `json:"admin_username" validate:"required"`
	AdminPassword string `json:"admin_password" validate:"required"`
	AdminEmail    string `json:"admin_email" validate:"required,email"`
}

// StoreResponse is the JSON shape returned for a store. Defined separately
// from store.Store so secrets (db passwords, admin password) never reach
// the wire.
type StoreResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Engine        string     `json:"engine"`
	Namespace     string     `json:"namespace"`
	HelmRelease   string     `json:"helm_release"`
	Status        string     `json:"status"`
	StoreURL      *string    `json:"store_url,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	AdminUsername string     `json:"admin_username"`
	AdminEmail    string     `json:"admin_email"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toStoreResponse(s *store.Store) StoreResponse {
	return StoreResponse{
		ID:            s.ID,
		Name:          s.Name,
		Engine:        s.Engine,
		Namespace:     s.Namespace,
		HelmRelease:   s.Release,
		Status:        string(s.Status),
		StoreURL:      s.StoreURL,
		FailureReason: s.FailureReason,
		AdminUsername: s.AdminUsername,
		AdminEmail:    s.AdminEmail,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "store-provisioning-backend",
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateStoreRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	s, err := h.api.CreateStore(r.Context(), lifecycle.CreateParams{
		Name:          req.Name,
		Engine:        req.Engine,
		AdminUsername: req.AdminUsername,
		AdminPassword: req.AdminPassword,
		AdminEmail:    req.AdminEmail,
	})
	if err != nil {
		h.respondCreateError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusAccepted, toStoreResponse(s))
}

func (h *Handler) respondCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, lifecycle.ErrConflict):
		httpserver.RespondError(w, http.StatusBadRequest, "conflict", err.Error())
	default:
		h.logger.Error("creating store", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create store")
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	stores, err := h.api.ListStores(r.Context())
	if err != nil {
		h.logger.Error("listing stores", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list stores")
		return
	}

	items := make([]StoreResponse, 0, len(stores))
	for _, s := range stores {
		items = append(items, toStoreResponse(s))
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"stores": items,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.api.GetStore(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "store not found")
			return
		}
		h.logger.Error("getting store", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get store")
		return
	}

	httpserver.Respond(w, http.StatusOK, toStoreResponse(s))
}

// deleteResponse is the DELETE /stores/{id} success envelope per spec.
type deleteResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.api.DeleteStore(r.Context(), id)
	if err != nil {
		h.respondDeleteError(w, err, id)
		return
	}

	httpserver.Respond(w, http.StatusOK, deleteResponse{
		ID:      s.ID,
		Status:  string(s.Status),
		Message: "store deleted",
	})
}

func (h *Handler) respondDeleteError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "store not found")
	case errors.Is(err, lifecycle.ErrInvalidState):
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		h.logger.Error("deleting store", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
