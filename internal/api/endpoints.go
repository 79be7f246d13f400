package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/webhook-inbox/internal/delivery"
	"github.com/Priya8975/webhook-inbox/internal/domain"
	"github.com/Priya8975/webhook-inbox/internal/store"
)

type EndpointHandler struct {
	store          store.Store
	circuitBreaker delivery.Breaker
}

// NewEndpointHandler creates the endpoint management handler. cb may be nil
// when circuit breaking is disabled.
func NewEndpointHandler(s store.Store, cb delivery.Breaker) *EndpointHandler {
	return &EndpointHandler{store: s, circuitBreaker: cb}
}

func validEndpointURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !validEndpointURL(req.URL) {
		respondError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if req.RateLimitPerMinute != nil && *req.RateLimitPerMinute < 0 {
		respondError(w, http.StatusBadRequest, "rate_limit_per_minute must not be negative")
		return
	}

	ep, err := h.store.CreateEndpoint(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	respondJSON(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	endpoints, err := h.store.ListEndpoints(r.Context(), activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}

	respondJSON(w, http.StatusOK, endpoints)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL != nil && !validEndpointURL(*req.URL) {
		respondError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if req.RateLimitPerMinute != nil && *req.RateLimitPerMinute < 0 {
		respondError(w, http.StatusBadRequest, "rate_limit_per_minute must not be negative")
		return
	}

	ep, err := h.store.UpdateEndpoint(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}

	respondJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Health(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.lookup(w, r)
	if !ok {
		return
	}

	cbState := delivery.CircuitState{State: delivery.StateClosed}
	if h.circuitBreaker != nil {
		cbState = h.circuitBreaker.GetState(r.Context(), ep.ID)
	}

	type healthResponse struct {
		EndpointID     string                `json:"endpoint_id"`
		URL            string                `json:"url"`
		IsActive       bool                  `json:"is_active"`
		CircuitBreaker delivery.CircuitState `json:"circuit_breaker"`
	}

	respondJSON(w, http.StatusOK, healthResponse{
		EndpointID:     ep.ID,
		URL:            ep.URL,
		IsActive:       ep.IsActive,
		CircuitBreaker: cbState,
	})
}

func (h *EndpointHandler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Endpoint, bool) {
	ep, err := h.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "endpoint not found")
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "failed to get endpoint")
		return nil, false
	}
	return ep, true
}
