package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/webhook-inbox/internal/domain"
	"github.com/Priya8975/webhook-inbox/internal/store"
)

type EventHandler struct {
	store store.Store
}

func NewEventHandler(s store.Store) *EventHandler {
	return &EventHandler{store: s}
}

type eventListItem struct {
	ID              string                 `json:"id"`
	Source          string                 `json:"source"`
	Status          domain.EventStatus     `json:"status"`
	SignatureStatus domain.SignatureStatus `json:"signatureStatus"`
	ReceivedAt      time.Time              `json:"receivedAt"`
}

type eventListResponse struct {
	Items    []eventListItem `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

type attemptItem struct {
	ID            string     `json:"id"`
	EndpointID    string     `json:"endpointId"`
	EndpointURL   string     `json:"endpointUrl"`
	Try           int        `json:"try"`
	SentAt        time.Time  `json:"sentAt"`
	ResponseCode  *int       `json:"responseCode"`
	Success       bool       `json:"success"`
	ResponseBody  *string    `json:"responseBody"`
	NextAttemptAt *time.Time `json:"nextAttemptAt"`
	DurationMs    int64      `json:"durationMs"`
}

type eventDetail struct {
	eventListItem
	NextAttemptAt *time.Time          `json:"nextAttemptAt"`
	Headers       map[string][]string `json:"headers"`
	Payload       string              `json:"payload"`
	PayloadIsJSON bool                `json:"payloadIsJson"`
	Attempts      []attemptItem       `json:"attempts"`
}

var validStatuses = map[domain.EventStatus]bool{
	domain.EventNew:        true,
	domain.EventDispatched: true,
	domain.EventFailed:     true,
	domain.EventDeadLetter: true,
}

// List handles GET /api/events?page&pageSize&source&status.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.EventFilter{
		Source: q.Get("source"),
		Status: domain.EventStatus(q.Get("status")),
	}
	if f.Status != "" && !validStatuses[f.Status] {
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid page")
			return
		}
		f.Page = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
		f.PageSize = n
	}
	f = f.Normalize()

	events, total, err := h.store.ListEvents(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	items := make([]eventListItem, 0, len(events))
	for i := range events {
		items = append(items, toListItem(&events[i]))
	}

	respondJSON(w, http.StatusOK, eventListResponse{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	})
}

// Get handles GET /api/events/{id}.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	attempts, err := h.store.ListAttempts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	urls := make(map[string]string)
	items := make([]attemptItem, 0, len(attempts))
	for _, a := range attempts {
		url, seen := urls[a.EndpointID]
		if !seen {
			ep, err := h.store.GetEndpoint(r.Context(), a.EndpointID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusInternalServerError, "failed to get endpoint")
				return
			}
			if ep != nil {
				url = ep.URL
			}
			urls[a.EndpointID] = url
		}

		items = append(items, attemptItem{
			ID:            a.ID,
			EndpointID:    a.EndpointID,
			EndpointURL:   url,
			Try:           a.Try,
			SentAt:        a.SentAt,
			ResponseCode:  a.ResponseCode,
			Success:       a.Success,
			ResponseBody:  a.ResponseBody,
			NextAttemptAt: a.NextAttemptAt,
			DurationMs:    a.DurationMs,
		})
	}

	headers := map[string][]string(event.Headers)
	if headers == nil {
		headers = map[string][]string{}
	}

	respondJSON(w, http.StatusOK, eventDetail{
		eventListItem: toListItem(event),
		NextAttemptAt: event.NextAttemptAt,
		Headers:       headers,
		Payload:       string(event.Payload),
		PayloadIsJSON: json.Valid(event.Payload),
		Attempts:      items,
	})
}

func toListItem(e *domain.Event) eventListItem {
	return eventListItem{
		ID:              e.ID,
		Source:          e.Source,
		Status:          e.Status,
		SignatureStatus: e.SignatureStatus,
		ReceivedAt:      e.ReceivedAt,
	}
}
