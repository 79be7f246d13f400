package api

import (
	"net/http"

	"github.com/Priya8975/webhook-inbox/internal/store"
)

// ClientCounter reports live websocket clients.
type ClientCounter interface {
	ClientCount() int
}

type StatsHandler struct {
	store store.Store
	hub   ClientCounter
}

func NewStatsHandler(s store.Store, hub ClientCounter) *StatsHandler {
	return &StatsHandler{store: s, hub: hub}
}

// Stats returns aggregate counters for the dashboard.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	clients := 0
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}

	type statsResponse struct {
		store.Stats
		WebSocketClients int `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, statsResponse{
		Stats:            *stats,
		WebSocketClients: clients,
	})
}
