package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Priya8975/webhook-inbox/internal/admission"
	"github.com/Priya8975/webhook-inbox/internal/domain"
	"github.com/Priya8975/webhook-inbox/internal/idempotency"
	"github.com/Priya8975/webhook-inbox/internal/logging"
	"github.com/Priya8975/webhook-inbox/internal/metrics"
	"github.com/Priya8975/webhook-inbox/internal/signature"
	"github.com/Priya8975/webhook-inbox/internal/store"
)

const DefaultMaxBodyBytes = 1 << 20

// InboxHandler admits inbound webhook calls.
type InboxHandler struct {
	store        store.Store
	verifier     *signature.Verifier
	gate         *idempotency.Gate
	limiter      *admission.Limiter
	recorder     metrics.Recorder
	maxBodyBytes int64
	logger       *slog.Logger
	now          func() time.Time
}

func NewInboxHandler(s store.Store, v *signature.Verifier, g *idempotency.Gate, l *admission.Limiter, rec metrics.Recorder, maxBodyBytes int64, logger *slog.Logger) *InboxHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &InboxHandler{
		store:        s,
		verifier:     v,
		gate:         g,
		limiter:      l,
		recorder:     rec,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
		now:          time.Now,
	}
}

type receiveResponse struct {
	EventID   string `json:"eventId"`
	Duplicate bool   `json:"duplicate"`
}

// Receive handles POST /api/inbox/{source}.
func (h *InboxHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "source")))
	if source == "" {
		h.recorder.EventReceived(metrics.OutcomeRejected)
		respondError(w, http.StatusBadRequest, "source is required")
		return
	}
	logger := logging.WithRequest(ctx, h.logger).With("source", source)

	decision, _ := h.limiter.Admit(ctx, source)
	if !decision.Allowed {
		h.recorder.RateLimited(h.metricSource(source))
		h.recorder.EventReceived(metrics.OutcomeLimited)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.recorder.EventReceived(metrics.OutcomeRejected)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ok, reason := h.verifier.Verify(source, r.Header, payload)
	if !ok {
		logger.Warn("signature rejected", "reason", reason)
		h.recorder.SignatureFailure(h.metricSource(source))
		h.recorder.EventReceived(metrics.OutcomeRejected)
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	sigStatus := domain.SignatureNone
	if signature.Verified(ok, reason) {
		sigStatus = domain.SignatureVerified
	}

	candidate := uuid.NewString()
	created, eventID, err := h.gate.Admit(ctx, source, r.Header, payload, candidate)
	if err != nil {
		logger.Error("idempotency check failed", "error", err)
		h.recorder.EventReceived(metrics.OutcomeError)
		respondError(w, http.StatusInternalServerError, "failed to admit event")
		return
	}
	if !created {
		logger.Info("duplicate event", "event_id", eventID)
		h.recorder.IdempotentHit(h.metricSource(source))
		h.recorder.EventReceived(metrics.OutcomeDuplicate)
		respondJSON(w, http.StatusOK, receiveResponse{EventID: eventID, Duplicate: true})
		return
	}

	event := &domain.Event{
		ID:              eventID,
		Source:          source,
		ReceivedAt:      h.now().UTC(),
		Headers:         r.Header.Clone(),
		Payload:         payload,
		SignatureStatus: sigStatus,
		Status:          domain.EventNew,
	}
	if err := h.store.AppendEvent(ctx, event); err != nil {
		logger.Error("failed to store event", "event_id", eventID, "error", err)
		if relErr := h.gate.Release(ctx, source, r.Header, payload, eventID); relErr != nil {
			logger.Error("failed to release idempotency key", "event_id", eventID, "error", relErr)
		}
		h.recorder.EventReceived(metrics.OutcomeError)
		respondError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	logger.Info("event accepted", "event_id", eventID, "signature_status", sigStatus, "bytes", len(payload))
	h.recorder.EventReceived(metrics.OutcomeIngested)
	w.Header().Set("Location", "/api/events/"+eventID)
	respondJSON(w, http.StatusAccepted, receiveResponse{EventID: eventID})
}

// metricSource bounds label cardinality to configured sources.
func (h *InboxHandler) metricSource(source string) string {
	if h.limiter.Configured(source) || h.verifier.Configured(source) {
		return source
	}
	return metrics.OtherSource
}
