package store

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

var baseTime = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func newEvent(source string, receivedAt time.Time) *domain.Event {
	return &domain.Event{
		ID:         uuid.NewString(),
		Source:     source,
		ReceivedAt: receivedAt,
		Headers: http.Header{
			"Content-Type":    {"application/json"},
			"X-Custom":        {"a", "b"},
			"Idempotency-Key": {gofakeit.UUID()},
		},
		Payload:         []byte(`{"id":"` + gofakeit.UUID() + `"}`),
		SignatureStatus: domain.SignatureVerified,
		Status:          domain.EventNew,
	}
}

func ptr[T any](v T) *T { return &v }

// runStoreSuite exercises the behaviour every Store backend must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("event round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		e := newEvent("github", baseTime)
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Greater(t, e.Seq, int64(0))

		got, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.Seq, got.Seq)
		assert.Equal(t, "github", got.Source)
		assert.True(t, e.ReceivedAt.Equal(got.ReceivedAt))
		assert.Equal(t, e.Payload, got.Payload)
		assert.Equal(t, []string{"a", "b"}, got.Headers.Values("x-custom"))
		assert.Equal(t, domain.SignatureVerified, got.SignatureStatus)
		assert.Equal(t, domain.EventNew, got.Status)
		assert.Nil(t, got.NextAttemptAt)

		_, err = s.GetEvent(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("list events pages and filters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendEvent(ctx, newEvent("github", baseTime.Add(time.Duration(i)*time.Minute))))
		}
		require.NoError(t, s.AppendEvent(ctx, newEvent("stripe", baseTime)))

		all, total, err := s.ListEvents(ctx, EventFilter{Page: 1, PageSize: 4})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
		assert.Len(t, all, 4)
		assert.True(t, all[0].ReceivedAt.Equal(baseTime.Add(4*time.Minute)), "newest first")

		page2, _, err := s.ListEvents(ctx, EventFilter{Page: 2, PageSize: 4})
		require.NoError(t, err)
		assert.Len(t, page2, 2)

		stripe, total, err := s.ListEvents(ctx, EventFilter{Source: "stripe"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, stripe, 1)
		assert.Equal(t, "stripe", stripe[0].Source)

		failed, total, err := s.ListEvents(ctx, EventFilter{Status: domain.EventFailed})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, failed)
	})

	t.Run("due events honour status and schedule", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first := newEvent("github", baseTime)
		second := newEvent("github", baseTime)
		later := newEvent("github", baseTime)
		done := newEvent("github", baseTime)
		for _, e := range []*domain.Event{first, second, later, done} {
			require.NoError(t, s.AppendEvent(ctx, e))
		}

		require.NoError(t, s.UpdateEventStatus(ctx, second.ID, domain.EventFailed, ptr(baseTime.Add(10*time.Second))))
		require.NoError(t, s.UpdateEventStatus(ctx, later.ID, domain.EventFailed, ptr(baseTime.Add(time.Hour))))
		require.NoError(t, s.UpdateEventStatus(ctx, done.ID, domain.EventDispatched, nil))

		due, err := s.DueEvents(ctx, baseTime.Add(10*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, first.ID, due[0].ID)
		assert.Equal(t, second.ID, due[1].ID)

		due, err = s.DueEvents(ctx, baseTime.Add(10*time.Second), 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, first.ID, due[0].ID)

		due, err = s.DueEvents(ctx, baseTime.Add(2*time.Hour), 10)
		require.NoError(t, err)
		assert.Len(t, due, 3)

		err = s.UpdateEventStatus(ctx, uuid.NewString(), domain.EventFailed, nil)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("endpoints", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		ep, err := s.CreateEndpoint(ctx, domain.CreateEndpointRequest{URL: "http://a.test/hook", Secret: "s3cret"})
		require.NoError(t, err)
		assert.NotEmpty(t, ep.ID)
		assert.True(t, ep.IsActive)
		assert.Equal(t, "s3cret", ep.Secret)
		assert.Nil(t, ep.RateLimitPerMinute)

		other, err := s.CreateEndpoint(ctx, domain.CreateEndpointRequest{URL: "http://b.test/hook", RateLimitPerMinute: ptr(30)})
		require.NoError(t, err)
		require.NotNil(t, other.RateLimitPerMinute)
		assert.Equal(t, 30, *other.RateLimitPerMinute)

		updated, err := s.UpdateEndpoint(ctx, other.ID, domain.UpdateEndpointRequest{IsActive: ptr(false), RateLimitPerMinute: ptr(0)})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
		assert.Nil(t, updated.RateLimitPerMinute)

		active, err := s.ListEndpoints(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, ep.ID, active[0].ID)

		all, err := s.ListEndpoints(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		unchanged, err := s.UpdateEndpoint(ctx, ep.ID, domain.UpdateEndpointRequest{})
		require.NoError(t, err)
		assert.Equal(t, ep.URL, unchanged.URL)

		_, err = s.UpdateEndpoint(ctx, uuid.NewString(), domain.UpdateEndpointRequest{URL: ptr("http://x")})
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = s.GetEndpoint(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("attempts are unique per pair and try", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		e := newEvent("github", baseTime)
		require.NoError(t, s.AppendEvent(ctx, e))
		ep1, err := s.CreateEndpoint(ctx, domain.CreateEndpointRequest{URL: "http://a.test"})
		require.NoError(t, err)
		ep2, err := s.CreateEndpoint(ctx, domain.CreateEndpointRequest{URL: "http://b.test"})
		require.NoError(t, err)

		body := "upstream down"
		require.NoError(t, s.AppendAttempt(ctx, &domain.DeliveryAttempt{
			EventID: e.ID, EndpointID: ep1.ID, Try: 1, SentAt: baseTime,
			ResponseCode: ptr(503), ResponseBody: &body, NextAttemptAt: ptr(baseTime.Add(5 * time.Second)), DurationMs: 12,
		}))
		require.NoError(t, s.AppendAttempt(ctx, &domain.DeliveryAttempt{
			EventID: e.ID, EndpointID: ep1.ID, Try: 2, SentAt: baseTime.Add(5 * time.Second),
			ResponseCode: ptr(200), Success: true, DurationMs: 8,
		}))
		require.NoError(t, s.AppendAttempt(ctx, &domain.DeliveryAttempt{
			EventID: e.ID, EndpointID: ep2.ID, Try: 1, SentAt: baseTime,
		}))

		err = s.AppendAttempt(ctx, &domain.DeliveryAttempt{EventID: e.ID, EndpointID: ep1.ID, Try: 2, SentAt: baseTime})
		assert.True(t, errors.Is(err, ErrDuplicateAttempt), "got %v", err)

		latest, err := s.LatestAttempts(ctx, []string{e.ID})
		require.NoError(t, err)
		require.Len(t, latest, 2)

		a1 := latest[domain.PairKey{EventID: e.ID, EndpointID: ep1.ID}]
		assert.Equal(t, 2, a1.Try)
		assert.True(t, a1.Success)
		require.NotNil(t, a1.ResponseCode)
		assert.Equal(t, 200, *a1.ResponseCode)
		assert.Nil(t, a1.NextAttemptAt)

		a2 := latest[domain.PairKey{EventID: e.ID, EndpointID: ep2.ID}]
		assert.Equal(t, 1, a2.Try)
		assert.Nil(t, a2.ResponseCode)
		assert.Nil(t, a2.ResponseBody)

		history, err := s.ListAttempts(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		var failedTry *domain.DeliveryAttempt
		for i := range history {
			if history[i].EndpointID == ep1.ID && history[i].Try == 1 {
				failedTry = &history[i]
			}
		}
		require.NotNil(t, failedTry)
		require.NotNil(t, failedTry.ResponseBody)
		assert.Equal(t, body, *failedTry.ResponseBody)
		require.NotNil(t, failedTry.NextAttemptAt)
		assert.True(t, failedTry.NextAttemptAt.Equal(baseTime.Add(5*time.Second)))

		empty, err := s.LatestAttempts(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)

		one, err := s.LatestAttempt(ctx, e.ID, ep1.ID)
		require.NoError(t, err)
		require.NotNil(t, one)
		assert.Equal(t, 2, one.Try)
		assert.True(t, one.Success)

		ep3, err := s.CreateEndpoint(ctx, domain.CreateEndpointRequest{URL: "http://never.test"})
		require.NoError(t, err)
		none, err := s.LatestAttempt(ctx, e.ID, ep3.ID)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("stats", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		e := newEvent("github", baseTime)
		require.NoError(t, s.AppendEvent(ctx, e))
		require.NoError(t, s.AppendEvent(ctx, newEvent("github", baseTime)))
		require.NoError(t, s.UpdateEventStatus(ctx, e.ID, domain.EventDispatched, nil))

		ep, err := s.CreateEndpoint(ctx, domain.CreateEndpointRequest{URL: "http://a.test"})
		require.NoError(t, err)
		require.NoError(t, s.AppendAttempt(ctx, &domain.DeliveryAttempt{EventID: e.ID, EndpointID: ep.ID, Try: 1, SentAt: baseTime, DurationMs: 10}))
		require.NoError(t, s.AppendAttempt(ctx, &domain.DeliveryAttempt{EventID: e.ID, EndpointID: ep.ID, Try: 2, SentAt: baseTime, Success: true, DurationMs: 30}))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.TotalEvents)
		assert.Equal(t, 1, st.NewEvents)
		assert.Equal(t, 1, st.DispatchedEvents)
		assert.Equal(t, 2, st.TotalAttempts)
		assert.Equal(t, 1, st.SuccessfulAttempts)
		assert.Equal(t, 1, st.FailedAttempts)
		assert.InDelta(t, 50.0, st.SuccessRate, 0.001)
		assert.InDelta(t, 20.0, st.AvgDurationMs, 0.001)
		assert.Equal(t, 1, st.ActiveEndpoints)
	})

	t.Run("migrate is idempotent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Migrate(context.Background()))
		require.NoError(t, s.Ping(context.Background()))
	})
}
