package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, publishCall{subject: subject, data: data})
	return &jetstream.PubAck{Stream: "WEBHOOKINBOX_DEADLETTER", Sequence: uint64(len(f.calls))}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestJetStream_DeadLettered(t *testing.T) {
	pub := &fakePublisher{}
	j := newJetStream(nil, pub, "webhookinbox.deadletter", testLogger())

	code := 503
	dl := DeadLetter{
		EventID:      "evt-1",
		Source:       "github",
		EndpointID:   "ep-1",
		EndpointURL:  "http://example.test/hook",
		Tries:        6,
		ResponseCode: &code,
		DeadAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, j.DeadLettered(context.Background(), dl))

	require.Len(t, pub.calls, 1)
	assert.Equal(t, "webhookinbox.deadletter.github", pub.calls[0].subject)

	var got DeadLetter
	require.NoError(t, json.Unmarshal(pub.calls[0].data, &got))
	assert.Equal(t, dl.EventID, got.EventID)
	assert.Equal(t, 6, got.Tries)
	assert.Equal(t, 503, *got.ResponseCode)
	assert.Equal(t, uint64(1), j.Published())

	j.Close()
}

func TestJetStream_PublishError(t *testing.T) {
	j := newJetStream(nil, &fakePublisher{err: errors.New("no responders")}, "dl", testLogger())
	err := j.DeadLettered(context.Background(), DeadLetter{EventID: "e", Source: "s"})
	assert.Error(t, err)
	assert.Equal(t, uint64(0), j.Published())
}

func TestSubjectNaming(t *testing.T) {
	assert.Equal(t, "WEBHOOKINBOX_DEADLETTER", StreamName("webhookinbox.deadletter"))
	assert.Equal(t, "my_source", subjectToken("my.source"))
	assert.Equal(t, "unknown", subjectToken("  "))
}
