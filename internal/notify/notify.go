// Package notify publishes dead-lettered deliveries to interested systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DeadLetter describes one (event, endpoint) pair that exhausted its retries.
type DeadLetter struct {
	EventID      string    `json:"event_id"`
	Source       string    `json:"source"`
	EndpointID   string    `json:"endpoint_id"`
	EndpointURL  string    `json:"endpoint_url"`
	Tries        int       `json:"tries"`
	ResponseCode *int      `json:"response_code,omitempty"`
	DeadAt       time.Time `json:"dead_at"`
}

type Notifier interface {
	DeadLettered(ctx context.Context, dl DeadLetter) error
}

type Nop struct{}

func (Nop) DeadLettered(context.Context, DeadLetter) error { return nil }

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStream publishes dead letters to "<subject>.<source>" on a stream that
// captures "<subject>.>".
type JetStream struct {
	conn      *nats.Conn
	js        publisher
	subject   string
	logger    *slog.Logger
	published atomic.Uint64
}

// StreamName derives the stream name from the base subject.
func StreamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject))
}

// NewJetStream connects to url and ensures the dead-letter stream exists.
func NewJetStream(ctx context.Context, url, subject string, logger *slog.Logger) (*JetStream, error) {
	conn, err := nats.Connect(url,
		nats.Name("webhookinbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName(subject),
		Subjects:  []string{subject + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating dead-letter stream: %w", err)
	}

	logger.Info("dead-letter stream ready", "stream", StreamName(subject), "subject", subject)
	return newJetStream(conn, js, subject, logger), nil
}

func newJetStream(conn *nats.Conn, js publisher, subject string, logger *slog.Logger) *JetStream {
	return &JetStream{conn: conn, js: js, subject: subject, logger: logger}
}

func (j *JetStream) DeadLettered(ctx context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshalling dead letter: %w", err)
	}

	subject := j.subject + "." + subjectToken(dl.Source)
	if _, err := j.js.Publish(ctx, subject, data, jetstream.WithMsgID(dl.EventID+":"+dl.EndpointID)); err != nil {
		return fmt.Errorf("publishing dead letter: %w", err)
	}

	j.published.Add(1)
	j.logger.Debug("dead letter published", "subject", subject, "event_id", dl.EventID, "endpoint_id", dl.EndpointID)
	return nil
}

// Published is the number of dead letters published by this process.
func (j *JetStream) Published() uint64 { return j.published.Load() }

func (j *JetStream) Close() {
	if j.conn != nil {
		j.conn.Close()
	}
}

func subjectToken(s string) string {
	s = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
