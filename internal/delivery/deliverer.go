package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

// Transport failure kinds recorded as "exception:<kind>".
const (
	KindTimeout           = "timeout"
	KindCanceled          = "canceled"
	KindDNS               = "dns"
	KindConnectionRefused = "connection_refused"
	KindTransport         = "transport"
	KindRequest           = "request"
)

const inlineBaseDelay = 100 * time.Millisecond

// Result is the outcome of one logical attempt, inline retries included.
type Result struct {
	StatusCode *int
	Body       string
	Success    bool
	Duration   time.Duration
	// ErrorKind is set when no HTTP response was received.
	ErrorKind string
	Err       error
}

// ResponseBody is the text stored on the attempt row.
func (r Result) ResponseBody() string {
	if r.ErrorKind != "" {
		return "exception:" + r.ErrorKind
	}
	return r.Body
}

// Deliverer POSTs payloads to endpoints.
type Deliverer struct {
	httpClient    *http.Client
	inlineRetries int
	logger        *slog.Logger

	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

type DelivererOption func(*Deliverer)

// WithHTTPClient replaces the default client. Its Timeout is left as given.
func WithHTTPClient(c *http.Client) DelivererOption {
	return func(d *Deliverer) { d.httpClient = c }
}

// WithSleep replaces the wait between inline retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DelivererOption {
	return func(d *Deliverer) { d.sleep = fn }
}

// NewDeliverer creates a deliverer whose requests time out after timeout.
func NewDeliverer(timeout time.Duration, inlineRetries int, logger *slog.Logger, opts ...DelivererOption) *Deliverer {
	d := &Deliverer{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		inlineRetries: max(inlineRetries, 0),
		logger:        logger,
		jitter:        rand.Float64,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends payload to url, retrying transient failures inline.
func (d *Deliverer) Deliver(ctx context.Context, url, contentType string, payload []byte) Result {
	start := time.Now()

	var res Result
	for i := 0; ; i++ {
		res = d.send(ctx, url, contentType, payload)
		if i >= d.inlineRetries || !d.retryable(ctx, res) {
			break
		}

		delay := time.Duration(d.jitter() * math.Pow(2, float64(i)) * float64(inlineBaseDelay))
		logger := d.logger.With("url", url, "retry", i+1, "delay_ms", delay.Milliseconds())
		if res.StatusCode != nil {
			logger.Debug("retrying delivery inline", "status_code", *res.StatusCode)
		} else {
			logger.Debug("retrying delivery inline", "error_kind", res.ErrorKind)
		}
		if err := d.sleep(ctx, delay); err != nil {
			break
		}
	}

	res.Duration = time.Since(start)
	return res
}

func (d *Deliverer) send(ctx context.Context, url, contentType string, payload []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{ErrorKind: KindRequest, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Result{ErrorKind: errorKind(err), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, domain.MaxResponseBodyBytes))

	code := resp.StatusCode
	return Result{
		StatusCode: &code,
		Body:       string(body),
		Success:    IsSuccess(code),
	}
}

func (d *Deliverer) retryable(ctx context.Context, res Result) bool {
	if ctx.Err() != nil {
		return false
	}
	if res.ErrorKind != "" {
		return res.ErrorKind != KindRequest
	}
	code := *res.StatusCode
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
