// Command mock-endpoints runs subscriber endpoints with fixed behaviours for
// exercising deliveries locally.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type counters struct {
	total atomic.Int64
	flaky atomic.Int64
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	logger.Info("mock endpoint server starting",
		"port", port,
		"routes", []string{
			"POST /webhook/success -> 200",
			"POST /webhook/slow -> 200 after 3s",
			"POST /webhook/fail -> 500",
			"POST /webhook/flaky -> 503 twice, then 200",
			"POST /webhook/status/{code} -> code",
			"GET /stats",
		},
	)

	if err := http.ListenAndServe(":"+port, newRouter(&counters{}, logger, 3*time.Second)); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouter(c *counters, logger *slog.Logger, slowDelay time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	reply := func(w http.ResponseWriter, r *http.Request, status int, body map[string]string) {
		n := c.total.Add(1)
		logger.Info("webhook received",
			"n", n,
			"path", r.URL.Path,
			"status", status,
			"content_type", r.Header.Get("Content-Type"),
			"bytes", r.ContentLength,
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}

	r.Post("/webhook/success", func(w http.ResponseWriter, r *http.Request) {
		reply(w, r, http.StatusOK, map[string]string{"status": "received"})
	})

	r.Post("/webhook/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(slowDelay):
		case <-r.Context().Done():
			return
		}
		reply(w, r, http.StatusOK, map[string]string{"status": "received (slow)"})
	})

	r.Post("/webhook/fail", func(w http.ResponseWriter, r *http.Request) {
		reply(w, r, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	})

	r.Post("/webhook/flaky", func(w http.ResponseWriter, r *http.Request) {
		if c.flaky.Add(1)%3 != 0 {
			reply(w, r, http.StatusServiceUnavailable, map[string]string{"error": "try again"})
			return
		}
		reply(w, r, http.StatusOK, map[string]string{"status": "received"})
	})

	r.Post("/webhook/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(chi.URLParam(r, "code"))
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "invalid status code", http.StatusBadRequest)
			return
		}
		reply(w, r, code, map[string]string{"status": http.StatusText(code)})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": c.total.Load()})
	})

	return r
}
