package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Health describes the optional watchdog that is pinged when a pass starts
// and again when it completes. With a single configured endpoint both pings
// hit the same one; with two, the first marks start and the second end.
type Health struct {
	URL   string
	Start string
	End   string
}

// NewHealth applies the endpoint splitting rule to the raw space separated
// endpoint list.
func NewHealth(rawURL, endpoints string) Health {
	h := Health{URL: strings.TrimSpace(rawURL)}
	parts := strings.Fields(endpoints)
	switch len(parts) {
	case 1:
		h.Start, h.End = parts[0], parts[0]
	case 2:
		h.Start, h.End = parts[0], parts[1]
	}
	return h
}

// Ping fires a best-effort GET at the watchdog. Failures are logged only, a
// dead watchdog never stops an import pass.
func (h Health) Ping(ctx context.Context, endpoint string) {
	if h.URL == "" {
		return
	}
	pingURL := strings.TrimSuffix(h.URL, "/")
	if endpoint != "" {
		pingURL += "/" + strings.TrimPrefix(endpoint, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
	if err != nil {
		slog.ErrorContext(ctx, "building health check request failed", "url", pingURL, "error", err)
		return
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "health check request failed", "url", pingURL, "error", err)
		return
	}
	_ = resp.Body.Close()
}
