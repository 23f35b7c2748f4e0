package exporter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Handler serves scrapes over HTTP.
type Handler struct {
	exporter *Exporter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandler wraps e. A positive timeout bounds every scrape.
// Params: e exporter; timeout per-scrape deadline, zero for none.
// Returns: HTTP handler.
func NewHandler(e *Exporter, timeout time.Duration) *Handler {
	return &Handler{exporter: e, timeout: timeout, logger: e.logger}
}

// ServeHTTP runs one scrape. The body is buffered so that a failed scrape
// answers with an error status and no metrics at all.
// Params: w response writer; r GET or HEAD request.
// Returns: none; status 200, 405, 500 or 504.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := h.exporter.Scrape(ctx, &buf); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Error("scrape failed", slog.Int("status", status), slog.String("error", err.Error()))
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("write scrape response", slog.String("error", err.Error()))
	}
}
