package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/store"
)

// HandleFillError writes the HTTP error response for a failed fill.
func HandleFillError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
	case errors.Is(err, ErrInvalidSource) || errors.Is(err, playercache.ErrUnknownCategory):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrSourceNotFound):
		http.Error(w, "source not found", http.StatusNotFound)
	case errors.Is(err, store.ErrEntryTooLarge):
		http.Error(w, "entry too large", http.StatusRequestEntityTooLarge)
	default:
		logger.Error("fill failed", "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)
	}
}

// ServeEntry writes a cached entry to the HTTP response and closes its body.
// For HEAD requests, it writes headers but skips the body.
func ServeEntry(w http.ResponseWriter, r *http.Request, obj *store.Object, logger *slog.Logger) {
	defer func() { _ = obj.Body.Close() }()

	h := w.Header()
	if obj.Header.ContentType != "" {
		h.Set("Content-Type", obj.Header.ContentType)
	}
	if obj.Header.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.Header.ContentLength, 10))
	}
	if obj.Header.ContentHash != "" {
		h.Set("ETag", strconv.Quote(obj.Header.ContentHash))
	}
	if !obj.CachedAt.IsZero() {
		h.Set("Last-Modified", obj.CachedAt.UTC().Format(http.TimeFormat))
	}

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		logger.Error("failed to stream response", "error", err)
	}
}

// ForgetOnDownloadError calls Forget on the downloader if the error represents
// a real download failure (not a caller context timeout).
func ForgetOnDownloadError(d *Downloader, key string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	d.Forget(key)
}
