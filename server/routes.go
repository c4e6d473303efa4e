package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/basicsetting"
	"github.com/wolfeidau/player-cache/cachesize"
	"github.com/wolfeidau/player-cache/dialog"
	"github.com/wolfeidau/player-cache/download"
	"github.com/wolfeidau/player-cache/settings"
	"github.com/wolfeidau/player-cache/store"
	"github.com/wolfeidau/player-cache/telemetry"
)

// maxSettingBody bounds JSON request bodies.
const maxSettingBody = 64 << 10

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Cache sizes and entries
	mux.HandleFunc("GET /cache/sizes", s.handleSizes)
	mux.HandleFunc("POST /cache/sizes/refresh", s.handleRefresh)
	mux.HandleFunc("POST /cache/{category}/clear", s.handleClear)
	mux.HandleFunc("POST /cache/{category}/fill", s.handleFill)
	mux.HandleFunc("GET /cache/{category}/entries", s.handleGetEntry)
	mux.HandleFunc("HEAD /cache/{category}/entries", s.handleGetEntry)
	mux.HandleFunc("PUT /cache/{category}/entries", s.handlePutEntry)
	mux.HandleFunc("DELETE /cache/{category}/entries", s.handleDeleteEntry)

	// Dialogs and panels
	mux.HandleFunc("GET /dialog-kinds", s.handleDialogKinds)
	mux.HandleFunc("GET /dialogs", s.handleListDialogs)
	mux.HandleFunc("GET /dialogs/{id}", s.handleGetDialog)
	mux.HandleFunc("POST /dialogs/{id}/ok", s.handleConfirmDialog)
	mux.HandleFunc("POST /dialogs/{id}/cancel", s.handleCancelDialog)

	// Basic settings page
	mux.HandleFunc("GET /settings/page", s.handleSettingsPage)
	mux.HandleFunc("POST /settings/cache-limit", s.handlePromptCacheLimit)
	mux.HandleFunc("POST /settings/max-download", s.handlePromptMaxDownload)
	mux.HandleFunc("POST /settings/toggle/{name}", s.handleToggle)
	mux.HandleFunc("GET /settings/value/{path}", s.handleGetSetting)
	mux.HandleFunc("PUT /settings/value/{path}", s.handleSetSetting)

	mux.HandleFunc("GET /notifications", s.handleNotifications)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// categoryParam resolves the {category} path value, writing a 400 on failure.
func categoryParam(w http.ResponseWriter, r *http.Request) (playercache.Category, bool) {
	c, err := playercache.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	telemetry.SetCategory(r, string(c))
	return c, true
}

func sourceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return "", false
	}
	return source, true
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "health")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type sizesResponse struct {
	cachesize.Snapshot
	Total int64             `json:"total"`
	Human map[string]string `json:"human"`
}

func newSizesResponse(snap cachesize.Snapshot) sizesResponse {
	resp := sizesResponse{Snapshot: snap, Total: snap.Total(), Human: map[string]string{}}
	for _, c := range playercache.Categories() {
		resp.Human[string(c)] = snap.Human(c)
	}
	return resp
}

func (s *Server) handleSizes(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache_sizes")
	writeJSON(w, http.StatusOK, newSizesResponse(s.coordinator.Snapshot()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache_refresh")
	if err := s.coordinator.Refresh(r.Context()); err != nil {
		s.logger.Error("cache size refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newSizesResponse(s.coordinator.Snapshot()))
}

// handleClear mounts the clear confirmation dialog. The clear runs when the
// dialog is confirmed through POST /dialogs/{id}/ok.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache_clear")
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	id, err := s.page.PromptClear(r.Context(), c)
	s.writeMounted(w, id, err)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache_fill")
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	source, ok := sourceParam(w, r)
	if !ok {
		return
	}
	result, shared, err := s.filler.Fill(r.Context(), c, source)
	if err != nil {
		download.HandleFillError(w, s.logger, err)
		return
	}
	status := http.StatusCreated
	if result.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"category": result.Category,
		"key":      result.Key,
		"size":     result.Size,
		"cached":   result.Cached,
		"shared":   shared,
	})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "entry_get")
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	source, ok := sourceParam(w, r)
	if !ok {
		return
	}
	obj, err := s.media.Get(r.Context(), c, source)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not cached")
		return
	}
	if err != nil {
		s.logger.Error("reading entry failed", "category", c, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	download.ServeEntry(w, r, obj, s.logger)
}

func (s *Server) handlePutEntry(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "entry_put")
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	source, ok := sourceParam(w, r)
	if !ok {
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	result, err := s.media.Put(r.Context(), c, source, contentType, r.Body)
	if errors.Is(err, store.ErrEntryTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("storing entry failed", "category", c, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"category":       result.Category,
		"key":            result.Key,
		"size":           result.Size,
		"content_length": result.ContentLength,
	})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "entry_delete")
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	source, ok := sourceParam(w, r)
	if !ok {
		return
	}
	if err := s.media.Delete(r.Context(), c, source); err != nil {
		s.logger.Error("deleting entry failed", "category", c, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDialogKinds(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "dialog_kinds")
	entries := dialog.Entries()
	kinds := make([]dialog.Kind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Name)
	}
	writeJSON(w, http.StatusOK, kinds)
}

func (s *Server) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "dialog_list")
	writeJSON(w, http.StatusOK, s.dialogs.List())
}

func (s *Server) handleGetDialog(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "dialog_get")
	m, err := s.dialogs.Get(dialog.ID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleConfirmDialog runs the dialog's ok action. A failing action leaves
// the dialog mounted and is reported as 422 so the client can retry.
func (s *Server) handleConfirmDialog(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "dialog_ok")
	id := dialog.ID(r.PathValue("id"))

	var resp dialog.Response
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxSettingBody)).Decode(&resp); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid response body")
			return
		}
	}

	err := s.dialogs.Confirm(r.Context(), id, resp)
	switch {
	case errors.Is(err, dialog.ErrNotMounted):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, dialog.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, dialog.ErrInvalidChoice), errors.Is(err, dialog.ErrNoAction):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	_, err = s.dialogs.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "closed": err != nil})
}

func (s *Server) handleCancelDialog(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "dialog_cancel")
	if err := s.dialogs.Cancel(dialog.ID(r.PathValue("id"))); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeMounted(w http.ResponseWriter, id dialog.ID, err error) {
	if errors.Is(err, playercache.ErrUnknownCategory) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("showing dialog failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	m, err := s.dialogs.Get(id)
	if err != nil {
		writeError(w, http.StatusGone, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

type pageResponse struct {
	Basic    settings.Basic         `json:"basic"`
	Sections []basicsetting.Section `json:"sections"`
}

func (s *Server) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_page")
	writeJSON(w, http.StatusOK, pageResponse{Basic: s.page.Basic(), Sections: s.page.Sections()})
}

func (s *Server) handlePromptCacheLimit(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_cache_limit")
	id, err := s.page.PromptCacheLimit(r.Context())
	s.writeMounted(w, id, err)
}

func (s *Server) handlePromptMaxDownload(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_max_download")
	id, err := s.page.PromptMaxDownload(r.Context())
	s.writeMounted(w, id, err)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_toggle")
	sw, ok := basicsetting.ParseSwitch(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, basicsetting.ErrUnknownSwitch.Error())
		return
	}
	if err := s.page.Toggle(r.Context(), sw); err != nil {
		s.logger.Error("toggling setting failed", "switch", sw, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s.page.Basic())
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_get")
	path := r.PathValue("path")
	if err := settings.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v := s.settings.Get(path)
	if !v.Exists() {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, v.Raw())
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_set")
	path := r.PathValue("path")
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSettingBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	if !json.Valid(raw) {
		writeError(w, http.StatusBadRequest, "body must be a JSON value")
		return
	}
	err = s.settings.SetRaw(r.Context(), path, string(raw))
	if errors.Is(err, settings.ErrInvalidPath) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("saving setting failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, s.settings.Get(path).Raw())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "notifications")
	writeJSON(w, http.StatusOK, s.notifications.List())
}
