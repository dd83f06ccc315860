package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"tvguide/models"
	"tvguide/services/guide"
)

const manualRefreshTimeout = 10 * time.Minute

type guideReader interface {
	Current() (*models.GuideSnapshot, bool)
	PlaylistEnabled() bool
}

type refreshTrigger interface {
	Trigger(timeout time.Duration) error
}

// GuideHandler serves the published XMLTV document and M3U playlist.
type GuideHandler struct {
	guide   guideReader
	trigger refreshTrigger
}

// NewGuideHandler creates a guide handler.
func NewGuideHandler(g guideReader, trigger refreshTrigger) *GuideHandler {
	return &GuideHandler{guide: g, trigger: trigger}
}

// XMLTV serves the current guide.
// GET /tvguide.xml
func (h *GuideHandler) XMLTV(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.guide.Current()
	if !ok {
		http.Error(w, "Guide not available", http.StatusServiceUnavailable)
		return
	}
	h.serveSnapshot(w, r, snap, snap.XMLTV, "application/xml; charset=utf-8")
}

// Playlist serves the M3U playlist when enabled.
// GET /playlist.m3u
func (h *GuideHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	if !h.guide.PlaylistEnabled() {
		http.NotFound(w, r)
		return
	}
	snap, ok := h.guide.Current()
	if !ok || len(snap.M3U) == 0 {
		http.Error(w, "Playlist not available", http.StatusServiceUnavailable)
		return
	}
	h.serveSnapshot(w, r, snap, snap.M3U, "audio/x-mpegurl")
}

func (h *GuideHandler) serveSnapshot(w http.ResponseWriter, r *http.Request, snap *models.GuideSnapshot, body []byte, contentType string) {
	etag := `"` + snap.ID + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", contentType)

	// ServeContent answers If-None-Match and If-Modified-Since with 304.
	http.ServeContent(w, r, "", snap.GeneratedAt, bytes.NewReader(body))
}

// Refresh starts a background refresh. The cycle is claimed before the
// response is written, so 202 always means this request started one.
// POST /refresh
func (h *GuideHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	err := h.trigger.Trigger(manualRefreshTimeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
	case errors.Is(err, guide.ErrRefreshInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "refresh already in progress"})
	default:
		log.Printf("[guide] manual refresh failed to start: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "refresh failed to start"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] JSON encode error: %v", err)
	}
}
