package handlers

import (
	"net/http"
	"time"

	"tvguide/models"
)

type guideStatusProvider interface {
	Status() models.GuideStatus
}

type schedulerStatusProvider interface {
	Status() models.SchedulerStatus
}

// HealthHandler reports liveness and the refresh pipeline state.
type HealthHandler struct {
	guide      guideStatusProvider
	scheduler  schedulerStatusProvider
	staleAfter time.Duration
	startedAt  time.Time
	now        func() time.Time
}

// NewHealthHandler creates a health handler. The guide is reported stale once
// its last success is older than staleAfter.
func NewHealthHandler(guide guideStatusProvider, scheduler schedulerStatusProvider, staleAfter time.Duration) *HealthHandler {
	return &HealthHandler{
		guide:      guide,
		scheduler:  scheduler,
		staleAfter: staleAfter,
		startedAt:  time.Now().UTC(),
		now:        time.Now,
	}
}

// WithClock overrides the wall clock used for staleness checks.
func (h *HealthHandler) WithClock(now func() time.Time) *HealthHandler {
	h.now = now
	return h
}

type healthResponse struct {
	Status      string     `json:"status"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	Uptime      string     `json:"uptime"`
}

// Health returns ok, starting or stale.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.guide.Status()
	resp := healthResponse{
		Status:      "ok",
		LastSuccess: status.LastSuccess,
		Uptime:      h.now().Sub(h.startedAt).Round(time.Second).String(),
	}

	code := http.StatusOK
	switch {
	case !status.Available:
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	case h.staleAfter > 0 && status.LastSuccess != nil && h.now().Sub(*status.LastSuccess) > h.staleAfter:
		// A stale guide is still served.
		resp.Status = "stale"
	}
	writeJSON(w, code, resp)
}

type monitorResponse struct {
	Guide     models.GuideStatus     `json:"guide"`
	Scheduler models.SchedulerStatus `json:"scheduler"`
	Now       time.Time              `json:"now"`
}

// Monitor returns the guide and scheduler status.
// GET /monitor
func (h *HealthHandler) Monitor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, monitorResponse{
		Guide:     h.guide.Status(),
		Scheduler: h.scheduler.Status(),
		Now:       h.now().UTC(),
	})
}
