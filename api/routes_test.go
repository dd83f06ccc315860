package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvguide/api"
	"tvguide/handlers"
	"tvguide/models"
)

type stubGuide struct {
	snap *models.GuideSnapshot
}

func (s stubGuide) Current() (*models.GuideSnapshot, bool) { return s.snap, s.snap != nil }
func (s stubGuide) PlaylistEnabled() bool                 { return true }
func (s stubGuide) Status() models.GuideStatus {
	return models.GuideStatus{Available: s.snap != nil}
}
func (s stubGuide) Trigger(time.Duration) error { return nil }

type stubScheduler struct{}

func (stubScheduler) Status() models.SchedulerStatus { return models.SchedulerStatus{} }

func newRouter(snap *models.GuideSnapshot) http.Handler {
	g := stubGuide{snap: snap}
	return api.NewRouter(api.Handlers{
		Guide:  handlers.NewGuideHandler(g, g),
		Health: handlers.NewHealthHandler(g, stubScheduler{}, time.Hour),
		Logs:   handlers.NewLogsHandler(afero.NewMemMapFs(), "/tvguide.log"),
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	snap := &models.GuideSnapshot{ID: "abc", XMLTV: []byte("<tv></tv>"), M3U: []byte("#EXTM3U\n"), GeneratedAt: time.Now()}
	r := newRouter(snap)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/tvguide.xml").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/playlist.m3u").Code)
	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/refresh").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/monitor").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/logs").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(r, http.MethodGet, "/refresh").Code)
}

func TestGuideUnavailableBeforeFirstRefresh(t *testing.T) {
	r := newRouter(nil)
	rec := serve(r, http.MethodGet, "/tvguide.xml")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Guide not available")
}

func TestRequestIDAssignedAndPropagated(t *testing.T) {
	r := newRouter(nil)

	rec := serve(r, http.MethodGet, "/health")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	require.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", id)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	rec := serve(newRouter(nil), http.MethodOptions, "/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPprofIsLocalhostOnly(t *testing.T) {
	r := newRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Host = "guide.example.com"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Host = "localhost:5000"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
