package fixtures_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvguide/models"
	"tvguide/services/fixtures"
)

var fixedNow = time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)

func newSportMonks(baseURL string, leagues ...string) *fixtures.SportMonksSource {
	return fixtures.NewSportMonksSource(fixtures.SportMonksConfig{
		BaseURL:       baseURL,
		APIToken:      "secret",
		LeagueIDs:     leagues,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, &http.Client{Timeout: 5 * time.Second}).WithClock(func() time.Time { return fixedNow })
}

func TestSportMonksFetchBuildsRequest(t *testing.T) {
	var gotPath, gotToken, gotLeague string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("api_token")
		gotLeague = r.URL.Query().Get("filters[league_id]")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"name":"Celtic vs Dundee United","starting_at":"2025-02-15 15:00:00"}]}`)
	}))
	defer srv.Close()

	got, err := newSportMonks(srv.URL, "501").Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/fixtures/between/2025-02-10/2025-02-24", gotPath)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "501", gotLeague)
	assert.Equal(t, []models.RawFixture{{
		Kind:       models.FixtureKindAPI,
		Source:     "501",
		Name:       "Celtic vs Dundee United",
		StartingAt: "2025-02-15 15:00:00",
	}}, got)
}

func TestSportMonksPartialLeagueFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("filters[league_id]") {
		case "501":
			fmt.Fprint(w, `{"data":[{"name":"Celtic vs Rangers","starting_at":"2025-02-15 15:00:00"}]}`)
		default:
			http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
		}
	}))
	defer srv.Close()

	got, err := newSportMonks(srv.URL, "501", "999").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Celtic vs Rangers", got[0].Name)
}

func TestSportMonksAllLeaguesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorised", http.StatusUnauthorized)
	}))
	defer srv.Close()

	got, err := newSportMonks(srv.URL, "501", "502").Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fixtures.ErrAllSourcesFailed))
	assert.Empty(t, got)
}

func TestSportMonksRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	got, err := newSportMonks(srv.URL, "501").Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSportMonksDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newSportMonks(srv.URL, "501").Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSportMonksFollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `{"data":[{"name":"Celtic vs Rangers","starting_at":"2025-02-15 15:00:00"}],"pagination":{"current_page":1,"has_more":true}}`)
		case "2":
			fmt.Fprint(w, `{"data":[{"name":"Hearts vs Hibs","starting_at":"2025-02-16 12:00:00"}],"pagination":{"current_page":2,"has_more":false}}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	got, err := newSportMonks(srv.URL, "501").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hearts vs Hibs", got[1].Name)
}

func TestSportMonksWithoutLeaguesSendsNoFilter(t *testing.T) {
	var hasFilter atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasFilter.Store(r.URL.Query().Has("filters[league_id]"))
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	_, err := newSportMonks(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, hasFilter.Load())
}

func TestSportMonksCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSportMonks(srv.URL, "501").Fetch(ctx)
	require.Error(t, err)
}
