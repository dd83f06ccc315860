package fixtures_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvguide/models"
	"tvguide/services/fixtures"
)

const fixturesPage = `<!DOCTYPE html>
<html>
<head>
  <title>Fixtures</title>
  <style>.fixture { color: red; }</style>
  <script>var note = "Saturday 1st March 2025";</script>
</head>
<body>
  <h1>Upcoming Fixtures</h1>
  <div class="fixture">
    <h3>Saturday 15th February 2025</h3>
    <p>- 15:00</p>
    <p>- <strong>Celtic</strong> v Dundee United</p>
  </div>
  <p>Tickets on sale now</p>
  <div class="fixture">
    <h3>Sunday 16th February 2025</h3>
    <p>- 12:00</p>
    <p>- Hearts v Hibernian</p>
  </div>
</body>
</html>`

func TestExtractLines(t *testing.T) {
	lines, err := fixtures.ExtractLines(strings.NewReader(fixturesPage))
	require.NoError(t, err)

	assert.Contains(t, lines, "- Celtic v Dundee United")
	assert.Contains(t, lines, "Saturday 15th February 2025")
	for _, line := range lines {
		assert.NotContains(t, line, "var note", "script text leaked into %q", line)
		assert.NotContains(t, line, "color: red", "style text leaked into %q", line)
	}
}

func TestExtractLinesKeepsInlineMarkupTogether(t *testing.T) {
	page := `<div>
  <h3>Saturday 15<sup>th</sup> February 2025</h3>
  <p>- 15:00</p>
  <p>- <a href="/celtic">Celt</a><span>ic</span> v <em>Rangers</em></p>
</div>`

	lines, err := fixtures.ExtractLines(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"Saturday 15th February 2025", "- 15:00", "- Celtic v Rangers"}, lines)

	raws := fixtures.ParseBlocks(lines, "page")
	require.Len(t, raws, 1)
	assert.Equal(t, "Celtic v Rangers", raws[0].Name)
	assert.Equal(t, "Saturday 15th February 2025", raws[0].Date)

	got, drops := fixtures.NewNormalizer(time.UTC, 2*time.Hour).NormalizeAll(raws)
	assert.Empty(t, drops)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2025, 2, 15, 15, 0, 0, 0, time.UTC), got[0].Start)
}

func TestParseBlocks(t *testing.T) {
	lines := []string{
		"Upcoming Fixtures",
		"Saturday 15th February 2025",
		"- 15:00",
		"- Celtic v Dundee United",
		"Tickets on sale now",
		"Sunday 16th February 2025",
		"- 12:00",
		"- Hearts v Hibernian",
	}

	got := fixtures.ParseBlocks(lines, "page")
	want := []models.RawFixture{
		{Kind: models.FixtureKindScrape, Source: "page", Name: "Celtic v Dundee United", Date: "Saturday 15th February 2025", Time: "15:00"},
		{Kind: models.FixtureKindScrape, Source: "page", Name: "Hearts v Hibernian", Date: "Sunday 16th February 2025", Time: "12:00"},
	}
	assert.Equal(t, want, got)
}

func TestParseBlocksAdvancesOneLineOnMiss(t *testing.T) {
	// The first date has no time line; the real block starts one line later.
	lines := []string{
		"Friday 14th February 2025",
		"Saturday 15th February 2025",
		"- 15:00",
		"- Rangers v Aberdeen",
	}

	got := fixtures.ParseBlocks(lines, "page")
	require.Len(t, got, 1)
	assert.Equal(t, "Saturday 15th February 2025", got[0].Date)
	assert.Equal(t, "Rangers v Aberdeen", got[0].Name)
}

func TestParseBlocksShortInput(t *testing.T) {
	assert.Empty(t, fixtures.ParseBlocks(nil, "page"))
	assert.Empty(t, fixtures.ParseBlocks([]string{"Saturday 15th February 2025", "- 15:00"}, "page"))
}

func TestBadDateLineDropsOnlyThatBlock(t *testing.T) {
	lines := []string{
		"Samedi 15 février 2025",
		"- 15:00",
		"- Celtic v Rangers",
		"Sunday 16th February 2025",
		"- 12:00",
		"- Hearts v Hibernian",
	}

	raws := fixtures.ParseBlocks(lines, "page")
	require.Len(t, raws, 2)

	got, drops := fixtures.NewNormalizer(time.UTC, 2*time.Hour).NormalizeAll(raws)
	require.Len(t, got, 1)
	assert.Equal(t, "Hearts", got[0].HomeTeam)
	require.Len(t, drops, 1)
	assert.Equal(t, fixtures.DropBadStartTime, drops[0].Reason)
}

func TestScrapeSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fixtures":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, fixturesPage)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	renderer := fixtures.NewHTTPRenderer(srv.Client(), 1)
	src := fixtures.NewScrapeSource([]string{srv.URL + "/fixtures", srv.URL + "/missing"}, renderer, 2)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Celtic v Dundee United", got[0].Name)
	assert.Equal(t, srv.URL+"/fixtures", got[0].Source)
}

func TestScrapeSourceAllPagesFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := fixtures.NewScrapeSource([]string{srv.URL + "/a"}, fixtures.NewHTTPRenderer(srv.Client(), 1), 1)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fixtures.ErrAllSourcesFailed))
}

func TestHTTPRendererRejectsBinaryBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'})
	}))
	defer srv.Close()

	_, err := fixtures.NewHTTPRenderer(srv.Client(), 1).Render(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not text")
}

type stubRenderer map[string]string

func (s stubRenderer) Render(_ context.Context, pageURL string) ([]byte, error) {
	body, ok := s[pageURL]
	if !ok {
		return nil, errors.New("no such page")
	}
	return []byte(body), nil
}

func TestScrapeSourceUsesRenderer(t *testing.T) {
	src := fixtures.NewScrapeSource([]string{"memory://fixtures"}, stubRenderer{"memory://fixtures": fixturesPage}, 1)
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = fixtures.NewScrapeSource(nil, stubRenderer{}, 1).Fetch(context.Background())
	assert.Error(t, err)
}
