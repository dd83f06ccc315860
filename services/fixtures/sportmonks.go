package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	"tvguide/models"
)

const (
	defaultSportMonksBaseURL = "https://api.sportmonks.com/v3/football"
	sportMonksDateLayout     = "2006-01-02"
)

// SportMonksConfig configures the SportMonks fixtures adapter.
type SportMonksConfig struct {
	BaseURL        string
	APIToken       string
	LeagueIDs      []string // empty means no league filter
	Window         time.Duration
	RetryAttempts  uint
	RetryDelay     time.Duration
	MaxConcurrency int
	MaxPages       int
}

// SportMonksSource fetches fixtures from the SportMonks football API, one
// request chain per league.
type SportMonksSource struct {
	cfg    SportMonksConfig
	client *http.Client
	now    func() time.Time
}

// NewSportMonksSource creates the adapter. A nil client gets a traced client
// with the default timeout.
func NewSportMonksSource(cfg SportMonksConfig, client *http.Client) *SportMonksSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSportMonksBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Window <= 0 {
		cfg.Window = 14 * 24 * time.Hour
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if client == nil {
		client = NewHTTPClient(defaultHTTPTimeout)
	}
	return &SportMonksSource{cfg: cfg, client: client, now: time.Now}
}

// WithClock overrides the clock used to compute the date range.
func (s *SportMonksSource) WithClock(now func() time.Time) *SportMonksSource {
	s.now = now
	return s
}

type sportMonksFixture struct {
	Name       string `json:"name"`
	StartingAt string `json:"starting_at"`
}

type sportMonksResponse struct {
	Data       []sportMonksFixture `json:"data"`
	Pagination *struct {
		CurrentPage int  `json:"current_page"`
		HasMore     bool `json:"has_more"`
	} `json:"pagination"`
}

type leagueResult struct {
	index    int
	league   string
	fixtures []models.RawFixture
	err      error
}

// Fetch queries every configured league. Leagues fail independently: the
// result holds whatever succeeded, and an error is returned only when no
// league could be fetched.
func (s *SportMonksSource) Fetch(ctx context.Context) ([]models.RawFixture, error) {
	now := s.now().UTC()
	start := now.Format(sportMonksDateLayout)
	end := now.Add(s.cfg.Window).Format(sportMonksDateLayout)

	leagues := s.cfg.LeagueIDs
	if len(leagues) == 0 {
		leagues = []string{""}
	}

	p := pool.NewWithResults[leagueResult]().WithMaxGoroutines(s.cfg.MaxConcurrency)
	for i, league := range leagues {
		p.Go(func() leagueResult {
			fixtures, err := s.fetchLeague(ctx, start, end, league)
			return leagueResult{index: i, league: league, fixtures: fixtures, err: err}
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	var (
		all  []models.RawFixture
		errs []error
	)
	for _, r := range results {
		if r.err != nil {
			log.Printf("[sportmonks] league %s failed: %v", leagueLabel(r.league), r.err)
			errs = append(errs, fmt.Errorf("league %s: %w", leagueLabel(r.league), r.err))
		}
		if len(r.fixtures) > 0 || r.err == nil {
			log.Printf("[sportmonks] fetched %d fixtures for league %s", len(r.fixtures), leagueLabel(r.league))
		}
		all = append(all, r.fixtures...)
	}

	if len(errs) == len(results) && len(all) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	return all, nil
}

func (s *SportMonksSource) fetchLeague(ctx context.Context, start, end, league string) ([]models.RawFixture, error) {
	var out []models.RawFixture
	for page := 1; page <= s.cfg.MaxPages; page++ {
		resp, err := retry.DoWithData(
			func() (sportMonksResponse, error) {
				return s.fetchPage(ctx, start, end, league, page)
			},
			retry.Context(ctx),
			retry.Attempts(s.cfg.RetryAttempts),
			retry.Delay(s.cfg.RetryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(retryable),
			retry.OnRetry(func(n uint, err error) {
				log.Printf("[sportmonks] league %s page %d attempt %d failed: %v", leagueLabel(league), page, n+1, err)
			}),
		)
		if err != nil {
			return out, err
		}
		for _, f := range resp.Data {
			out = append(out, models.RawFixture{
				Kind:       models.FixtureKindAPI,
				Source:     league,
				Name:       f.Name,
				StartingAt: f.StartingAt,
			})
		}
		if resp.Pagination == nil || !resp.Pagination.HasMore {
			break
		}
	}
	return out, nil
}

func (s *SportMonksSource) fetchPage(ctx context.Context, start, end, league string, page int) (sportMonksResponse, error) {
	endpoint := fmt.Sprintf("%s/fixtures/between/%s/%s", s.cfg.BaseURL, start, end)
	q := url.Values{}
	q.Set("api_token", s.cfg.APIToken)
	if league != "" {
		q.Set("filters[league_id]", league)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return sportMonksResponse{}, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return sportMonksResponse{}, fmt.Errorf("fetch fixtures: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		log.Printf("[sportmonks] error fetching league %s: %d - %s", leagueLabel(league), resp.StatusCode, strings.TrimSpace(string(body)))
		return sportMonksResponse{}, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var decoded sportMonksResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return sportMonksResponse{}, retry.Unrecoverable(fmt.Errorf("decode fixtures: %w", err))
	}
	return decoded, nil
}

func leagueLabel(league string) string {
	if league == "" {
		return "(all)"
	}
	return league
}
