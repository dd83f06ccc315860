package fixtures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/chromedp/chromedp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/net/html"

	"tvguide/models"
)

const maxPageBytes = 5 * 1024 * 1024

// Renderer returns the HTML of a fixtures page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// HTTPRenderer downloads pages with a plain GET.
type HTTPRenderer struct {
	client   *http.Client
	attempts uint
}

func NewHTTPRenderer(client *http.Client, attempts uint) *HTTPRenderer {
	if client == nil {
		client = NewHTTPClient(defaultHTTPTimeout)
	}
	if attempts == 0 {
		attempts = 3
	}
	return &HTTPRenderer{client: client, attempts: attempts}
}

func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) { return r.get(ctx, pageURL) },
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
}

func (r *HTTPRenderer) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		log.Printf("[scraper] error fetching %s: %d - %s", pageURL, resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if mt := mimetype.Detect(body); !strings.HasPrefix(mt.String(), "text/") {
		return nil, retry.Unrecoverable(fmt.Errorf("page %s is %s, not text", pageURL, mt.String()))
	}
	return body, nil
}

// chromeMu keeps a single headless Chrome alive at a time.
var chromeMu sync.Mutex

// BrowserRenderer loads pages in headless Chrome so fixtures inserted by
// scripts are present in the returned HTML.
type BrowserRenderer struct {
	timeout time.Duration
}

func NewBrowserRenderer(timeout time.Duration) *BrowserRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserRenderer{timeout: timeout}
}

func (b *BrowserRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	chromeMu.Lock()
	defer chromeMu.Unlock()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel = context.WithTimeout(browserCtx, b.timeout)
	defer cancel()

	var page string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return []byte(page), nil
}

// ScrapeSource extracts fixtures from listing pages laid out as
// date / "- time" / "- home v away" line triples.
type ScrapeSource struct {
	urls           []string
	renderer       Renderer
	maxConcurrency int
}

func NewScrapeSource(urls []string, renderer Renderer, maxConcurrency int) *ScrapeSource {
	if maxConcurrency <= 0 {
		maxConcurrency = 2
	}
	return &ScrapeSource{urls: urls, renderer: renderer, maxConcurrency: maxConcurrency}
}

type pageResult struct {
	index    int
	url      string
	fixtures []models.RawFixture
	err      error
}

// Fetch scrapes every page. Pages fail independently; an error is returned
// only when none could be read.
func (s *ScrapeSource) Fetch(ctx context.Context) ([]models.RawFixture, error) {
	if len(s.urls) == 0 {
		return nil, errors.New("no scrape urls configured")
	}

	p := pool.NewWithResults[pageResult]().WithMaxGoroutines(s.maxConcurrency)
	for i, pageURL := range s.urls {
		p.Go(func() pageResult {
			fixtures, err := s.scrape(ctx, pageURL)
			return pageResult{index: i, url: pageURL, fixtures: fixtures, err: err}
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
			log.Printf("[scraper] %s failed: %v", r.url, r.err)
			errs = append(errs, fmt.Errorf("%s: %w", r.url, r.err))
			continue
		}
		log.Printf("[scraper] found %d fixtures on %s", len(r.fixtures), r.url)
		all = append(all, r.fixtures...)
	}
	if len(errs) == len(results) {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	return all, nil
}

func (s *ScrapeSource) scrape(ctx context.Context, pageURL string) ([]models.RawFixture, error) {
	body, err := s.renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	lines, err := ExtractLines(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return ParseBlocks(lines, pageURL), nil
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "section": true, "table": true, "td": true, "th": true, "tr": true,
	"ul": true,
}

var skipTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// ExtractLines reduces an HTML document to its visible text, one trimmed,
// non-empty line per block element or source newline.
func ExtractLines(r io.Reader) ([]string, error) {
	z := html.NewTokenizer(r)
	var (
		lines []string
		cur   strings.Builder
		skip  int
	)
	flush := func() {
		line := strings.Join(strings.Fields(cur.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			flush()
			return lines, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				skip++
			}
			if blockTags[tag] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				flush()
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			parts := strings.Split(text, "\n")
			for i, part := range parts {
				if i > 0 {
					flush()
				}
				// Inline tags do not separate words: "15<sup>th</sup>" stays "15th".
				cur.WriteString(part)
			}
		}
	}
}

var (
	dateLinePattern  = regexp.MustCompile(`^\p{L}+,?\s+\d{1,2}\p{L}*\s+\p{L}+,?\s+\d{4}$`)
	timeLinePattern  = regexp.MustCompile(`^[-–]\s*(\d{1,2}[:.]\d{2})\b`)
	teamsLinePattern = regexp.MustCompile(`^[-–]\s*(.+?\s+v\s+.+?)\s*$`)
)

// ParseBlocks scans lines for date, time and teams triples. A recognised
// block consumes three lines; anything else advances a single line so a
// date preceded by noise is still found.
func ParseBlocks(lines []string, source string) []models.RawFixture {
	var out []models.RawFixture
	for i := 0; i+2 < len(lines); {
		date := strings.TrimSpace(lines[i])
		timeMatch := timeLinePattern.FindStringSubmatch(strings.TrimSpace(lines[i+1]))
		teamsMatch := teamsLinePattern.FindStringSubmatch(strings.TrimSpace(lines[i+2]))
		if !dateLinePattern.MatchString(date) || timeMatch == nil || teamsMatch == nil {
			i++
			continue
		}
		out = append(out, models.RawFixture{
			Kind:   models.FixtureKindScrape,
			Source: source,
			Name:   strings.Join(strings.Fields(teamsMatch[1]), " "),
			Date:   date,
			Time:   timeMatch[1],
		})
		i += 3
	}
	return out
}
