package fixtures

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tvguide/models"
)

// DropReason classifies why a raw record did not become a fixture.
type DropReason string

const (
	DropMissingSeparator DropReason = "missing_separator"
	DropEmptyTeam        DropReason = "empty_team"
	DropSameTeam         DropReason = "same_team"
	DropBadStartTime     DropReason = "bad_start_time"
	DropUnknownKind      DropReason = "unknown_kind"
)

// DropError records a raw fixture rejected during normalization.
type DropError struct {
	Reason DropReason
	Raw    models.RawFixture
	Err    error
}

func (e *DropError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("drop %q (%s): %v", e.Raw.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("drop %q (%s)", e.Raw.Name, e.Reason)
}

func (e *DropError) Unwrap() error { return e.Err }

const (
	apiSeparator    = " vs "
	scrapeSeparator = " v "
	apiTimeLayout   = "2006-01-02 15:04:05"
)

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)

	scrapeLayouts = []string{
		"Monday 2 January 2006 15:04",
		"Monday, 2 January 2006 15:04",
		"Mon 2 Jan 2006 15:04",
	}
)

// Normalizer turns raw records into fixtures. Source times are read in loc
// and stored in UTC.
type Normalizer struct {
	loc      *time.Location
	duration time.Duration
}

// NewNormalizer creates a normalizer. A nil location means UTC.
func NewNormalizer(loc *time.Location, matchDuration time.Duration) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc, duration: matchDuration}
}

// Normalize validates one record. Rejections are returned as *DropError.
func (n *Normalizer) Normalize(raw models.RawFixture) (models.Fixture, error) {
	var (
		sep   string
		start time.Time
		err   error
	)
	switch raw.Kind {
	case models.FixtureKindAPI:
		sep = apiSeparator
		start, err = time.ParseInLocation(apiTimeLayout, strings.TrimSpace(raw.StartingAt), n.loc)
	case models.FixtureKindScrape:
		sep = scrapeSeparator
		start, err = n.parseScrapeTime(raw.Date, raw.Time)
	default:
		return models.Fixture{}, &DropError{Reason: DropUnknownKind, Raw: raw}
	}

	home, away, ok := strings.Cut(raw.Name, sep)
	if !ok {
		return models.Fixture{}, &DropError{Reason: DropMissingSeparator, Raw: raw}
	}
	home, away = cleanTeam(home), cleanTeam(away)
	if home == "" || away == "" {
		return models.Fixture{}, &DropError{Reason: DropEmptyTeam, Raw: raw}
	}
	if strings.EqualFold(home, away) {
		return models.Fixture{}, &DropError{Reason: DropSameTeam, Raw: raw}
	}
	if err != nil {
		return models.Fixture{}, &DropError{Reason: DropBadStartTime, Raw: raw, Err: err}
	}

	start = start.UTC()
	return models.Fixture{
		HomeTeam: home,
		AwayTeam: away,
		Start:    start,
		End:      start.Add(n.duration),
	}, nil
}

func (n *Normalizer) parseScrapeTime(date, clock string) (time.Time, error) {
	date = ordinalSuffix.ReplaceAllString(strings.Join(strings.Fields(date), " "), "$1")
	clock = strings.ReplaceAll(strings.TrimSpace(clock), ".", ":")
	value := date + " " + clock

	var firstErr error
	for _, layout := range scrapeLayouts {
		t, err := time.ParseInLocation(layout, value, n.loc)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// NormalizeAll normalizes every record and never stops early. Each drop is
// logged as a warning and returned.
func (n *Normalizer) NormalizeAll(raws []models.RawFixture) ([]models.Fixture, []*DropError) {
	fixtures := make([]models.Fixture, 0, len(raws))
	var drops []*DropError
	for _, raw := range raws {
		f, err := n.Normalize(raw)
		if err != nil {
			drop, ok := err.(*DropError)
			if !ok {
				drop = &DropError{Reason: DropBadStartTime, Raw: raw, Err: err}
			}
			log.Printf("[fixtures] warning: %v", drop)
			drops = append(drops, drop)
			continue
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, drops
}

// cleanTeam collapses whitespace and title-cases names published in capitals.
func cleanTeam(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name != "" && name == strings.ToUpper(name) && name != strings.ToLower(name) {
		name = cases.Title(language.English).String(strings.ToLower(name))
	}
	return name
}

// FilterWindow keeps fixtures starting within [now, now+window]. Both bounds
// are inclusive, so filtering twice with the same arguments is a no-op.
func FilterWindow(fixtures []models.Fixture, now time.Time, window time.Duration) []models.Fixture {
	end := now.Add(window)
	kept := make([]models.Fixture, 0, len(fixtures))
	for _, f := range fixtures {
		if f.Start.Before(now) || f.Start.After(end) {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// CountDrops tallies drops by reason.
func CountDrops(drops []*DropError) map[string]int {
	if len(drops) == 0 {
		return nil
	}
	counts := make(map[string]int, len(drops))
	for _, d := range drops {
		counts[string(d.Reason)]++
	}
	return counts
}
