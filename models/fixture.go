package models

import "time"

// FixtureKind identifies which adapter produced a raw record and therefore
// which separator and time layout apply during normalization.
type FixtureKind string

const (
	FixtureKindAPI    FixtureKind = "api"
	FixtureKindScrape FixtureKind = "scrape"
)

// RawFixture is a fixture record exactly as an adapter found it.
type RawFixture struct {
	Kind       FixtureKind `json:"kind"`
	Source     string      `json:"source,omitempty"`     // league id or page URL
	Name       string      `json:"name"`                 // "Home vs Away" (api) or "Home v Away" (scrape)
	StartingAt string      `json:"startingAt,omitempty"` // api: "2006-01-02 15:04:05"
	Date       string      `json:"date,omitempty"`       // scrape: "Saturday 15th February 2025"
	Time       string      `json:"time,omitempty"`       // scrape: "15:00"
}

// Fixture is a validated match between two named sides.
type Fixture struct {
	HomeTeam string    `json:"homeTeam"`
	AwayTeam string    `json:"awayTeam"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Title returns the programme title used for every channel carrying the match.
func (f Fixture) Title() string {
	return f.HomeTeam + " vs " + f.AwayTeam
}
