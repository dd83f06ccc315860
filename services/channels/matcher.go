package channels

import (
	"errors"
	"fmt"
	"strings"

	"tvguide/models"
)

// Matching strategies.
const (
	StrategyStrict  = "strict"
	StrategyLenient = "lenient"
)

var ErrUnknownStrategy = errors.New("unknown match strategy")

// Matcher decides which channels carry a fixture.
type Matcher interface {
	Match(f models.Fixture) []string
}

// NewMatcher returns the matcher for strategy. An empty strategy selects
// strict matching.
func NewMatcher(strategy string, reg *Registry) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case StrategyStrict, "":
		return StrictMatcher{reg: reg}, nil
	case StrategyLenient:
		return LenientMatcher{reg: reg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// StrictMatcher resolves each side's name to a slug and looks it up exactly,
// so "Dundee United" never lands on the Dundee FC channel.
type StrictMatcher struct {
	reg *Registry
}

func (m StrictMatcher) Match(f models.Fixture) []string {
	var ids []string
	for _, team := range []string{f.HomeTeam, f.AwayTeam} {
		id, ok := m.reg.Resolve(team)
		if !ok {
			continue
		}
		if len(ids) == 1 && ids[0] == id {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// LenientMatcher tests every channel's match key as a substring of the
// combined fixture text. Shared prefixes can match more than one club.
type LenientMatcher struct {
	reg *Registry
}

func (m LenientMatcher) Match(f models.Fixture) []string {
	text := strings.ToLower(f.HomeTeam + " vs " + f.AwayTeam)
	var ids []string
	for _, ch := range m.reg.channels {
		if ch.MatchKey != "" && strings.Contains(text, ch.MatchKey) {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}
