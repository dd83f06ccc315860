package channels

import (
	"fmt"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"github.com/samber/lo"

	"tvguide/models"
)

// Registry is the fixed, ordered set of channels a guide is built for.
// It is read-only once constructed and safe for concurrent use.
type Registry struct {
	channels []models.Channel
	byID     map[string]int
	bySlug   map[string]string // team slug -> channel id
}

var defaultChannels = []struct {
	id, name string
	aliases  []string
}{
	{"aberdeen_tv", "Aberdeen TV", nil},
	{"celtic_tv", "Celtic TV", nil},
	{"dundee_fc_tv", "Dundee FC TV", []string{"Dundee"}},
	{"dundee_utd_tv", "Dundee Utd TV", []string{"Dundee United"}},
	{"falkirk_tv", "Falkirk TV", nil},
	{"hearts_tv", "Hearts TV", []string{"Heart of Midlothian"}},
	{"hibs_tv", "Hibs TV", []string{"Hibernian"}},
	{"kilmarnock_tv", "Kilmarnock TV", nil},
	{"livingston_tv", "Livingston TV", nil},
	{"motherwell_tv", "Motherwell TV", nil},
	{"rangers_tv", "Rangers TV", nil},
	{"ross_county_tv", "Ross County TV", nil},
	{"st_johnstone_tv", "St Johnstone TV", []string{"Saint Johnstone"}},
	{"st_mirren_tv", "St Mirren TV", []string{"Saint Mirren"}},
}

// Default returns the standard club channel registry.
func Default() *Registry {
	chs := make([]models.Channel, 0, len(defaultChannels))
	for _, c := range defaultChannels {
		chs = append(chs, models.Channel{
			ID:          c.id,
			DisplayName: c.name,
			MatchKey:    MatchKey(c.name),
			Aliases:     c.aliases,
		})
	}
	reg, err := New(chs)
	if err != nil {
		panic(fmt.Sprintf("channels: invalid default registry: %v", err))
	}
	return reg
}

// New builds a registry from chs. Channel ids must be unique and no two
// channels may claim the same team slug.
func New(chs []models.Channel) (*Registry, error) {
	r := &Registry{
		channels: make([]models.Channel, 0, len(chs)),
		byID:     make(map[string]int, len(chs)),
		bySlug:   make(map[string]string, len(chs)*2),
	}
	for _, ch := range chs {
		if strings.TrimSpace(ch.ID) == "" {
			return nil, fmt.Errorf("channel %q has no id", ch.DisplayName)
		}
		if _, dup := r.byID[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		if ch.MatchKey == "" {
			ch.MatchKey = MatchKey(ch.DisplayName)
		}
		ch.Aliases = append([]string(nil), ch.Aliases...)

		r.byID[ch.ID] = len(r.channels)
		r.channels = append(r.channels, ch)

		for _, slug := range channelSlugs(ch) {
			if owner, taken := r.bySlug[slug]; taken && owner != ch.ID {
				return nil, fmt.Errorf("slug %q claimed by both %q and %q", slug, owner, ch.ID)
			}
			r.bySlug[slug] = ch.ID
		}
	}
	return r, nil
}

func channelSlugs(ch models.Channel) []string {
	slugs := []string{ch.ID, Slug(ch.MatchKey)}
	for _, alias := range ch.Aliases {
		slugs = append(slugs, Slug(alias))
	}
	return lo.Uniq(lo.Without(slugs, "_tv"))
}

// Channels returns the registry entries in their declared order.
func (r *Registry) Channels() []models.Channel {
	out := make([]models.Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// IDs returns the channel ids in declared order.
func (r *Registry) IDs() []string {
	return lo.Map(r.channels, func(ch models.Channel, _ int) string { return ch.ID })
}

func (r *Registry) Len() int {
	return len(r.channels)
}

// Lookup returns the channel with the given id.
func (r *Registry) Lookup(id string) (models.Channel, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return models.Channel{}, false
	}
	return r.channels[idx], true
}

// Resolve maps a team name to a channel id by exact slug.
func (r *Registry) Resolve(team string) (string, bool) {
	id, ok := r.bySlug[Slug(team)]
	return id, ok
}

// Slug derives the channel id a team name would have: "St. Mirren" becomes
// "st_mirren_tv".
func Slug(team string) string {
	ascii := strings.ToLower(unidecode.Unidecode(team))
	ascii = strings.NewReplacer(".", "", "'", "", "’", "").Replace(ascii)
	return strings.Join(strings.Fields(ascii), "_") + "_tv"
}

// MatchKey strips a trailing "TV" from a display name and lowercases it.
func MatchKey(displayName string) string {
	name := strings.TrimSpace(displayName)
	for _, suffix := range []string{" TV", " Tv"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return strings.ToLower(strings.TrimSpace(name))
}
