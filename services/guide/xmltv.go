package guide

import (
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"tvguide/models"
	"tvguide/services/channels"
)

// XMLTVTimeLayout is the programme start/stop format. Times are always
// rendered in UTC so the offset is +0000.
const XMLTVTimeLayout = "20060102150405 -0700"

const (
	DefaultGeneratorName    = "Scottish Football TV Guide Generator"
	DefaultPlaceholderTitle = "No fixtures scheduled"
)

type xmltvTV struct {
	XMLName       xml.Name         `xml:"tv"`
	GeneratorName string           `xml:"generator-info-name,attr"`
	Channels      []xmltvChannel   `xml:"channel"`
	Programmes    []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID          string `xml:"id,attr"`
	DisplayName string `xml:"display-name"`
}

type xmltvProgramme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   string `xml:"title"`
}

// GeneratorOptions tunes guide output.
type GeneratorOptions struct {
	GeneratorName    string
	PlaceholderTitle string
	Window           time.Duration // span covered by placeholder entries
}

// Generator builds guide programmes and the XMLTV document for a registry.
type Generator struct {
	reg     *channels.Registry
	matcher channels.Matcher
	opts    GeneratorOptions
}

func NewGenerator(reg *channels.Registry, matcher channels.Matcher, opts GeneratorOptions) *Generator {
	if opts.GeneratorName == "" {
		opts.GeneratorName = DefaultGeneratorName
	}
	if opts.PlaceholderTitle == "" {
		opts.PlaceholderTitle = DefaultPlaceholderTitle
	}
	if opts.Window <= 0 {
		opts.Window = 14 * 24 * time.Hour
	}
	return &Generator{reg: reg, matcher: matcher, opts: opts}
}

// Registry returns the channel registry the generator emits.
func (g *Generator) Registry() *channels.Registry {
	return g.reg
}

// Programmes maps fixtures onto channels. The result is grouped by channel in
// registry order and sorted chronologically within each channel; a channel
// without fixtures gets a single placeholder spanning the guide window.
func (g *Generator) Programmes(fixtures []models.Fixture, now time.Time) []models.Programme {
	byChannel := make(map[string][]models.Programme, g.reg.Len())
	for _, f := range fixtures {
		for _, id := range g.matcher.Match(f) {
			byChannel[id] = append(byChannel[id], models.Programme{
				ChannelID: id,
				Title:     f.Title(),
				Start:     f.Start.UTC(),
				Stop:      f.End.UTC(),
			})
		}
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	var out []models.Programme
	for _, id := range g.reg.IDs() {
		progs := byChannel[id]
		if len(progs) == 0 {
			out = append(out, models.Programme{
				ChannelID:   id,
				Title:       g.opts.PlaceholderTitle,
				Start:       dayStart,
				Stop:        dayStart.Add(g.opts.Window),
				Placeholder: true,
			})
			continue
		}
		sort.SliceStable(progs, func(i, j int) bool {
			if !progs[i].Start.Equal(progs[j].Start) {
				return progs[i].Start.Before(progs[j].Start)
			}
			return progs[i].Title < progs[j].Title
		})
		out = append(out, dedupe(progs)...)
	}
	return out
}

// dedupe drops repeats of the same match on a sorted channel list, which
// happens when overlapping leagues report one fixture twice.
func dedupe(progs []models.Programme) []models.Programme {
	out := progs[:1]
	for _, p := range progs[1:] {
		last := out[len(out)-1]
		if p.Start.Equal(last.Start) && p.Title == last.Title {
			continue
		}
		out = append(out, p)
	}
	return out
}

// XMLTV renders programmes as an XMLTV document with every registry channel.
// A programme referencing a channel outside the registry is an error.
func (g *Generator) XMLTV(programmes []models.Programme) ([]byte, error) {
	doc := xmltvTV{GeneratorName: g.opts.GeneratorName}
	for _, ch := range g.reg.Channels() {
		doc.Channels = append(doc.Channels, xmltvChannel{ID: ch.ID, DisplayName: ch.DisplayName})
	}
	for _, p := range programmes {
		if _, ok := g.reg.Lookup(p.ChannelID); !ok {
			return nil, fmt.Errorf("programme %q references unknown channel %q", p.Title, p.ChannelID)
		}
		doc.Programmes = append(doc.Programmes, xmltvProgramme{
			Start:   FormatXMLTVTime(p.Start),
			Stop:    FormatXMLTVTime(p.Stop),
			Channel: p.ChannelID,
			Title:   p.Title,
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal xmltv: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// FormatXMLTVTime renders t as "YYYYMMDDHHMMSS +0000".
func FormatXMLTVTime(t time.Time) string {
	return t.UTC().Format(XMLTVTimeLayout)
}
