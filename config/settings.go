package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Source    SourceSettings    `json:"source"`
	Schedule  ScheduleSettings  `json:"schedule"`
	Guide     GuideSettings     `json:"guide"`
	Playlist  PlaylistSettings  `json:"playlist"`
	Log       LogConfig         `json:"log"`
	Telemetry TelemetrySettings `json:"telemetry"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Source modes.
const (
	SourceModeAPI    = "api"
	SourceModeScrape = "scrape"
)

// Scrape renderers.
const (
	RendererHTTP    = "http"
	RendererBrowser = "browser"
)

type SourceSettings struct {
	Mode               string             `json:"mode"` // api | scrape
	SportMonks         SportMonksSettings `json:"sportmonks"`
	Scrape             ScrapeSettings     `json:"scrape"`
	Timezone           string             `json:"timezone"` // IANA zone the source publishes kick-off times in
	HTTPTimeoutSeconds int                `json:"httpTimeoutSeconds"`
	RetryAttempts      int                `json:"retryAttempts"`
	MaxConcurrency     int                `json:"maxConcurrency"`
}

type SportMonksSettings struct {
	APIToken  string   `json:"apiToken"`
	BaseURL   string   `json:"baseUrl"`
	LeagueIDs []string `json:"leagueIds"`
	MaxPages  int      `json:"maxPages"`
}

type ScrapeSettings struct {
	URLs     []string `json:"urls"`
	Renderer string   `json:"renderer"` // http | browser
}

type ScheduleSettings struct {
	// IntervalMinutes of 0 selects the default for the source mode.
	IntervalMinutes     int `json:"intervalMinutes"`
	CycleTimeoutSeconds int `json:"cycleTimeoutSeconds"`
}

type GuideSettings struct {
	GeneratorName        string `json:"generatorName"`
	WindowDays           int    `json:"windowDays"`
	MatchDurationMinutes int    `json:"matchDurationMinutes"`
	MatchStrategy        string `json:"matchStrategy"` // strict | lenient
	PlaceholderTitle     string `json:"placeholderTitle"`
}

type PlaylistSettings struct {
	Enabled       bool   `json:"enabled"`
	GroupTitle    string `json:"groupTitle"`
	StreamBaseURL string `json:"streamBaseUrl"`
}

// LogConfig controls file logging with rotation.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`    // megabytes
	MaxBackups int    `json:"maxBackups"` // number of rotated files to keep
	MaxAge     int    `json:"maxAge"`     // days
	Compress   bool   `json:"compress"`
}

type TelemetrySettings struct {
	TracingExporter string `json:"tracingExporter"` // none | stdout | otlp-http
	SentryDSN       string `json:"sentryDsn"`
	Environment     string `json:"environment"`
}

const (
	defaultAPIIntervalMinutes    = 15
	defaultScrapeIntervalMinutes = 24 * 60
)

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 5000},
		Source: SourceSettings{
			Mode: SourceModeAPI,
			SportMonks: SportMonksSettings{
				BaseURL:   "https://api.sportmonks.com/v3/football",
				LeagueIDs: []string{"501"},
				MaxPages:  10,
			},
			Scrape:             ScrapeSettings{URLs: []string{}, Renderer: RendererHTTP},
			Timezone:           "UTC",
			HTTPTimeoutSeconds: 30,
			RetryAttempts:      3,
			MaxConcurrency:     4,
		},
		Schedule: ScheduleSettings{IntervalMinutes: 0, CycleTimeoutSeconds: 300},
		Guide: GuideSettings{
			GeneratorName:        "Scottish Football TV Guide Generator",
			WindowDays:           14,
			MatchDurationMinutes: 120,
			MatchStrategy:        "strict",
			PlaceholderTitle:     "No fixtures scheduled",
		},
		Playlist: PlaylistSettings{
			Enabled:       true,
			GroupTitle:    "Scottish Football",
			StreamBaseURL: "http://localhost:5000/stream",
		},
		Log: LogConfig{
			File:       "tvguide.log",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
		Telemetry: TelemetrySettings{TracingExporter: "none", Environment: "production"},
	}
}

// RefreshInterval returns the configured interval, falling back to the
// source mode default when none is set.
func (s Settings) RefreshInterval() time.Duration {
	minutes := s.Schedule.IntervalMinutes
	if minutes <= 0 {
		minutes = defaultAPIIntervalMinutes
		if s.Source.Mode == SourceModeScrape {
			minutes = defaultScrapeIntervalMinutes
		}
	}
	return time.Duration(minutes) * time.Minute
}

func (s Settings) Window() time.Duration {
	return time.Duration(s.Guide.WindowDays) * 24 * time.Hour
}

func (s Settings) MatchDuration() time.Duration {
	return time.Duration(s.Guide.MatchDurationMinutes) * time.Minute
}

func (s Settings) HTTPTimeout() time.Duration {
	return time.Duration(s.Source.HTTPTimeoutSeconds) * time.Second
}

func (s Settings) CycleTimeout() time.Duration {
	return time.Duration(s.Schedule.CycleTimeoutSeconds) * time.Second
}

// Location resolves the source timezone.
func (s Settings) Location() (*time.Location, error) {
	name := strings.TrimSpace(s.Source.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Validate reports the first inconsistency found in s.
func (s Settings) Validate() error {
	switch s.Source.Mode {
	case SourceModeAPI:
		if strings.TrimSpace(s.Source.SportMonks.APIToken) == "" {
			return errors.New("source.sportmonks.apiToken is required in api mode")
		}
		if strings.TrimSpace(s.Source.SportMonks.BaseURL) == "" {
			return errors.New("source.sportmonks.baseUrl is required in api mode")
		}
	case SourceModeScrape:
		if len(s.Source.Scrape.URLs) == 0 {
			return errors.New("source.scrape.urls is required in scrape mode")
		}
		if r := s.Source.Scrape.Renderer; r != RendererHTTP && r != RendererBrowser {
			return fmt.Errorf("unknown scrape renderer %q", r)
		}
	default:
		return fmt.Errorf("unknown source mode %q", s.Source.Mode)
	}
	if s.Guide.WindowDays <= 0 {
		return errors.New("guide.windowDays must be positive")
	}
	if s.Guide.MatchDurationMinutes <= 0 {
		return errors.New("guide.matchDurationMinutes must be positive")
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Server.Port)
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("source.timezone: %w", err)
	}
	return nil
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode %s: %w", m.path, err)
	}
	backfill(&s)
	return s, nil
}

// backfill replaces zero values left by older or hand-edited files.
func backfill(s *Settings) {
	d := DefaultSettings()
	if s.Server.Host == "" {
		s.Server.Host = d.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
	if s.Source.Mode == "" {
		s.Source.Mode = d.Source.Mode
	}
	if s.Source.SportMonks.BaseURL == "" {
		s.Source.SportMonks.BaseURL = d.Source.SportMonks.BaseURL
	}
	if s.Source.SportMonks.LeagueIDs == nil {
		s.Source.SportMonks.LeagueIDs = d.Source.SportMonks.LeagueIDs
	}
	if s.Source.SportMonks.MaxPages <= 0 {
		s.Source.SportMonks.MaxPages = d.Source.SportMonks.MaxPages
	}
	if s.Source.Scrape.URLs == nil {
		s.Source.Scrape.URLs = []string{}
	}
	if s.Source.Scrape.Renderer == "" {
		s.Source.Scrape.Renderer = d.Source.Scrape.Renderer
	}
	if s.Source.Timezone == "" {
		s.Source.Timezone = d.Source.Timezone
	}
	if s.Source.HTTPTimeoutSeconds <= 0 {
		s.Source.HTTPTimeoutSeconds = d.Source.HTTPTimeoutSeconds
	}
	if s.Source.RetryAttempts <= 0 {
		s.Source.RetryAttempts = d.Source.RetryAttempts
	}
	if s.Source.MaxConcurrency <= 0 {
		s.Source.MaxConcurrency = d.Source.MaxConcurrency
	}
	if s.Schedule.CycleTimeoutSeconds <= 0 {
		s.Schedule.CycleTimeoutSeconds = d.Schedule.CycleTimeoutSeconds
	}
	if s.Guide.GeneratorName == "" {
		s.Guide.GeneratorName = d.Guide.GeneratorName
	}
	if s.Guide.WindowDays <= 0 {
		s.Guide.WindowDays = d.Guide.WindowDays
	}
	if s.Guide.MatchDurationMinutes <= 0 {
		s.Guide.MatchDurationMinutes = d.Guide.MatchDurationMinutes
	}
	if s.Guide.MatchStrategy == "" {
		s.Guide.MatchStrategy = d.Guide.MatchStrategy
	}
	if s.Guide.PlaceholderTitle == "" {
		s.Guide.PlaceholderTitle = d.Guide.PlaceholderTitle
	}
	if s.Playlist.GroupTitle == "" {
		s.Playlist.GroupTitle = d.Playlist.GroupTitle
	}
	if s.Playlist.StreamBaseURL == "" {
		s.Playlist.StreamBaseURL = d.Playlist.StreamBaseURL
	}
	// A missing log section gets the defaults. An explicit empty file with
	// the rest of the section present disables file logging.
	if s.Log == (LogConfig{}) {
		s.Log = d.Log
	}
	if s.Log.MaxSize <= 0 {
		s.Log.MaxSize = d.Log.MaxSize
	}
	if s.Log.MaxBackups <= 0 {
		s.Log.MaxBackups = d.Log.MaxBackups
	}
	if s.Log.MaxAge <= 0 {
		s.Log.MaxAge = d.Log.MaxAge
	}
	if s.Telemetry.TracingExporter == "" {
		s.Telemetry.TracingExporter = d.Telemetry.TracingExporter
	}
	if s.Telemetry.Environment == "" {
		s.Telemetry.Environment = d.Telemetry.Environment
	}
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// ApplyEnv overlays environment variables onto s. lookup is normally
// os.LookupEnv; tests pass a map-backed function.
func ApplyEnv(s *Settings, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HOST", &s.Server.Host)
	if err := num("PORT", &s.Server.Port); err != nil {
		return err
	}

	str("SOURCE_MODE", &s.Source.Mode)
	s.Source.Mode = strings.ToLower(s.Source.Mode)
	str("SPORTMONKS_API_TOKEN", &s.Source.SportMonks.APIToken)
	str("SPORTMONKS_BASE_URL", &s.Source.SportMonks.BaseURL)
	if v, ok := lookup("LEAGUE_IDS"); ok {
		s.Source.SportMonks.LeagueIDs = SplitList(v)
	}
	if v, ok := lookup("SCRAPE_URLS"); ok {
		s.Source.Scrape.URLs = SplitList(v)
	}
	str("SCRAPE_RENDERER", &s.Source.Scrape.Renderer)
	str("SOURCE_TIMEZONE", &s.Source.Timezone)
	if err := num("HTTP_TIMEOUT_SECONDS", &s.Source.HTTPTimeoutSeconds); err != nil {
		return err
	}

	if err := num("UPDATE_INTERVAL_MINUTES", &s.Schedule.IntervalMinutes); err != nil {
		return err
	}

	if err := num("WINDOW_DAYS", &s.Guide.WindowDays); err != nil {
		return err
	}
	if err := num("MATCH_DURATION_MINUTES", &s.Guide.MatchDurationMinutes); err != nil {
		return err
	}
	str("MATCH_STRATEGY", &s.Guide.MatchStrategy)

	if v, ok := lookup("ENABLE_M3U"); ok && strings.TrimSpace(v) != "" {
		s.Playlist.Enabled = ParseFlag(v)
	}
	str("M3U_GROUP_TITLE", &s.Playlist.GroupTitle)
	str("STREAM_BASE_URL", &s.Playlist.StreamBaseURL)

	// LOG_FILE set to an empty value turns file logging off.
	if v, ok := lookup("LOG_FILE"); ok {
		s.Log.File = strings.TrimSpace(v)
	}

	str("TRACING_EXPORTER", &s.Telemetry.TracingExporter)
	str("SENTRY_DSN", &s.Telemetry.SentryDSN)
	str("TVGUIDE_ENV", &s.Telemetry.Environment)
	return nil
}

// ParseFlag accepts the yes/true/1 spellings used by the .env file.
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	}
	return false
}

// SplitList splits a comma separated value, trimming blanks and duplicates
// while keeping the first-seen order.
func SplitList(v string) []string {
	parts := lo.Map(strings.Split(v, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Uniq(lo.Compact(parts))
}
