package guide

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tvguide/internal/metrics"
	"tvguide/models"
	"tvguide/services/fixtures"
)

// ErrRefreshInProgress is returned when a refresh is requested while another
// one is still running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Config controls what a refresh produces.
type Config struct {
	Window         time.Duration
	EnablePlaylist bool
	GroupTitle     string
	StreamBaseURL  string
}

// Service runs the fetch, normalize, filter, generate and publish pipeline
// and owns the published snapshot.
type Service struct {
	source     fixtures.Source
	normalizer *fixtures.Normalizer
	generator  *Generator
	store      *Store
	cfg        Config
	now        func() time.Time
	tracer     trace.Tracer

	mu           sync.RWMutex
	refreshing   bool
	lastRun      time.Time
	lastSuccess  time.Time
	lastError    string
	successCount int
	failureCount int
}

// NewService creates a guide service. A nil store gets a fresh one.
func NewService(source fixtures.Source, normalizer *fixtures.Normalizer, generator *Generator, store *Store, cfg Config) *Service {
	if store == nil {
		store = NewStore()
	}
	if cfg.Window <= 0 {
		cfg.Window = 14 * 24 * time.Hour
	}
	return &Service{
		source:     source,
		normalizer: normalizer,
		generator:  generator,
		store:      store,
		cfg:        cfg,
		now:        time.Now,
		tracer:     otel.Tracer("tvguide/services/guide"),
	}
}

// WithClock overrides the wall clock used for window filtering.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Current returns the published snapshot, if any.
func (s *Service) Current() (*models.GuideSnapshot, bool) {
	return s.store.Current()
}

func (s *Service) PlaylistEnabled() bool {
	return s.cfg.EnablePlaylist
}

func (s *Service) IsRefreshing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshing
}

// Status returns the current guide service status.
func (s *Service) Status() models.GuideStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := models.GuideStatus{
		Refreshing:   s.refreshing,
		LastError:    s.lastError,
		ChannelCount: s.generator.Registry().Len(),
		SuccessCount: s.successCount,
		FailureCount: s.failureCount,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		status.LastRun = &t
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		status.LastSuccess = &t
	}
	if snap, ok := s.store.Current(); ok {
		status.Available = true
		status.SnapshotID = snap.ID
		status.ProgrammeCount = snap.ProgrammeCount
		status.FixtureCount = snap.FixtureCount
	}
	return status
}

// Refresh runs one pipeline pass and publishes the result. On any failure
// the previously published snapshot stays current.
func (s *Service) Refresh(ctx context.Context) (models.RefreshResult, error) {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		log.Println("[guide] refresh already in progress, skipping")
		metrics.RefreshTotal.WithLabelValues("skipped").Inc()
		return models.RefreshResult{}, ErrRefreshInProgress
	}
	s.refreshing = true
	s.lastRun = s.now().UTC()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.Start(ctx, "guide.refresh")
	defer span.End()

	started := time.Now()
	result, err := s.run(ctx)
	elapsed := time.Since(started)
	metrics.RefreshDuration.Observe(elapsed.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failureCount++
		s.lastError = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RefreshTotal.WithLabelValues("failure").Inc()
		log.Printf("[guide] refresh failed after %s, keeping previous guide: %v", elapsed.Round(time.Millisecond), err)
		return models.RefreshResult{}, err
	}

	result.Duration = elapsed
	s.successCount++
	s.lastError = ""
	s.lastSuccess = result.GeneratedAt
	span.SetAttributes(
		attribute.Int("guide.fixtures", result.InWindow),
		attribute.Int("guide.programmes", result.Programmes),
	)
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	log.Printf("[guide] refresh complete: %d fetched, %d valid, %d in window, %d programmes (%s)",
		result.Fetched, result.Normalized, result.InWindow, result.Programmes, elapsed.Round(time.Millisecond))
	return result, nil
}

func (s *Service) run(ctx context.Context) (models.RefreshResult, error) {
	raws, err := s.source.Fetch(ctx)
	if err != nil {
		return models.RefreshResult{}, fmt.Errorf("fetch fixtures: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return models.RefreshResult{}, fmt.Errorf("refresh cancelled: %w", err)
	}

	valid, drops := s.normalizer.NormalizeAll(raws)
	dropped := fixtures.CountDrops(drops)
	for reason, n := range dropped {
		metrics.FixturesDropped.WithLabelValues(reason).Add(float64(n))
	}

	now := s.now().UTC()
	inWindow := fixtures.FilterWindow(valid, now, s.cfg.Window)
	programmes := s.generator.Programmes(inWindow, now)

	xmltv, err := s.generator.XMLTV(programmes)
	if err != nil {
		return models.RefreshResult{}, fmt.Errorf("generate xmltv: %w", err)
	}

	var playlist []byte
	if s.cfg.EnablePlaylist {
		playlist = GenerateM3U(s.generator.Registry().Channels(), s.cfg.GroupTitle, s.cfg.StreamBaseURL)
	}

	if err := ctx.Err(); err != nil {
		return models.RefreshResult{}, fmt.Errorf("refresh cancelled: %w", err)
	}

	snap := &models.GuideSnapshot{
		ID:             uuid.NewString(),
		XMLTV:          xmltv,
		M3U:            playlist,
		GeneratedAt:    now,
		FixtureCount:   len(inWindow),
		ProgrammeCount: len(programmes),
		DroppedCount:   len(drops),
	}
	s.store.Publish(snap)

	metrics.FixturesFetched.Set(float64(len(raws)))
	metrics.ProgrammesPublished.Set(float64(len(programmes)))
	metrics.LastSuccess.Set(float64(now.Unix()))

	return models.RefreshResult{
		SnapshotID:     snap.ID,
		Fetched:        len(raws),
		Normalized:     len(valid),
		InWindow:       len(inWindow),
		Programmes:     len(programmes),
		Dropped:        dropped,
		GeneratedAt:    now,
		PlaylistOutput: playlist != nil,
	}, nil
}
