package scheduler

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tvguide/internal/metrics"
	"tvguide/internal/telemetry"
	"tvguide/models"
	"tvguide/services/guide"
)

const defaultCycleTimeout = 5 * time.Minute

// Refresher is the work the scheduler repeats.
type Refresher interface {
	Refresh(ctx context.Context) (models.RefreshResult, error)
}

// Service runs the guide refresh on a fixed interval
type Service struct {
	refresher    Refresher
	interval     time.Duration
	cycleTimeout time.Duration

	// Runtime state
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{} // closed when the current loop exits

	// busy is held for the whole of a cycle, whoever started it.
	busy atomic.Bool

	statusMu  sync.RWMutex
	lastRun   time.Time
	nextRun   time.Time
	lastError string
	runCount  int
	skipped   int
	panics    int
}

// NewService creates a new scheduler service
func NewService(refresher Refresher, interval, cycleTimeout time.Duration) *Service {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if cycleTimeout <= 0 {
		cycleTimeout = defaultCycleTimeout
	}
	return &Service{
		refresher:    refresher,
		interval:     interval,
		cycleTimeout: cycleTimeout,
	}
}

// Start runs one refresh synchronously and then begins the background loop.
// A failed first refresh is logged, not returned: the guide simply stays
// unavailable until a later cycle succeeds.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)

	log.Println("[scheduler] running initial refresh")
	if err := s.runCycle(loopCtx); err != nil {
		log.Printf("[scheduler] initial refresh failed: %v", err)
	}

	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	log.Printf("[scheduler] Scheduler service started (every %s)", s.interval)
	return nil
}

// Stop gracefully stops the scheduler. If ctx expires first, Stop returns its
// error and the scheduler keeps reporting running until the in-flight cycle
// ends; Start is a no-op until then.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}

	s.cancel()

	select {
	case <-s.done:
		log.Println("[scheduler] Scheduler service stopped gracefully")
		return nil
	case <-ctx.Done():
		log.Println("[scheduler] Scheduler service stop timed out, cycle still running")
		return ctx.Err()
	}
}

// RunNow runs a cycle immediately on the caller's goroutine. It returns
// guide.ErrRefreshInProgress when a cycle is already running.
func (s *Service) RunNow(ctx context.Context) error {
	return s.runCycle(ctx)
}

// Trigger claims the cycle synchronously and runs it in the background under
// timeout. It returns guide.ErrRefreshInProgress, without starting anything,
// when a cycle is already running.
func (s *Service) Trigger(timeout time.Duration) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.skip()
		return guide.ErrRefreshInProgress
	}

	go func() {
		defer s.busy.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.cycle(ctx); err != nil {
			log.Printf("[scheduler] manual refresh failed: %v", err)
		}
	}()
	return nil
}

// Status returns the loop state.
func (s *Service) Status() models.SchedulerStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	status := models.SchedulerStatus{
		Running:   s.running.Load(),
		Interval:  s.interval.String(),
		LastError: s.lastError,
		RunCount:  s.runCount,
		Skipped:   s.skipped,
		Panics:    s.panics,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		status.LastRun = &t
	}
	if !s.nextRun.IsZero() {
		t := s.nextRun
		status.NextRun = &t
	}
	return status
}

// loop is the background ticker loop. A tick that arrives while a cycle is
// still running is dropped by the ticker, so cycles never overlap.
func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick can be pending alongside cancellation; stopping wins.
			if ctx.Err() != nil {
				return
			}
			if err := s.runCycle(ctx); err != nil && !errors.Is(err, guide.ErrRefreshInProgress) {
				log.Printf("[scheduler] refresh cycle failed: %v", err)
			}
			s.setNextRun(time.Now().Add(s.interval))
		}
	}
}

// runCycle runs a cycle unless one is already in progress.
func (s *Service) runCycle(parent context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.skip()
		return guide.ErrRefreshInProgress
	}
	defer s.busy.Store(false)
	return s.cycle(parent)
}

// cycle executes one refresh under a timeout. A panic inside the refresh
// is recovered here so neither the loop nor the server goes down with it.
func (s *Service) cycle(parent context.Context) (err error) {
	started := time.Now().UTC()

	defer func() {
		if rec := recover(); rec != nil {
			err = telemetry.CapturePanic(rec, map[string]string{"operation": "refresh"})
			metrics.SchedulerPanics.Inc()
			log.Printf("[scheduler] recovered panic in refresh cycle: %v\n%s", rec, debug.Stack())

			s.statusMu.Lock()
			s.panics++
			s.statusMu.Unlock()
		}
		s.record(started, err)
	}()

	ctx, cancel := context.WithTimeout(parent, s.cycleTimeout)
	defer cancel()

	_, err = s.refresher.Refresh(ctx)
	if err != nil && !errors.Is(err, guide.ErrRefreshInProgress) {
		telemetry.CaptureError(err, map[string]string{"operation": "refresh"})
	}
	return err
}

func (s *Service) record(started time.Time, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if errors.Is(err, guide.ErrRefreshInProgress) {
		s.skipped++
		return
	}
	s.lastRun = started
	s.runCount++
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
}

func (s *Service) skip() {
	log.Println("[scheduler] refresh already in progress, skipping")
	metrics.RefreshTotal.WithLabelValues("skipped").Inc()
	s.statusMu.Lock()
	s.skipped++
	s.statusMu.Unlock()
}

func (s *Service) setNextRun(t time.Time) {
	s.statusMu.Lock()
	s.nextRun = t.UTC()
	s.statusMu.Unlock()
}
