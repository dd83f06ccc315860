package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tvguide/models"
	"tvguide/services/guide"
	"tvguide/services/scheduler"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	fn     func(ctx context.Context, call int) error
	active atomic.Int32
	maxPar atomic.Int32
}

func (f *fakeRefresher) Refresh(ctx context.Context) (models.RefreshResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxPar.Load()
		if n <= cur || f.maxPar.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fn != nil {
		return models.RefreshResult{}, f.fn(ctx, call)
	}
	return models.RefreshResult{}, nil
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartRunsInitialRefreshSynchronously(t *testing.T) {
	ref := &fakeRefresher{}
	svc := scheduler.NewService(ref, time.Hour, time.Second)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	if got := ref.Calls(); got != 1 {
		t.Fatalf("expected initial refresh before Start returns, got %d calls", got)
	}

	status := svc.Status()
	if !status.Running || status.RunCount != 1 || status.LastRun == nil {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Interval != "1h0m0s" {
		t.Fatalf("unexpected interval %q", status.Interval)
	}

	// Starting twice is a no-op.
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := ref.Calls(); got != 1 {
		t.Fatalf("second start ran another refresh: %d calls", got)
	}
}

func TestStartSurvivesFailedInitialRefresh(t *testing.T) {
	ref := &fakeRefresher{fn: func(context.Context, int) error { return errors.New("api down") }}
	svc := scheduler.NewService(ref, time.Hour, time.Second)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start should not fail: %v", err)
	}
	defer svc.Stop(context.Background())

	if svc.Status().LastError != "api down" {
		t.Fatalf("expected last error recorded, got %+v", svc.Status())
	}
}

func TestLoopRepeatsOnInterval(t *testing.T) {
	ref := &fakeRefresher{}
	svc := scheduler.NewService(ref, 20*time.Millisecond, time.Second)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ref.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ref.Calls() < 3 {
		t.Fatalf("expected at least 3 refreshes, got %d", ref.Calls())
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	stopped := ref.Calls()
	time.Sleep(60 * time.Millisecond)
	if ref.Calls() != stopped {
		t.Fatalf("refresh ran after stop: %d -> %d", stopped, ref.Calls())
	}
	if svc.Status().Running {
		t.Fatal("expected scheduler to report stopped")
	}
}

func TestCyclesNeverOverlap(t *testing.T) {
	ref := &fakeRefresher{fn: func(ctx context.Context, call int) error {
		if call > 1 {
			time.Sleep(30 * time.Millisecond) // longer than the interval
		}
		return nil
	}}
	svc := scheduler.NewService(ref, 5*time.Millisecond, time.Second)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	svc.Stop(context.Background())

	if got := ref.maxPar.Load(); got != 1 {
		t.Fatalf("expected at most one concurrent refresh, saw %d", got)
	}
}

func TestPanicIsRecoveredAtCycleBoundary(t *testing.T) {
	ref := &fakeRefresher{fn: func(ctx context.Context, call int) error {
		if call == 2 {
			panic("generator exploded")
		}
		return nil
	}}
	svc := scheduler.NewService(ref, 10*time.Millisecond, time.Second)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for ref.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ref.Calls() < 3 {
		t.Fatalf("loop did not continue after panic: %d calls", ref.Calls())
	}
	if svc.Status().Panics != 1 {
		t.Fatalf("expected one recorded panic, got %+v", svc.Status())
	}
}

func TestRunNowReportsInProgress(t *testing.T) {
	ref := &fakeRefresher{fn: func(context.Context, int) error { return guide.ErrRefreshInProgress }}
	svc := scheduler.NewService(ref, time.Hour, time.Second)

	err := svc.RunNow(context.Background())
	if !errors.Is(err, guide.ErrRefreshInProgress) {
		t.Fatalf("expected ErrRefreshInProgress, got %v", err)
	}
	status := svc.Status()
	if status.Skipped != 1 || status.RunCount != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCycleTimeoutBoundsRefresh(t *testing.T) {
	ref := &fakeRefresher{fn: func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	svc := scheduler.NewService(ref, time.Hour, 20*time.Millisecond)

	start := time.Now()
	err := svc.RunNow(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cycle timeout was not applied")
	}
}

func TestStopWithoutStart(t *testing.T) {
	svc := scheduler.NewService(&fakeRefresher{}, time.Hour, time.Second)
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTriggerClaimsCycleBeforeReturning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ref := &fakeRefresher{fn: func(ctx context.Context, call int) error {
		if call == 1 {
			close(entered)
			<-release
		}
		return nil
	}}
	svc := scheduler.NewService(ref, time.Hour, time.Second)

	if err := svc.Trigger(time.Second); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	// The cycle is already claimed, even if its goroutine has not run yet.
	if err := svc.Trigger(time.Second); !errors.Is(err, guide.ErrRefreshInProgress) {
		t.Fatalf("expected ErrRefreshInProgress, got %v", err)
	}
	<-entered
	if err := svc.RunNow(context.Background()); !errors.Is(err, guide.ErrRefreshInProgress) {
		t.Fatalf("expected RunNow to be refused, got %v", err)
	}
	if got := ref.Calls(); got != 1 {
		t.Fatalf("refused triggers reached the refresher: %d calls", got)
	}

	close(release)
	waitFor(t, func() bool { return svc.Status().RunCount == 1 }, "triggered cycle never finished")
	if status := svc.Status(); status.Skipped != 2 {
		t.Fatalf("expected two skipped requests, got %+v", status)
	}

	waitFor(t, func() bool { return svc.Trigger(time.Second) == nil }, "cycle was not released")
	waitFor(t, func() bool { return ref.Calls() == 2 }, "second trigger never ran")
}

func TestStopTimeoutKeepsRunningUntilCycleEnds(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ref := &fakeRefresher{fn: func(ctx context.Context, call int) error {
		if call == 2 {
			close(entered)
			<-release // ignores ctx, like a stuck upstream call
		}
		return nil
	}}
	svc := scheduler.NewService(ref, 5*time.Millisecond, time.Minute)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected stop to time out, got %v", err)
	}
	if !svc.Status().Running {
		t.Fatal("scheduler must report running while its cycle is in flight")
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start while stopping: %v", err)
	}
	if got := ref.Calls(); got != 2 {
		t.Fatalf("start while stopping ran a refresh: %d calls", got)
	}

	close(release)
	waitFor(t, func() bool { return !svc.Status().Running }, "loop never exited")

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := ref.Calls(); got != 3 {
		t.Fatalf("restart should run the initial refresh, got %d calls", got)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
