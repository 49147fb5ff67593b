/*
scheduler.go - Automated expiration sweep and day closing

PURPOSE:
  Periodically expires overtime credits whose expiration date has passed
  and posts the previous day's timesheet of every scheduled employee to the
  overtime bank.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run: Ledger.SweepAll, then Timesheet.CloseAll(yesterday)
  - Both steps are idempotent, so running more often than daily is safe:
    a swept lot is gone and an unchanged posted day is skipped
  - Records every run in sweep_runs for audit and the admin API

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour, SWEEP_INTERVAL)
  - Enabled: Whether scheduler is active (default: true, SCHEDULER_ENABLED)

USAGE:
  scheduler := NewSweepScheduler(store, ledger, timesheetService)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual run)
  - overtime/ledger.go: SweepAll
  - timesheet/service.go: CloseAll
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/timesheet"
)

// Run statuses stored in sweep_runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SweepScheduler runs the expiration sweep and day closing on a ticker.
type SweepScheduler struct {
	Store         *sqlite.Store
	Ledger        *overtime.Ledger
	Timesheet     *timesheet.Service
	CheckInterval time.Duration
	Enabled       bool
	Location      *time.Location
	Logger        *slog.Logger

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(store *sqlite.Store, ledger *overtime.Ledger, ts *timesheet.Service) *SweepScheduler {
	return &SweepScheduler{
		Store:         store,
		Ledger:        ledger,
		Timesheet:     ts,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Location:      time.UTC,
		Logger:        slog.Default(),
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.Logger.Info("scheduler disabled, not starting")
		return
	}
	if ss.ticker != nil {
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.stop = make(chan struct{})
	ss.wg.Add(1)

	go ss.run()

	ss.Logger.Info("scheduler started", "interval", ss.CheckInterval.String())
}

// Stop stops the scheduler and waits for a running pass to finish.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.ticker = nil
		ss.Logger.Info("scheduler stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ss.stop
		cancel()
	}()

	// Run immediately on start
	ss.RunOnce(ctx)

	for {
		select {
		case <-ss.ticker.C:
			ss.RunOnce(ctx)
		case <-ss.stop:
			return
		}
	}
}

// RunOnce sweeps expired credits and closes yesterday, recording the run.
// Concurrent calls are serialized.
func (ss *SweepScheduler) RunOnce(ctx context.Context) (sqlite.SweepRun, error) {
	ss.runMu.Lock()
	defer ss.runMu.Unlock()

	started := ss.now().UTC()
	today := generic.DateOf(started.In(ss.Location))
	run := sqlite.SweepRun{
		ID:        uuid.NewString(),
		RunDate:   today,
		Status:    RunRunning,
		StartedAt: started,
	}
	if err := ss.Store.SaveSweepRun(ctx, run); err != nil {
		ss.Logger.Error("failed to save sweep run", "run_id", run.ID, "error", err)
		return run, fmt.Errorf("save run record: %w", err)
	}

	var errs []error

	swept, err := ss.Ledger.SweepAll(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
	}
	run.Employees = swept.Employees
	run.Expirations = swept.Expirations
	run.ExpiredMinutes = swept.Minutes

	if ss.Timesheet != nil {
		closed, err := ss.Timesheet.CloseAll(ctx, today.AddDays(-1))
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", today.AddDays(-1), err))
		}
		run.PostedDays = closed.Posted
	}

	completed := ss.now().UTC()
	run.CompletedAt = &completed
	run.Status = RunCompleted
	runErr := errors.Join(errs...)
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	// The run record is written even when the context was cancelled mid-run.
	if err := ss.Store.SaveSweepRun(context.WithoutCancel(ctx), run); err != nil {
		ss.Logger.Error("failed to update sweep run", "run_id", run.ID, "error", err)
	}

	logArgs := []any{
		"run_id", run.ID,
		"employees", run.Employees,
		"expirations", run.Expirations,
		"expired", run.ExpiredMinutes.String(),
		"posted_days", run.PostedDays,
		"duration", completed.Sub(started).String(),
	}
	if runErr != nil {
		ss.Logger.Error("scheduler run failed", append(logArgs, "error", runErr)...)
	} else {
		ss.Logger.Info("scheduler run completed", logArgs...)
	}
	return run, runErr
}
