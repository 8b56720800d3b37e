/*
scheduler.go - Automated monthly debt generation

PURPOSE:
  Periodically checks whether the current month has been billed yet and
  runs the debt generator when it hasn't. The generator itself is
  idempotent (debt-exists probe + unique index), so an extra run is
  harmless; the scheduler just avoids hammering it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Triggers the generator when the month changes (and once on start)
  - Records the last generated month to skip redundant runs

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewGenerationScheduler(handler.Generator)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateDebts endpoint (manual trigger)
  - ledger/generate.go: Generator
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

// GenerationScheduler runs the monthly debt generator in the background.
type GenerationScheduler struct {
	Generator     *ledger.Generator
	CheckInterval time.Duration
	Enabled       bool
	Log           *slog.Logger

	lastMonth ledger.Month
	ticker    *time.Ticker
	stop      chan bool
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewGenerationScheduler creates a new scheduler.
func NewGenerationScheduler(gen *ledger.Generator) *GenerationScheduler {
	return &GenerationScheduler{
		Generator:     gen,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           slog.Default(),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (gs *GenerationScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.Log.Info("scheduler disabled, not starting")
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.wg.Add(1)

	go gs.run()

	gs.Log.Info("scheduler started", "check_interval", gs.CheckInterval)
}

// Stop stops the scheduler. The mutex is released before waiting so an
// in-flight generation can finish.
func (gs *GenerationScheduler) Stop() {
	gs.mu.Lock()
	ticker := gs.ticker
	gs.ticker = nil
	gs.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		gs.Log.Info("scheduler stopped")
	}
}

func (gs *GenerationScheduler) run() {
	defer gs.wg.Done()

	gs.mu.Lock()
	ticker := gs.ticker
	gs.mu.Unlock()

	// Run immediately on start
	gs.checkAndGenerate()

	for {
		select {
		case <-ticker.C:
			gs.checkAndGenerate()
		case <-gs.stop:
			return
		}
	}
}

func (gs *GenerationScheduler) checkAndGenerate() {
	ctx := context.Background()
	month := ledger.MonthOf(gs.Generator.Clock.Now())

	gs.mu.Lock()
	done := gs.lastMonth == month
	gs.mu.Unlock()
	if done {
		return
	}

	report, err := gs.Generator.Run(ctx)
	if err != nil {
		gs.Log.Error("scheduled debt generation failed", "month", month, "error", err)
		return
	}

	gs.mu.Lock()
	gs.lastMonth = month
	gs.mu.Unlock()

	gs.Log.Info("scheduled debt generation finished",
		"month", report.Month,
		"generated", report.Generated,
		"auto_paid", report.AutoPaid,
		"auto_partial", report.AutoPartial,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
}
