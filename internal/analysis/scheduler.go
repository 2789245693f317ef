package analysis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mfield/pranight/internal/metrics"
	"github.com/mfield/pranight/internal/models"
)

type SchedulerConfig struct {
	// Interval between nightly cycles. Each cycle is idempotent, so a
	// short interval only costs the gate checks.
	Interval time.Duration
	// RunHour is the local hour in RunTZ before which a cycle targets
	// the previous night.
	RunHour int
	// RunTZ anchors the analysis-date rollover.
	RunTZ *time.Location
	// Force recomputes nights that are already persisted.
	Force bool
	// RawRetentionNights bounds the on-disk raw cache; 0 disables
	// pruning.
	RawRetentionNights int
}

// Scheduler drives the nightly cycle over all configured stations.
// Stations run sequentially; a failure or panic in one never stops
// the others.
type Scheduler struct {
	runner   *Runner
	stations []models.Station
	cfg      SchedulerConfig

	// PruneRaw removes cached raw day files older than the cutoff.
	// Optional.
	PruneRaw func(cutoff time.Time) (int, error)

	now func() time.Time
}

func NewScheduler(runner *Runner, sts []models.Station, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RunTZ == nil {
		cfg.RunTZ = time.UTC
	}
	return &Scheduler{runner: runner, stations: sts, cfg: cfg, now: time.Now}
}

// Run executes one cycle immediately, then one per interval until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("scheduler: starting, %d stations, interval %s", len(s.stations), s.cfg.Interval)
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle processes the current analysis night for every station.
func (s *Scheduler) RunCycle(ctx context.Context) {
	night := analysisNight(s.now(), s.cfg.RunTZ, s.cfg.RunHour)
	persisted, skipped, failed := s.processNight(ctx, night, s.cfg.Force)
	log.Printf("scheduler: cycle for night %s done: %d persisted, %d skipped, %d failed",
		night.Format("2006-01-02"), persisted, skipped, failed)
	s.pruneRaw(night)
}

// RunNightAt processes one explicitly named night for every station,
// recomputing records that already exist.
func (s *Scheduler) RunNightAt(ctx context.Context, night time.Time) {
	persisted, skipped, failed := s.processNight(ctx, night, true)
	log.Printf("scheduler: night %s done: %d persisted, %d skipped, %d failed",
		night.Format("2006-01-02"), persisted, skipped, failed)
}

// Backfill processes the n most recent nights oldest-first so each
// night's quiet pool sees its predecessors. Nights are recomputed even
// when already persisted.
func (s *Scheduler) Backfill(ctx context.Context, n int) {
	last := analysisNight(s.now(), s.cfg.RunTZ, s.cfg.RunHour)
	for back := n - 1; back >= 0; back-- {
		if ctx.Err() != nil {
			return
		}
		night := last.AddDate(0, 0, -back)
		log.Printf("scheduler: backfilling night %s", night.Format("2006-01-02"))
		s.processNight(ctx, night, true)
	}
	s.pruneRaw(last)
}

// processNight walks the stations sequentially for one night,
// recording per-station metrics as it goes.
func (s *Scheduler) processNight(ctx context.Context, night time.Time, force bool) (persisted, skipped, failed int) {
	for _, st := range s.stations {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		res := s.runStation(st, night, force)
		metrics.NightDuration.WithLabelValues(st.Code).Observe(time.Since(started).Seconds())
		metrics.NightsProcessed.WithLabelValues(st.Code, string(res.State)).Inc()
		switch res.State {
		case StatePersisted:
			persisted++
			if res.Record != nil {
				metrics.NightThreshold.WithLabelValues(st.Code, res.Record.ThresholdMethod).Set(res.Record.Threshold)
				if res.Record.AnomalousCount > 0 {
					metrics.AnomalousWindows.WithLabelValues(st.Code).Add(float64(res.Record.AnomalousCount))
				}
			}
		case StateSkipped:
			skipped++
			log.Printf("scheduler: %s night %s skipped: %s", st.Code, night.Format("2006-01-02"), res.Reason)
		default:
			failed++
			log.Printf("scheduler: %s night %s failed: %v", st.Code, night.Format("2006-01-02"), res.Err)
		}
	}
	return
}

// runStation isolates a panic in one station's pipeline so the rest of
// the cycle still runs.
func (s *Scheduler) runStation(st models.Station, night time.Time, force bool) (res RunResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("scheduler: %s night %s panicked: %v", st.Code, night.Format("2006-01-02"), rec)
			res = RunResult{
				Station:   st.Code,
				NightDate: night,
				State:     StateFailed,
				Err:       fmt.Errorf("panic: %v", rec),
			}
		}
	}()
	return s.runner.RunNight(st, night, force)
}

func (s *Scheduler) pruneRaw(night time.Time) {
	if s.PruneRaw == nil || s.cfg.RawRetentionNights <= 0 {
		return
	}
	cutoff := night.AddDate(0, 0, -s.cfg.RawRetentionNights)
	n, err := s.PruneRaw(cutoff)
	if err != nil {
		log.Printf("scheduler: prune raw cache: %v", err)
	} else if n > 0 {
		log.Printf("scheduler: pruned %d raw day files before %s", n, cutoff.Format("2006-01-02"))
	}
}

// analysisNight picks the night a cycle should process: today in the
// run timezone, rolled back one day before the run hour. The result is
// a date value at midnight UTC.
func analysisNight(now time.Time, loc *time.Location, runHour int) time.Time {
	local := now.In(loc)
	if local.Hour() < runHour {
		local = local.AddDate(0, 0, -1)
	}
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
