// Package detect turns calibrated thresholds, quiet flags and band
// powers into per-window and per-night anomaly verdicts.
package detect

import (
	"time"

	"github.com/mfield/pranight/internal/models"
)

// GuardConfig controls the amplitude guard that keeps low-power ratio
// noise from being flagged.
type GuardConfig struct {
	// UseZScore switches from the fixed minimum to a station-relative
	// z-score test when per-station power statistics exist.
	UseZScore bool
	// MinZScore is the z-score the vertical band power must exceed.
	MinZScore float64
	// FixedMin is the absolute vertical band power floor used when no
	// statistics are available.
	FixedMin float64
}

type Config struct {
	Guard GuardConfig
	// UsePersistence requires PersistCount flagged nights within
	// PersistDays before declaring the night anomalous.
	UsePersistence bool
	PersistCount   int
	PersistDays    int
}

func DefaultConfig() Config {
	return Config{
		Guard:        GuardConfig{MinZScore: 1.25, FixedMin: 2.5},
		PersistCount: 2,
		PersistDays:  2,
	}
}

const tinySigma = 2.220446049250313e-16

// Passes reports whether the vertical band power clears the amplitude
// guard.
func Passes(vertical float64, stats *models.PowerStats, cfg GuardConfig) bool {
	if !cfg.UseZScore || stats == nil || stats.SampleCount == 0 {
		return vertical > cfg.FixedMin
	}
	sd := stats.StdDev
	if sd <= 0 {
		sd = tinySigma
	}
	return (vertical-stats.Mean)/sd > cfg.MinZScore
}

// Result is the outcome of one night's decision. Events lists every
// flagged window; callers persist them only when NightAnomalous holds.
type Result struct {
	Windows        []models.WindowSample
	Events         []models.AnomalyEvent
	NightAnomalous bool
	AnomalousCount int
}

// Decide flags each window whose ratio exceeds the threshold during
// quiet conditions with enough vertical power, then settles the night
// verdict. nightRef is the night's local midnight; it anchors the
// per-event day offset and the persistence lookback. pastFlagged holds
// earlier nights already flagged anomalous. Window flags are updated
// in place.
func Decide(windows []models.WindowSample, thr float64, stats *models.PowerStats, pastFlagged []time.Time, nightRef time.Time, cfg Config) Result {
	res := Result{Windows: windows}

	for i := range windows {
		w := &windows[i]
		w.IsAnomalous = w.P > thr && w.IsQuiet && Passes(w.VerticalPower, stats, cfg.Guard)
		if !w.IsAnomalous {
			continue
		}
		res.AnomalousCount++
		res.Events = append(res.Events, models.AnomalyEvent{
			Time:            w.MidTime,
			DayOffset:       w.MidTime.Sub(nightRef).Hours() / 24,
			Value:           w.P,
			VerticalPower:   w.VerticalPower,
			HorizontalPower: w.HorizontalPower,
			Threshold:       thr,
		})
	}

	if cfg.UsePersistence {
		res.NightAnomalous = persistentRun(pastFlagged, res.AnomalousCount > 0, nightRef, cfg)
	} else {
		res.NightAnomalous = res.AnomalousCount > 0
	}
	return res
}

// persistentRun counts flagged nights, the current one included, in
// the closed lookback [nightRef - PersistDays, nightRef].
func persistentRun(pastFlagged []time.Time, currentFlagged bool, nightRef time.Time, cfg Config) bool {
	count := 0
	if currentFlagged {
		count++
	}
	lo := nightRef.Add(-time.Duration(cfg.PersistDays) * 24 * time.Hour)
	for _, d := range pastFlagged {
		if !d.Before(lo) && !d.After(nightRef) {
			count++
		}
	}
	if count == 0 {
		return false
	}
	return count >= cfg.PersistCount
}
