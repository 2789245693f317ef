// Package analysis runs the nightly polarization-ratio pipeline for
// each station: acquire raw days, extract hourly band-power windows,
// calibrate a threshold from the quiet history and persist the
// night's verdict.
package analysis

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/mfield/pranight/internal/detect"
	"github.com/mfield/pranight/internal/disturbance"
	"github.com/mfield/pranight/internal/models"
	"github.com/mfield/pranight/internal/spectral"
	"github.com/mfield/pranight/internal/stations"
	"github.com/mfield/pranight/internal/store"
	"github.com/mfield/pranight/internal/threshold"
)

// ErrDataUnavailable marks raw data the publisher has not released
// yet. The night is skipped, not failed, and retried next cycle.
var ErrDataUnavailable = errors.New("raw data not yet available")

// ErrInsufficientSamples marks a night window with too few raw samples
// to fill a single analysis window.
var ErrInsufficientSamples = errors.New("insufficient raw samples")

// State names the stage a station-night run is in. PERSISTED, SKIPPED
// and FAILED are terminal.
type State string

const (
	StateWaiting     State = "WAITING_FOR_WINDOW"
	StateAcquiring   State = "ACQUIRING"
	StateExtracting  State = "EXTRACTING"
	StateCalibrating State = "CALIBRATING"
	StateDeciding    State = "DECIDING"
	StatePersisted   State = "PERSISTED"
	StateSkipped     State = "SKIPPED"
	StateFailed      State = "FAILED"
)

// RawSource provides one UTC day of 1 Hz magnetometer samples for a
// station, labeled by the station's local date.
type RawSource interface {
	Day(code string, day time.Time) ([]models.Sample, error)
}

// DisturbanceSource provides geomagnetic index points covering
// [from, to]. An empty slice is a valid answer; the quiet classifier
// fails open on it.
type DisturbanceSource interface {
	Range(from, to time.Time) ([]models.DisturbancePoint, error)
}

type Config struct {
	Spectral  spectral.Config
	Quiet     disturbance.Config
	Threshold threshold.Config
	Detect    detect.Config

	// PoolDays is how many prior nights feed the quiet-value pool.
	PoolDays int
	// RetentionNights is how many nights of records are kept per
	// station; older nightly records are pruned after each persist.
	RetentionNights int
}

func DefaultConfig() Config {
	return Config{
		Spectral:        spectral.DefaultConfig(),
		Quiet:           disturbance.DefaultConfig(),
		Threshold:       threshold.DefaultConfig(),
		Detect:          detect.DefaultConfig(),
		PoolDays:        6,
		RetentionNights: 7,
	}
}

// RunResult is the terminal outcome of one station-night.
type RunResult struct {
	Station   string
	NightDate time.Time
	State     State
	Reason    string // set when skipped
	// Err is set when failed, and on skips that wrap one of the
	// sentinel errors above.
	Err    error
	Record *models.NightlyRecord
}

// Runner executes the per-station nightly pipeline. Stations are
// independent; a Runner is safe for sequential reuse across them.
type Runner struct {
	store *store.Store
	raw   RawSource
	dist  DisturbanceSource
	tz    *stations.TZCache

	analyzer *spectral.Analyzer
	cfg      Config

	// Now is the clock used for window gating; tests override it.
	Now func() time.Time
}

func NewRunner(st *store.Store, raw RawSource, dist DisturbanceSource, tz *stations.TZCache, cfg Config) *Runner {
	return &Runner{
		store:    st,
		raw:      raw,
		dist:     dist,
		tz:       tz,
		analyzer: spectral.NewAnalyzer(cfg.Spectral),
		cfg:      cfg,
		Now:      time.Now,
	}
}

// RunNight processes one station-night. The night is its local
// morning date, so the analysis window runs from 20:00 the prior
// evening to 04:00 on the night date in the station's timezone. A
// night that is already persisted is returned as-is unless force is
// set.
func (r *Runner) RunNight(st models.Station, night time.Time, force bool) RunResult {
	loc, err := r.tz.Location(st.Timezone)
	if err != nil {
		return r.fail(st, night, fmt.Errorf("timezone %q: %w", st.Timezone, err))
	}

	y, m, d := night.Date()
	nightRef := time.Date(y, m, d, 0, 0, 0, 0, loc)
	windowStart := nightRef.Add(-4 * time.Hour)
	windowEnd := nightRef.Add(4 * time.Hour)
	evening := night.AddDate(0, 0, -1)

	if !force {
		rec, err := r.store.GetNightlyRecord(st.Code, night)
		if err != nil {
			return r.fail(st, night, fmt.Errorf("load prior record: %w", err))
		}
		if rec != nil {
			return RunResult{Station: st.Code, NightDate: night, State: StatePersisted, Record: rec}
		}
	}

	nowLocal := r.Now().In(loc)
	if nowLocal.Before(windowEnd) {
		// Best-effort fetch of the evening day before skipping.
		if r.raw != nil {
			r.raw.Day(st.Code, evening)
		}
		return r.skip(st, night, "night window not complete until 04:00 local")
	}

	// ACQUIRING: two local-date-labeled day files cover the window.
	todayLocal := dateOf(nowLocal)
	var samples []models.Sample
	downloadFailed := false
	for _, day := range []time.Time{evening, night} {
		ds, err := r.raw.Day(st.Code, day)
		if err != nil {
			if day.After(todayLocal) {
				log.Printf("analysis: %s day %s not published yet", st.Code, day.Format("2006-01-02"))
			} else {
				downloadFailed = true
			}
			continue
		}
		samples = append(samples, ds...)
	}
	if len(samples) == 0 {
		if downloadFailed {
			return r.fail(st, night, fmt.Errorf("no raw data acquired for night %s", night.Format("2006-01-02")))
		}
		return r.skipErr(st, night, ErrDataUnavailable)
	}

	x, yv, z, available := nightGrid(samples, windowStart, windowEnd)
	if available < r.analyzer.Config().WindowLen {
		return r.skipErr(st, night, fmt.Errorf("%w: %d in night window", ErrInsufficientSamples, available))
	}

	points, err := r.dist.Range(nightRef.AddDate(0, 0, -2), nightRef.AddDate(0, 0, 1))
	if err != nil {
		log.Printf("analysis: %s disturbance index: %v", st.Code, err)
		points = nil
	}

	// EXTRACTING.
	wins := r.analyzer.Extract(x, yv, z, windowStart, loc, windowStart, windowEnd)
	if len(wins) == 0 {
		return r.fail(st, night, fmt.Errorf("no valid analysis windows for night %s", night.Format("2006-01-02")))
	}

	mids := make([]time.Time, len(wins))
	for i, w := range wins {
		mids[i] = w.Mid
	}
	quiet, fracs := disturbance.QuietFlags(points, mids, r.cfg.Quiet)

	windows := make([]models.WindowSample, len(wins))
	quietCount := 0
	for i, w := range wins {
		windows[i] = models.WindowSample{
			MidTime:         w.Mid.UTC(),
			P:               w.P,
			VerticalPower:   w.VerticalPower,
			HorizontalPower: w.HorizontalPower,
			DisturbedFrac:   fracs[i],
			IsQuiet:         quiet[i],
		}
		if quiet[i] {
			quietCount++
		}
	}

	// CALIBRATING: historical quiet values first, then tonight's.
	historical, poolNights, err := r.store.QuietPoolValues(st.Code, night, r.cfg.PoolDays)
	if err != nil {
		return r.fail(st, night, fmt.Errorf("quiet pool: %w", err))
	}
	current := quietValues(windows)
	pool := append(historical, current...)
	if len(pool) == 0 {
		return r.fail(st, night, fmt.Errorf("empty calibration pool for night %s", night.Format("2006-01-02")))
	}
	if len(current) > 0 {
		poolNights++
	}
	fit := threshold.Calibrate(pool, r.cfg.Threshold)

	// DECIDING.
	stats, err := r.store.GetPowerStats(st.Code)
	if err != nil {
		return r.fail(st, night, fmt.Errorf("power stats: %w", err))
	}
	past, err := r.pastFlaggedNights(st.Code, night, nightRef)
	if err != nil {
		return r.fail(st, night, fmt.Errorf("anomalous nights: %w", err))
	}
	verdict := detect.Decide(windows, fit.Value, stats, past, nightRef, r.cfg.Detect)

	rec := &models.NightlyRecord{
		StationCode:     st.Code,
		NightDate:       night,
		Threshold:       fit.Value,
		ThresholdMethod: fit.Method,
		PoolSize:        fit.PoolSize,
		PoolNights:      poolNights,
		WindowCount:     len(windows),
		QuietCount:      quietCount,
		AnomalousCount:  verdict.AnomalousCount,
		IsAnomalous:     verdict.NightAnomalous,
		Windows:         verdict.Windows,
	}
	if err := r.store.SaveNightlyRecord(rec); err != nil {
		return r.fail(st, night, fmt.Errorf("save record: %w", err))
	}

	if force {
		if _, err := r.store.DeleteAnomalies(st.Code, night); err != nil {
			return r.fail(st, night, fmt.Errorf("clear prior anomalies: %w", err))
		}
		if _, err := r.store.DeleteAnomalySummary(st.Code, night); err != nil {
			return r.fail(st, night, fmt.Errorf("clear prior master row: %w", err))
		}
	}
	if verdict.NightAnomalous && len(verdict.Events) > 0 {
		for i := range verdict.Events {
			verdict.Events[i].StationCode = st.Code
			verdict.Events[i].NightDate = night
		}
		if err := r.store.AppendAnomalies(verdict.Events); err != nil {
			return r.fail(st, night, fmt.Errorf("append anomalies: %w", err))
		}
		sum := summarize(verdict.Events, fit.Value, windowStart, windowEnd, loc)
		sum.StationCode = st.Code
		sum.NightDate = night
		if err := r.store.UpsertAnomalySummary(sum); err != nil {
			return r.fail(st, night, fmt.Errorf("append master row: %w", err))
		}
	}

	// Post-persist maintenance is logged, never fatal. Retention runs
	// first so the power aggregate only sees retained windows.
	cutoff := night.AddDate(0, 0, -r.cfg.RetentionNights)
	if n, err := r.store.DeleteNightsBefore(st.Code, cutoff); err != nil {
		log.Printf("analysis: %s retention: %v", st.Code, err)
	} else if n > 0 {
		log.Printf("analysis: %s pruned %d nights before %s", st.Code, n, cutoff.Format("2006-01-02"))
	}
	if _, err := r.store.RecomputePowerStats(st.Code); err != nil {
		log.Printf("analysis: %s power stats: %v", st.Code, err)
	}

	log.Printf("analysis: %s night %s: %d windows, %d quiet, threshold %.4g (%s), %d anomalous",
		st.Code, night.Format("2006-01-02"), rec.WindowCount, rec.QuietCount,
		rec.Threshold, rec.ThresholdMethod, rec.AnomalousCount)

	return RunResult{Station: st.Code, NightDate: night, State: StatePersisted, Record: rec}
}

func (r *Runner) skip(st models.Station, night time.Time, reason string) RunResult {
	return RunResult{Station: st.Code, NightDate: night, State: StateSkipped, Reason: reason}
}

// skipErr carries a sentinel-wrapping error so callers can distinguish
// skip causes with errors.Is while the reason stays printable.
func (r *Runner) skipErr(st models.Station, night time.Time, err error) RunResult {
	return RunResult{Station: st.Code, NightDate: night, State: StateSkipped, Reason: err.Error(), Err: err}
}

func (r *Runner) fail(st models.Station, night time.Time, err error) RunResult {
	return RunResult{Station: st.Code, NightDate: night, State: StateFailed, Err: err}
}

// pastFlaggedNights loads the anomalous nights inside the persistence
// lookback and re-anchors each date in nightRef's frame so the bound
// check in the decision engine compares exactly.
func (r *Runner) pastFlaggedNights(code string, night, nightRef time.Time) ([]time.Time, error) {
	if !r.cfg.Detect.UsePersistence || r.cfg.Detect.PersistDays <= 0 {
		return nil, nil
	}
	from := night.AddDate(0, 0, -r.cfg.Detect.PersistDays)
	to := night.AddDate(0, 0, -1)
	dates, err := r.store.AnomalousNights(code, from, to)
	if err != nil {
		return nil, err
	}
	past := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		back := int(math.Round(night.Sub(d).Hours() / 24))
		past = append(past, nightRef.Add(-time.Duration(back)*24*time.Hour))
	}
	return past, nil
}

// nightGrid lays the samples on a contiguous 1 Hz grid spanning the
// closed interval [start, end]. Unfilled slots stay NaN. Returns the
// three channel series and the count of samples that landed on the
// grid.
func nightGrid(samples []models.Sample, start, end time.Time) (x, y, z []float64, available int) {
	n := int(end.Sub(start)/time.Second) + 1
	x = make([]float64, n)
	y = make([]float64, n)
	z = make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = math.NaN()
		y[i] = math.NaN()
		z[i] = math.NaN()
	}
	for _, s := range samples {
		idx := int(s.Time.Sub(start) / time.Second)
		if idx < 0 || idx >= n {
			continue
		}
		x[idx] = s.X
		y[idx] = s.Y
		z[idx] = s.Z
		available++
	}
	return x, y, z, available
}

func quietValues(windows []models.WindowSample) []float64 {
	var vals []float64
	for _, w := range windows {
		if w.IsQuiet && !math.IsNaN(w.P) && !math.IsInf(w.P, 0) {
			vals = append(vals, w.P)
		}
	}
	return vals
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
