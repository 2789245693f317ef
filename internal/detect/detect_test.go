package detect

import (
	"math"
	"testing"
	"time"

	"github.com/mfield/pranight/internal/models"
)

func quietWindows(nightRef time.Time, ps []float64) []models.WindowSample {
	ws := make([]models.WindowSample, len(ps))
	for i, p := range ps {
		ws[i] = models.WindowSample{
			MidTime:         nightRef.Add(time.Duration(i-4) * time.Hour),
			P:               p,
			VerticalPower:   10,
			HorizontalPower: 10 / p,
			IsQuiet:         true,
		}
	}
	return ws
}

func TestDecideSingleSpike(t *testing.T) {
	nightRef := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ws := quietWindows(nightRef, []float64{1.0, 0.9, 1.1, 5.0, 1.0, 0.95, 1.05, 1.0})

	res := Decide(ws, 2.0, nil, nil, nightRef, DefaultConfig())
	if res.AnomalousCount != 1 {
		t.Fatalf("AnomalousCount = %d, want 1", res.AnomalousCount)
	}
	if !res.NightAnomalous {
		t.Error("NightAnomalous = false, want true")
	}
	if len(res.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(res.Events))
	}

	ev := res.Events[0]
	if ev.Value != 5.0 {
		t.Errorf("event Value = %g, want 5.0", ev.Value)
	}
	if ev.Threshold != 2.0 {
		t.Errorf("event Threshold = %g, want 2.0", ev.Threshold)
	}
	// Window 3 sits one hour before local midnight.
	if want := -1.0 / 24.0; math.Abs(ev.DayOffset-want) > 1e-12 {
		t.Errorf("event DayOffset = %g, want %g", ev.DayOffset, want)
	}
	if !ws[3].IsAnomalous {
		t.Error("flagged window not marked in place")
	}
	for i, w := range ws {
		if i != 3 && w.IsAnomalous {
			t.Errorf("window %d marked anomalous, want only window 3", i)
		}
	}
}

func TestDecideThresholdStrict(t *testing.T) {
	nightRef := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ws := quietWindows(nightRef, []float64{2.0})

	res := Decide(ws, 2.0, nil, nil, nightRef, DefaultConfig())
	if res.AnomalousCount != 0 || res.NightAnomalous {
		t.Error("ratio equal to the threshold flagged, want strict exceedance")
	}
}

func TestDecideGuardSuppression(t *testing.T) {
	nightRef := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ws := quietWindows(nightRef, []float64{5.0})
	ws[0].VerticalPower = 2.5 // at the fixed floor, not above it

	res := Decide(ws, 2.0, nil, nil, nightRef, DefaultConfig())
	if res.AnomalousCount != 0 {
		t.Errorf("AnomalousCount = %d, want 0 with vertical power at the guard floor", res.AnomalousCount)
	}
}

func TestDecideDisturbedSuppression(t *testing.T) {
	nightRef := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ws := quietWindows(nightRef, []float64{50.0})
	ws[0].IsQuiet = false

	res := Decide(ws, 2.0, nil, nil, nightRef, DefaultConfig())
	if res.AnomalousCount != 0 || res.NightAnomalous {
		t.Error("disturbed window flagged, want suppressed")
	}
}

func TestPassesZScore(t *testing.T) {
	stats := &models.PowerStats{Mean: 10, StdDev: 2, SampleCount: 100}
	cfg := GuardConfig{UseZScore: true, MinZScore: 1.25, FixedMin: 2.5}

	if !Passes(12.6, stats, cfg) {
		t.Error("z = 1.3 rejected, want pass")
	}
	if Passes(12.4, stats, cfg) {
		t.Error("z = 1.2 passed, want reject")
	}

	// Zero deviation degrades to a tiny sigma, so anything above the
	// mean passes.
	flat := &models.PowerStats{Mean: 10, StdDev: 0, SampleCount: 100}
	if !Passes(10.001, flat, cfg) {
		t.Error("value above a zero-deviation mean rejected, want pass")
	}

	// Without usable statistics the fixed floor applies.
	if !Passes(2.6, nil, cfg) || Passes(2.4, nil, cfg) {
		t.Error("fixed floor not applied with nil statistics")
	}
	empty := &models.PowerStats{Mean: 10, StdDev: 2}
	if !Passes(2.6, empty, cfg) {
		t.Error("fixed floor not applied with zero sample count")
	}
}

func TestDecidePersistence(t *testing.T) {
	nightRef := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.UsePersistence = true

	ws := quietWindows(nightRef, []float64{5.0})

	// A lone flagged night does not clear a two-night requirement.
	res := Decide(ws, 2.0, nil, nil, nightRef, cfg)
	if res.AnomalousCount != 1 {
		t.Fatalf("AnomalousCount = %d, want 1", res.AnomalousCount)
	}
	if res.NightAnomalous {
		t.Error("single flagged night declared anomalous under persistence")
	}

	// A flagged night the day before completes the run.
	past := []time.Time{nightRef.AddDate(0, 0, -1)}
	res = Decide(quietWindows(nightRef, []float64{5.0}), 2.0, nil, past, nightRef, cfg)
	if !res.NightAnomalous {
		t.Error("two flagged nights in two days not declared anomalous")
	}

	// The lookback is closed: exactly PersistDays back still counts.
	past = []time.Time{nightRef.AddDate(0, 0, -2)}
	res = Decide(quietWindows(nightRef, []float64{5.0}), 2.0, nil, past, nightRef, cfg)
	if !res.NightAnomalous {
		t.Error("flagged night at the lookback edge not counted")
	}

	// Beyond it does not.
	past = []time.Time{nightRef.AddDate(0, 0, -3)}
	res = Decide(quietWindows(nightRef, []float64{5.0}), 2.0, nil, past, nightRef, cfg)
	if res.NightAnomalous {
		t.Error("flagged night outside the lookback counted")
	}

	// Persistence can hold without fresh events.
	past = []time.Time{nightRef.AddDate(0, 0, -1), nightRef.AddDate(0, 0, -2)}
	res = Decide(quietWindows(nightRef, []float64{1.0}), 2.0, nil, past, nightRef, cfg)
	if !res.NightAnomalous || res.AnomalousCount != 0 {
		t.Errorf("NightAnomalous = %v with %d events, want true with 0", res.NightAnomalous, res.AnomalousCount)
	}
}
