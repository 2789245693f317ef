package disturbance

import (
	"math"
	"testing"
	"time"

	"github.com/mfield/pranight/internal/models"
)

func minutePoints(start time.Time, symH []float64) []models.DisturbancePoint {
	pts := make([]models.DisturbancePoint, len(symH))
	for i, v := range symH {
		pts[i] = models.DisturbancePoint{Time: start.Add(time.Duration(i) * time.Minute), SymH: v}
	}
	return pts
}

func TestFractionInclusiveBounds(t *testing.T) {
	mid := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)
	pts := []models.DisturbancePoint{
		{Time: mid.Add(-31 * time.Minute), SymH: -100}, // outside
		{Time: mid.Add(-30 * time.Minute), SymH: -100}, // boundary, counts
		{Time: mid, SymH: -10},
		{Time: mid.Add(30 * time.Minute), SymH: -10}, // boundary, counts
		{Time: mid.Add(31 * time.Minute), SymH: -100},
	}

	frac := Fraction(pts, mid, DefaultConfig())
	want := 1.0 / 3.0
	if math.Abs(frac-want) > 1e-12 {
		t.Errorf("Fraction = %g, want %g (one disturbed of three in window)", frac, want)
	}
}

func TestFractionNoSamples(t *testing.T) {
	mid := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)
	if frac := Fraction(nil, mid, DefaultConfig()); frac != 0 {
		t.Errorf("Fraction with no samples = %g, want 0", frac)
	}
}

func TestQuietFlagsThresholdIsStrict(t *testing.T) {
	mid := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)
	// Exactly at the threshold is not disturbed.
	pts := minutePoints(mid.Add(-10*time.Minute), []float64{-30, -30, -30})

	quiet, fracs := QuietFlags(pts, []time.Time{mid}, DefaultConfig())
	if !quiet[0] || fracs[0] != 0 {
		t.Errorf("quiet = %v, frac = %g; want quiet with frac 0 at exact threshold", quiet[0], fracs[0])
	}

	pts = minutePoints(mid.Add(-10*time.Minute), []float64{-30.1, -30, -30})
	quiet, fracs = QuietFlags(pts, []time.Time{mid}, DefaultConfig())
	want := 1.0 / 3.0
	if math.Abs(fracs[0]-want) > 1e-12 {
		t.Errorf("frac = %g, want %g", fracs[0], want)
	}
	if quiet[0] {
		t.Error("window quiet with a third of samples disturbed, want disturbed")
	}
}

func TestQuietFlagsToleranceBoundary(t *testing.T) {
	mid := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)

	// 1 of 20 disturbed: frac 0.05 equals the tolerance, still quiet.
	vals := make([]float64, 20)
	vals[0] = -50
	pts := minutePoints(mid.Add(-10*time.Minute), vals)
	quiet, _ := QuietFlags(pts, []time.Time{mid}, DefaultConfig())
	if !quiet[0] {
		t.Error("frac at tolerance classified disturbed, want quiet")
	}

	// 2 of 20 pushes past it.
	vals[1] = -50
	pts = minutePoints(mid.Add(-10*time.Minute), vals)
	quiet, _ = QuietFlags(pts, []time.Time{mid}, DefaultConfig())
	if quiet[0] {
		t.Error("frac over tolerance classified quiet, want disturbed")
	}
}

func TestQuietFlagsTightMode(t *testing.T) {
	mid := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)
	pts := minutePoints(mid.Add(-10*time.Minute), []float64{-25, -25, -25})

	cfg := DefaultConfig()
	quiet, _ := QuietFlags(pts, []time.Time{mid}, cfg)
	if !quiet[0] {
		t.Error("-25 nT disturbed under the default threshold, want quiet")
	}

	cfg.Tight = true
	quiet, _ = QuietFlags(pts, []time.Time{mid}, cfg)
	if quiet[0] {
		t.Error("-25 nT quiet under the tight threshold, want disturbed")
	}
}

func TestQuietFlagsGuardRadius(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)
	mids := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour), base.Add(3 * time.Hour)}

	// Only the second window sees disturbed samples.
	pts := minutePoints(mids[1].Add(-5*time.Minute), []float64{-80, -80, -80})

	cfg := DefaultConfig()
	quiet, _ := QuietFlags(pts, mids, cfg)
	if got, want := quiet, []bool{true, false, true, true}; !equalBools(got, want) {
		t.Errorf("quiet = %v, want %v", got, want)
	}

	cfg.GuardRadius = 1
	quiet, _ = QuietFlags(pts, mids, cfg)
	if got, want := quiet, []bool{false, false, false, true}; !equalBools(got, want) {
		t.Errorf("quiet with guard radius 1 = %v, want %v", got, want)
	}
}

func TestQuietFlagsEmptyIndex(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)
	mids := []time.Time{base, base.Add(time.Hour)}

	cfg := DefaultConfig()
	quiet, fracs := QuietFlags(nil, mids, cfg)
	for i := range mids {
		if !quiet[i] || fracs[i] != 0 {
			t.Errorf("window %d: quiet = %v, frac = %g; want fail-open quiet", i, quiet[i], fracs[i])
		}
	}

	cfg.FailOpen = false
	quiet, fracs = QuietFlags(nil, mids, cfg)
	for i := range mids {
		if quiet[i] || fracs[i] != 1 {
			t.Errorf("window %d: quiet = %v, frac = %g; want fail-closed disturbed", i, quiet[i], fracs[i])
		}
	}
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
