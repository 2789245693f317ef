// Package disturbance classifies analysis windows as geomagnetically
// quiet or disturbed from a planetary disturbance index time series.
package disturbance

import (
	"log"
	"time"

	"github.com/mfield/pranight/internal/models"
)

// Config holds the classification parameters. A window is disturbed
// when the fraction of index samples below the threshold, taken over
// the window midpoint plus or minus HalfWindow, exceeds the tolerance.
type Config struct {
	// Threshold in nT; samples strictly below it count as disturbed.
	Threshold float64
	// Tolerance is the largest disturbed fraction still called quiet.
	Tolerance float64
	// TightThreshold and TightTolerance replace the pair above when
	// Tight is set.
	TightThreshold float64
	TightTolerance float64
	Tight          bool
	// HalfWindow is the half-width of the index lookup around each
	// window midpoint.
	HalfWindow time.Duration
	// GuardRadius widens each disturbed window to its neighbors,
	// GuardRadius windows on each side.
	GuardRadius int
	// FailOpen keeps windows quiet when no index data is available at
	// all; when false they are all treated as disturbed.
	FailOpen bool
}

func DefaultConfig() Config {
	return Config{
		Threshold:      -30,
		Tolerance:      0.05,
		TightThreshold: -20,
		TightTolerance: 0.02,
		HalfWindow:     30 * time.Minute,
		FailOpen:       true,
	}
}

func (c Config) effective() (threshold, tolerance float64) {
	if c.Tight {
		return c.TightThreshold, c.TightTolerance
	}
	return c.Threshold, c.Tolerance
}

// Fraction returns the disturbed fraction of index samples in the
// closed interval [mid-HalfWindow, mid+HalfWindow]. An interval with
// no samples counts as fully quiet.
func Fraction(points []models.DisturbancePoint, mid time.Time, cfg Config) float64 {
	threshold, _ := cfg.effective()
	lo := mid.Add(-cfg.HalfWindow)
	hi := mid.Add(cfg.HalfWindow)

	total, disturbed := 0, 0
	for _, p := range points {
		if p.Time.Before(lo) || p.Time.After(hi) {
			continue
		}
		total++
		if p.SymH < threshold {
			disturbed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(disturbed) / float64(total)
}

// QuietFlags classifies each window midpoint. It returns the quiet
// flags and the underlying disturbed fractions, index-aligned with
// mids. With an empty index series the result follows cfg.FailOpen.
func QuietFlags(points []models.DisturbancePoint, mids []time.Time, cfg Config) ([]bool, []float64) {
	_, tolerance := cfg.effective()

	quiet := make([]bool, len(mids))
	fracs := make([]float64, len(mids))

	if len(points) == 0 {
		if cfg.FailOpen {
			log.Printf("disturbance: no index samples available, treating %d windows as quiet", len(mids))
			for i := range quiet {
				quiet[i] = true
			}
			return quiet, fracs
		}
		for i := range fracs {
			fracs[i] = 1
		}
		return quiet, fracs
	}

	for i, mid := range mids {
		fracs[i] = Fraction(points, mid, cfg)
		quiet[i] = fracs[i] <= tolerance
	}

	if cfg.GuardRadius > 0 {
		quiet = dilateDisturbed(quiet, cfg.GuardRadius)
	}
	return quiet, fracs
}

// dilateDisturbed spreads each disturbed flag to radius neighbors on
// both sides.
func dilateDisturbed(quiet []bool, radius int) []bool {
	out := make([]bool, len(quiet))
	copy(out, quiet)
	for i, q := range quiet {
		if q {
			continue
		}
		for j := i - radius; j <= i+radius; j++ {
			if j >= 0 && j < len(out) {
				out[j] = false
			}
		}
	}
	return out
}
