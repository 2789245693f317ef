package spectral

import (
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Window is one analysis window's polarization result. Mid is the
// window's central sample time. VerticalPower and HorizontalPower are
// the raw band powers; P is their ratio after the near-zero guard on
// the denominator.
type Window struct {
	Mid             time.Time
	P               float64
	VerticalPower   float64
	HorizontalPower float64
}

// Extract segments three contiguous equal-length 1 Hz channel series
// into non-overlapping windows and computes the vertical-to-horizontal
// band power ratio for each window that lies inside [spanStart,
// spanEnd] and whose midpoint falls in local night hours. start is the
// time of the first sample; NaN marks missing samples. Windows with
// too many missing samples are dropped, the rest are gap-filled by
// linear interpolation with flat extension at the edges.
func (a *Analyzer) Extract(x, y, z []float64, start time.Time, loc *time.Location, spanStart, spanEnd time.Time) []Window {
	wl := a.cfg.WindowLen
	n := len(x)
	if len(y) != n || len(z) != n || n < wl {
		return nil
	}

	tapers, terr := a.taperSet()
	useMT := a.cfg.UseMultitaper && terr == nil
	fft := fourier.NewFFT(wl)

	var (
		mids       []time.Time
		verticals  []float64
		horizontal []float64
		gapSkipped int
	)

	for s := 0; s+wl <= n; s += wl {
		mid := start.Add(time.Duration(s+wl/2-1) * time.Second)
		if mid.Before(spanStart) || mid.After(spanEnd) {
			continue
		}
		if !nightHour(mid.In(loc).Hour(), a.cfg.NightStartHour, a.cfg.NightEndHour) {
			continue
		}

		xs, ys, zs := x[s:s+wl], y[s:s+wl], z[s:s+wl]
		missing := countNaN(xs) + countNaN(ys) + countNaN(zs)
		if float64(missing) > a.cfg.MaxGapFrac*float64(3*wl) {
			gapSkipped++
			continue
		}

		xc := fillGaps(xs)
		yc := fillGaps(ys)
		zc := fillGaps(zs)

		g := make([]float64, wl)
		for i := range g {
			g[i] = math.Hypot(xc[i], yc[i])
		}

		var sz, sg float64
		if useMT {
			sz = a.bandPowerMultitaper(fft, tapers, zc)
			sg = a.bandPowerMultitaper(fft, tapers, g)
		} else {
			sz = a.bandPowerPeriodogram(fft, zc)
			sg = a.bandPowerPeriodogram(fft, g)
		}

		mids = append(mids, mid)
		verticals = append(verticals, sz)
		horizontal = append(horizontal, sg)
	}

	if gapSkipped > 0 {
		log.Printf("spectral: dropped %d windows over the %.0f%% missing-sample cap", gapSkipped, a.cfg.MaxGapFrac*100)
	}
	if len(mids) == 0 {
		return nil
	}

	// Guard the ratio against near-zero horizontal power. The floor
	// scales with the mean of the positive denominators so quiet and
	// noisy stations clamp at comparable relative levels.
	sumPos, nPos := 0.0, 0
	for _, sg := range horizontal {
		if sg > 0 {
			sumPos += sg
			nPos++
		}
	}
	meanPos := 1.0
	if nPos > 0 {
		meanPos = sumPos / float64(nPos)
	}
	minSG := math.Max(1e-10, meanPos*1e-6)

	clamped := 0
	wins := make([]Window, len(mids))
	for i := range mids {
		den := horizontal[i]
		if den <= minSG {
			den = minSG
			clamped++
		}
		wins[i] = Window{
			Mid:             mids[i],
			P:               verticals[i] / den,
			VerticalPower:   verticals[i],
			HorizontalPower: horizontal[i],
		}
	}
	if clamped > 0 {
		log.Printf("spectral: clamped %d of %d windows with near-zero horizontal band power", clamped, len(wins))
	}
	return wins
}

// nightHour reports whether hr falls in [startHour, endHour), wrapping
// past midnight when startHour > endHour.
func nightHour(hr, startHour, endHour int) bool {
	if startHour > endHour {
		return hr >= startHour || hr < endHour
	}
	return hr >= startHour && hr < endHour
}

func countNaN(s []float64) int {
	n := 0
	for _, v := range s {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// fillGaps returns a copy of seg with NaN runs replaced by linear
// interpolation between the neighboring finite samples. Leading and
// trailing runs take the nearest finite value.
func fillGaps(seg []float64) []float64 {
	out := make([]float64, len(seg))
	copy(out, seg)

	prev := -1
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if prev == -1 {
			for j := 0; j < i; j++ {
				out[j] = v
			}
		} else if i-prev > 1 {
			step := (v - out[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				out[j] = out[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}
	if prev >= 0 && prev < len(out)-1 {
		for j := prev + 1; j < len(out); j++ {
			out[j] = out[prev]
		}
	}
	return out
}
