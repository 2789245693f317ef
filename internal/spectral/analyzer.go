package spectral

import (
	"log"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/integrate"
)

// Config controls window segmentation and band power estimation.
type Config struct {
	// SampleRate is the input cadence in Hz.
	SampleRate float64
	// WindowLen is the segment length in samples.
	WindowLen int
	// BandLow and BandHigh bound the analysis band in Hz, inclusive.
	BandLow  float64
	BandHigh float64
	// NW is the taper time half-bandwidth product.
	NW float64
	// UseMultitaper selects the multitaper estimator; when false, or
	// when taper construction fails, a plain periodogram is used.
	UseMultitaper bool
	// NightStartHour and NightEndHour bound the local-time night gate.
	NightStartHour int
	NightEndHour   int
	// MaxGapFrac is the largest tolerated missing-sample fraction per
	// window, counted jointly across the three channels.
	MaxGapFrac float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     1,
		WindowLen:      3600,
		BandLow:        0.095,
		BandHigh:       0.110,
		NW:             3.5,
		UseMultitaper:  true,
		NightStartHour: 20,
		NightEndHour:   4,
		MaxGapFrac:     0.05,
	}
}

// Analyzer computes band powers over night windows. Taper construction
// is deferred until first use and shared by later calls; an Analyzer is
// safe for concurrent use.
type Analyzer struct {
	cfg Config

	taperOnce sync.Once
	tapers    *Tapers
	taperErr  error
}

func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) Config() Config { return a.cfg }

func (a *Analyzer) taperSet() (*Tapers, error) {
	a.taperOnce.Do(func() {
		k := int(2*a.cfg.NW - 1)
		a.tapers, a.taperErr = NewTapers(a.cfg.WindowLen, a.cfg.NW, k)
		if a.taperErr != nil {
			log.Printf("spectral: taper construction failed, falling back to plain periodogram: %v", a.taperErr)
		}
	})
	return a.tapers, a.taperErr
}

// bandPowerMultitaper integrates the eigenvalue-weighted average of the
// tapered periodograms over the analysis band using the trapezoid rule.
func (a *Analyzer) bandPowerMultitaper(fft *fourier.FFT, t *Tapers, x []float64) float64 {
	n := a.cfg.WindowLen
	nf := n/2 + 1

	psd := make([]float64, nf)
	tapered := make([]float64, n)
	coeffs := make([]complex128, nf)
	for k := 0; k < t.K; k++ {
		v := t.Vectors[k]
		for i := range tapered {
			tapered[i] = v[i] * x[i]
		}
		coeffs = fft.Coefficients(coeffs, tapered)
		lam := t.Eigen[k]
		for i, c := range coeffs {
			re, im := real(c), imag(c)
			psd[i] += lam * (re*re + im*im)
		}
	}
	scale := float64(t.K) * a.cfg.SampleRate
	for i := range psd {
		psd[i] /= scale
	}

	var freqs, vals []float64
	for i := 0; i < nf; i++ {
		f := fft.Freq(i) * a.cfg.SampleRate
		if f >= a.cfg.BandLow && f <= a.cfg.BandHigh {
			freqs = append(freqs, f)
			vals = append(vals, psd[i])
		}
	}
	if len(freqs) < 2 {
		return 0
	}
	return integrate.Trapezoidal(freqs, vals)
}

// bandPowerPeriodogram sums |F_k|^2/N over the positive-frequency bins
// inside the analysis band. The DC bin is excluded.
func (a *Analyzer) bandPowerPeriodogram(fft *fourier.FFT, x []float64) float64 {
	n := a.cfg.WindowLen
	coeffs := fft.Coefficients(nil, x)

	sum := 0.0
	for i := 1; i < len(coeffs); i++ {
		f := fft.Freq(i) * a.cfg.SampleRate
		if f >= a.cfg.BandLow && f <= a.cfg.BandHigh {
			re, im := real(coeffs[i]), imag(coeffs[i])
			sum += (re*re + im*im) / float64(n)
		}
	}
	return sum
}
