// Package threshold calibrates the nightly detection threshold from a
// pool of quiet-time polarization values, preferring an extreme-value
// tail fit and falling back to a mean-plus-k-sigma rule when the tail
// cannot be fit.
package threshold

import (
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	MethodEVT    = "evt"
	MethodKSigma = "k-sigma"
)

type Config struct {
	// UseEVT enables the tail fit; the k-sigma rule is always the
	// fallback.
	UseEVT bool
	// TailQuantile sets the exceedance threshold u within the pool.
	TailQuantile float64
	// FPRTarget is the accepted false positive rate per quiet window.
	FPRTarget float64
	// KSigma is the fallback multiplier on the pool deviation.
	KSigma float64
	// Floor clamps the threshold from below when positive.
	Floor float64
	// MinPool and MinExceed gate the tail fit.
	MinPool   int
	MinExceed int
}

func DefaultConfig() Config {
	return Config{
		UseEVT:       true,
		TailQuantile: 0.75,
		FPRTarget:    0.05,
		KSigma:       4.0,
		MinPool:      20,
		MinExceed:    30,
	}
}

// Fit is a calibrated threshold. U, Shape, Scale and Exceedances are
// populated on the tail path only.
type Fit struct {
	Value       float64
	Method      string
	U           float64
	Shape       float64
	Scale       float64
	Exceedances int
	PoolSize    int
}

// Calibrate derives the detection threshold from pool. Non-finite pool
// values are discarded first. Any failure of the tail fit degrades to
// the k-sigma rule rather than erroring out.
func Calibrate(pool []float64, cfg Config) Fit {
	clean := make([]float64, 0, len(pool))
	for _, v := range pool {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}

	if !cfg.UseEVT {
		return ksigma(clean, cfg)
	}
	if len(clean) < cfg.MinPool {
		log.Printf("threshold: pool of %d below minimum %d, using k-sigma", len(clean), cfg.MinPool)
		return ksigma(clean, cfg)
	}

	fit, err := calibrateTail(clean, cfg)
	if err != nil {
		log.Printf("threshold: tail fit unusable (%v), using k-sigma", err)
		return ksigma(clean, cfg)
	}
	return fit
}

func calibrateTail(clean []float64, cfg Config) (Fit, error) {
	sorted := append([]float64(nil), clean...)
	sort.Float64s(sorted)
	u := stat.Quantile(cfg.TailQuantile, stat.LinInterp, sorted, nil)

	var exc []float64
	for _, v := range clean {
		if v > u {
			exc = append(exc, v-u)
		}
	}
	if len(exc) < cfg.MinExceed {
		return Fit{}, fmt.Errorf("%d exceedances above u=%.4g, need %d", len(exc), u, cfg.MinExceed)
	}

	shape, scale, err := fitGPD(exc)
	if err != nil {
		return Fit{}, err
	}

	q := gpdQuantile(shape, scale, cfg.FPRTarget)
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 {
		return Fit{}, fmt.Errorf("tail quantile %g unusable", q)
	}

	value := u + q
	if cfg.Floor > 0 && value < cfg.Floor {
		value = cfg.Floor
	}
	return Fit{
		Value:       value,
		Method:      MethodEVT,
		U:           u,
		Shape:       shape,
		Scale:       scale,
		Exceedances: len(exc),
		PoolSize:    len(clean),
	}, nil
}

func ksigma(clean []float64, cfg Config) Fit {
	fit := Fit{Method: MethodKSigma, PoolSize: len(clean)}
	if len(clean) == 0 {
		if cfg.Floor > 0 {
			fit.Value = cfg.Floor
		}
		return fit
	}
	fit.Value = stat.Mean(clean, nil) + cfg.KSigma*stat.PopStdDev(clean, nil)
	if cfg.Floor > 0 && fit.Value < cfg.Floor {
		fit.Value = cfg.Floor
	}
	return fit
}
