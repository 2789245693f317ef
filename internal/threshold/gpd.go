package threshold

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// fitGPD fits a generalized Pareto distribution with location fixed at
// zero to the exceedances by maximum likelihood over the shape and log
// scale, seeded by method-of-moments estimates.
func fitGPD(exc []float64) (shape, scale float64, err error) {
	n := float64(len(exc))
	mean := stat.Mean(exc, nil)
	variance := stat.PopVariance(exc, nil)

	shape0, scale0 := 0.1, mean
	if variance > 0 {
		shape0 = 0.5 * (1 - mean*mean/variance)
		scale0 = mean * (1 - shape0)
	}
	if math.IsNaN(shape0) || math.IsInf(shape0, 0) || !(scale0 > 0) {
		shape0, scale0 = 0.1, mean
	}

	nll := func(params []float64) float64 {
		xi := params[0]
		sigma := math.Exp(params[1])
		if sigma <= 0 {
			return math.Inf(1)
		}
		s := n * math.Log(sigma)
		if math.Abs(xi) < 1e-9 {
			for _, x := range exc {
				s += x / sigma
			}
			return s
		}
		for _, x := range exc {
			t := 1 + xi*x/sigma
			if t <= 0 {
				return math.Inf(1)
			}
			s += (1 + 1/xi) * math.Log(t)
		}
		return s
	}

	x0 := []float64{shape0, math.Log(scale0)}
	if math.IsInf(nll(x0), 1) {
		x0 = []float64{0.1, math.Log(mean)}
	}

	result, err := optimize.Minimize(optimize.Problem{Func: nll}, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, 0, fmt.Errorf("tail likelihood optimization: %w", err)
	}

	shape = result.X[0]
	scale = math.Exp(result.X[1])
	if math.IsNaN(shape) || math.IsInf(shape, 0) || math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return 0, 0, fmt.Errorf("non-finite tail parameters shape=%.4g scale=%.4g", shape, scale)
	}
	if shape <= -0.5 {
		return 0, 0, fmt.Errorf("tail shape %.4g out of the usable range", shape)
	}
	return shape, scale, nil
}

// gpdQuantile returns the value exceeded with probability p under a
// zero-location GPD.
func gpdQuantile(shape, scale, p float64) float64 {
	if math.Abs(shape) < 1e-9 {
		return scale * math.Log(1/p)
	}
	return scale / shape * (math.Pow(p, -shape) - 1)
}
