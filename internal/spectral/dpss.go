package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tapers is a family of discrete prolate spheroidal sequences for one
// window length and time half-bandwidth product. Vectors are unit
// energy and mutually orthogonal; Eigen holds the in-band energy
// concentration of each taper, in descending order.
type Tapers struct {
	N       int
	NW      float64
	K       int
	Vectors [][]float64
	Eigen   []float64
}

// NewTapers computes the K most concentrated tapers of length n for
// half-bandwidth product nw. The tapers are the leading eigenvectors
// of the classic symmetric tridiagonal formulation, found by Sturm
// bisection and inverse iteration.
func NewTapers(n int, nw float64, k int) (*Tapers, error) {
	if n < 2 {
		return nil, fmt.Errorf("taper length %d too short", n)
	}
	if k < 1 || k >= n {
		return nil, fmt.Errorf("taper count %d out of range for length %d", k, n)
	}
	if nw <= 0 || nw >= float64(n)/2 {
		return nil, fmt.Errorf("half-bandwidth product %v out of range for length %d", nw, n)
	}

	w := nw / float64(n)
	cosw := math.Cos(2 * math.Pi * w)
	half := float64(n-1) / 2

	diag := make([]float64, n)
	off := make([]float64, n-1)
	for i := 0; i < n; i++ {
		d := half - float64(i)
		diag[i] = d * d * cosw
	}
	for i := 0; i < n-1; i++ {
		off[i] = float64(i+1) * float64(n-1-i) / 2
	}

	eigs := topEigenvalues(diag, off, k)

	t := &Tapers{
		N:       n,
		NW:      nw,
		K:       k,
		Vectors: make([][]float64, k),
		Eigen:   make([]float64, k),
	}

	for j := 0; j < k; j++ {
		v, err := eigenvector(diag, off, eigs[j], j)
		if err != nil {
			return nil, fmt.Errorf("taper %d: %w", j, err)
		}
		// Re-orthogonalize against the tapers found so far.
		for p := 0; p < j; p++ {
			proj := floats.Dot(v, t.Vectors[p])
			floats.AddScaled(v, -proj, t.Vectors[p])
		}
		norm := floats.Norm(v, 2)
		if norm == 0 {
			return nil, fmt.Errorf("taper %d: inverse iteration collapsed", j)
		}
		floats.Scale(1/norm, v)
		fixSign(v)
		t.Vectors[j] = v
	}

	for j := 0; j < k; j++ {
		t.Eigen[j] = concentration(t.Vectors[j], w)
	}

	return t, nil
}

// topEigenvalues finds the k largest eigenvalues of the symmetric
// tridiagonal matrix (diag, off) by bisection on the Sturm sequence
// count, bracketed by the Gershgorin bounds.
func topEigenvalues(diag, off []float64, k int) []float64 {
	n := len(diag)

	lo, hi := diag[0], diag[0]
	for i := 0; i < n; i++ {
		r := 0.0
		if i > 0 {
			r += math.Abs(off[i-1])
		}
		if i < n-1 {
			r += math.Abs(off[i])
		}
		if diag[i]-r < lo {
			lo = diag[i] - r
		}
		if diag[i]+r > hi {
			hi = diag[i] + r
		}
	}

	eigs := make([]float64, k)
	for j := 0; j < k; j++ {
		target := n - j
		a, b := lo, hi
		for iter := 0; iter < 128; iter++ {
			mid := 0.5 * (a + b)
			if sturmCountBelow(diag, off, mid) >= target {
				b = mid
			} else {
				a = mid
			}
		}
		eigs[j] = 0.5 * (a + b)
	}
	return eigs
}

// sturmCountBelow returns the number of eigenvalues strictly below x.
func sturmCountBelow(diag, off []float64, x float64) int {
	count := 0
	q := diag[0] - x
	if q < 0 {
		count++
	}
	for i := 1; i < len(diag); i++ {
		if q == 0 {
			q = -1e-300
		}
		q = diag[i] - x - off[i-1]*off[i-1]/q
		if q < 0 {
			count++
		}
	}
	return count
}

// eigenvector runs inverse iteration at a shift just off the
// eigenvalue. order seeds the start vector with the expected number of
// sign changes so the iteration cannot start orthogonal to the target.
func eigenvector(diag, off []float64, eig float64, order int) ([]float64, error) {
	n := len(diag)

	shift := eig - math.Max(math.Abs(eig), 1)*1e-12
	shifted := make([]float64, n)
	for i := range diag {
		shifted[i] = diag[i] - shift
	}
	a := mat.NewTridiag(n, off, shifted, off)

	v := make([]float64, n)
	for i := range v {
		v[i] = math.Sin(math.Pi * float64(order+1) * (float64(i) + 0.5) / float64(n))
	}

	b := mat.NewVecDense(n, v)
	y := mat.NewVecDense(n, nil)
	for iter := 0; iter < 3; iter++ {
		if err := a.SolveVecTo(y, false, b); err != nil {
			if _, nearSingular := err.(mat.Condition); !nearSingular {
				return nil, fmt.Errorf("tridiagonal solve: %w", err)
			}
		}
		norm := mat.Norm(y, 2)
		if norm == 0 {
			return nil, fmt.Errorf("inverse iteration produced zero vector")
		}
		y.ScaleVec(1/norm, y)
		b.CopyVec(y)
	}

	out := make([]float64, n)
	copy(out, b.RawVector().Data)
	return out, nil
}

// fixSign normalizes taper polarity: symmetric tapers get a positive
// mean, antisymmetric ones a positive leading element.
func fixSign(v []float64) {
	sum := floats.Sum(v)
	if math.Abs(sum) > 1e-9 {
		if sum < 0 {
			floats.Scale(-1, v)
		}
		return
	}
	if v[0] < 0 {
		floats.Scale(-1, v)
	}
}

// concentration computes the fraction of a taper's energy inside the
// design band [-W, W] from its autocorrelation and the band-limiting
// sinc kernel.
func concentration(v []float64, w float64) float64 {
	n := len(v)

	lambda := 2 * w * floats.Dot(v, v)
	for d := 1; d < n; d++ {
		r := 0.0
		for i := 0; i+d < n; i++ {
			r += v[i] * v[i+d]
		}
		kernel := math.Sin(2*math.Pi*w*float64(d)) / (math.Pi * float64(d))
		lambda += 2 * kernel * r
	}
	return lambda
}
