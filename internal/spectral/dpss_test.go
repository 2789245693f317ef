package spectral

import (
	"math"
	"testing"
)

func TestNewTapersOrthonormal(t *testing.T) {
	tp, err := NewTapers(128, 3.5, 6)
	if err != nil {
		t.Fatalf("NewTapers: %v", err)
	}
	if tp.K != 6 || len(tp.Vectors) != 6 {
		t.Fatalf("got %d tapers, want 6", len(tp.Vectors))
	}

	for i := 0; i < tp.K; i++ {
		for j := i; j < tp.K; j++ {
			dot := 0.0
			for n := 0; n < tp.N; n++ {
				dot += tp.Vectors[i][n] * tp.Vectors[j][n]
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(dot-want) > 1e-8 {
				t.Errorf("taper %d . taper %d = %g, want %g", i, j, dot, want)
			}
		}
	}
}

func TestNewTapersConcentrations(t *testing.T) {
	tp, err := NewTapers(128, 3.5, 6)
	if err != nil {
		t.Fatalf("NewTapers: %v", err)
	}

	if tp.Eigen[0] < 0.999 {
		t.Errorf("leading concentration = %g, want > 0.999", tp.Eigen[0])
	}
	for i, lam := range tp.Eigen {
		if lam <= 0.7 || lam > 1+1e-9 {
			t.Errorf("concentration %d = %g, want in (0.7, 1]", i, lam)
		}
		if i > 0 && lam > tp.Eigen[i-1] {
			t.Errorf("concentration %d = %g exceeds %g (must be descending)", i, lam, tp.Eigen[i-1])
		}
	}
}

func TestNewTapersSymmetry(t *testing.T) {
	tp, err := NewTapers(128, 3.5, 6)
	if err != nil {
		t.Fatalf("NewTapers: %v", err)
	}

	// Even orders are symmetric about the window center, odd orders
	// antisymmetric.
	n := tp.N
	for i := 0; i < n; i++ {
		if d := tp.Vectors[0][i] - tp.Vectors[0][n-1-i]; math.Abs(d) > 1e-8 {
			t.Fatalf("taper 0 asymmetry at %d: %g", i, d)
		}
		if d := tp.Vectors[1][i] + tp.Vectors[1][n-1-i]; math.Abs(d) > 1e-8 {
			t.Fatalf("taper 1 symmetry at %d: %g", i, d)
		}
	}
}

func TestNewTapersValidation(t *testing.T) {
	if _, err := NewTapers(10, 3.5, 10); err == nil {
		t.Error("NewTapers accepted taper count equal to length")
	}
	if _, err := NewTapers(128, 0, 4); err == nil {
		t.Error("NewTapers accepted zero half-bandwidth product")
	}
	if _, err := NewTapers(1, 3.5, 1); err == nil {
		t.Error("NewTapers accepted single-sample window")
	}
}
