// Package vecmath provides the cosine similarity kernels used by the
// embedding engine and vector index.
//
// Two implementations exist: an unrolled kernel selected when the CPU
// reports wide vector support (the compiler vectorises the unrolled loop),
// and a plain scalar fallback. Both must agree within floating-point
// tolerance; the fallback is used whenever the capability probe fails.
package vecmath

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/sys/cpu"
)

// dotFunc computes the inner product of two equal-length vectors.
type dotFunc func(a, b []float32) float32

var (
	probeOnce  sync.Once
	dot        dotFunc = dotScalar
	kernelName         = "scalar"
)

// probe selects the dot-product kernel. Any panic from the capability
// detection leaves the scalar kernel in place.
func probe() {
	defer func() {
		if r := recover(); r != nil {
			dot = dotScalar
			kernelName = "scalar"
		}
	}()
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		dot = dotUnrolled
		kernelName = "unrolled"
	}
}

// KernelName reports which kernel is active, for diagnostics.
func KernelName() string {
	probeOnce.Do(probe)
	return kernelName
}

// Dot returns the inner product of a and b. Lengths must match.
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vecmath: length mismatch %d != %d", len(a), len(b))
	}
	probeOnce.Do(probe)
	return dot(a, b), nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	probeOnce.Do(probe)
	return float32(math.Sqrt(float64(dot(v, v))))
}

// Normalize scales v to unit length in place. A zero vector is left as-is.
func Normalize(v []float32) {
	n := Norm(v)
	if n == 0 {
		return
	}
	inv := 1 / n
	for i := range v {
		v[i] *= inv
	}
}

// CosineSimilarity returns the cosine of the angle between a and b.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vecmath: length mismatch %d != %d", len(a), len(b))
	}
	probeOnce.Do(probe)
	d := float64(dot(a, b))
	na := float64(Norm(a))
	nb := float64(Norm(b))
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return d / (na * nb), nil
}

// CosineSimilarityBatch returns the cosine similarity of query against every
// vector in vectors, preserving order.
func CosineSimilarityBatch(query []float32, vectors [][]float32) ([]float64, error) {
	out := make([]float64, len(vectors))
	for i, v := range vectors {
		s, err := CosineSimilarity(query, v)
		if err != nil {
			return nil, fmt.Errorf("vecmath: batch element %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// SimilarityMatrix returns the pairwise cosine similarity matrix for vectors.
// Norms are computed once into a pooled scratch buffer.
func SimilarityMatrix(vectors [][]float32) ([][]float64, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vecmath: matrix element %d: length mismatch %d != %d", i, len(v), dim)
		}
	}
	probeOnce.Do(probe)

	norms := getScratch(n)
	defer putScratch(norms)
	for i, v := range vectors {
		norms[i] = Norm(v)
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var s float64
			if norms[i] != 0 && norms[j] != 0 {
				s = float64(dot(vectors[i], vectors[j])) / (float64(norms[i]) * float64(norms[j]))
			}
			out[i][j] = s
			out[j][i] = s
		}
	}
	return out, nil
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
