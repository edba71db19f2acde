package distance

import (
	"errors"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

func init() {
	// The gonum BLAS kernel dispatches to SIMD internally; it only pays off
	// on cores that actually have the wide units.
	if cpuid.CPU.Has(cpuid.AVX2) {
		float32Funcs[Euclidean] = squaredEuclideanBLAS
	}
}

var errLengthMismatch = errors.New("vectors must have the same length")

// squaredEuclideanGo is the reference implementation for squared Euclidean
// distance on float32 vectors.
func squaredEuclideanGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range v1 {
		diff := v1[i] - v2[i]
		sum += diff * diff
	}
	return float64(sum), nil
}

// diffWorkspace pools scratch slices so the BLAS kernel allocates nothing
// per call. 1536 covers the common embedding sizes; larger vectors grow
// their slot on first use.
var diffWorkspace = sync.Pool{
	New: func() any {
		s := make([]float32, 1536)
		return &s
	},
}

var blasEngine = gonum.Implementation{}

// squaredEuclideanBLAS computes ||v1-v2||^2 as dot(d, d) with d = v1 - v2,
// using BLAS level-1 routines.
func squaredEuclideanBLAS(v1, v2 []float32) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, errLengthMismatch
	}

	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, v1)
	blasEngine.Saxpy(n, -1, v2, 1, diff, 1)
	dot := blasEngine.Sdot(n, diff, 1, diff, 1)

	return float64(dot), nil
}

// squaredEuclideanF16 decodes half-precision components on the fly.
func squaredEuclideanF16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range v1 {
		f1 := float16.Frombits(v1[i]).Float32()
		f2 := float16.Frombits(v2[i]).Float32()
		diff := f1 - f2
		sum += diff * diff
	}
	return float64(sum), nil
}

// EncodeF16 converts a float32 vector to float16 bits.
func EncodeF16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}

// DecodeF16 converts float16 bits back to float32.
func DecodeF16(v []uint16) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float16.Frombits(x).Float32()
	}
	return out
}
