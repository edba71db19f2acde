// Package distance provides the vector distance kernels used by the HNSW
// graph.
//
// The only metric currently registered is the squared Euclidean distance;
// the catalog maps below are the seam through which additional metrics
// (e.g. Hamming over bit-vectors) can be added without touching the search
// kernel. Distances are squared on purpose: ordering is preserved and the
// square root is never needed on the hot path, so the same squared value is
// stored in neighbor lists and returned to clients.
//
// Two storage precisions are supported: float32 and float16 (IEEE 754
// half, held as uint16 bits). The package picks the fastest float32
// implementation at startup via CPU feature detection.
package distance

import "fmt"

// Metric identifies a distance function family.
type Metric string

// PrecisionType identifies the storage representation of vectors.
type PrecisionType string

const (
	// Euclidean is the squared Euclidean distance (smaller = closer).
	Euclidean Metric = "euclidean"

	// Float32 stores vectors as single-precision floats.
	Float32 PrecisionType = "float32"
	// Float16 stores vectors as half-precision floats (uint16 bits).
	Float16 PrecisionType = "float16"
)

// FuncF32 computes the distance between two float32 vectors.
type FuncF32 func(v1, v2 []float32) (float64, error)

// FuncF16 computes the distance between two float16 vectors (raw bits).
type FuncF16 func(v1, v2 []uint16) (float64, error)

// float32Funcs maps a metric to its float32 implementation. The Euclidean
// entry may be swapped for the BLAS-backed kernel by init (see kernels.go).
var float32Funcs = map[Metric]FuncF32{
	Euclidean: squaredEuclideanGo,
}

// float16Funcs maps a metric to its float16 implementation.
var float16Funcs = map[Metric]FuncF16{
	Euclidean: squaredEuclideanF16,
}

// GetFloat32Func returns the distance function for a metric at float32
// precision.
func GetFloat32Func(metric Metric) (FuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the distance function for a metric at float16
// precision.
func GetFloat16Func(metric Metric) (FuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}

// ValidPrecision reports whether p names a supported storage precision.
func ValidPrecision(p PrecisionType) bool {
	return p == Float32 || p == Float16
}
