// Package distance provides the similarity metric used by the graph index.
//
// Cosine similarity is computed on raw (non-normalized) float32 vectors. Dot
// products and norms of longer vectors are dispatched to Gonum's BLAS, which
// handles SIMD internally; short vectors use a pure Go loop with float64
// accumulation.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vectors must have the same length")

// PrecisionType defines the data type used when vectors are persisted.
type PrecisionType string

const (
	// Float32 stores vectors as single-precision floats.
	Float32 PrecisionType = "float32"
	// Float16 stores vectors as half-precision floats (lossy, half the size).
	Float16 PrecisionType = "float16"
)

// ParsePrecision validates a precision name. The empty string means Float32.
func ParsePrecision(s string) (PrecisionType, error) {
	switch PrecisionType(s) {
	case "", Float32:
		return Float32, nil
	case Float16:
		return Float16, nil
	default:
		return "", fmt.Errorf("unsupported precision: %s", s)
	}
}

// gonumThreshold is the vector length from which BLAS beats the plain loop.
const gonumThreshold = 32

var gonumEngine = gonum.Implementation{}

var bannerOnce sync.Once

// LogComputeEngine prints which implementation serves the similarity metric.
// Called once by the engine at startup.
func LogComputeEngine() {
	bannerOnce.Do(func() {
		slog.Info("KektorRAG compute engine",
			"cosine_short", "pure go",
			"cosine_long", "gonum (blas)",
			"cpu", cpuid.CPU.BrandName,
			"avx2", cpuid.CPU.Has(cpuid.AVX2),
			"fma3", cpuid.CPU.Has(cpuid.FMA3),
		)
	})
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|).
// It returns exactly 0 when either vector has zero magnitude, never NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	var dot, normA, normB float64
	if len(a) >= gonumThreshold {
		dot = float64(gonumEngine.Sdot(len(a), a, 1, b, 1))
		normA = float64(gonumEngine.Snrm2(len(a), a, 1))
		normB = float64(gonumEngine.Snrm2(len(b), b, 1))
	} else {
		dot, normA, normB = dotAndNormsGo(a, b)
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / (normA * normB)
	if math.IsNaN(sim) {
		return 0, nil
	}
	// Rounding can push identical vectors slightly past 1.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float64 {
	if len(v) >= gonumThreshold {
		return float64(gonumEngine.Snrm2(len(v), v, 1))
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// dotAndNormsGo is the reference implementation.
func dotAndNormsGo(a, b []float32) (dot, normA, normB float64) {
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	return dot, math.Sqrt(normA), math.Sqrt(normB)
}
