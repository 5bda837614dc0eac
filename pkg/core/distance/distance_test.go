package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
	}{
		{"ShortVsLong", []float32{1, 2}, []float32{1, 2, 3}},
		{"EmptyVsOne", []float32{}, []float32{1}},
		{"LongVectors", make([]float32, 64), make([]float32, 65)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim, err := CosineSimilarity(tc.a, tc.b)
			require.ErrorIs(t, err, ErrDimensionMismatch)
			assert.Zero(t, sim)
		})
	}
}

func TestCosineSimilaritySelf(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	// Both the pure Go path and the BLAS path.
	for _, dim := range []int{3, 16, 31, 32, 384, 1536} {
		v := randomVector(rng, dim)
		sim, err := CosineSimilarity(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-5, "dim=%d", dim)
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	for _, dim := range []int{3, 128} {
		v := randomVector(rand.New(rand.NewSource(1)), dim)
		zero := make([]float32, dim)

		sim, err := CosineSimilarity(v, zero)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(sim))
		assert.Equal(t, 0.0, sim)

		sim, err = CosineSimilarity(zero, zero)
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim)
	}
}

func TestCosineSimilarityKnownValues(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)

	// Scale invariance.
	sim, err = CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)

	sim, err = CosineSimilarity([]float32{1, 0, 0}, []float32{0.9, 0.1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.9/math.Sqrt(0.82), sim, 1e-6)
}

func TestGonumAndGoPathsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		a := randomVector(rng, 256)
		b := randomVector(rng, 256)

		got, err := CosineSimilarity(a, b)
		require.NoError(t, err)

		dot, na, nb := dotAndNormsGo(a, b)
		assert.InDelta(t, dot/(na*nb), got, 1e-4)
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	v := []float32{0, 1, -1, 0.5, 0.333, 123.25}
	back := FromFloat16(ToFloat16(v))
	require.Len(t, back, len(v))
	for i := range v {
		assert.InDelta(t, v[i], back[i], 1e-3*math.Max(1, math.Abs(float64(v[i]))))
	}
}

func TestParsePrecision(t *testing.T) {
	p, err := ParsePrecision("")
	require.NoError(t, err)
	assert.Equal(t, Float32, p)

	p, err = ParsePrecision("float16")
	require.NoError(t, err)
	assert.Equal(t, Float16, p)

	_, err = ParsePrecision("int8")
	assert.Error(t, err)
}

func BenchmarkCosineSimilarity384(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x, y := randomVector(rng, 384), randomVector(rng, 384)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = CosineSimilarity(x, y)
	}
}
