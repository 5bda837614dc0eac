package distance

import "github.com/x448/float16"

// ToFloat16 converts a float32 vector to IEEE 754 half-precision bits.
func ToFloat16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}

// FromFloat16 converts half-precision bits back to float32.
func FromFloat16(v []uint16) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float16.Frombits(x).Float32()
	}
	return out
}
