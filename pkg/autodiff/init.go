package autodiff

import (
	"math"
	"math/rand"
)

// GainReLU is the recommended initialisation gain for rectified-linear layers.
var GainReLU = math.Sqrt2

// XavierNormal fills m from N(0, σ²) with σ = gain·√(2/(fanIn+fanOut)).
func XavierNormal(m *Matrix, fanIn, fanOut int, gain float64, rng *rand.Rand) {
	std := gain * math.Sqrt(2.0/float64(fanIn+fanOut))
	for i := range m.Data {
		m.Data[i] = rng.NormFloat64() * std
	}
}

// XavierUniform fills m from U(-a, a) with a = gain·√(6/(fanIn+fanOut)).
func XavierUniform(m *Matrix, fanIn, fanOut int, gain float64, rng *rand.Rand) {
	Uniform(m, gain*math.Sqrt(6.0/float64(fanIn+fanOut)), rng)
}

// Uniform fills m from U(-bound, bound).
func Uniform(m *Matrix, bound float64, rng *rand.Rand) {
	for i := range m.Data {
		m.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}
