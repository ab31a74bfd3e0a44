package synth

import "math/rand/v2"

// Source is the randomness used by the value generator. *rand.Rand from
// math/rand/v2 satisfies it, which lets tests pin a seed.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// NewSeededSource returns a reproducible Source. It is not safe for
// concurrent use.
func NewSeededSource(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type globalSource struct{}

func (globalSource) IntN(n int) int   { return rand.IntN(n) }
func (globalSource) Float64() float64 { return rand.Float64() }

func pick(src Source, xs []string) string {
	return xs[src.IntN(len(xs))]
}
