package interpolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func value(x, y, z float64) float64 {
	return 2*x + 3*y + 5*z
}

func TestTriLinear(t *testing.T) {
	xs := []float64{0, 0.1, 0.3, 0.6, 1.0}
	ys := []float64{-1, 0, 1}
	zs := []float64{0, 2, 4, 6}
	vals := make([]float64, len(xs)*len(ys)*len(zs))
	idx := 0
	for k := range zs {
		for j := range ys {
			for i := range xs {
				vals[idx] = value(xs[i], ys[j], zs[k])
				idx++
			}
		}
	}
	interp := NewTriLinear(xs, ys, zs, vals)

	// points on the grid should work
	assert.InDelta(t, value(0.3, 0, 2), interp.Eval(0.3, 0, 2), 1e-12, "on grid")
	// points just off the grid should also work
	assert.InDelta(t, value(0.51, 0.5, 3.3), interp.Eval(0.51, 0.5, 3.3), 1e-12, "off grid")
	// points on the edge of the grid should work
	assert.InDelta(t, value(1, 1, 6), interp.Eval(1, 1, 6), 1e-12, "grid edge")
	assert.InDelta(t, value(0, -1, 0), interp.Eval(0, -1, 0), 1e-12, "grid corner")
	// points outside are clamped onto the lattice
	assert.InDelta(t, value(1, 1, 6), interp.Eval(3, 5, 10), 1e-12, "clamped")

	out := interp.EvalAll([]float64{0.2, 0.7}, []float64{0.1, -0.4}, []float64{1, 5})
	assert.InDelta(t, value(0.2, 0.1, 1), out[0], 1e-12)
	assert.InDelta(t, value(0.7, -0.4, 5), out[1], 1e-12)
}

func TestTriLinearPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewTriLinear([]float64{0, 1}, []float64{0, 1}, []float64{0, 1}, make([]float64, 7))
	})
	assert.Panics(t, func() {
		NewTriLinear([]float64{0, 0}, []float64{0, 1}, []float64{0, 1}, make([]float64, 8))
	})
}
