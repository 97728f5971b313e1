package interpolate

import (
	"fmt"
	"math"
)

// Scattered is a piecewise-linear interpolator over the triangles of a
// Triangulation. It matches linear interpolation of scattered samples:
// inside the hull the value is the barycentric blend of the enclosing
// triangle's nodes, outside the hull it is NaN.
type Scattered struct {
	tri  *Triangulation
	vals []float64
}

// NewScattered attaches vals (one per triangulation node) to tri.
func NewScattered(tri *Triangulation, vals []float64) *Scattered {
	if len(vals) != tri.Nodes() {
		panic(fmt.Sprintf(
			"len(vals) = %d, but the triangulation has %d nodes.",
			len(vals), tri.Nodes(),
		))
	}
	return &Scattered{tri: tri, vals: vals}
}

// Eval returns the interpolated value at (x, y), or NaN outside the hull.
func (s *Scattered) Eval(x, y float64) float64 {
	k, w, ok := s.tri.Locate(x, y)
	if !ok {
		return math.NaN()
	}
	v := s.tri.tris[k]
	return w[0]*s.vals[v[0]] + w[1]*s.vals[v[1]] + w[2]*s.vals[v[2]]
}

// Nearest returns the value of the node closest to (x, y). It is defined
// everywhere, including outside the hull.
func (s *Scattered) Nearest(x, y float64) float64 {
	return s.vals[s.tri.Nearest(x, y)]
}

// EvalAll evaluates the interpolator at all the given points. If an output
// array is given, the output is written to that array.
func (s *Scattered) EvalAll(xs, ys []float64, out ...[]float64) []float64 {
	if len(out) == 0 {
		out = [][]float64{make([]float64, len(xs))}
	}
	for i := range xs {
		out[0][i] = s.Eval(xs[i], ys[i])
	}
	return out[0]
}
