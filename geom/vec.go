/*
Package geom contains the small amount of geometry shared by the continuum
and surface sides of a linked model: vectors, bounding boxes and the node
layout of the surface grid.
*/
package geom

import (
	"math"
)

// Vec is a three dimensional vector in model units (meters, or meters per
// second for velocities).
type Vec [3]float64

// Add sets v to v + u and returns it as a convenience.
func (v *Vec) Add(u *Vec) *Vec {
	for i := 0; i < 3; i++ {
		v[i] += u[i]
	}
	return v
}

// Scale sets v to k*v and returns it.
func (v *Vec) Scale(k float64) *Vec {
	for i := 0; i < 3; i++ {
		v[i] *= k
	}
	return v
}

// Norm returns the Euclidean length of v.
func (v *Vec) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// ScaleAll writes k*vs[i] into out[0] and returns it. If no output slice is
// given, one is allocated.
func ScaleAll(vs []Vec, k float64, out ...[]Vec) []Vec {
	if len(out) == 0 {
		out = [][]Vec{make([]Vec, len(vs))}
	}
	for i := range vs {
		out[0][i] = vs[i]
		out[0][i].Scale(k)
	}
	return out[0]
}

// Component copies the dim-th coordinate of every vector in vs into out[0].
func Component(vs []Vec, dim int, out ...[]float64) []float64 {
	if len(out) == 0 {
		out = [][]float64{make([]float64, len(vs))}
	}
	for i := range vs {
		out[0][i] = vs[i][dim]
	}
	return out[0]
}

// SetComponent writes xs into the dim-th coordinate of every vector in vs.
func SetComponent(vs []Vec, dim int, xs []float64) {
	if len(xs) != len(vs) {
		panic("Length of input slices are not equal.")
	}
	for i := range vs {
		vs[i][dim] = xs[i]
	}
}
