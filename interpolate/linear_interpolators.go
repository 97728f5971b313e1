package interpolate

import (
	"fmt"
)

//////////////////////////////
// TriLinear Implementation //
//////////////////////////////

// TriLinear is a tri-linear interpolator over a rectilinear lattice. vals
// are stored with x varying fastest: vals[ix + iy*nx + iz*nx*ny].
//
// Points outside the lattice are clamped onto its surface before
// evaluation.
type TriLinear struct {
	xs, ys, zs searcher
	vals       []float64
	nx, ny     int
}

// NewTriLinear creates a tri-linear interpolator for the lattice spanned by
// the strictly increasing knots xs, ys and zs.
func NewTriLinear(xs, ys, zs, vals []float64) *TriLinear {
	tri := &TriLinear{}
	tri.xs.init(xs)
	tri.ys.init(ys)
	tri.zs.init(zs)
	tri.nx, tri.ny = len(xs), len(ys)
	tri.vals = vals

	if len(xs)*len(ys)*len(zs) != len(vals) {
		panic(fmt.Sprintf(
			"len(vals) = %d, but len(xs) = %d, len(ys) = %d, and len(zs) = %d",
			len(vals), len(xs), len(ys), len(zs),
		))
	}

	return tri
}

// Eval returns the interpolated value at (x, y, z).
func (tri *TriLinear) Eval(x, y, z float64) float64 {
	x = clamp(x, tri.xs.min(), tri.xs.max())
	y = clamp(y, tri.ys.min(), tri.ys.max())
	z = clamp(z, tri.zs.min(), tri.zs.max())

	ix, iy, iz := tri.xs.search(x), tri.ys.search(y), tri.zs.search(z)

	x1, x2 := tri.xs.val(ix), tri.xs.val(ix+1)
	y1, y2 := tri.ys.val(iy), tri.ys.val(iy+1)
	z1, z2 := tri.zs.val(iz), tri.zs.val(iz+1)

	tx := (x - x1) / (x2 - x1)
	ty := (y - y1) / (y2 - y1)
	tz := (z - z1) / (z2 - z1)

	v000, v100 := tri.at(ix, iy, iz), tri.at(ix+1, iy, iz)
	v010, v110 := tri.at(ix, iy+1, iz), tri.at(ix+1, iy+1, iz)
	v001, v101 := tri.at(ix, iy, iz+1), tri.at(ix+1, iy, iz+1)
	v011, v111 := tri.at(ix, iy+1, iz+1), tri.at(ix+1, iy+1, iz+1)

	v00 := v000 + (v100-v000)*tx
	v10 := v010 + (v110-v010)*tx
	v01 := v001 + (v101-v001)*tx
	v11 := v011 + (v111-v011)*tx

	v0 := v00 + (v10-v00)*ty
	v1 := v01 + (v11-v01)*ty

	return v0 + (v1-v0)*tz
}

func (tri *TriLinear) at(ix, iy, iz int) float64 {
	return tri.vals[ix+iy*tri.nx+iz*tri.nx*tri.ny]
}

// EvalAll evaluates the interpolator at all the given points. If an output
// array is given, the output is written to that array (the array is still
// returned as a convenience).
func (tri *TriLinear) EvalAll(xs, ys, zs []float64, out ...[]float64) []float64 {
	if len(out) == 0 {
		out = [][]float64{make([]float64, len(xs))}
	}
	for i := range xs {
		out[0][i] = tri.Eval(xs[i], ys[i], zs[i])
	}
	return out[0]
}
