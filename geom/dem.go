package geom

import (
	"fmt"
)

// FlatDEM generates the points of a flat elevation model. min and max use
// the continuum model's (X, Y, Z) bounds; only X and Y are read. res gives
// the number of points along X and Y. Points are emitted row by row, with x
// varying fastest, so the first two points differ only in x.
func FlatDEM(min, max Vec, res [2]int, elevation float64) []Vec {
	pts := make([]Vec, 0, res[0]*res[1])
	xs := Linspace(min[0], max[0], res[0])
	ys := Linspace(min[1], max[1], res[1])
	for _, y := range ys {
		for _, x := range xs {
			pts = append(pts, Vec{x, y, elevation})
		}
	}
	return pts
}

// GridFromDEM builds a SurfaceGrid and an elevation slice out of DEM points.
// If the points form a row-major regular lattice (as FlatDEM produces) the
// grid is regular, otherwise it is returned as an irregular TIN.
func GridFromDEM(pts []Vec) (*SurfaceGrid, []float64, error) {
	if len(pts) < 3 {
		return nil, nil, fmt.Errorf(
			"A DEM needs at least three points, but %d were given.", len(pts),
		)
	}
	xs, ys, zs := Component(pts, 0), Component(pts, 1), Component(pts, 2)

	cols := 1
	for cols < len(pts) && ys[cols] == ys[0] {
		cols++
	}
	g := NewIrregularGrid(xs, ys)
	if cols >= 2 && len(pts)%cols == 0 && len(pts)/cols >= 2 {
		g.Rows, g.Cols = len(pts)/cols, cols
		if !latticeCheck(g) {
			g.Rows, g.Cols = 0, 0
		}
	}
	return g, zs, nil
}

// latticeCheck returns true if every row shares one y value and every column
// shares one x value.
func latticeCheck(g *SurfaceGrid) bool {
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			i := g.Idx(r, c)
			if g.Ys[i] != g.Ys[g.Idx(r, 0)] || g.Xs[i] != g.Xs[c] {
				return false
			}
		}
	}
	return true
}
