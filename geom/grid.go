package geom

import (
	"fmt"
	"math"
)

// SurfaceGrid describes the node layout of the surface model. Node i sits at
// (Xs[i], Ys[i]). When the grid is regular, nodes are stored in row-major
// order with x varying fastest inside a row, and Rows * Cols == len(Xs).
// Irregular grids (TINs) have Rows == Cols == 0.
type SurfaceGrid struct {
	Xs, Ys     []float64
	Rows, Cols int
}

// NewRegularGrid returns a regular grid with cols nodes between min[0] and
// max[0] and rows nodes between min[1] and max[1].
func NewRegularGrid(min, max [2]float64, cols, rows int) *SurfaceGrid {
	if cols < 2 || rows < 2 {
		panic(fmt.Sprintf(
			"A regular grid needs at least two nodes per side, got %d x %d.",
			cols, rows,
		))
	}
	g := &SurfaceGrid{
		Xs: make([]float64, rows*cols), Ys: make([]float64, rows*cols),
		Rows: rows, Cols: cols,
	}
	xs, ys := Linspace(min[0], max[0], cols), Linspace(min[1], max[1], rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := g.Idx(r, c)
			g.Xs[i], g.Ys[i] = xs[c], ys[r]
		}
	}
	return g
}

// NewIrregularGrid wraps scattered node coordinates.
func NewIrregularGrid(xs, ys []float64) *SurfaceGrid {
	if len(xs) != len(ys) {
		panic("Length of input slices are not equal.")
	}
	return &SurfaceGrid{Xs: xs, Ys: ys}
}

// Len returns the number of nodes in the grid.
func (g *SurfaceGrid) Len() int { return len(g.Xs) }

// Regular returns true if the grid has a (Rows, Cols) structure.
func (g *SurfaceGrid) Regular() bool {
	return g.Rows > 0 && g.Cols > 0 && g.Rows*g.Cols == len(g.Xs)
}

// Idx returns the node index of the given row and column.
func (g *SurfaceGrid) Idx(row, col int) int { return row*g.Cols + col }

// Coords returns the row and column of a node from its index.
func (g *SurfaceGrid) Coords(idx int) (row, col int) {
	return idx / g.Cols, idx % g.Cols
}

// BoundsCheck returns true if the given row and column are inside the grid.
func (g *SurfaceGrid) BoundsCheck(row, col int) bool {
	return row >= 0 && col >= 0 && row < g.Rows && col < g.Cols
}

// Extent returns the horizontal bounding box of the nodes. The z extent is
// left at zero.
func (g *SurfaceGrid) Extent() Box {
	b := Box{
		Min: Vec{math.Inf(+1), math.Inf(+1), 0},
		Max: Vec{math.Inf(-1), math.Inf(-1), 0},
	}
	for i := range g.Xs {
		b.Min[0], b.Max[0] = fMinMax(b.Min[0], b.Max[0], g.Xs[i])
		b.Min[1], b.Max[1] = fMinMax(b.Min[1], b.Max[1], g.Ys[i])
	}
	return b
}

// Nodes combines the grid's coordinates with the given elevations into 3D
// points.
func (g *SurfaceGrid) Nodes(elev []float64, out ...[]Vec) []Vec {
	if len(elev) != len(g.Xs) {
		panic(fmt.Sprintf(
			"len(elev) = %d, but the grid has %d nodes.", len(elev), len(g.Xs),
		))
	}
	if len(out) == 0 {
		out = [][]Vec{make([]Vec, len(elev))}
	}
	for i := range elev {
		out[0][i] = Vec{g.Xs[i], g.Ys[i], elev[i]}
	}
	return out[0]
}

// Spacing returns the node spacing of a regular grid along x and y.
func (g *SurfaceGrid) Spacing() (dx, dy float64) {
	if !g.Regular() {
		return math.NaN(), math.NaN()
	}
	dx = g.Xs[1] - g.Xs[0]
	dy = g.Ys[g.Cols] - g.Ys[0]
	return dx, dy
}

// Linspace returns n evenly spaced values from lo to hi, inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	xs := make([]float64, n)
	if n == 1 {
		xs[0] = lo
		return xs
	}
	dx := (hi - lo) / float64(n-1)
	for i := range xs {
		xs[i] = lo + dx*float64(i)
	}
	xs[n-1] = hi
	return xs
}

func fMinMax(min, max, x float64) (float64, float64) {
	if x < min {
		min = x
	}
	if x > max {
		max = x
	}
	return min, max
}
