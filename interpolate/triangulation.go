package interpolate

import (
	"fmt"
	"math"

	"github.com/fogleman/delaunay"

	"github.com/phil-mansfield/linkage/geom"
)

// Barycentric weights down to -baryEps still count as inside a triangle, so
// that points on shared edges and on the hull are always located.
const baryEps = 1e-10

// Triangulation is a planar triangulation of a set of nodes together with a
// bucket index for point location. A Triangulation keeps its own copy of the
// node positions, so it can be reused while the values attached to the nodes
// change. Matches tells whether the nodes have since moved.
type Triangulation struct {
	xs, ys []float64
	tris   [][3]int

	x0, x1, y0, y1 float64
	nbx, nby       int
	bw, bh         float64
	buckets        [][]int
}

// NewGridTriangulation splits every cell of a regular grid into two
// triangles.
func NewGridTriangulation(g *geom.SurfaceGrid) (*Triangulation, error) {
	if !g.Regular() {
		return nil, fmt.Errorf(
			"NewGridTriangulation needs a regular grid, but the grid has " +
				"no row/column structure.",
		)
	}
	tris := make([][3]int, 0, 2*(g.Rows-1)*(g.Cols-1))
	for r := 0; r < g.Rows-1; r++ {
		for c := 0; c < g.Cols-1; c++ {
			i00, i01 := g.Idx(r, c), g.Idx(r, c+1)
			i10, i11 := g.Idx(r+1, c), g.Idx(r+1, c+1)
			tris = append(tris, [3]int{i00, i01, i11}, [3]int{i00, i11, i10})
		}
	}
	return newTriangulation(g.Xs, g.Ys, tris)
}

// NewTriangulation computes the Delaunay triangulation of scattered nodes.
// Nodes must be distinct and must not all lie on one line. Regular grids
// should use NewGridTriangulation.
func NewTriangulation(xs, ys []float64) (*Triangulation, error) {
	n := len(xs)
	if len(ys) != n {
		return nil, fmt.Errorf(
			"len(xs) = %d, but len(ys) = %d.", len(xs), len(ys),
		)
	} else if n < 3 {
		return nil, fmt.Errorf(
			"A triangulation needs at least three nodes, but %d were given.", n,
		)
	}

	seen := make(map[[2]float64]int, n)
	pts := make([]delaunay.Point, n)
	for i := range xs {
		key := [2]float64{xs[i], ys[i]}
		if j, ok := seen[key]; ok {
			return nil, fmt.Errorf(
				"Nodes %d and %d are both at (%g, %g).", j, i, xs[i], ys[i],
			)
		}
		seen[key] = i
		pts[i] = delaunay.Point{X: xs[i], Y: ys[i]}
	}

	dt, err := delaunay.Triangulate(pts)
	if err != nil || len(dt.Triangles) == 0 {
		return nil, fmt.Errorf("All %d nodes are collinear.", n)
	}

	tris := make([][3]int, len(dt.Triangles)/3)
	for k := range tris {
		copy(tris[k][:], dt.Triangles[3*k:3*k+3])
	}
	return newTriangulation(xs, ys, tris)
}

func newTriangulation(xs, ys []float64, tris [][3]int) (*Triangulation, error) {
	xs, ys = append([]float64{}, xs...), append([]float64{}, ys...)
	t := &Triangulation{xs: xs, ys: ys, tris: tris}
	t.x0, t.x1, t.y0, t.y1 = bounds(xs, ys)
	if t.x1 <= t.x0 || t.y1 <= t.y0 {
		return nil, fmt.Errorf(
			"Nodes span a degenerate extent x=[%g, %g] y=[%g, %g].",
			t.x0, t.x1, t.y0, t.y1,
		)
	}

	side := int(math.Sqrt(float64(len(tris)) / 2))
	if side < 1 {
		side = 1
	}
	t.nbx, t.nby = side, side
	t.bw, t.bh = (t.x1-t.x0)/float64(side), (t.y1-t.y0)/float64(side)
	t.buckets = make([][]int, side*side)

	for k, tri := range tris {
		tx0, tx1, ty0, ty1 := math.Inf(+1), math.Inf(-1), math.Inf(+1), math.Inf(-1)
		for _, v := range tri {
			tx0, tx1 = math.Min(tx0, xs[v]), math.Max(tx1, xs[v])
			ty0, ty1 = math.Min(ty0, ys[v]), math.Max(ty1, ys[v])
		}
		bx0, by0 := t.bucket(tx0, ty0)
		bx1, by1 := t.bucket(tx1, ty1)
		for by := by0; by <= by1; by++ {
			for bx := bx0; bx <= bx1; bx++ {
				b := bx + by*t.nbx
				t.buckets[b] = append(t.buckets[b], k)
			}
		}
	}
	return t, nil
}

// Nodes returns the number of nodes in the triangulation.
func (t *Triangulation) Nodes() int { return len(t.xs) }

// Matches reports whether xs and ys are exactly the node positions t was
// built from.
func (t *Triangulation) Matches(xs, ys []float64) bool {
	if len(xs) != len(t.xs) || len(ys) != len(t.ys) {
		return false
	}
	for i := range xs {
		if xs[i] != t.xs[i] || ys[i] != t.ys[i] {
			return false
		}
	}
	return true
}

// Triangles returns the node indices of every triangle.
func (t *Triangulation) Triangles() [][3]int { return t.tris }

// Locate returns the triangle containing (x, y) and the barycentric weights
// of its three nodes. ok is false if the point is outside the hull.
func (t *Triangulation) Locate(x, y float64) (tri int, w [3]float64, ok bool) {
	if x < t.x0 || x > t.x1 || y < t.y0 || y > t.y1 || math.IsNaN(x) || math.IsNaN(y) {
		return -1, w, false
	}
	bx, by := t.bucket(x, y)
	for _, k := range t.buckets[bx+by*t.nbx] {
		if w, ok = t.bary(k, x, y); ok {
			return k, w, true
		}
	}
	return -1, w, false
}

// Nearest returns the index of the node closest to (x, y).
func (t *Triangulation) Nearest(x, y float64) int {
	best, bestD2 := 0, math.Inf(+1)
	for i := range t.xs {
		dx, dy := t.xs[i]-x, t.ys[i]-y
		if d2 := dx*dx + dy*dy; d2 < bestD2 {
			best, bestD2 = i, d2
		}
	}
	return best
}

func (t *Triangulation) bary(k int, x, y float64) (w [3]float64, ok bool) {
	a, b, c := t.tris[k][0], t.tris[k][1], t.tris[k][2]
	xa, ya, xb, yb, xc, yc := t.xs[a], t.ys[a], t.xs[b], t.ys[b], t.xs[c], t.ys[c]

	det := (yb-yc)*(xa-xc) + (xc-xb)*(ya-yc)
	if det == 0 {
		return w, false
	}
	w[0] = ((yb-yc)*(x-xc) + (xc-xb)*(y-yc)) / det
	w[1] = ((yc-ya)*(x-xc) + (xa-xc)*(y-yc)) / det
	w[2] = 1 - w[0] - w[1]
	ok = w[0] >= -baryEps && w[1] >= -baryEps && w[2] >= -baryEps
	return w, ok
}

func (t *Triangulation) bucket(x, y float64) (bx, by int) {
	bx, by = int((x-t.x0)/t.bw), int((y-t.y0)/t.bh)
	if bx >= t.nbx {
		bx = t.nbx - 1
	} else if bx < 0 {
		bx = 0
	}
	if by >= t.nby {
		by = t.nby - 1
	} else if by < 0 {
		by = 0
	}
	return bx, by
}

func bounds(xs, ys []float64) (x0, x1, y0, y1 float64) {
	x0, x1, y0, y1 = math.Inf(+1), math.Inf(-1), math.Inf(+1), math.Inf(-1)
	for i := range xs {
		x0, x1 = math.Min(x0, xs[i]), math.Max(x1, xs[i])
		y0, y1 = math.Min(y0, ys[i]), math.Max(y1, ys[i])
	}
	return x0, x1, y0, y1
}
