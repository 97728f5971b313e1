package toy

import (
	"context"
	"fmt"
	"math"

	billy "gopkg.in/src-d/go-billy.v4"

	"github.com/phil-mansfield/linkage/disp"
	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/io"
)

// diffusionSafety is the fraction of the explicit stability limit used for
// each diffusion substep.
const diffusionSafety = 0.9

// Landscape is a surface process model with hillslope diffusion. It applies
// the vertical part of any injected displacement and writes its own
// elevation tables every display interval.
type Landscape struct {
	// Diffusivity is in square meters per year.
	Diffusivity float64
	// Afactor scales the merge factor handed to the displacement forcing.
	Afactor float64
	// Output receives display files. Nothing is written when it is nil.
	Output billy.Filesystem

	grid    *geom.SurfaceGrid
	elev    []float64
	buf     []float64
	forcing disp.Forcing

	time            float64
	disp3D          bool
	displayInterval float64
	nextDisplay     float64
	displays        int
}

// NewLandscape returns a Landscape over the given DEM points.
func NewLandscape(pts []geom.Vec) (*Landscape, error) {
	grid, elev, err := geom.GridFromDEM(pts)
	if err != nil {
		return nil, err
	}
	return &Landscape{
		Afactor: 1, grid: grid, elev: elev, buf: make([]float64, len(elev)),
		displayInterval: math.Inf(+1), nextDisplay: math.Inf(+1),
	}, nil
}

func (l *Landscape) Domain() geom.Box        { return l.grid.Extent() }
func (l *Landscape) Grid() *geom.SurfaceGrid { return l.grid }
func (l *Landscape) Elevations() []float64   { return l.elev }
func (l *Landscape) Forcing() *disp.Forcing  { return &l.forcing }
func (l *Landscape) TimeYears() float64      { return l.time }
func (l *Landscape) Displays() int           { return l.displays }

// MergeFactor is half the node spacing scaled by Afactor.
func (l *Landscape) MergeFactor() float64 {
	dx, _ := l.grid.Spacing()
	if math.IsNaN(dx) {
		return 0
	}
	return l.Afactor * dx * 0.5
}

func (l *Landscape) EnableDisplacement3D() { l.disp3D = true }

func (l *Landscape) SetDisplayInterval(years float64) {
	if !(years > 0) {
		years = math.Inf(+1)
	}
	l.displayInterval = years
	l.nextDisplay = l.time + years
}

func (l *Landscape) ArmInitialCheckpoint() { l.nextDisplay = l.time }

// RunToTime evolves the surface to the given time. Pending displays at the
// current time are written first.
func (l *Landscape) RunToTime(ctx context.Context, years float64) error {
	if years < l.time {
		return fmt.Errorf(
			"Cannot run a landscape at year %g back to year %g.", l.time, years,
		)
	}
	if err := l.display(l.time); err != nil {
		return err
	}

	dt := years - l.time
	if l.disp3D {
		l.uplift(l.time, years)
	}
	if err := l.diffuse(ctx, dt); err != nil {
		return err
	}
	l.time = years

	return l.display(years)
}

// uplift adds the fraction of the vertical injected displacement that falls
// inside [t0, t1].
func (l *Landscape) uplift(t0, t1 float64) {
	f := &l.forcing
	if f.History.Len() == 0 || len(f.Injected) != len(l.elev) {
		return
	}
	row := f.History.Row(0)
	width := row.End - row.Start
	overlap := math.Min(t1, row.End) - math.Max(t0, row.Start)
	if !(width > 0) || !(overlap > 0) {
		return
	}
	frac := overlap / width
	for i := range l.elev {
		l.elev[i] += f.Injected[i][2] * frac
	}
}

// diffuse runs explicit linear diffusion with zero-flux boundaries. Only
// regular grids are diffused.
func (l *Landscape) diffuse(ctx context.Context, dt float64) error {
	g := l.grid
	if !g.Regular() || l.Diffusivity <= 0 || dt <= 0 {
		return nil
	}
	dx, dy := g.Spacing()
	limit := diffusionSafety * 0.5 / (l.Diffusivity * (1/(dx*dx) + 1/(dy*dy)))
	n := int(math.Ceil(dt / limit))
	sub := dt / float64(n)
	ax, ay := l.Diffusivity*sub/(dx*dx), l.Diffusivity*sub/(dy*dy)

	for step := 0; step < n; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for r := 0; r < g.Rows; r++ {
			for c := 0; c < g.Cols; c++ {
				h := l.elev[g.Idx(r, c)]
				left, right := l.at(r, c-1, h), l.at(r, c+1, h)
				down, up := l.at(r-1, c, h), l.at(r+1, c, h)
				l.buf[g.Idx(r, c)] = h + ax*(left+right-2*h) + ay*(down+up-2*h)
			}
		}
		l.elev, l.buf = l.buf, l.elev
	}
	return nil
}

// at returns the elevation at (r, c), or h outside the grid.
func (l *Landscape) at(r, c int, h float64) float64 {
	if !l.grid.BoundsCheck(r, c) {
		return h
	}
	return l.elev[l.grid.Idx(r, c)]
}

// display writes every display due at or before t.
func (l *Landscape) display(t float64) error {
	for l.nextDisplay <= t {
		if l.Output != nil {
			if err := l.writeDisplay(); err != nil {
				return err
			}
		}
		l.displays++
		l.nextDisplay += l.displayInterval
	}
	return nil
}

func (l *Landscape) writeDisplay() error {
	name := fmt.Sprintf("surface-%05d.txt", l.displays)
	f, err := l.Output.Create(name)
	if err != nil {
		return err
	}
	comment := fmt.Sprintf("display %d, year %g", l.displays, l.time)
	if err := io.WriteDEM(f, comment, l.grid.Nodes(l.elev)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
