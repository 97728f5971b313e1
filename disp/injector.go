package disp

import (
	"errors"
	"fmt"

	"github.com/phil-mansfield/linkage/geom"
)

// ErrIrregularGrid is returned when smoothing is requested on a surface grid
// without a row/column structure.
var ErrIrregularGrid = errors.New("disp: smoothing needs a regular surface grid")

// Target is the part of a surface model the Injector writes to.
type Target interface {
	Forcing() *Forcing
	Grid() *geom.SurfaceGrid
	MergeFactor() float64
}

// Injector maintains the displacement forcing of a surface model across
// coupling steps.
type Injector struct {
	target   Target
	inserted bool
	buf      [2][]float64
}

// NewInjector returns an Injector writing into target.
func NewInjector(target Target) *Injector {
	return &Injector{target: target}
}

// Inserted returns true once the injector owns the first history row.
func (inj *Injector) Inserted() bool { return inj.inserted }

// Inject hands the surface model the displacement each node accrues over
// [time, time+dt] years. If sigma > 0, each displacement component is first
// smoothed over the regular surface grid with a Gaussian of sigma nodes.
//
// The first call prepends a history row; later calls rewrite that row so
// the table never grows.
func (inj *Injector) Inject(time, dt float64, field []geom.Vec, sigma float64) error {
	g, f := inj.target.Grid(), inj.target.Forcing()
	if len(field) != g.Len() {
		return fmt.Errorf(
			"Displacement field has %d vectors, but the surface grid has %d "+
				"nodes.", len(field), g.Len(),
		)
	} else if sigma < 0 {
		return fmt.Errorf("Smoothing sigma must be non-negative, but is %g.", sigma)
	} else if sigma > 0 && !g.Regular() {
		return ErrIrregularGrid
	}

	f.Merge3D = inj.target.MergeFactor()

	iv := Interval{Start: time, End: time + dt}
	if inj.inserted {
		if err := f.History.SetFirst(iv); err != nil {
			return err
		}
	} else {
		f.History.Prepend(iv)
		inj.inserted = true
	}

	if len(f.Injected) != len(field) {
		f.Injected = make([]geom.Vec, len(field))
	}
	copy(f.Injected, field)
	if sigma > 0 {
		inj.smooth(f.Injected, g, sigma)
	}
	return nil
}

func (inj *Injector) smooth(vs []geom.Vec, g *geom.SurfaceGrid, sigma float64) {
	for i := range inj.buf {
		if len(inj.buf[i]) != len(vs) {
			inj.buf[i] = make([]float64, len(vs))
		}
	}
	in, out := inj.buf[0], inj.buf[1]
	for dim := 0; dim < 3; dim++ {
		geom.Component(vs, dim, in)
		GaussianFilter(in, g.Rows, g.Cols, sigma, out)
		geom.SetComponent(vs, dim, out)
	}
}
