// Package toy provides small analytic stand-ins for the continuum and
// surface process models, enough to drive a coupled run end to end.
package toy

import (
	"context"
	"fmt"
	"math"

	"github.com/phil-mansfield/linkage/gather"
	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/io"
)

const secondsPerYear = 365 * 24 * 60 * 60

// Flow is a prescribed velocity field: a uniform background flow plus a
// Gaussian bump of vertical uplift centered on the domain.
type Flow struct {
	// Velocity is in meters per year.
	Velocity geom.Vec
	// Uplift is the peak vertical rate in meters per year. UpliftWidth is
	// the standard deviation of the bump in meters.
	Uplift, UpliftWidth float64
	Center              [2]float64
}

// At returns the velocity at x in meters per second.
func (f *Flow) At(x geom.Vec) geom.Vec {
	v := f.Velocity
	if f.Uplift != 0 {
		dx, dy := x[0]-f.Center[0], x[1]-f.Center[1]
		r2 := dx*dx + dy*dy
		v[2] += f.Uplift * math.Exp(-r2/(2*f.UpliftWidth*f.UpliftWidth))
	}
	v.Scale(1 / float64(secondsPerYear))
	return v
}

// ContinuumParams configures a Continuum.
type ContinuumParams struct {
	Box geom.Box
	// Resolution is the number of elements along each axis.
	Resolution [3]int
	// Partitions is the number of x-slabs the node lattice is split into.
	Partitions int
	Flow       Flow
	// MaxDt is the longest step Advance will take, in years.
	MaxDt float64

	// ParticleRes is the number of swarm particles along each axis.
	// Particles above Elevation start as Air, the rest as Sediment.
	ParticleRes   [3]int
	Elevation     float64
	Air, Sediment int
}

// Continuum is a Cartesian mesh whose velocity field is given by a Flow. Its
// nodes are split into x-slabs, each of which is a gather.Partition.
type Continuum struct {
	p      ContinuumParams
	xs     []float64
	nodes  []geom.Vec
	slabLo []int // first node column of each slab

	tracers []geom.Vec
	swarm   *Swarm
}

// NewContinuum builds the node lattice and the particle swarm.
func NewContinuum(p ContinuumParams) (*Continuum, error) {
	for dim := 0; dim < 3; dim++ {
		if p.Resolution[dim] < 1 {
			return nil, fmt.Errorf(
				"Resolution must be positive on every axis, but is %v.", p.Resolution,
			)
		} else if !(p.Box.Max[dim] > p.Box.Min[dim]) {
			return nil, fmt.Errorf("Box %v is empty.", p.Box)
		}
	}
	nx := p.Resolution[0] + 1
	if p.Partitions < 1 || p.Partitions > nx {
		return nil, fmt.Errorf(
			"Partitions must be in range [1, %d], but is %d.", nx, p.Partitions,
		)
	}
	if !(p.MaxDt > 0) {
		return nil, fmt.Errorf("MaxDt must be positive, but is %g.", p.MaxDt)
	}

	c := &Continuum{p: p}
	c.xs = geom.Linspace(p.Box.Min[0], p.Box.Max[0], nx)
	ys := geom.Linspace(p.Box.Min[1], p.Box.Max[1], p.Resolution[1]+1)
	zs := geom.Linspace(p.Box.Min[2], p.Box.Max[2], p.Resolution[2]+1)
	for _, z := range zs {
		for _, y := range ys {
			for _, x := range c.xs {
				c.nodes = append(c.nodes, geom.Vec{x, y, z})
			}
		}
	}

	c.slabLo = make([]int, p.Partitions+1)
	for i := range c.slabLo {
		c.slabLo[i] = i * nx / p.Partitions
	}

	c.swarm = newSwarm(&p)
	return c, nil
}

func (c *Continuum) Domain() geom.Box    { return c.p.Box }
func (c *Continuum) Resolution() [3]int  { return c.p.Resolution }
func (c *Continuum) Swarm() *Swarm       { return c.swarm }
func (c *Continuum) Tracers() []geom.Vec { return c.tracers }
func (c *Continuum) Nodes() []geom.Vec   { return c.nodes }

func (c *Continuum) SeedTracers(pts []geom.Vec) error {
	if len(c.tracers) > 0 {
		return fmt.Errorf("Tracers have already been seeded.")
	}
	c.tracers = make([]geom.Vec, len(pts))
	copy(c.tracers, pts)
	return nil
}

// AdvectTracers moves every tracer with a second order Runge-Kutta step.
func (c *Continuum) AdvectTracers(dtSeconds float64) error {
	c.advect(c.tracers, dtSeconds)
	return nil
}

// Advance moves the swarm by at most maxSeconds, limited by MaxDt, and
// returns the time taken.
func (c *Continuum) Advance(maxSeconds float64) (float64, error) {
	dt := math.Min(maxSeconds, c.p.MaxDt*secondsPerYear)
	c.advect(c.swarm.pos, dt)
	return dt, nil
}

// advect moves points with the midpoint rule, keeping them inside the box.
func (c *Continuum) advect(pts []geom.Vec, dt float64) {
	for i := range pts {
		x := pts[i]
		v := c.p.Flow.At(x)
		mid := x
		mid.Add(v.Scale(dt / 2))
		v = c.p.Flow.At(mid)
		x.Add(v.Scale(dt))
		for dim := 0; dim < 3; dim++ {
			x[dim] = math.Max(c.p.Box.Min[dim], math.Min(c.p.Box.Max[dim], x[dim]))
		}
		pts[i] = x
	}
}

// Partitions returns one Partition per x-slab.
func (c *Continuum) Partitions() []gather.Partition {
	parts := make([]gather.Partition, c.p.Partitions)
	for i := range parts {
		parts[i] = &slab{c: c, rank: i}
	}
	return parts
}

// column returns the node column whose cell holds x.
func (c *Continuum) column(x float64) int {
	dx := c.xs[1] - c.xs[0]
	ix := int(math.Floor((x - c.xs[0]) / dx))
	if ix < 0 {
		return 0
	} else if ix >= len(c.xs) {
		return len(c.xs) - 1
	}
	return ix
}

func (c *Continuum) owner(col int) int {
	for rank := 0; rank < c.p.Partitions; rank++ {
		if col < c.slabLo[rank+1] {
			return rank
		}
	}
	return c.p.Partitions - 1
}

// slab is the set of node columns [slabLo[rank], slabLo[rank+1]).
type slab struct {
	c    *Continuum
	rank int
}

func (s *slab) Rank() int { return s.rank }

func (s *slab) Piece(ctx context.Context) (*io.Piece, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := s.c
	nx := len(c.xs)
	lo, hi := c.slabLo[s.rank], c.slabLo[s.rank+1]

	p := &io.Piece{}
	p.Rank = int64(s.rank)
	p.NodeCount, p.TracerCount = int64(len(c.nodes)), int64(len(c.tracers))
	p.Lattice = [3]int64{
		int64(nx),
		int64(c.p.Resolution[1] + 1),
		int64(c.p.Resolution[2] + 1),
	}

	for id, x := range c.nodes {
		if ix := id % nx; ix >= lo && ix < hi {
			p.NodeIDs = append(p.NodeIDs, int64(id))
			p.Nodes = append(p.Nodes, x)
			p.Velocities = append(p.Velocities, c.p.Flow.At(x))
		}
	}
	for id, x := range c.tracers {
		if c.owner(c.column(x[0])) == s.rank {
			p.TracerIDs = append(p.TracerIDs, int64(id))
			p.Tracers = append(p.Tracers, x)
		}
	}

	p.OwnedNodes, p.OwnedTracers = int64(len(p.NodeIDs)), int64(len(p.TracerIDs))
	return p, nil
}

// Swarm is a lattice of particles carrying material identifiers.
type Swarm struct {
	pos []geom.Vec
	mat []int
}

func newSwarm(p *ContinuumParams) *Swarm {
	s := &Swarm{}
	res := p.ParticleRes
	for dim := range res {
		if res[dim] < 1 {
			res[dim] = p.Resolution[dim]
		}
	}
	cell := func(dim, i int) float64 {
		w := p.Box.Width(dim) / float64(res[dim])
		return p.Box.Min[dim] + w*(float64(i)+0.5)
	}
	for k := 0; k < res[2]; k++ {
		for j := 0; j < res[1]; j++ {
			for i := 0; i < res[0]; i++ {
				x := geom.Vec{cell(0, i), cell(1, j), cell(2, k)}
				s.pos = append(s.pos, x)
				if x[2] < p.Elevation {
					s.mat = append(s.mat, p.Sediment)
				} else {
					s.mat = append(s.mat, p.Air)
				}
			}
		}
	}
	return s
}

func (s *Swarm) Positions() []geom.Vec { return s.pos }
func (s *Swarm) Materials() []int      { return s.mat }
