// Package gather assembles the pieces owned by each partition of the
// continuum model into one global snapshot of the mesh and tracer set.
//
// Every partition's piece is written to a Store concurrently. Once all
// writes have finished the pieces are read back, verified and merged. The
// keys for a step are deleted when the merge completes, so at most one
// step's snapshot is live at a time.
package gather

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/interpolate"
	"github.com/phil-mansfield/linkage/io"
	"github.com/phil-mansfield/linkage/store"
)

// latticeTol is the relative tolerance with which node coordinates must
// match the lattice knots.
const latticeTol = 1e-9

// Partition is one rank of a partitioned continuum model.
type Partition interface {
	Rank() int
	// Piece returns the nodes and tracers this partition owns.
	Piece(ctx context.Context) (*io.Piece, error)
}

// SyncError reports a failure while assembling the global snapshot. Rank is
// -1 when no single partition is responsible.
type SyncError struct {
	Rank   int
	Reason string
	Err    error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("gather: %s", e.Reason)
	if e.Rank >= 0 {
		msg = fmt.Sprintf("gather: partition %d: %s", e.Rank, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

func syncErrorf(rank int, err error, format string, args ...interface{}) *SyncError {
	return &SyncError{Rank: rank, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Synchronizer builds Globals by round-tripping partition pieces through a
// Store.
type Synchronizer struct {
	Store store.Store
	// RunID namespaces every key this Synchronizer writes.
	RunID string

	step int
}

// NewSynchronizer returns a Synchronizer with a fresh run id.
func NewSynchronizer(s store.Store) *Synchronizer {
	return &Synchronizer{Store: s, RunID: uuid.NewString()}
}

// Steps returns the number of snapshots successfully assembled.
func (s *Synchronizer) Steps() int { return s.step }

func (s *Synchronizer) prefix() string {
	return fmt.Sprintf("%s/%06d/", s.RunID, s.step)
}

func (s *Synchronizer) key(rank int) string {
	return fmt.Sprintf("%spiece-%04d", s.prefix(), rank)
}

// Globalize assembles the global snapshot for the current step. No partial
// Global is ever returned: any failure is a *SyncError.
func (s *Synchronizer) Globalize(ctx context.Context, parts []Partition) (*Global, error) {
	if len(parts) == 0 {
		return nil, syncErrorf(-1, nil, "no partitions")
	}
	ranks := map[int]bool{}
	for _, p := range parts {
		if ranks[p.Rank()] {
			return nil, syncErrorf(p.Rank(), nil, "rank appears twice")
		}
		ranks[p.Rank()] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			piece, err := p.Piece(gctx)
			if err != nil {
				return syncErrorf(p.Rank(), err, "could not build piece")
			}
			piece.Rank = int64(p.Rank())
			data, err := io.MarshalPiece(piece)
			if err != nil {
				return syncErrorf(p.Rank(), err, "could not encode piece")
			}
			if err := s.Store.Put(gctx, s.key(p.Rank()), data); err != nil {
				return syncErrorf(p.Rank(), err, "could not write piece")
			}
			return nil
		})
	}
	err := g.Wait()

	var pieces []*io.Piece
	if err == nil {
		pieces, err = s.readPieces(ctx, parts)
	}
	// The step's keys are discarded whether or not the merge succeeds.
	if derr := store.DeletePrefix(ctx, s.Store, s.prefix()); derr != nil && err == nil {
		err = syncErrorf(-1, derr, "could not discard step %d", s.step)
	}
	if err != nil {
		return nil, err
	}

	global, err := merge(pieces)
	if err != nil {
		return nil, err
	}
	s.step++
	return global, nil
}

func (s *Synchronizer) readPieces(ctx context.Context, parts []Partition) ([]*io.Piece, error) {
	pieces := make([]*io.Piece, len(parts))
	for i, p := range parts {
		data, err := s.Store.Get(ctx, s.key(p.Rank()))
		if err != nil {
			return nil, syncErrorf(p.Rank(), err, "could not read piece")
		}
		piece, err := io.UnmarshalPiece(data)
		if err != nil {
			return nil, syncErrorf(p.Rank(), err, "could not decode piece")
		}
		if piece.Rank != int64(p.Rank()) {
			return nil, syncErrorf(p.Rank(), nil,
				"piece is labeled as rank %d", piece.Rank)
		}
		pieces[i] = piece
	}
	return pieces, nil
}

// Global is the non-partitioned view of the continuum mesh. Node i sits at
// lattice index (i % nx, (i / nx) % ny, i / (nx*ny)).
type Global struct {
	Lattice    [3]int
	Nodes      []geom.Vec
	Velocities []geom.Vec
	// Tracers are indexed by tracer id.
	Tracers []geom.Vec

	// Knots along each axis, taken from the node coordinates.
	xs, ys, zs []float64
}

func merge(pieces []*io.Piece) (*Global, error) {
	h0 := &pieces[0].PieceHeader
	for _, p := range pieces[1:] {
		if p.NodeCount != h0.NodeCount || p.TracerCount != h0.TracerCount ||
			p.Lattice != h0.Lattice {
			return nil, syncErrorf(int(p.Rank), nil,
				"header (%d nodes, %d tracers, lattice %v) does not match "+
					"partition %d (%d nodes, %d tracers, lattice %v)",
				p.NodeCount, p.TracerCount, p.Lattice,
				h0.Rank, h0.NodeCount, h0.TracerCount, h0.Lattice)
		}
	}

	nx, ny, nz := int(h0.Lattice[0]), int(h0.Lattice[1]), int(h0.Lattice[2])
	if nx < 2 || ny < 2 || nz < 2 || int64(nx*ny*nz) != h0.NodeCount {
		return nil, syncErrorf(-1, nil,
			"lattice %v cannot hold %d nodes", h0.Lattice, h0.NodeCount)
	}
	if h0.TracerCount < 0 {
		return nil, syncErrorf(-1, nil, "negative tracer count %d", h0.TracerCount)
	}

	g := &Global{
		Lattice:    [3]int{nx, ny, nz},
		Nodes:      make([]geom.Vec, h0.NodeCount),
		Velocities: make([]geom.Vec, h0.NodeCount),
		Tracers:    make([]geom.Vec, h0.TracerCount),
	}
	nodeOwner := make([]int, h0.NodeCount)
	tracerOwner := make([]int, h0.TracerCount)
	for i := range nodeOwner {
		nodeOwner[i] = -1
	}
	for i := range tracerOwner {
		tracerOwner[i] = -1
	}

	for _, p := range pieces {
		rank := int(p.Rank)
		for i, id := range p.NodeIDs {
			if id < 0 || id >= h0.NodeCount {
				return nil, syncErrorf(rank, nil, "node id %d out of range", id)
			} else if nodeOwner[id] >= 0 {
				return nil, syncErrorf(rank, nil,
					"node %d is also owned by partition %d", id, nodeOwner[id])
			}
			nodeOwner[id] = rank
			g.Nodes[id], g.Velocities[id] = p.Nodes[i], p.Velocities[i]
		}
		for i, id := range p.TracerIDs {
			if id < 0 || id >= h0.TracerCount {
				return nil, syncErrorf(rank, nil, "tracer id %d out of range", id)
			} else if tracerOwner[id] >= 0 {
				return nil, syncErrorf(rank, nil,
					"tracer %d is also owned by partition %d", id, tracerOwner[id])
			}
			tracerOwner[id] = rank
			g.Tracers[id] = p.Tracers[i]
		}
	}

	for id, owner := range nodeOwner {
		if owner < 0 {
			return nil, syncErrorf(-1, nil, "node %d has no owner", id)
		}
	}
	for id, owner := range tracerOwner {
		if owner < 0 {
			return nil, syncErrorf(-1, nil, "tracer %d has no owner", id)
		}
	}

	if err := g.initKnots(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Global) initKnots() error {
	nx, ny, nz := g.Lattice[0], g.Lattice[1], g.Lattice[2]
	g.xs, g.ys, g.zs = make([]float64, nx), make([]float64, ny), make([]float64, nz)
	for i := range g.xs {
		g.xs[i] = g.Nodes[i][0]
	}
	for i := range g.ys {
		g.ys[i] = g.Nodes[i*nx][1]
	}
	for i := range g.zs {
		g.zs[i] = g.Nodes[i*nx*ny][2]
	}

	knots := [3][]float64{g.xs, g.ys, g.zs}
	for dim, ks := range knots {
		for i := 1; i < len(ks); i++ {
			if !(ks[i] > ks[i-1]) {
				return syncErrorf(-1, nil,
					"node coordinates along axis %d are not increasing", dim)
			}
		}
	}

	for id, v := range g.Nodes {
		idx := [3]int{id % nx, (id / nx) % ny, id / (nx * ny)}
		for dim := 0; dim < 3; dim++ {
			ks := knots[dim]
			tol := latticeTol * (ks[len(ks)-1] - ks[0])
			if math.Abs(v[dim]-ks[idx[dim]]) > tol {
				return syncErrorf(-1, nil,
					"node %d at %v is off the lattice", id, v)
			}
		}
	}
	return nil
}

// TracerVelocities interpolates the node velocity field at every tracer.
// If an output array is given, the output is written to that array (the
// array is still returned as a convenience).
func (g *Global) TracerVelocities(out ...[]geom.Vec) []geom.Vec {
	if len(out) == 0 {
		out = [][]geom.Vec{make([]geom.Vec, len(g.Tracers))}
	}
	tx := geom.Component(g.Tracers, 0)
	ty := geom.Component(g.Tracers, 1)
	tz := geom.Component(g.Tracers, 2)

	buf := make([]float64, len(g.Tracers))
	for dim := 0; dim < 3; dim++ {
		vals := geom.Component(g.Velocities, dim)
		intr := interpolate.NewTriLinear(g.xs, g.ys, g.zs, vals)
		intr.EvalAll(tx, ty, tz, buf)
		geom.SetComponent(out[0], dim, buf)
	}
	return out[0]
}
