package linkage

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/phil-mansfield/linkage/disp"
	"github.com/phil-mansfield/linkage/gather"
	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/io"
	"github.com/phil-mansfield/linkage/material"
)

var testVelocity = geom.Vec{0, 0, 1e-9}

// fakeContinuum is a single 2 x 2 x 2 node lattice owned by one partition.
type fakeContinuum struct {
	box      geom.Box
	tracers  []geom.Vec
	advected []float64
}

func (c *fakeContinuum) Domain() geom.Box   { return c.box }
func (c *fakeContinuum) Resolution() [3]int { return [3]int{1, 1, 1} }

func (c *fakeContinuum) Partitions() []gather.Partition {
	return []gather.Partition{c}
}

func (c *fakeContinuum) SeedTracers(pts []geom.Vec) error {
	c.tracers = append([]geom.Vec{}, pts...)
	return nil
}

func (c *fakeContinuum) AdvectTracers(dt float64) error {
	c.advected = append(c.advected, dt)
	for i := range c.tracers {
		v := testVelocity
		c.tracers[i].Add(v.Scale(dt))
	}
	return nil
}

func (c *fakeContinuum) Rank() int { return 0 }

func (c *fakeContinuum) Piece(ctx context.Context) (*io.Piece, error) {
	p := &io.Piece{}
	p.NodeCount, p.TracerCount = 8, int64(len(c.tracers))
	p.Lattice = [3]int64{2, 2, 2}
	for id := 0; id < 8; id++ {
		x := geom.Vec{c.box.Min[0], c.box.Min[1], c.box.Min[2]}
		if id&1 != 0 {
			x[0] = c.box.Max[0]
		}
		if id&2 != 0 {
			x[1] = c.box.Max[1]
		}
		if id&4 != 0 {
			x[2] = c.box.Max[2]
		}
		p.NodeIDs = append(p.NodeIDs, int64(id))
		p.Nodes = append(p.Nodes, x)
		p.Velocities = append(p.Velocities, testVelocity)
	}
	for id, x := range c.tracers {
		p.TracerIDs = append(p.TracerIDs, int64(id))
		p.Tracers = append(p.Tracers, x)
	}
	p.OwnedNodes, p.OwnedTracers = 8, int64(len(c.tracers))
	return p, nil
}

type fakeSwarm struct {
	pos []geom.Vec
	mat []int
}

func (s *fakeSwarm) Positions() []geom.Vec { return s.pos }
func (s *fakeSwarm) Materials() []int      { return s.mat }

// fakeSurface is a flat 3 x 3 grid. raise is added to every elevation and
// shift to every node x on each RunToTime call.
type fakeSurface struct {
	box     geom.Box
	grid    *geom.SurfaceGrid
	elev    []float64
	forcing disp.Forcing
	raise   float64
	shift   float64

	disp3D   bool
	display  float64
	armed    bool
	runTimes []float64
}

func (s *fakeSurface) Domain() geom.Box        { return s.box }
func (s *fakeSurface) Grid() *geom.SurfaceGrid { return s.grid }
func (s *fakeSurface) Elevations() []float64   { return s.elev }
func (s *fakeSurface) Forcing() *disp.Forcing  { return &s.forcing }
func (s *fakeSurface) MergeFactor() float64    { return 2.5 }
func (s *fakeSurface) EnableDisplacement3D()   { s.disp3D = true }
func (s *fakeSurface) ArmInitialCheckpoint()   { s.armed = true }

func (s *fakeSurface) SetDisplayInterval(years float64) { s.display = years }

func (s *fakeSurface) RunToTime(ctx context.Context, years float64) error {
	s.runTimes = append(s.runTimes, years)
	for i := range s.elev {
		s.elev[i] += s.raise
		s.grid.Xs[i] += s.shift
	}
	return nil
}

type checkpoint struct {
	index int
	time  float64
}

type testRun struct {
	m           *Model
	continuum   *fakeContinuum
	surface     *fakeSurface
	swarm       *fakeSwarm
	checkpoints []checkpoint
	requests    []float64
}

// newTestRun returns a Model whose update callback consumes step(max)
// seconds. A nil step consumes the full window.
func newTestRun(step func(max float64) float64) *testRun {
	box := geom.Box{Min: geom.Vec{0, 0, -5}, Max: geom.Vec{10, 10, 5}}
	tr := &testRun{
		continuum: &fakeContinuum{box: box},
		surface: &fakeSurface{
			box:  box,
			grid: geom.NewRegularGrid([2]float64{0, 0}, [2]float64{10, 10}, 3, 3),
			elev: make([]float64, 9),
		},
		swarm: &fakeSwarm{
			pos: []geom.Vec{{2, 2, 1}, {5, 5, -1}, {8, 3, 0.5}},
			mat: []int{1, 0, 0},
		},
	}
	if step == nil {
		step = func(max float64) float64 { return max }
	}

	m := New()
	m.Continuum, m.Swarm, m.Surface = tr.continuum, tr.swarm, tr.surface
	m.Update = func(m *Model, max float64) (float64, error) {
		tr.requests = append(tr.requests, max)
		return step(max), nil
	}
	m.Checkpoint = func(m *Model, index int, t float64) error {
		tr.checkpoints = append(tr.checkpoints, checkpoint{index, t})
		return nil
	}
	tr.m = m
	return tr
}

type recorder struct {
	steps       []StepEvent
	checkpoints []CheckpointEvent
	fail        error
}

func (r *recorder) Step(ev StepEvent) { r.steps = append(r.steps, ev) }

func (r *recorder) Checkpoint(ev CheckpointEvent) error {
	r.checkpoints = append(r.checkpoints, ev)
	return r.fail
}

func TestStartup(t *testing.T) {
	tr := newTestRun(nil)
	require.NoError(t, tr.m.RunForYears(context.Background(), 0, 0))

	assert.True(t, tr.m.Started())
	assert.True(t, tr.surface.disp3D)
	assert.True(t, tr.surface.armed)
	assert.Equal(t, DefaultCheckpointInterval, tr.surface.display)
	assert.Equal(t, []checkpoint{{0, 0}}, tr.checkpoints)
	assert.Equal(t, 1, tr.m.CheckpointIndex())
	assert.Equal(t, DefaultCheckpointInterval, tr.m.NextCheckpoint())

	assert.Equal(t, tr.surface.grid.Nodes(tr.surface.elev), tr.continuum.tracers)
	// Initial classification against the flat surface at 0.
	assert.Equal(t, []int{0, 1, 0}, tr.swarm.mat)
	assert.Empty(t, tr.requests)
	assert.Equal(t, 9, len(tr.m.Global().Tracers))

	require.NoError(t, tr.m.RunForYears(context.Background(), 0, 0))
	assert.Len(t, tr.checkpoints, 1)
}

func TestOneIntervalOneCheckpoint(t *testing.T) {
	tr := newTestRun(nil)
	require.NoError(t, tr.m.RunForYears(context.Background(), DefaultCheckpointInterval, 0))

	assert.Equal(t, []checkpoint{{0, 0}, {1, DefaultCheckpointInterval}}, tr.checkpoints)
	assert.Equal(t, DefaultCheckpointInterval, tr.m.TimeYears())
	assert.Equal(t, 1, tr.m.Steps())
	assert.Equal(t, 2*DefaultCheckpointInterval, tr.m.NextCheckpoint())
}

func TestClockAdvancesByConsumedTime(t *testing.T) {
	fracs := []float64{0.25, 0.5, 0.125}
	i := 0
	tr := newTestRun(func(max float64) float64 {
		dt := max * fracs[i%len(fracs)]
		i++
		return dt
	})
	m := tr.m
	m.CheckpointInterval = 100

	var before []float64
	update := m.Update
	m.Update = func(m *Model, max float64) (float64, error) {
		before = append(before, m.TimeYears())
		return update(m, max)
	}
	rec := &recorder{}
	m.Observers = []Observer{rec}

	ctx := context.Background()
	require.NoError(t, m.RunForYears(ctx, 0, 0))
	for step := 0; step < 12; step++ {
		require.NoError(t, m.step(ctx, 1000, 0))
	}

	require.Len(t, rec.steps, 12)
	for k, ev := range rec.steps {
		assert.Equal(t, before[k]+ev.ActualSeconds/SecondsPerYear, ev.TimeYears)
		assert.False(t, ev.Checkpoint)
	}
	assert.Len(t, tr.checkpoints, 1)
}

func TestCheckpointIffFullWindow(t *testing.T) {
	// Alternate between partial and full steps.
	n := 0
	tr := newTestRun(func(max float64) float64 {
		n++
		if n%3 == 0 {
			return max
		}
		return max / 2
	})
	m := tr.m
	m.CheckpointInterval = 10
	rec := &recorder{}
	m.Observers = []Observer{rec}

	require.NoError(t, m.RunForYears(context.Background(), 40, 0))

	assert.Equal(t, 40.0, m.TimeYears())
	fired := 0
	for _, ev := range rec.steps {
		assert.Equal(t, ev.ActualSeconds == ev.RequestedSeconds, ev.Checkpoint)
		if ev.Checkpoint {
			fired++
		}
	}
	assert.Equal(t, 4, fired)

	require.Len(t, tr.checkpoints, fired+1)
	for i, cp := range tr.checkpoints {
		assert.Equal(t, i, cp.index)
		assert.Equal(t, 10*float64(i), cp.time)
	}
	require.Len(t, rec.checkpoints, fired+1)
	assert.Equal(t, 4, rec.checkpoints[4].Index)
}

func TestCheckpointAtRequestEnd(t *testing.T) {
	tr := newTestRun(nil)
	m := tr.m
	m.CheckpointInterval = 10

	require.NoError(t, m.RunForYears(context.Background(), 4, 0))
	assert.Equal(t, []checkpoint{{0, 0}, {1, 4}}, tr.checkpoints)
	assert.Equal(t, 20.0, m.NextCheckpoint())
}

func TestContractViolation(t *testing.T) {
	calls := 0
	tr := newTestRun(func(max float64) float64 {
		calls++
		if calls == 2 {
			return max * 1.5
		}
		return max / 4
	})
	m := tr.m
	ctx := context.Background()

	require.NoError(t, m.RunForYears(ctx, 0, 0))
	require.NoError(t, m.step(ctx, 100, 0))
	time, index := m.TimeYears(), m.CheckpointIndex()
	materials := append([]int{}, tr.swarm.mat...)
	tracers := append([]geom.Vec{}, tr.continuum.tracers...)
	runs, advects := len(tr.surface.runTimes), len(tr.continuum.advected)

	err := m.RunForYears(ctx, 100, 0)
	var ce *ContractError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ce.RequestedSeconds*1.5, ce.ActualSeconds)

	assert.Equal(t, time, m.TimeYears())
	assert.Equal(t, index, m.CheckpointIndex())
	assert.Equal(t, materials, tr.swarm.mat)
	assert.Equal(t, tracers, tr.continuum.tracers)
	assert.Len(t, tr.surface.runTimes, runs)
	assert.Len(t, tr.continuum.advected, advects)
	assert.Equal(t, 1, tr.surface.forcing.History.Len())
}

func TestNegativeStepIsViolation(t *testing.T) {
	tr := newTestRun(func(max float64) float64 { return -1 })
	err := tr.m.RunForYears(context.Background(), 10, 0)
	var ce *ContractError
	assert.True(t, errors.As(err, &ce))
}

func TestDomainMismatch(t *testing.T) {
	tr := newTestRun(nil)
	tr.surface.box.Max[1] = 10.000001
	err := tr.m.RunForYears(context.Background(), 10, 0)

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Domain", ce.Field)
	assert.Empty(t, tr.checkpoints)
	assert.False(t, tr.m.Started())
}

func TestMissingCollaborators(t *testing.T) {
	m := New()
	err := m.RunForYears(context.Background(), 10, 0)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 5)
	fields := []string{}
	for _, e := range errs {
		var ce *ConfigError
		require.True(t, errors.As(e, &ce))
		fields = append(fields, ce.Field)
	}
	assert.Equal(t, []string{"Continuum", "Swarm", "Surface", "Update", "Checkpoint"}, fields)
}

func TestInvalidSettings(t *testing.T) {
	tr := newTestRun(nil)
	tr.m.CheckpointInterval = 0
	tr.m.Materials = material.Map{Air: []int{1}, Sediment: []int{1}}
	err := tr.m.RunForYears(context.Background(), 10, 0)
	assert.Len(t, multierr.Errors(err), 2)

	tr = newTestRun(nil)
	var ce *ConfigError
	assert.True(t, errors.As(tr.m.RunForYears(context.Background(), -1, 0), &ce))
	assert.True(t, errors.As(tr.m.RunForYears(context.Background(), 1, -1), &ce))
	assert.True(t, errors.As(tr.m.RunForYears(context.Background(), math.NaN(), 0), &ce))
}

func TestHistoryHasOneRow(t *testing.T) {
	tr := newTestRun(func(max float64) float64 { return math.Min(max, SecondsPerYear) })
	tr.m.CheckpointInterval = 5
	require.NoError(t, tr.m.RunForYears(context.Background(), 17, 0))

	assert.Equal(t, 17, tr.m.Steps())
	h := &tr.surface.forcing.History
	require.Equal(t, 1, h.Len())
	assert.Equal(t, disp.Interval{Start: 16, End: 17}, h.Row(0))
	assert.Equal(t, 2.5, tr.surface.forcing.Merge3D)

	// Each step moves the surface up by the vertical velocity times dt.
	for _, d := range tr.surface.forcing.Injected {
		assert.InDelta(t, testVelocity[2]*SecondsPerYear, d[2], 1e-12)
	}
	assert.Equal(t, 17.0, tr.surface.runTimes[16])
}

func TestSmoothedInjection(t *testing.T) {
	tr := newTestRun(nil)
	require.NoError(t, tr.m.RunForYears(context.Background(), 100, 1.5))
	for _, d := range tr.surface.forcing.Injected {
		assert.InDelta(t, testVelocity[2]*100*SecondsPerYear, d[2], 1e-9)
	}
}

func TestMaterialsFollowSurface(t *testing.T) {
	tr := newTestRun(nil)
	tr.surface.raise = 0.75
	tr.m.CheckpointInterval = 1
	rec := &recorder{}
	tr.m.Observers = []Observer{rec}

	require.NoError(t, tr.m.RunForYears(context.Background(), 1, 0))
	// Surface is at 0.75: the particle at 0.5 is buried.
	assert.Equal(t, []int{0, 1, 1}, tr.swarm.mat)
	assert.Equal(t, 1, rec.steps[0].Materials.ToSediment)

	require.NoError(t, tr.m.RunForYears(context.Background(), 1, 0))
	assert.Equal(t, []int{1, 1, 1}, tr.swarm.mat)

	tr.m.DisableMaterialChanges = true
	for i := range tr.swarm.mat {
		tr.swarm.mat[i] = 0
	}
	require.NoError(t, tr.m.RunForYears(context.Background(), 1, 0))
	assert.Equal(t, []int{0, 0, 0}, tr.swarm.mat)
}

func TestMaterialsFollowMovingNodes(t *testing.T) {
	tr := newTestRun(nil)
	tr.surface.raise, tr.surface.shift = 2, 5
	rec := &recorder{}
	tr.m.Observers = []Observer{rec}

	require.NoError(t, tr.m.RunForYears(context.Background(), 1, 0))
	// The surface now spans x = [5, 15], so the particle at x = 2 is
	// outside it and keeps its material.
	assert.Equal(t, []int{0, 1, 1}, tr.swarm.mat)
	assert.Equal(t, 1, rec.steps[0].Materials.Outside)
	assert.Equal(t, 1, rec.steps[0].Materials.ToSediment)
	assert.True(t, tr.m.classifier.Triangulation().Matches(
		tr.surface.grid.Xs, tr.surface.grid.Ys,
	))
}

func TestClockLandsOnBoundaries(t *testing.T) {
	tr := newTestRun(func(max float64) float64 {
		return math.Min(max, 0.1*SecondsPerYear)
	})
	tr.m.CheckpointInterval = 1
	require.NoError(t, tr.m.RunForYears(context.Background(), 3, 0))

	assert.Equal(t, 3.0, tr.m.TimeYears())
	assert.Equal(t, 30, tr.m.Steps())
	assert.Equal(t, []checkpoint{{0, 0}, {1, 1}, {2, 2}, {3, 3}}, tr.checkpoints)
	for i, max := range tr.requests {
		assert.Greater(t, max, 0.05*SecondsPerYear, "request %d", i)
	}
}

func TestObserverFailureHalts(t *testing.T) {
	tr := newTestRun(nil)
	boom := errors.New("boom")
	rec := &recorder{}
	tr.m.Observers = []Observer{rec}

	require.NoError(t, tr.m.RunForYears(context.Background(), 0, 0))
	rec.fail = boom
	err := tr.m.RunForYears(context.Background(), DefaultCheckpointInterval, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0.0, tr.m.TimeYears())
}

type cancelObserver struct{ cancel context.CancelFunc }

func (c cancelObserver) Step(StepEvent)                   { c.cancel() }
func (c cancelObserver) Checkpoint(CheckpointEvent) error { return nil }

func TestCanceled(t *testing.T) {
	tr := newTestRun(func(max float64) float64 { return max / 2 })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.m.Observers = []Observer{cancelObserver{cancel}}
	err := tr.m.RunForYears(ctx, 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, tr.m.Steps())
}

func TestLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	tr := newTestRun(nil)
	tr.m.Logger = log.New(buf, "", 0)
	require.NoError(t, tr.m.RunForYears(context.Background(), DefaultCheckpointInterval, 0))

	out := buf.String()
	assert.Contains(t, out, "Started linkage")
	assert.Contains(t, out, "Checkpoint 0 at year 0.")
	assert.Contains(t, out, "Checkpoint 1 at year 10000.")
	assert.Contains(t, out, "Step 1:")
}
