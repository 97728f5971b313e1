/*
Package linkage couples a 3D continuum model with a 2D surface process
model over the same horizontal domain.

The continuum model's velocity field is sampled at one tracer per surface
node and handed to the surface model as a displacement field. After the
surface model has advanced, its elevations are used to reclassify each
continuum particle as air or sediment. Model owns the clock and the
checkpoint schedule that keep the two sides in step.
*/
package linkage

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"go.uber.org/multierr"

	"github.com/phil-mansfield/linkage/disp"
	"github.com/phil-mansfield/linkage/gather"
	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/interpolate"
	"github.com/phil-mansfield/linkage/material"
	"github.com/phil-mansfield/linkage/store"
)

const (
	// SecondsPerYear converts the continuum model's seconds to the surface
	// model's years. A year is 365 days.
	SecondsPerYear = 365 * 24 * 60 * 60
	// DefaultCheckpointInterval is the years between checkpoints used by New.
	DefaultCheckpointInterval = 10000.0

	// clockEps is the relative gap between the clock and a step's target
	// below which the step is treated as reaching the target.
	clockEps = 1e-12
)

////////////////
// Interfaces //
////////////////

// Continuum is the 3D model. Its mesh may be split across partitions.
type Continuum interface {
	Domain() geom.Box
	// Resolution is the number of elements along each axis.
	Resolution() [3]int
	Partitions() []gather.Partition
	// SeedTracers adds one tracer per point. Tracer ids are the indices
	// into pts.
	SeedTracers(pts []geom.Vec) error
	AdvectTracers(dtSeconds float64) error
}

// Swarm is the continuum model's particle collection. Materials is written
// in place.
type Swarm interface {
	Positions() []geom.Vec
	Materials() []int
}

// Surface is the surface process model.
type Surface interface {
	Domain() geom.Box
	Grid() *geom.SurfaceGrid
	Elevations() []float64
	Forcing() *disp.Forcing
	MergeFactor() float64

	EnableDisplacement3D()
	// SetDisplayInterval sets the years between the surface model's own
	// checkpoints.
	SetDisplayInterval(years float64)
	// ArmInitialCheckpoint makes the surface model's first checkpoint fire
	// at time 0.
	ArmInitialCheckpoint()
	RunToTime(ctx context.Context, years float64) error
}

// UpdateFunc advances the continuum model by at most maxSeconds and returns
// the number of seconds it actually advanced.
type UpdateFunc func(m *Model, maxSeconds float64) (float64, error)

// CheckpointFunc is called each time a checkpoint boundary is reached.
// index is 0 for the state before the first step. timeYears is the time at
// the end of the step that reached the boundary.
type CheckpointFunc func(m *Model, index int, timeYears float64) error

///////////
// Model //
///////////

// Model is the state of one coupled run. The collaborators and Update and
// Checkpoint must be set before the first call to RunForYears. The
// remaining exported fields are optional.
type Model struct {
	Continuum  Continuum
	Swarm      Swarm
	Surface    Surface
	Update     UpdateFunc
	Checkpoint CheckpointFunc

	// CheckpointInterval is in years.
	CheckpointInterval     float64
	Materials              material.Map
	DisableMaterialChanges bool
	OutsidePolicy          material.Policy

	// Sync defaults to one backed by an in-memory store.
	Sync      *gather.Synchronizer
	Observers []Observer
	// Logger is silent when nil.
	Logger *log.Logger

	started        bool
	timeYears      float64
	index          int
	nextCheckpoint float64
	steps          int
	transitions    int

	injector   *disp.Injector
	classifier *material.Classifier
	global     *gather.Global
	dispBuf    []geom.Vec
	velBuf     []geom.Vec
}

// New returns a Model with the default interval and material map.
func New() *Model {
	return &Model{
		CheckpointInterval: DefaultCheckpointInterval,
		Materials:          material.DefaultMap(),
	}
}

// TimeYears returns the simulation clock.
func (m *Model) TimeYears() float64 { return m.timeYears }

// CheckpointIndex returns the index the next checkpoint will be given.
func (m *Model) CheckpointIndex() int { return m.index }

// NextCheckpoint returns the time of the next checkpoint boundary.
func (m *Model) NextCheckpoint() float64 { return m.nextCheckpoint }

// Steps returns the number of completed steps.
func (m *Model) Steps() int { return m.steps }

// Started reports whether startup has run.
func (m *Model) Started() bool { return m.started }

// Global returns the most recent global snapshot of the continuum model. It
// is nil before startup.
func (m *Model) Global() *gather.Global { return m.global }

func (m *Model) logf(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// validate checks the configuration and reports every problem at once.
func (m *Model) validate() error {
	var err error
	missing := func(field string) {
		err = multierr.Append(err, &ConfigError{field, "must be set"})
	}
	if m.Continuum == nil {
		missing("Continuum")
	}
	if m.Swarm == nil {
		missing("Swarm")
	}
	if m.Surface == nil {
		missing("Surface")
	}
	if m.Update == nil {
		missing("Update")
	}
	if m.Checkpoint == nil {
		missing("Checkpoint")
	}
	if !(m.CheckpointInterval > 0) || math.IsInf(m.CheckpointInterval, 0) {
		err = multierr.Append(err, &ConfigError{
			"CheckpointInterval",
			fmt.Sprintf("must be positive and finite, but is %g", m.CheckpointInterval),
		})
	}
	if merr := m.Materials.Validate(); merr != nil {
		err = multierr.Append(err, &ConfigError{"Materials", merr.Error()})
	}
	return err
}

// startup performs the one-time initialization of both models and fires
// checkpoint 0.
func (m *Model) startup(ctx context.Context) error {
	if m.started {
		return nil
	}
	if err := m.validate(); err != nil {
		return err
	}

	cb, sb := m.Continuum.Domain(), m.Surface.Domain()
	if !cb.SameHorizontal(&sb) {
		return &ConfigError{"Domain", fmt.Sprintf(
			"the surface and continuum models must operate over the same "+
				"domain (surface has %v, but continuum has %v)",
			sb.Horizontal(), cb.Horizontal(),
		)}
	}

	grid := m.Surface.Grid()
	elev := m.Surface.Elevations()
	if len(elev) != grid.Len() {
		return &ConfigError{"Surface", fmt.Sprintf(
			"%d elevations for %d grid nodes", len(elev), grid.Len(),
		)}
	}

	m.Surface.EnableDisplacement3D()
	m.Surface.SetDisplayInterval(m.CheckpointInterval)

	if err := m.Continuum.SeedTracers(grid.Nodes(elev)); err != nil {
		return fmt.Errorf("linkage: could not seed tracers: %w", err)
	}

	if m.Sync == nil {
		m.Sync = gather.NewSynchronizer(store.NewMemory())
	}
	global, err := m.Sync.Globalize(ctx, m.Continuum.Partitions())
	if err != nil {
		return err
	}
	res := m.Continuum.Resolution()
	for dim := 0; dim < 3; dim++ {
		if global.Lattice[dim] != res[dim]+1 {
			return &ConfigError{"Continuum", fmt.Sprintf(
				"resolution %v does not match node lattice %v",
				res, global.Lattice,
			)}
		}
	}
	if len(global.Tracers) != grid.Len() {
		return &ConfigError{"Continuum", fmt.Sprintf(
			"%d tracers were gathered for %d surface nodes",
			len(global.Tracers), grid.Len(),
		)}
	}
	m.global = global

	tri, err := triangulate(grid)
	if err != nil {
		return &ConfigError{"Surface", err.Error()}
	}
	if m.classifier, err = material.NewClassifier(tri, m.Materials); err != nil {
		return &ConfigError{"Materials", err.Error()}
	}

	m.injector = disp.NewInjector(m.Surface)
	m.dispBuf = make([]geom.Vec, grid.Len())
	m.velBuf = make([]geom.Vec, grid.Len())

	stats, err := m.reclassify()
	if err != nil {
		return err
	}
	m.logf("Started linkage over %v with %d surface nodes and %d partitions; "+
		"initial classification rewrote %d materials.",
		sb.Horizontal(), grid.Len(), len(m.Continuum.Partitions()),
		stats.Transitions())

	m.nextCheckpoint = m.CheckpointInterval
	m.index = 0
	if err := m.fireCheckpoint(m.timeYears); err != nil {
		return err
	}

	m.Surface.ArmInitialCheckpoint()
	m.started = true
	return nil
}

// RunForYears advances both models by years, applying a Gaussian filter of
// width sigma (in surface nodes) to the displacement field when sigma is
// positive. The context is checked between steps and handed to blocking
// collaborator calls.
func (m *Model) RunForYears(ctx context.Context, years, sigma float64) error {
	if !(years >= 0) || math.IsInf(years, 0) {
		return &ConfigError{"years", fmt.Sprintf("must be non-negative and finite, but is %g", years)}
	}
	if !(sigma >= 0) {
		return &ConfigError{"sigma", fmt.Sprintf("must be non-negative, but is %g", sigma)}
	}

	if err := m.startup(ctx); err != nil {
		return err
	}

	end := m.timeYears + years
	for m.timeYears < end {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.step(ctx, end, sigma); err != nil {
			return err
		}
	}
	return nil
}

// step runs one coupling step ending no later than end or the next
// checkpoint boundary.
func (m *Model) step(ctx context.Context, end, sigma float64) error {
	start := time.Now()

	target := math.Max(m.timeYears, math.Min(end, m.nextCheckpoint))
	maxYears := target - m.timeYears
	maxSeconds := maxYears * SecondsPerYear

	dtSeconds, err := m.Update(m, maxSeconds)
	if err != nil {
		return fmt.Errorf("linkage: update at year %g: %w", m.timeYears, err)
	}
	if !(dtSeconds <= maxSeconds) || dtSeconds < 0 {
		return &ContractError{RequestedSeconds: maxSeconds, ActualSeconds: dtSeconds}
	}

	// A step that lands within rounding of the window's end consumed the
	// whole window; the clock is snapped onto the boundary.
	dtYears := dtSeconds / SecondsPerYear
	newTime := m.timeYears + dtYears
	writeCheckpoint := dtSeconds == maxSeconds ||
		(maxYears > 0 && target-newTime <= clockEps*math.Max(1, math.Abs(target)))
	if writeCheckpoint {
		newTime = target
	}

	if err := m.Continuum.AdvectTracers(dtSeconds); err != nil {
		return fmt.Errorf("linkage: could not advect tracers: %w", err)
	}

	global, err := m.Sync.Globalize(ctx, m.Continuum.Partitions())
	if err != nil {
		return err
	}
	m.global = global

	vel := global.TracerVelocities(m.velBuf)
	displacement := geom.ScaleAll(vel, dtSeconds, m.dispBuf)
	if err := m.injector.Inject(m.timeYears, dtYears, displacement, sigma); err != nil {
		return fmt.Errorf("linkage: could not inject displacement: %w", err)
	}

	if err := m.Surface.RunToTime(ctx, newTime); err != nil {
		return fmt.Errorf("linkage: surface model failed to reach year %g: %w",
			newTime, err)
	}

	stats, err := m.reclassify()
	if err != nil {
		return err
	}

	if writeCheckpoint {
		if err := m.fireCheckpoint(newTime); err != nil {
			return err
		}
	}

	m.timeYears = newTime
	m.steps++

	m.logf("Step %d: %g of %g seconds to year %g, %d materials rewritten.",
		m.steps, dtSeconds, maxSeconds, m.timeYears, stats.Transitions())
	ev := StepEvent{
		Step: m.steps, TimeYears: m.timeYears, DtYears: dtYears,
		RequestedSeconds: maxSeconds, ActualSeconds: dtSeconds,
		Checkpoint: writeCheckpoint, Materials: stats,
		Elapsed: time.Since(start),
	}
	for _, obs := range m.Observers {
		obs.Step(ev)
	}
	return nil
}

func triangulate(grid *geom.SurfaceGrid) (*interpolate.Triangulation, error) {
	if grid.Regular() {
		return interpolate.NewGridTriangulation(grid)
	}
	return interpolate.NewTriangulation(grid.Xs, grid.Ys)
}

// reclassify updates the swarm's materials against the surface's current
// nodes, retriangulating if they have moved since the last call.
func (m *Model) reclassify() (material.Stats, error) {
	var stats material.Stats
	grid, elev := m.Surface.Grid(), m.Surface.Elevations()
	if len(elev) != grid.Len() {
		return stats, fmt.Errorf("linkage: surface has %d elevations for %d grid nodes",
			len(elev), grid.Len())
	}
	if !m.classifier.Triangulation().Matches(grid.Xs, grid.Ys) {
		tri, err := triangulate(grid)
		if err != nil {
			return stats, fmt.Errorf("linkage: could not retriangulate surface: %w", err)
		}
		m.classifier.SetTriangulation(tri)
	}

	m.classifier.Policy = m.OutsidePolicy
	m.classifier.Disabled = m.DisableMaterialChanges
	stats, err := m.classifier.Update(elev, m.Swarm.Positions(), m.Swarm.Materials())
	if err != nil {
		return stats, fmt.Errorf("linkage: could not update materials: %w", err)
	}
	m.transitions += stats.Transitions()
	return stats, nil
}

// fireCheckpoint runs the checkpoint callback and observers, then moves the
// schedule forward one interval. Index 0 does not move the boundary.
func (m *Model) fireCheckpoint(timeYears float64) error {
	if err := m.Checkpoint(m, m.index, timeYears); err != nil {
		return fmt.Errorf("linkage: checkpoint %d failed: %w", m.index, err)
	}

	ev := CheckpointEvent{
		Index: m.index, TimeYears: timeYears, Transitions: m.transitions,
	}
	for _, obs := range m.Observers {
		if err := obs.Checkpoint(ev); err != nil {
			return fmt.Errorf("linkage: checkpoint %d observer failed: %w", m.index, err)
		}
	}
	m.logf("Checkpoint %d at year %g.", m.index, timeYears)

	if m.index > 0 {
		m.nextCheckpoint += m.CheckpointInterval
	}
	m.index++
	m.transitions = 0
	return nil
}
