package material

import (
	"fmt"
	"math"

	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/interpolate"
)

// Stats counts the effect of one Update call.
type Stats struct {
	ToSediment, ToAir int
	// Outside is the number of particles beyond the surface hull that were
	// left untouched.
	Outside int
	// Unmapped is the number of particles whose identifier is in neither
	// set of the Map. They are never rewritten.
	Unmapped int
}

// Transitions returns the number of rewritten identifiers.
func (s Stats) Transitions() int { return s.ToSediment + s.ToAir }

// Classifier reclassifies continuum particles against a surface whose node
// positions are given by a triangulation and whose elevations change between
// calls.
type Classifier struct {
	Map    Map
	Policy Policy
	// Disabled turns Update into a no-op. This is used for open-loop runs
	// where the surface must not feed back into the continuum model.
	Disabled bool

	tri *interpolate.Triangulation
}

// NewClassifier returns a Classifier over the nodes of tri.
func NewClassifier(tri *interpolate.Triangulation, m Map) (*Classifier, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{Map: m, tri: tri}, nil
}

// Triangulation returns the triangulation points are located in.
func (c *Classifier) Triangulation() *interpolate.Triangulation { return c.tri }

// SetTriangulation replaces the triangulation after the surface nodes move.
func (c *Classifier) SetTriangulation(tri *interpolate.Triangulation) { c.tri = tri }

// Classify returns the layer of every point: Sediment if its z is strictly
// below the linearly interpolated surface elevation at its (x, y), Air
// otherwise. Points outside the surface hull are Outside under KeepOutside
// and are compared against the nearest node under ClampOutside.
func (c *Classifier) Classify(elev []float64, pts []geom.Vec, out ...[]Layer) []Layer {
	if len(out) == 0 {
		out = [][]Layer{make([]Layer, len(pts))}
	}
	surf := interpolate.NewScattered(c.tri, elev)
	for i := range pts {
		x, y, z := pts[i][0], pts[i][1], pts[i][2]
		h := surf.Eval(x, y)
		if math.IsNaN(h) {
			if c.Policy != ClampOutside {
				out[0][i] = Outside
				continue
			}
			h = surf.Nearest(x, y)
		}
		if z < h {
			out[0][i] = Sediment
		} else {
			out[0][i] = Air
		}
	}
	return out[0]
}

// Update rewrites the identifiers of particles that crossed the surface:
// air identifiers below it become Map.Sediment[0] and sediment identifiers
// above it become Map.Air[0]. Everything else is left alone, so running
// Update twice on unchanged state writes nothing the second time.
func (c *Classifier) Update(elev []float64, pts []geom.Vec, materials []int) (Stats, error) {
	var st Stats
	if c.Disabled {
		return st, nil
	}
	if len(pts) != len(materials) {
		return st, fmt.Errorf(
			"The swarm has %d positions but %d material identifiers.",
			len(pts), len(materials),
		)
	}

	layers := c.Classify(elev, pts)
	for i, id := range materials {
		switch {
		case layers[i] == Outside:
			st.Outside++
		case c.Map.IsAir(id):
			if layers[i] == Sediment {
				materials[i] = c.Map.Sediment[0]
				st.ToSediment++
			}
		case c.Map.IsSediment(id):
			if layers[i] == Air {
				materials[i] = c.Map.Air[0]
				st.ToAir++
			}
		default:
			st.Unmapped++
		}
	}
	return st, nil
}
