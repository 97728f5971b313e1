package interpolate

// BiInterpolator evaluates a scalar field over the (x, y) plane.
type BiInterpolator interface {
	Eval(x, y float64) float64
	EvalAll(xs, ys []float64, out ...[]float64) []float64
}

var (
	_ BiInterpolator = &Scattered{}
)

// TriInterpolator evaluates a scalar field over a volume.
type TriInterpolator interface {
	Eval(x, y, z float64) float64
	EvalAll(xs, ys, zs []float64, out ...[]float64) []float64
}

var (
	_ TriInterpolator = &TriLinear{}
)
