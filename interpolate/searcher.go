package interpolate

import (
	"fmt"
	"sort"
)

// searcher finds the bracketing interval of a value inside a strictly
// increasing sequence of knots.
type searcher struct {
	xs []float64
}

func (s *searcher) init(xs []float64) {
	if len(xs) < 2 {
		panic(fmt.Sprintf("Need at least two knots, but got %d.", len(xs)))
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			panic(fmt.Sprintf(
				"Knots must be strictly increasing, but xs[%d] = %g and "+
					"xs[%d] = %g.", i-1, xs[i-1], i, xs[i],
			))
		}
	}
	s.xs = xs
}

// search returns the index i of the interval [val(i), val(i+1)] containing
// x. Values outside the knots are clamped to the first or last interval.
func (s *searcher) search(x float64) int {
	i := sort.SearchFloat64s(s.xs, x) - 1
	if i < 0 {
		return 0
	} else if i > len(s.xs)-2 {
		return len(s.xs) - 2
	}
	return i
}

func (s *searcher) val(i int) float64 { return s.xs[i] }
func (s *searcher) min() float64      { return s.xs[0] }
func (s *searcher) max() float64      { return s.xs[len(s.xs)-1] }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	} else if x > hi {
		return hi
	}
	return x
}
