package disp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Truncate is the kernel half-width in standard deviations.
const Truncate = 4.0

// GaussianKernel returns the normalized 1D Gaussian weights with standard
// deviation sigma, truncated at Truncate*sigma. The kernel has 2*radius + 1
// entries with the peak in the middle.
func GaussianKernel(sigma float64) []float64 {
	radius := int(Truncate*sigma + 0.5)
	ws := make([]float64, 2*radius+1)
	for i := range ws {
		x := float64(i - radius)
		ws[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	if radius == 0 {
		ws[0] = 1
		return ws
	}
	floats.Scale(1/floats.Sum(ws), ws)
	return ws
}

// GaussianFilter smooths a rows x cols row-major field with a separable
// Gaussian of standard deviation sigma (in nodes). Samples beyond the edges
// are mirrored about the edge (d c b a | a b c d | d c b a). The result is
// written to out[0] when given; vals is never modified.
func GaussianFilter(vals []float64, rows, cols int, sigma float64, out ...[]float64) []float64 {
	if rows*cols != len(vals) {
		panic(fmt.Sprintf(
			"len(vals) = %d, but rows = %d and cols = %d.", len(vals), rows, cols,
		))
	} else if sigma < 0 {
		panic(fmt.Sprintf("sigma must be non-negative, but is %g.", sigma))
	}
	if len(out) == 0 {
		out = [][]float64{make([]float64, len(vals))}
	}
	res := out[0]
	if sigma == 0 {
		copy(res, vals)
		return res
	}

	ws := GaussianKernel(sigma)
	radius := len(ws) / 2
	tmp := make([]float64, len(vals))

	// Along each row.
	for r := 0; r < rows; r++ {
		row := vals[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			sum := 0.0
			for k, w := range ws {
				sum += w * row[reflect(c+k-radius, cols)]
			}
			tmp[r*cols+c] = sum
		}
	}

	// Along each column.
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			sum := 0.0
			for k, w := range ws {
				sum += w * tmp[reflect(r+k-radius, rows)*cols+c]
			}
			res[r*cols+c] = sum
		}
	}
	return res
}

// reflect maps an out-of-range index back into [0, n) by mirroring about
// the array edges.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i = pMod(i, period)
	if i >= n {
		i = period - i - 1
	}
	return i
}

// pMod computes the positive modulo x % y.
func pMod(x, y int) int {
	m := x % y
	if m < 0 {
		m += y
	}
	return m
}
