package io

import (
	"bufio"
	"fmt"
	"io"

	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/table"
)

// ReadDEM reads a whitespace-separated table of x, y, z columns. Comment
// lines starting with '#' are skipped.
func ReadDEM(fname string) ([]geom.Vec, error) {
	cols, err := table.ReadTable(fname, []int{0, 1, 2}, nil)
	if err != nil {
		return nil, err
	}

	xs, ys, zs := cols[0], cols[1], cols[2]
	if len(xs) == 0 {
		return nil, fmt.Errorf("DEM file %s contains no points.", fname)
	}

	pts := make([]geom.Vec, len(xs))
	for i := range pts {
		pts[i] = geom.Vec{xs[i], ys[i], zs[i]}
	}
	return pts, nil
}

// WriteDEM writes pts in the format ReadDEM reads, preceded by an optional
// comment line.
func WriteDEM(w io.Writer, comment string, pts []geom.Vec) error {
	bw := bufio.NewWriter(w)
	if comment != "" {
		if _, err := fmt.Fprintf(bw, "# %s\n", comment); err != nil {
			return err
		}
	}
	for _, p := range pts {
		if _, err := fmt.Fprintf(bw, "%v %v %v\n", p[0], p[1], p[2]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
