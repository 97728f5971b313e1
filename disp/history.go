/*
Package disp turns continuum velocities into the 3D displacement forcing
consumed by the surface model.

The surface model keeps a time-indexed table of displacement intervals and
the displacement map that applies to the active interval. A linked run only
ever needs one live interval, so the first injection adds a row and every
later injection rewrites that row in place.
*/
package disp

import (
	"errors"

	"github.com/phil-mansfield/linkage/geom"
)

// Interval is one row of a displacement history: the displacement map is
// applied over [Start, End] years.
type Interval struct {
	Start, End float64
}

// Contains returns true if t lies within the closed interval.
func (iv Interval) Contains(t float64) bool {
	return iv.Start <= t && t <= iv.End
}

// History is the displacement-history table of a surface model. Row 0 is the
// row consulted first.
type History struct {
	rows []Interval
}

// NewHistory returns a history table holding the given rows.
func NewHistory(rows ...Interval) *History {
	return &History{rows: append([]Interval{}, rows...)}
}

// Len returns the number of rows in the table.
func (h *History) Len() int { return len(h.rows) }

// Row returns the i-th row.
func (h *History) Row(i int) Interval { return h.rows[i] }

// Rows returns a copy of the table.
func (h *History) Rows() []Interval { return append([]Interval{}, h.rows...) }

// Prepend inserts iv as the new first row.
func (h *History) Prepend(iv Interval) {
	h.rows = append(h.rows, Interval{})
	copy(h.rows[1:], h.rows)
	h.rows[0] = iv
}

// SetFirst overwrites the bounds of the first row.
func (h *History) SetFirst(iv Interval) error {
	if len(h.rows) == 0 {
		return errors.New("cannot overwrite the first row of an empty history")
	}
	h.rows[0] = iv
	return nil
}

// Find returns the index of the first row containing t.
func (h *History) Find(t float64) (int, bool) {
	for i := range h.rows {
		if h.rows[i].Contains(t) {
			return i, true
		}
	}
	return -1, false
}

// Forcing is the tectonic forcing state of a surface model. Injected holds
// the displacement of each surface node accrued over the interval in
// History's first row. Merge3D is the surface model's own merge distance for
// displaced nodes, copied in unchanged.
type Forcing struct {
	History  History
	Injected []geom.Vec
	Merge3D  float64
}
