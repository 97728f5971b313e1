package geom

import (
	"fmt"
)

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Vec
}

// Horizontal returns the (x min, x max, y min, y max) extent of the box.
func (b *Box) Horizontal() [4]float64 {
	return [4]float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]}
}

// SameHorizontal returns true if the x and y extents of the two boxes are
// exactly equal. No tolerance is applied: the two coordinate systems must
// agree to the bit.
func (b *Box) SameHorizontal(b2 *Box) bool {
	return b.Horizontal() == b2.Horizontal()
}

// Contains returns true if v lies inside the closed box.
func (b *Box) Contains(v *Vec) bool {
	for i := 0; i < 3; i++ {
		if v[i] < b.Min[i] || v[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Width returns the length of the box along dimension dim.
func (b *Box) Width(dim int) float64 {
	return b.Max[dim] - b.Min[dim]
}

func (b *Box) String() string {
	xy := b.Horizontal()
	return fmt.Sprintf("x=[%g, %g] y=[%g, %g]", xy[0], xy[1], xy[2], xy[3])
}
