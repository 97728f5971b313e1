/*
Package material decides which continuum particles sit above (air) or below
(sediment) the surface model's elevation and rewrites their material
identifiers when they cross it.
*/
package material

import (
	"fmt"
	"strings"
)

// Map assigns continuum material identifiers to the two surface layers. Any
// identifier in Air is treated as air and any identifier in Sediment as
// sediment. Transitions always write the first (canonical) identifier of
// the destination set.
type Map struct {
	Air, Sediment []int
}

// DefaultMap maps identifier 0 to air and identifier 1 to sediment.
func DefaultMap() Map {
	return Map{Air: []int{0}, Sediment: []int{1}}
}

// Validate checks that both sets are non-empty and disjoint.
func (m Map) Validate() error {
	if len(m.Air) == 0 {
		return fmt.Errorf("The material map has no air identifiers.")
	} else if len(m.Sediment) == 0 {
		return fmt.Errorf("The material map has no sediment identifiers.")
	}
	for _, a := range m.Air {
		if m.IsSediment(a) {
			return fmt.Errorf(
				"Material %d is in both the air set %v and the sediment set %v.",
				a, m.Air, m.Sediment,
			)
		}
	}
	return nil
}

// IsAir returns true if id is an air identifier.
func (m Map) IsAir(id int) bool { return contains(m.Air, id) }

// IsSediment returns true if id is a sediment identifier.
func (m Map) IsSediment(id int) bool { return contains(m.Sediment, id) }

func contains(ids []int, id int) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Layer is the position of a particle relative to the surface.
type Layer int8

const (
	// Air particles are on or above the surface.
	Air Layer = iota
	// Sediment particles are strictly below the surface.
	Sediment
	// Outside particles lie beyond the hull of the surface nodes, where the
	// surface elevation is undefined.
	Outside
)

func (l Layer) String() string {
	switch l {
	case Air:
		return "air"
	case Sediment:
		return "sediment"
	case Outside:
		return "outside"
	}
	return fmt.Sprintf("Layer(%d)", int8(l))
}

// Policy decides what happens to particles outside the surface hull.
type Policy int

const (
	// KeepOutside never rewrites the material of particles outside the hull.
	KeepOutside Policy = iota
	// ClampOutside classifies particles outside the hull against the
	// elevation of the nearest surface node.
	ClampOutside
)

// ParsePolicy reads a policy name: "keep" or "clamp".
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "keep":
		return KeepOutside, nil
	case "clamp":
		return ClampOutside, nil
	}
	return KeepOutside, fmt.Errorf(
		"Unrecognized outside-hull policy '%s'. Accepted policies are "+
			"'keep' and 'clamp'.", name,
	)
}
