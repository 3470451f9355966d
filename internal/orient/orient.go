// Package orient rotates and mirrors decoded RGB frames.
//
// Every supported combination of orientation and flip reduces to a Plan:
// an optional transpose followed by optional horizontal and vertical
// mirrors. The table follows the camera sensor conventions the capture
// path was calibrated against:
//
//	orientation  flip=false        flip=true
//	0            copy              mirror X
//	90           transpose, X      transpose
//	180          X and Y           mirror Y
//	270          transpose, Y      transpose, X and Y
package orient

import (
	"errors"
	"fmt"
)

// ErrInvalidOrientation is returned for angles outside {0, 90, 180, 270, 360}.
var ErrInvalidOrientation = errors.New("invalid orientation")

// Orientation is a clockwise sensor rotation in degrees.
type Orientation int

const (
	Deg0   Orientation = 0
	Deg90  Orientation = 90
	Deg180 Orientation = 180
	Deg270 Orientation = 270
)

// Parse maps an angle in degrees to an Orientation. 360 is treated as 0.
func Parse(deg int) (Orientation, error) {
	switch deg {
	case 0, 360:
		return Deg0, nil
	case 90:
		return Deg90, nil
	case 180:
		return Deg180, nil
	case 270:
		return Deg270, nil
	}
	return 0, fmt.Errorf("orient: %d degrees: %w", deg, ErrInvalidOrientation)
}

// Swapped reports whether the orientation exchanges width and height.
func (o Orientation) Swapped() bool {
	return o == Deg90 || o == Deg270
}

// Plan describes one output pass. Mirrors apply in output coordinates,
// after the transpose.
type Plan struct {
	Transpose bool
	FlipX     bool
	FlipY     bool
}

// Identity reports whether the plan is a plain copy.
func (p Plan) Identity() bool {
	return !p.Transpose && !p.FlipX && !p.FlipY
}

func (p Plan) String() string {
	s := ""
	if p.Transpose {
		s += "T"
	}
	if p.FlipX {
		s += "X"
	}
	if p.FlipY {
		s += "Y"
	}
	if s == "" {
		return "copy"
	}
	return s
}

// PlanFor returns the plan for an orientation and flip setting.
func PlanFor(o Orientation, flip bool) (Plan, error) {
	switch o {
	case Deg0:
		return Plan{FlipX: flip}, nil
	case Deg90:
		return Plan{Transpose: true, FlipX: !flip}, nil
	case Deg180:
		return Plan{FlipX: !flip, FlipY: true}, nil
	case Deg270:
		return Plan{Transpose: true, FlipX: flip, FlipY: true}, nil
	}
	return Plan{}, fmt.Errorf("orient: %d degrees: %w", int(o), ErrInvalidOrientation)
}
