// Package detent simulates mechanical detents on a continuously rotating
// knob by tracking a commanded anchor and snapping it between equally
// spaced positions.
package detent

import (
	"errors"
	"math"
)

var ErrInvalidDetents = errors.New("detent count must be at least 1")

// Anchor is the continuously tracked detent target.
type Anchor struct {
	// Detents is the number of equally spaced positions per revolution.
	Detents int
	// Pos is the commanded position in revolutions.
	Pos float64
}

func NewAnchor(pos float64, detents int) Anchor {
	return Anchor{Detents: detents, Pos: pos}
}

// Size returns the width of one detent in revolutions.
func (a Anchor) Size() float64 {
	return 1 / float64(a.Detents)
}

// Index returns the anchor as a detent number in [0, Detents).
func (a Anchor) Index() int {
	n := int(math.RoundToEven(a.Pos*float64(a.Detents))) % a.Detents
	if n < 0 {
		n += a.Detents
	}
	return n
}

// SetDetents changes the detent count, moving the anchor to the nearest
// position on the new grid.
func (a *Anchor) SetDetents(n int) error {
	if n < 1 {
		return ErrInvalidDetents
	}
	a.Pos = math.RoundToEven(a.Pos*float64(n)) / float64(n)
	a.Detents = n
	return nil
}

// SetIndex moves the anchor to detent p of the first revolution.
func (a *Anchor) SetIndex(p int) {
	a.Pos = float64(p) / float64(a.Detents)
}

// Displacement returns how far pos is from the anchor, in detent widths.
func (a Anchor) Displacement(pos float64) float64 {
	return math.Abs(pos-a.Pos) / a.Size()
}

// Track releases the anchor to the adjacent detent once pos is displaced by
// more than threshold detent widths. It returns the displacement from the
// resulting anchor and whether a snap happened.
func (a *Anchor) Track(pos, threshold float64) (float64, bool) {
	moved := a.Displacement(pos)
	if moved <= threshold {
		return moved, false
	}
	if pos > a.Pos {
		a.Pos += a.Size()
	} else {
		a.Pos -= a.Size()
	}
	return 1 - moved, true
}

// Snapshot returns the outbound state of the anchor.
func (a Anchor) Snapshot(withDetents bool) Snapshot {
	s := Snapshot{Pos: a.Index()}
	if withDetents {
		d := a.Detents
		s.Detents = &d
	}
	return s
}
