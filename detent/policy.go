package detent

// Gains are multipliers applied to the base torque ceiling and gain scales.
type Gains struct {
	Torque, Kp, Kd float64
}

var UnitGains = Gains{Torque: 1, Kp: 1, Kd: 1}

// ScalingPolicy softens the restoring force as the knob is displaced from
// its anchor.
type ScalingPolicy interface {
	// Scale returns the gains to use at the given displacement, in detent
	// widths from the anchor.
	Scale(moved float64) Gains
}

// FullGain applies the base gains everywhere.
type FullGain struct{}

func (FullGain) Scale(float64) Gains {
	return UnitGains
}

// Falloff linearly moves each multiplier from 1 at Start to its configured
// value at End, holding it constant outside that range.
type Falloff struct {
	Start  float64 `yaml:"start"`
	End    float64 `yaml:"end"`
	Torque float64 `yaml:"torque"`
	Kp     float64 `yaml:"kp"`
	Kd     float64 `yaml:"kd"`
}

func (f Falloff) Scale(moved float64) Gains {
	return Gains{
		Torque: Fit(moved, f.Start, f.End, 1, f.Torque),
		Kp:     Fit(moved, f.Start, f.End, 1, f.Kp),
		Kd:     Fit(moved, f.Start, f.End, 1, f.Kd),
	}
}

// Fit maps v from [fromMin, fromMax] onto [toMin, toMax], clamping at
// the ends.
func Fit(v, fromMin, fromMax, toMin, toMax float64) float64 {
	if v < fromMin {
		return toMin
	}
	if v > fromMax {
		return toMax
	}
	return (toMax-toMin)*(v-fromMin)/(fromMax-fromMin) + toMin
}
