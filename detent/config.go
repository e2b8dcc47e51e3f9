package detent

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultDetents = 8
	// DefaultPeriod must stay well under 10ms to feel responsive by hand.
	DefaultPeriod = time.Millisecond
	MaxPeriod     = 10 * time.Millisecond
)

// Config holds the tuning of the detent controller.
type Config struct {
	Detents int           `yaml:"detents"`
	Period  time.Duration `yaml:"period"`

	// Velocity limits how fast the anchor is chased, in rev/s.
	Velocity float64 `yaml:"velocity"`
	// MaxTorque is the base torque ceiling in Nm.
	MaxTorque         float64 `yaml:"max_torque"`
	FeedforwardTorque float64 `yaml:"feedforward_torque"`
	KpScale           float64 `yaml:"kp_scale"`
	KdScale           float64 `yaml:"kd_scale"`

	// InitVelocity is used to reach zero at startup.
	InitVelocity float64 `yaml:"init_velocity"`
	// TransitVelocity is used when a client sets the position directly.
	TransitVelocity   float64       `yaml:"transit_velocity"`
	PositionTolerance float64       `yaml:"position_tolerance"`
	SettleTime        time.Duration `yaml:"settle_time"`
	// ZeroTimeout and TransitTimeout bound the startup and transit moves.
	// Zero disables the bound.
	ZeroTimeout    time.Duration `yaml:"zero_timeout"`
	TransitTimeout time.Duration `yaml:"transit_timeout"`

	// SnapThreshold is the displacement, in detent widths, at which the
	// anchor releases to the adjacent detent.
	SnapThreshold float64 `yaml:"snap_threshold"`
	// Falloff softens the restoring force before a snap. Nil applies full
	// gain at every displacement.
	Falloff *Falloff `yaml:"falloff,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Detents:           DefaultDetents,
		Period:            DefaultPeriod,
		Velocity:          2.0,
		MaxTorque:         0.04,
		FeedforwardTorque: 0,
		KpScale:           1.0,
		KdScale:           0.25,
		InitVelocity:      1.0,
		TransitVelocity:   1.0,
		PositionTolerance: 0.01,
		SettleTime:        500 * time.Millisecond,
		ZeroTimeout:       10 * time.Second,
		TransitTimeout:    2 * time.Second,
		SnapThreshold:     0.5,
	}
}

// DefaultFalloff is the falloff zone used when one is enabled without
// further settings.
func DefaultFalloff() *Falloff {
	return &Falloff{Start: 0.2, End: 0.5, Torque: 1, Kp: 1, Kd: 1}
}

// Policy returns the scaling policy selected by the config.
func (c Config) Policy() ScalingPolicy {
	if c.Falloff == nil {
		return FullGain{}
	}
	return *c.Falloff
}

func (c Config) Validate() error {
	if c.Detents < 1 {
		return ErrInvalidDetents
	}
	if c.Period <= 0 || c.Period >= MaxPeriod {
		return fmt.Errorf("period %v must be in (0, %v)", c.Period, MaxPeriod)
	}
	for name, v := range map[string]float64{
		"velocity":           c.Velocity,
		"max_torque":         c.MaxTorque,
		"init_velocity":      c.InitVelocity,
		"transit_velocity":   c.TransitVelocity,
		"position_tolerance": c.PositionTolerance,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}
	if c.KpScale < 0 || c.KdScale < 0 {
		return errors.New("gain scales must not be negative")
	}
	if c.SnapThreshold <= 0 || c.SnapThreshold >= 1 {
		return fmt.Errorf("snap_threshold %v must be in (0, 1)", c.SnapThreshold)
	}
	if f := c.Falloff; f != nil {
		if f.Start >= f.End {
			return fmt.Errorf("falloff start %v must be below end %v", f.Start, f.End)
		}
		if f.Torque < 0 || f.Kp < 0 || f.Kd < 0 {
			return errors.New("falloff multipliers must not be negative")
		}
	}
	return nil
}
