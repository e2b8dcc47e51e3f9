// Package actuator defines the contract between the detent controller and
// the motor driving the knob.
package actuator

import (
	"context"
	"math"
)

// Actuator is a single rotary actuator. Implementations must serialise
// calls; at most one command is outstanding at a time.
type Actuator interface {
	// Stop clears any commanded state and lets the rotor coast.
	Stop(ctx context.Context) error
	// SetPosition issues a position-mode command and returns the telemetry
	// sampled in reply to it.
	SetPosition(ctx context.Context, cmd Command) (State, error)
}

// Command is a position-mode command. NaN fields are unset and are not sent
// to the device, except Position, for which NaN means "no hard setpoint".
type Command struct {
	// Position and StopPosition are in revolutions. An unset Position with a
	// StopPosition holds toward StopPosition at Velocity.
	Position     float64
	StopPosition float64
	// Velocity is in revolutions/second.
	Velocity float64
	// MaxTorque and FeedforwardTorque are in Nm.
	MaxTorque         float64
	FeedforwardTorque float64
	KpScale           float64
	KdScale           float64
}

// NewCommand returns a command with every field unset.
func NewCommand() Command {
	nan := math.NaN()
	return Command{
		Position:          nan,
		StopPosition:      nan,
		Velocity:          nan,
		MaxTorque:         nan,
		FeedforwardTorque: nan,
		KpScale:           nan,
		KdScale:           nan,
	}
}

// Query returns a command that only samples telemetry.
func Query() Command {
	return NewCommand()
}

type Mode int8

const (
	ModeStopped  Mode = 0
	ModeFault    Mode = 1
	ModePosition Mode = 10
)

func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "STOPPED"
	case ModeFault:
		return "FAULT"
	case ModePosition:
		return "POSITION"
	}
	return "UNKNOWN"
}

// State is the telemetry returned with each command.
type State struct {
	Mode Mode
	// Position is in revolutions.
	Position float64
	// Velocity is in revolutions/second.
	Velocity float64
	// Torque is in Nm.
	Torque float64
	Fault  int8
}

// Valid reports whether the sampled position is a finite number.
func (s State) Valid() bool {
	return !math.IsNaN(s.Position) && !math.IsInf(s.Position, 0)
}

// IsSet reports whether v carries a value.
func IsSet(v float64) bool {
	return !math.IsNaN(v)
}
