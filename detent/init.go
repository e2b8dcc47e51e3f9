package detent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/w1xm/detent_knob/actuator"
)

var (
	ErrInvalidState = errors.New("invalid actuator state")
	ErrZeroTimeout  = errors.New("timed out moving to zero")
)

// Initializer brings the actuator to a known state before the control loop
// takes over.
type Initializer struct {
	act actuator.Actuator
	cfg Config
}

func NewInitializer(act actuator.Actuator, cfg Config) *Initializer {
	return &Initializer{act: act, cfg: cfg}
}

// Run stops the actuator, drives it to zero, lets it settle and returns the
// resulting state.
func (i *Initializer) Run(ctx context.Context) (actuator.State, error) {
	if err := i.Stop(ctx); err != nil {
		return actuator.State{}, err
	}
	if _, err := i.Zero(ctx); err != nil {
		return actuator.State{}, err
	}
	if i.cfg.SettleTime > 0 {
		if _, err := i.Settle(ctx, i.cfg.SettleTime); err != nil {
			return actuator.State{}, err
		}
	}
	return i.Query(ctx)
}

func (i *Initializer) Stop(ctx context.Context) error {
	if err := i.act.Stop(ctx); err != nil {
		return fmt.Errorf("stopping actuator: %w", err)
	}
	return nil
}

// Query samples the actuator without a position setpoint.
func (i *Initializer) Query(ctx context.Context) (actuator.State, error) {
	return sample(ctx, i.act, actuator.Query())
}

// Zero drives the actuator to position 0 at the initialization velocity.
func (i *Initializer) Zero(ctx context.Context) (actuator.State, error) {
	state, err := i.Query(ctx)
	if err != nil {
		return state, err
	}
	start := time.Now()
	for math.Abs(state.Position) >= i.cfg.PositionTolerance {
		if i.cfg.ZeroTimeout > 0 && time.Since(start) > i.cfg.ZeroTimeout {
			return state, fmt.Errorf("at %.4f: %w", state.Position, ErrZeroTimeout)
		}
		cmd := actuator.NewCommand()
		cmd.StopPosition = 0
		cmd.Velocity = i.cfg.InitVelocity
		if state, err = sample(ctx, i.act, cmd); err != nil {
			return state, err
		}
		if err := wait(ctx, i.cfg.Period); err != nil {
			return state, err
		}
	}
	log.Printf("zeroed at %.4f", state.Position)
	return state, nil
}

// Settle holds the current position under the torque ceiling for d.
func (i *Initializer) Settle(ctx context.Context, d time.Duration) (actuator.State, error) {
	var state actuator.State
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		cmd := actuator.NewCommand()
		cmd.MaxTorque = i.cfg.MaxTorque
		var err error
		if state, err = sample(ctx, i.act, cmd); err != nil {
			return state, err
		}
		if err := wait(ctx, i.cfg.Period); err != nil {
			return state, err
		}
	}
	return state, nil
}

func sample(ctx context.Context, act actuator.Actuator, cmd actuator.Command) (actuator.State, error) {
	state, err := act.SetPosition(ctx, cmd)
	if err != nil {
		return state, fmt.Errorf("commanding actuator: %w", err)
	}
	if !state.Valid() {
		return state, fmt.Errorf("position %v: %w", state.Position, ErrInvalidState)
	}
	return state, nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
