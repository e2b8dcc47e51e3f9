package detent

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/w1xm/detent_knob/actuator"
)

// stopTimeout bounds the actuator stop issued when the loop exits.
const stopTimeout = time.Second

// SettingsSource is polled once per cycle and must never block.
type SettingsSource interface {
	TryReceive() (Message, bool)
}

// StateSink receives outbound snapshots and must never block.
type StateSink interface {
	Put(Snapshot)
}

// Loop is the detent control loop. It owns the actuator once started.
type Loop struct {
	act      actuator.Actuator
	cfg      Config
	policy   ScalingPolicy
	settings SettingsSource
	states   StateSink

	anchor Anchor
	curPos float64
}

func NewLoop(act actuator.Actuator, cfg Config, settings SettingsSource, states StateSink) *Loop {
	return &Loop{
		act:      act,
		cfg:      cfg,
		policy:   cfg.Policy(),
		settings: settings,
		states:   states,
		anchor:   NewAnchor(0, cfg.Detents),
	}
}

// Anchor returns the current anchor. It must not be called concurrently
// with Run.
func (l *Loop) Anchor() Anchor {
	return l.anchor
}

// Run initializes the actuator and cycles until ctx is done or an error
// occurs. The actuator is always stopped before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	if err := l.Start(ctx); err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	t := time.NewTicker(l.cfg.Period)
	defer t.Stop()
	for {
		if err := l.Step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Loop) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	log.Print("Stopping...")
	if err := l.act.Stop(ctx); err != nil {
		log.Printf("stopping actuator: %v", err)
	}
}

// Start runs the initialization sequence and seeds the anchor from the
// settled position.
func (l *Loop) Start(ctx context.Context) error {
	state, err := NewInitializer(l.act, l.cfg).Run(ctx)
	if err != nil {
		return err
	}
	l.curPos = state.Position
	l.anchor = NewAnchor(l.curPos, l.cfg.Detents)
	log.Printf("anchored at %.4f with %d detents", l.anchor.Pos, l.anchor.Detents)
	return nil
}

// Step runs one control cycle.
func (l *Loop) Step(ctx context.Context) error {
	if msg, ok := l.settings.TryReceive(); ok {
		if err := l.handle(ctx, msg); err != nil {
			return err
		}
	}

	moved, snapped := l.anchor.Track(l.curPos, l.cfg.SnapThreshold)
	if snapped {
		log.Printf("r pos = %d", l.anchor.Index())
		l.states.Put(l.anchor.Snapshot(false))
	}
	if math.IsNaN(moved) || math.IsInf(moved, 0) {
		return fmt.Errorf("displacement %v: %w", moved, ErrInvalidState)
	}

	cmd := l.command(l.policy.Scale(moved), l.cfg.Velocity)
	return l.sample(ctx, cmd)
}

func (l *Loop) command(g Gains, velocity float64) actuator.Command {
	cmd := actuator.NewCommand()
	cmd.StopPosition = l.anchor.Pos
	cmd.Velocity = velocity
	cmd.MaxTorque = l.cfg.MaxTorque * g.Torque
	cmd.FeedforwardTorque = l.cfg.FeedforwardTorque
	cmd.KpScale = l.cfg.KpScale * g.Kp
	cmd.KdScale = l.cfg.KdScale * g.Kd
	return cmd
}

func (l *Loop) sample(ctx context.Context, cmd actuator.Command) error {
	state, err := sample(ctx, l.act, cmd)
	if err != nil {
		return err
	}
	l.curPos = state.Position
	return nil
}

func (l *Loop) handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case TypeSetState:
		if msg.State == nil || (msg.State.Detents == nil && msg.State.Pos == nil) {
			log.Printf("empty set_state: %+v", msg)
			return nil
		}
		fields := *msg.State
		// A new detent count rescales the anchor in place. A pos sent with it
		// indexes the old grid, so it is ignored.
		if fields.Detents != nil && *fields.Detents != l.anchor.Detents {
			if err := l.anchor.SetDetents(*fields.Detents); err != nil {
				log.Printf("set_state detents=%d: %v", *fields.Detents, err)
				return nil
			}
			log.Printf("n pos = %d", l.anchor.Index())
			if fields.Pos != nil {
				log.Printf("set_state pos=%d ignored with new detent count", *fields.Pos)
			}
			l.states.Put(l.anchor.Snapshot(true))
			return nil
		}
		if fields.Pos == nil {
			l.states.Put(l.anchor.Snapshot(true))
			return nil
		}
		l.anchor.SetIndex(*fields.Pos)
		log.Printf("p pos = %d", l.anchor.Index())
		l.states.Put(l.anchor.Snapshot(fields.Detents != nil))
		return l.transit(ctx)
	case TypeGetState:
		log.Print("state requested")
		l.states.Put(l.anchor.Snapshot(true))
	default:
		log.Printf("unknown message %+v", msg)
	}
	return nil
}

// transit moves slowly to a newly set anchor before detent tracking
// resumes. Running out of time is not an error; tracking resumes from
// wherever the knob is.
func (l *Loop) transit(ctx context.Context) error {
	start := time.Now()
	for math.Abs(l.curPos-l.anchor.Pos) >= l.cfg.PositionTolerance {
		if l.cfg.TransitTimeout > 0 && time.Since(start) > l.cfg.TransitTimeout {
			log.Printf("transit to %.4f timed out at %.4f", l.anchor.Pos, l.curPos)
			return nil
		}
		if err := l.sample(ctx, l.command(UnitGains, l.cfg.TransitVelocity)); err != nil {
			return err
		}
		if err := wait(ctx, l.cfg.Period); err != nil {
			return err
		}
	}
	return nil
}
