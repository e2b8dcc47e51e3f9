// Package simulator emulates a moteus controller and an fdcanusb adapter on
// one end of a net.Pipe, driving a simulated knob with inertia and friction.
package simulator

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/w1xm/detent_knob/actuator"
	"github.com/w1xm/detent_knob/moteus"
	"github.com/w1xm/detent_knob/moteus/internal/mp"
	"golang.org/x/sync/errgroup"
)

// Simulator emulates a moteus controller with a knob attached, behind the
// fdcanusb line protocol.
type Simulator struct {
	conn io.ReadWriteCloser
	id   int

	mu   sync.Mutex
	mode actuator.Mode
	cmd  actuator.Command
	// ctrlPos and ctrlVel are the controller's internal trajectory.
	ctrlPos, ctrlVel float64
	pos, vel, torque float64
	external         float64
}

const (
	// Proportional gain in Nm/rev
	kp = 4.0
	// Derivative gain in Nm/(rev/s)
	kd = 0.1
	// Rotor and knob inertia in Nm/(rev/s^2)
	inertia = 0.001
	// Viscous friction in Nm/(rev/s)
	friction = 0.002
	// Torque the motor can produce at all
	torqueLimit = 1.0
	// Discrete simulation step size
	stepSize = time.Millisecond
)

// New returns a simulator answering to the given CAN id and the connection
// a moteus.Controller should use to talk to it.
func New(id int) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{conn: a, id: id, cmd: defaultCommand()}, b
}

func defaultCommand() actuator.Command {
	cmd := actuator.NewCommand()
	cmd.Velocity = 0
	cmd.FeedforwardTorque = 0
	cmd.KpScale = 1
	cmd.KdScale = 1
	return cmd
}

// SetExternalTorque applies a torque to the knob, as a hand would.
func (s *Simulator) SetExternalTorque(torque float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.external = torque
}

// SetRotorPosition moves the knob instantly and brings it to rest.
func (s *Simulator) SetRotorPosition(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	s.vel = 0
}

func (s *Simulator) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Simulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		t := time.NewTicker(stepSize)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.mu.Lock()
			s.step(stepSize.Seconds())
			s.mu.Unlock()
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if err := s.handleLine(input); err != nil {
			log.Printf("handling %q: %v", input, err)
			if err := s.send("ERR %v", err); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

func (s *Simulator) handleLine(input string) error {
	fields := strings.Fields(input)
	if len(fields) < 4 || fields[0] != "can" || fields[1] != "send" {
		return fmt.Errorf("unrecognized command %q", input)
	}
	arb, err := strconv.ParseUint(fields[2], 16, 32)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(fields[3])
	if err != nil {
		return err
	}
	subframes, err := mp.Parse(data)
	if err != nil {
		return err
	}
	dest, source := int(arb&0x7f), int(arb>>8&0x7f)
	if dest != s.id {
		return s.send("OK")
	}

	s.mu.Lock()
	s.apply(subframes)
	reply := s.reply(subframes)
	s.mu.Unlock()

	if err := s.send("OK"); err != nil {
		return err
	}
	if arb&0x8000 == 0 {
		return nil
	}
	return s.send("rcv %04x %s", s.id<<8|source, hex.EncodeToString(reply.Bytes()))
}

// apply latches written registers. Writing the mode resets every command
// register to its default before the rest of the frame is applied.
func (s *Simulator) apply(subframes []mp.Subframe) {
	regs := mp.Registers(writes(subframes))
	if mode, ok := regs[moteus.RegMode]; ok {
		newMode := actuator.Mode(mode)
		if newMode == actuator.ModePosition && s.mode != actuator.ModePosition {
			s.ctrlPos = s.pos
			s.ctrlVel = 0
		}
		s.mode = newMode
		s.cmd = defaultCommand()
	}
	for reg, dest := range map[mp.Register]*float64{
		moteus.RegCommandPosition:     &s.cmd.Position,
		moteus.RegCommandVelocity:     &s.cmd.Velocity,
		moteus.RegCommandFeedforward:  &s.cmd.FeedforwardTorque,
		moteus.RegCommandKpScale:      &s.cmd.KpScale,
		moteus.RegCommandKdScale:      &s.cmd.KdScale,
		moteus.RegCommandMaxTorque:    &s.cmd.MaxTorque,
		moteus.RegCommandStopPosition: &s.cmd.StopPosition,
	} {
		if v, ok := regs[reg]; ok {
			*dest = v
		}
	}
}

func writes(subframes []mp.Subframe) []mp.Subframe {
	var out []mp.Subframe
	for _, sf := range subframes {
		if sf.Kind == mp.KindWrite {
			out = append(out, sf)
		}
	}
	return out
}

func (s *Simulator) register(reg mp.Register) float64 {
	switch reg {
	case moteus.RegMode:
		return float64(s.mode)
	case moteus.RegPosition:
		return s.pos
	case moteus.RegVelocity:
		return s.vel
	case moteus.RegTorque:
		return s.torque
	}
	return 0
}

func (s *Simulator) reply(subframes []mp.Subframe) *mp.Frame {
	var f mp.Frame
	for _, sf := range subframes {
		if sf.Kind != mp.KindRead {
			continue
		}
		values := make([]float64, sf.Count)
		for i := range values {
			values[i] = s.register(sf.Start + mp.Register(i))
		}
		f.Reply(sf.Type, sf.Start, values...)
	}
	return &f
}

// trajectory advances the controller setpoint by dt.
func (s *Simulator) trajectory(dt float64) {
	vel := s.cmd.Velocity
	if !actuator.IsSet(vel) {
		vel = 0
	}
	switch {
	case actuator.IsSet(s.cmd.Position):
		s.ctrlPos = s.cmd.Position
		s.ctrlVel = vel
	case actuator.IsSet(s.cmd.StopPosition):
		delta := s.cmd.StopPosition - s.ctrlPos
		move := math.Abs(vel) * dt
		if math.Abs(delta) <= move {
			s.ctrlPos = s.cmd.StopPosition
			s.ctrlVel = 0
		} else {
			s.ctrlPos += math.Copysign(move, delta)
			s.ctrlVel = math.Copysign(math.Abs(vel), delta)
		}
	default:
		s.ctrlPos += vel * dt
		s.ctrlVel = vel
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// step must be called with s.mu held.
func (s *Simulator) step(dt float64) {
	s.torque = 0
	if s.mode == actuator.ModePosition {
		s.trajectory(dt)
		torque := kp*s.cmd.KpScale*(s.ctrlPos-s.pos) +
			kd*s.cmd.KdScale*(s.ctrlVel-s.vel) +
			s.cmd.FeedforwardTorque
		limit := torqueLimit
		if actuator.IsSet(s.cmd.MaxTorque) {
			limit = math.Min(limit, s.cmd.MaxTorque)
		}
		s.torque = clamp(torque, limit)
	}
	accel := (s.torque + s.external - friction*s.vel) / inertia
	s.vel += accel * dt
	s.pos += s.vel * dt
}

func (s *Simulator) send(cmd string, fields ...interface{}) error {
	if len(fields) > 0 {
		cmd = fmt.Sprintf(cmd, fields...)
	}
	_, err := fmt.Fprintf(s.conn, "%s\n", cmd)
	return err
}
