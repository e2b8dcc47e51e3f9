package detent

import (
	"context"
	"math"
	"sync"

	"github.com/w1xm/detent_knob/actuator"
)

// fakeActuator reports pos on every command. With step set, each command
// moves pos toward the commanded stop position by at most step.
type fakeActuator struct {
	mu       sync.Mutex
	pos      float64
	step     float64
	failAt   int
	err      error
	stops    int
	commands []actuator.Command
}

func (f *fakeActuator) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeActuator) SetPosition(ctx context.Context, cmd actuator.Command) (actuator.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.err != nil && len(f.commands) >= f.failAt {
		return actuator.State{}, f.err
	}
	if f.step > 0 && actuator.IsSet(cmd.StopPosition) {
		delta := cmd.StopPosition - f.pos
		if math.Abs(delta) > f.step {
			delta = math.Copysign(f.step, delta)
		}
		f.pos += delta
	}
	return actuator.State{Mode: actuator.ModePosition, Position: f.pos}, nil
}

func (f *fakeActuator) setPos(pos float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

func (f *fakeActuator) last() actuator.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

type fakeSource struct {
	msgs []Message
}

func (s *fakeSource) TryReceive() (Message, bool) {
	if len(s.msgs) == 0 {
		return Message{}, false
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, true
}

type fakeSink struct {
	snapshots []Snapshot
}

func (s *fakeSink) Put(v Snapshot) {
	s.snapshots = append(s.snapshots, v)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleTime = 0
	cfg.ZeroTimeout = 100 * cfg.Period
	cfg.TransitTimeout = 100 * cfg.Period
	return cfg
}

func intp(v int) *int {
	return &v
}
