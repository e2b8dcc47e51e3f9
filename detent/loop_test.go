package detent

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/detent_knob/actuator"
)

func startedLoop(t *testing.T, act *fakeActuator, msgs ...Message) (*Loop, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	l := NewLoop(act, testConfig(), &fakeSource{msgs: msgs}, sink)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return l, sink
}

func step(t *testing.T, l *Loop) {
	t.Helper()
	if err := l.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func TestSnapPublishesState(t *testing.T) {
	act := &fakeActuator{}
	l, sink := startedLoop(t, act)

	act.setPos(0.08)
	step(t, l)
	if len(sink.snapshots) != 0 {
		t.Fatalf("published %+v before the knob was observed to move", sink.snapshots)
	}
	step(t, l)
	if diff := cmp.Diff(sink.snapshots, []Snapshot{{Pos: 1}}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
	if a := l.Anchor(); a.Pos != 0.125 || a.Index() != 1 {
		t.Errorf("anchor = %+v, want 0.125", a)
	}
	if got := act.last().StopPosition; got != 0.125 {
		t.Errorf("commanded stop position %v, want 0.125", got)
	}
}

func TestCommand(t *testing.T) {
	act := &fakeActuator{}
	l, _ := startedLoop(t, act)
	step(t, l)
	got := act.last()
	if actuator.IsSet(got.Position) {
		t.Errorf("position = %v, want unset", got.Position)
	}
	want := actuator.Command{
		Position:          got.Position,
		StopPosition:      0,
		Velocity:          2,
		MaxTorque:         0.04,
		FeedforwardTorque: 0,
		KpScale:           1,
		KdScale:           0.25,
	}
	if diff := cmp.Diff(got, want, cmp.Comparer(func(a, b float64) bool {
		return a == b || (math.IsNaN(a) && math.IsNaN(b))
	})); diff != "" {
		t.Errorf("unexpected command: got(-)/want(+):\n%s", diff)
	}
}

func TestSetDetentsRescales(t *testing.T) {
	act := &fakeActuator{}
	l, sink := startedLoop(t, act)
	l.anchor.Pos = 0.125
	act.setPos(0.16)
	l.curPos = 0.16

	l.settings = &fakeSource{msgs: []Message{SetDetents(12)}}
	step(t, l)
	if a := l.Anchor(); math.Abs(a.Pos-2.0/12) > 1e-12 || a.Index() != 2 || a.Detents != 12 {
		t.Errorf("anchor = %+v, want 2/12 of 12", a)
	}
	if diff := cmp.Diff(sink.snapshots, []Snapshot{{Pos: 2, Detents: intp(12)}}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
}

func TestGetStateBeforeSetState(t *testing.T) {
	act := &fakeActuator{pos: 0.003}
	l, sink := startedLoop(t, act, GetState(), GetState(), GetState())
	before := l.Anchor()
	if before.Pos != 0.003 || before.Detents != DefaultDetents {
		t.Fatalf("anchor seeded at %+v, want 0.003 with %d detents", before, DefaultDetents)
	}
	for i := 0; i < 3; i++ {
		step(t, l)
	}
	if diff := cmp.Diff(l.Anchor(), before); diff != "" {
		t.Errorf("get_state changed anchor: got(-)/want(+):\n%s", diff)
	}
	want := Snapshot{Pos: 0, Detents: intp(DefaultDetents)}
	if diff := cmp.Diff(sink.snapshots, []Snapshot{want, want, want}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
}

func TestSetPosTransits(t *testing.T) {
	act := &fakeActuator{step: 0.1}
	l, sink := startedLoop(t, act, SetPos(3))
	start := len(act.commands)
	step(t, l)

	if a := l.Anchor(); a.Pos != 0.375 {
		t.Errorf("anchor = %v, want 0.375", a.Pos)
	}
	if diff := cmp.Diff(sink.snapshots, []Snapshot{{Pos: 3}}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
	transit := act.commands[start : len(act.commands)-1]
	if len(transit) != 4 {
		t.Fatalf("got %d transit commands, want 4", len(transit))
	}
	for _, cmd := range transit {
		if cmd.Velocity != 1 || cmd.StopPosition != 0.375 {
			t.Errorf("transit command %+v, want velocity 1 toward 0.375", cmd)
		}
	}
	if got := act.last().Velocity; got != 2 {
		t.Errorf("tracking velocity = %v after transit, want 2", got)
	}
}

func TestSetPosTransitTimeout(t *testing.T) {
	act := &fakeActuator{}
	l, sink := startedLoop(t, act, SetPos(1))
	l.cfg.TransitTimeout = 5 * time.Millisecond
	step(t, l)
	// The knob never moved, so tracking snaps the anchor back toward it.
	if diff := cmp.Diff(sink.snapshots, []Snapshot{{Pos: 1}, {Pos: 0}}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
}

func TestSetDetentsAndPos(t *testing.T) {
	act := &fakeActuator{step: 1}
	msg := Message{Type: TypeSetState, State: &StateFields{Detents: intp(DefaultDetents), Pos: intp(3)}}
	l, sink := startedLoop(t, act, msg)
	step(t, l)
	if a := l.Anchor(); a.Pos != 0.375 || a.Detents != DefaultDetents {
		t.Errorf("anchor = %+v, want 0.375 of %d", a, DefaultDetents)
	}
	if diff := cmp.Diff(sink.snapshots, []Snapshot{{Pos: 3, Detents: intp(DefaultDetents)}}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
}

func TestSetNewDetentsIgnoresPos(t *testing.T) {
	act := &fakeActuator{}
	l, sink := startedLoop(t, act)
	l.anchor.Pos = 0.25
	act.setPos(0.25)
	l.curPos = 0.25

	// A preset change that echoes the index from the old grid.
	msg := Message{Type: TypeSetState, State: &StateFields{Detents: intp(16), Pos: intp(2)}}
	l.settings = &fakeSource{msgs: []Message{msg}}
	before := len(act.commands)
	step(t, l)
	if a := l.Anchor(); a.Pos != 0.25 || a.Index() != 4 || a.Detents != 16 {
		t.Errorf("anchor = %+v, want 0.25 (index 4) of 16", a)
	}
	if diff := cmp.Diff(sink.snapshots, []Snapshot{{Pos: 4, Detents: intp(16)}}); diff != "" {
		t.Errorf("unexpected snapshots: got(-)/want(+):\n%s", diff)
	}
	if n := len(act.commands) - before; n != 1 {
		t.Errorf("sent %d commands, want 1 with no transit", n)
	}
	if got := act.last().StopPosition; got != 0.25 {
		t.Errorf("commanded stop position %v, want 0.25", got)
	}
}

func TestIgnoredMessages(t *testing.T) {
	for _, msg := range []Message{
		{Type: "bogus"},
		{Type: TypeSetState},
		{Type: TypeSetState, State: &StateFields{}},
		SetDetents(0),
		{Type: TypeSetState, State: &StateFields{Detents: intp(-1), Pos: intp(2)}},
	} {
		act := &fakeActuator{}
		l, sink := startedLoop(t, act, msg)
		before := l.Anchor()
		step(t, l)
		if len(sink.snapshots) != 0 {
			t.Errorf("%+v: published %+v", msg, sink.snapshots)
		}
		if diff := cmp.Diff(l.Anchor(), before); diff != "" {
			t.Errorf("%+v changed anchor: got(-)/want(+):\n%s", msg, diff)
		}
	}
}

func TestIndexStaysInRange(t *testing.T) {
	act := &fakeActuator{}
	l, sink := startedLoop(t, act)
	// Turn the knob backwards through two revolutions.
	for pos := 0.0; pos > -2; pos -= 0.01 {
		act.setPos(pos)
		step(t, l)
	}
	if len(sink.snapshots) < 15 {
		t.Fatalf("got %d snaps, want at least 15", len(sink.snapshots))
	}
	for _, s := range sink.snapshots {
		if s.Pos < 0 || s.Pos >= DefaultDetents {
			t.Errorf("published pos %d out of range", s.Pos)
		}
	}
}

func TestRunStopsOnError(t *testing.T) {
	errBus := errors.New("bus off")
	act := &fakeActuator{err: errBus, failAt: 5}
	l := NewLoop(act, testConfig(), &fakeSource{}, &fakeSink{})
	err := l.Run(context.Background())
	if !errors.Is(err, errBus) {
		t.Fatalf("Run: got %v, want %v", err, errBus)
	}
	// One stop during initialization, one on the way out.
	if act.stops != 2 {
		t.Errorf("stopped %d times, want 2", act.stops)
	}
}

func TestRunStopsOnInvalidState(t *testing.T) {
	act := &fakeActuator{}
	l := NewLoop(act, testConfig(), &fakeSource{}, &fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	act.setPos(math.NaN())

	select {
	case err := <-done:
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("Run: got %v, want ErrInvalidState", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	act.mu.Lock()
	defer act.mu.Unlock()
	if act.stops != 2 {
		t.Errorf("stopped %d times, want 2", act.stops)
	}
}

func TestRunCanceled(t *testing.T) {
	act := &fakeActuator{}
	l := NewLoop(act, testConfig(), &fakeSource{}, &fakeSink{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run: got %v, want DeadlineExceeded", err)
	}
	if act.stops != 2 {
		t.Errorf("stopped %d times, want 2", act.stops)
	}
}
