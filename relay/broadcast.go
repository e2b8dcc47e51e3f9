package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/w1xm/detent_knob/detent"
)

// StateMessage is the outbound wire envelope.
type StateMessage struct {
	Type  string          `json:"type"`
	State detent.Snapshot `json:"state"`
}

func EncodeState(s detent.Snapshot) ([]byte, error) {
	return json.Marshal(StateMessage{Type: detent.TypeState, State: s})
}

// Broadcaster is the sole consumer of the state queue. It sends every
// snapshot to every registered listener.
type Broadcaster struct {
	states   *Queue[detent.Snapshot]
	registry *Registry

	mu   sync.Mutex
	last detent.Snapshot
}

func NewBroadcaster(states *Queue[detent.Snapshot], registry *Registry) *Broadcaster {
	return &Broadcaster{states: states, registry: registry}
}

// Last returns the most recent position merged with the most recent detent
// count. ok is false until a snapshot carrying the detent count has been
// broadcast.
func (b *Broadcaster) Last() (s detent.Snapshot, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.last.Detents != nil
}

func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		state, err := b.states.Receive(ctx)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.last = detent.Merge(b.last, state)
		b.mu.Unlock()
		b.broadcast(state)
	}
}

func (b *Broadcaster) broadcast(state detent.Snapshot) {
	data, err := EncodeState(state)
	if err != nil {
		log.Print(err)
		return
	}
	log.Printf("S > %s", data)
	listeners := b.registry.Listeners()
	if len(listeners) == 0 {
		log.Print("send: none connected")
		return
	}
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l Listener) {
			defer wg.Done()
			if err := l.Send(data); err != nil {
				log.Printf("sending to %v: %v", l, err)
				if b.registry.Remove(l) {
					l.Close()
				}
			}
		}(l)
	}
	wg.Wait()
}
