// Package client talks to a detent daemon over its websocket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/w1xm/detent_knob/detent"
	"github.com/w1xm/detent_knob/relay"
)

type Client struct {
	conn *websocket.Conn

	// writes are serialised; reads belong to the caller of Next.
	mu sync.Mutex
}

// Dial connects to the daemon at url, e.g. ws://localhost:8765/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) send(msg detent.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// GetState asks the daemon to publish its full state.
func (c *Client) GetState() error {
	return c.send(detent.GetState())
}

func (c *Client) SetDetents(n int) error {
	return c.send(detent.SetDetents(n))
}

func (c *Client) SetPos(p int) error {
	return c.send(detent.SetPos(p))
}

// SetState sends detents and position in one message.
func (c *Client) SetState(detents, pos int) error {
	return c.send(detent.Message{
		Type:  detent.TypeSetState,
		State: &detent.StateFields{Detents: &detents, Pos: &pos},
	})
}

type envelope struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

// Next blocks until the next state message arrives. Messages of other
// types are skipped.
func (c *Client) Next() (detent.Snapshot, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return detent.Snapshot{}, err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return detent.Snapshot{}, fmt.Errorf("decoding %s: %w", data, err)
		}
		if env.Type != detent.TypeState {
			continue
		}
		var msg relay.StateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return detent.Snapshot{}, fmt.Errorf("decoding %s: %w", data, err)
		}
		return msg.State, nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
