package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/detent_knob/detent"
	"github.com/w1xm/detent_knob/relay"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type daemon struct {
	settings *relay.Queue[detent.Message]
	states   *relay.Queue[detent.Snapshot]
	registry *relay.Registry
	srv      *httptest.Server
}

func newDaemon(t *testing.T) *daemon {
	t.Helper()
	d := &daemon{
		settings: relay.NewQueue[detent.Message](),
		states:   relay.NewQueue[detent.Snapshot](),
		registry: relay.NewRegistry(),
	}
	b := relay.NewBroadcaster(d.states, d.registry)
	d.srv = httptest.NewServer(relay.NewServer(d.settings, d.registry, b).Router())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		d.registry.CloseAll()
		d.srv.Close()
	})
	return d
}

func (d *daemon) receive(t *testing.T) detent.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := d.settings.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func intp(n int) *int { return &n }

func TestSendsSettings(t *testing.T) {
	d := newDaemon(t)
	c := dial(t, wsURL(d.srv))

	require.NoError(t, c.GetState())
	require.NoError(t, c.SetDetents(16))
	require.NoError(t, c.SetPos(3))
	require.NoError(t, c.SetState(4, 1))

	assert.Equal(t, detent.GetState(), d.receive(t))
	assert.Equal(t, detent.SetDetents(16), d.receive(t))
	assert.Equal(t, detent.SetPos(3), d.receive(t))
	assert.Equal(t, detent.Message{
		Type:  detent.TypeSetState,
		State: &detent.StateFields{Detents: intp(4), Pos: intp(1)},
	}, d.receive(t))
}

func TestNextReceivesBroadcast(t *testing.T) {
	d := newDaemon(t)
	c := dial(t, wsURL(d.srv))
	require.Eventually(t, func() bool { return d.registry.Len() == 1 }, time.Second, time.Millisecond)

	d.states.Put(detent.Snapshot{Pos: 2, Detents: intp(8)})
	d.states.Put(detent.Snapshot{Pos: 3})

	got, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, detent.Snapshot{Pos: 2, Detents: intp(8)}, got)
	got, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, detent.Snapshot{Pos: 3}, got)
}

func TestNextSkipsOtherTypes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"state","state":{"pos":5}}`))
		ws.ReadMessage()
	}))
	defer srv.Close()

	c := dial(t, wsURL(srv))
	got, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, detent.Snapshot{Pos: 5}, got)
}

func TestNextMalformed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		ws.ReadMessage()
	}))
	defer srv.Close()

	c := dial(t, wsURL(srv))
	_, err := c.Next()
	assert.Error(t, err)
}

func TestDialFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, url)
	assert.Error(t, err)
}
