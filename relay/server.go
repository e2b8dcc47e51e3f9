package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/detent_knob/detent"
)

const DefaultWriteTimeout = time.Second

// ErrClosed is returned when sending to a listener that has been closed.
var ErrClosed = errors.New("listener closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts websocket listeners, relaying their messages onto the
// settings queue and registering them for broadcasts.
type Server struct {
	connections int64

	settings    *Queue[detent.Message]
	registry    *Registry
	broadcaster *Broadcaster

	WriteTimeout time.Duration
}

func NewServer(settings *Queue[detent.Message], registry *Registry, broadcaster *Broadcaster) *Server {
	return &Server{
		settings:     settings,
		registry:     registry,
		broadcaster:  broadcaster,
		WriteTimeout: DefaultWriteTimeout,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", http.HandlerFunc(s.SocketHandler))
	r.Handle("/ws", http.HandlerFunc(s.SocketHandler))
	r.Handle("/api/state", http.HandlerFunc(s.StateHandler)).Methods(http.MethodGet)
	return r
}

// StateHandler serves the last complete state, or 503 before the loop has
// published one.
func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
	last, ok := s.broadcaster.Last()
	if !ok {
		http.Error(w, "state not yet known", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	data, err := EncodeState(last)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// SocketHandler serves one listener until its connection fails. A listener
// whose connection fails stays registered until the next broadcast to it
// fails.
func (s *Server) SocketHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	id := atomic.AddInt64(&s.connections, 1)
	c := &conn{
		ws:      ws,
		name:    fmt.Sprintf("%s#%d", r.RemoteAddr, id),
		timeout: s.WriteTimeout,
	}
	log.Printf("++ Started state socket %v", c)
	s.registry.Add(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Printf("reading from %v: %v", c, err)
			c.Close()
			return
		}
		var msg detent.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("R < %s: %v", data, err)
			continue
		}
		log.Printf("R < %s", data)
		s.settings.Put(msg)
	}
}

// conn is a Listener backed by a websocket connection.
type conn struct {
	ws      *websocket.Conn
	name    string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.timeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) String() string {
	return c.name
}
