package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// bench tool served on the lab network
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// WSHub fans state messages out to every connected browser. A client whose
// write fails is dropped.
type WSHub struct {
	mu       sync.RWMutex
	clients  map[*WSClient]struct{}
	onChange func(n int)
}

func NewWSHub(onChange func(n int)) *WSHub {
	return &WSHub{clients: make(map[*WSClient]struct{}), onChange: onChange}
}

func (h *WSHub) Add(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.changed(n)
	return c
}

func (h *WSHub) Remove(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		h.changed(n)
	}
}

func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) Broadcast(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	var failed []*WSClient
	for c := range h.clients {
		if err := c.write(b); err != nil {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range failed {
		h.Remove(c)
	}
}

func (h *WSHub) changed(n int) {
	if h.onChange != nil {
		h.onChange(n)
	}
}

// serve upgrades the request and keeps reading until the browser goes away.
// The hello message carries the current snapshot.
func (h *WSHub) serve(w http.ResponseWriter, r *http.Request, hello WSMessage) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := h.Add(conn)
	if b, err := json.Marshal(hello); err == nil {
		_ = client.write(b)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Remove(client)
			return
		}
	}
}
