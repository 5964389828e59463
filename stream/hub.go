// Package stream broadcasts state estimates to WebSocket clients, e.g. a browser dashboard.
package stream

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/hudsonhok/px4-control/logging"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
)

// Hub forwards every broadcast message to all connected clients. Clients which cannot keep up
// miss messages rather than slowing the hub down.
type Hub struct {
	// forward holds the messages to send to every client.
	forward chan []byte
	// join and leave carry the clients connecting and disconnecting.
	join  chan *client
	leave chan *client
	// done is closed when Run returns.
	done chan struct{}

	clients  map[*client]bool
	count    atomic.Int64
	upgrader websocket.Upgrader
	log      logr.Logger
}

// NewHub makes a new hub that is ready to run.
func NewHub(log logr.Logger) *Hub {
	return &Hub{
		forward:  make(chan []byte),
		join:     make(chan *client),
		leave:    make(chan *client),
		done:     make(chan struct{}),
		clients:  make(map[*client]bool),
		upgrader: websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize},
		log:      log,
	}
}

// Run serves joins, leaves and broadcasts until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.count.Store(0)
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			h.log.V(logging.VERBOSE).Info("Stream hub stopped")
			return
		case c := <-h.join:
			h.clients[c] = true
			h.count.Store(int64(len(h.clients)))
			h.log.Info("Stream client joined", "remote", c.socket.RemoteAddr().String())
		case c := <-h.leave:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int64(len(h.clients)))
				h.log.Info("Stream client left", "remote", c.socket.RemoteAddr().String())
			}
		case msg := <-h.forward:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.V(logging.DEBUG).Info("Dropped message for slow stream client", "remote", c.socket.RemoteAddr().String())
				}
			}
		}
	}
}

// Broadcast hands msg to the hub. It returns false if the hub is not running anymore.
func (h *Hub) Broadcast(msg []byte) bool {
	select {
	case h.forward <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// ServeHTTP upgrades the request to a WebSocket and streams messages to it until either side
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Error(err, "Could not upgrade stream connection", "remote", req.RemoteAddr)
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		hub:    h,
	}
	select {
	case h.join <- c:
	case <-h.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case h.leave <- c:
		case <-h.done:
		}
	}()
	go c.write()
	c.read()
}

// client is a single WebSocket connection.
type client struct {
	socket *websocket.Conn
	// send is a channel on which messages are sent.
	send chan []byte
	hub  *Hub
}

// read discards incoming messages and returns when the connection fails or is closed.
func (c *client) read() {
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.log.V(logging.DEBUG).Info("Stream write failed", "error", err.Error())
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
