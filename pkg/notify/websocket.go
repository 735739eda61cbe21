package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbehnke/atcvoice-go/pkg/dto"
	"github.com/dbehnke/atcvoice-go/pkg/log"
	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

const wsWriteTimeout = 5 * time.Second

// stateMessage is sent to a client when it connects
type stateMessage struct {
	Type              string                    `json:"type"`
	Frequencies       []radio.FrequencySnapshot `json:"frequencies"`
	Transceivers      []dto.Transceiver         `json:"transceivers,omitempty"`
	CrossCoupleGroups []dto.CrossCoupleGroup    `json:"crossCoupleGroups,omitempty"`
}

// RegistrationFunc returns the transceivers and cross-couple groups the
// client currently registers
type RegistrationFunc func() ([]dto.Transceiver, []dto.CrossCoupleGroup)

// Hub broadcasts radio events to WebSocket clients as JSON
type Hub struct {
	log      *log.Logger
	queue    *queue
	upgrader websocket.Upgrader
	snapshot func() []radio.FrequencySnapshot
	register RegistrationFunc

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex
}

// NewHub creates a hub. When snapshot is set each new client first
// receives the current frequency state.
func NewHub(lg *log.Logger, queueSize int, snapshot func() []radio.FrequencySnapshot) *Hub {
	return &Hub{
		log:      lg.With("component", "websocket"),
		queue:    newQueue(queueSize),
		snapshot: snapshot,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetRegistration adds the registered transceivers to the state sent on
// connect. It must be called before the hub serves clients.
func (h *Hub) SetRegistration(fn RegistrationFunc) {
	h.register = fn
}

// OnRadioEvent queues ev for broadcast
func (h *Hub) OnRadioEvent(ev radio.Event) {
	h.queue.push(NewMessage(ev, time.Now()))
}

// Dropped returns how many events overflowed the queue
func (h *Hub) Dropped() uint64 {
	return h.queue.Dropped()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	writeMu := &sync.Mutex{}
	if h.snapshot != nil {
		msg := stateMessage{Type: "state", Frequencies: h.snapshot()}
		if h.register != nil {
			msg.Transceivers, msg.CrossCoupleGroups = h.register()
		}
		if err := h.write(conn, writeMu, msg); err != nil {
			h.log.Debug("failed to send state", "error", err, "remote", r.RemoteAddr)
			conn.Close()
			return
		}
	}

	h.clientsMu.Lock()
	h.clients[conn] = writeMu
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.log.Info("websocket client connected", "remote", r.RemoteAddr, "clients", n)

	// Clients only listen; reading detects the close
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) write(conn *websocket.Conn, writeMu *sync.Mutex, v any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.clientsMu.Unlock()
	if ok {
		conn.Close()
		h.log.Info("websocket client disconnected", "clients", n)
	}
}

// broadcast sends msg to every client, dropping those that fail
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Errorf("failed to marshal event: %v", err)
		return
	}

	// Copy the client list so slow writes do not hold the lock
	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	locks := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mu := range h.clients {
		conns = append(conns, conn)
		locks = append(locks, mu)
	}
	h.clientsMu.RUnlock()

	for i, conn := range conns {
		locks[i].Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		locks[i].Unlock()
		if err != nil {
			h.log.Debug("failed to send event", "error", err)
			h.remove(conn)
		}
	}
}

// Run broadcasts queued events until ctx is done, then closes every
// client
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		h.clientsMu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		clear(h.clients)
		h.clientsMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-h.queue.ch:
			h.broadcast(msg)
		}
	}
}
