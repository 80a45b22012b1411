// Package ui implements the minimal WebSocket hub the HTTP/UI subsystem
// sits behind: a thin fan-out of bus events, not a full UI backend. Each
// connection is one event-bus listener id; this package only fans out bus
// events as JSON frames and relays nothing back. Built on
// github.com/gorilla/websocket, already part of the stack via
// paho.mqtt.golang's optional ws:// transport.
package ui

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"boneio/internal/bus"
	"boneio/internal/xlog"
)

var log = xlog.New("ui")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the JSON shape pushed to every connected client.
type frame struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	Payload  any    `json:"payload"`
}

// Hub upgrades HTTP connections to WebSocket and relays every bus event to
// every connected client, each as its own listener id so disconnecting one
// client removes only its subscriptions.
type Hub struct {
	bus *bus.Bus

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	nextID  int
}

func NewHub(b *bus.Bus) *Hub {
	return &Hub{bus: b, conns: map[string]*websocket.Conn{}}
}

// ServeHTTP upgrades the connection and subscribes it to every event type
// for every entity (the UI-side filtering happens client-side, matching
// the source's "subscribe to everything, render what you care about").
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.nextID++
	id := "ui-" + itoa(h.nextID)
	h.conns[id] = conn
	h.mu.Unlock()

	for _, evtType := range []bus.EventType{
		bus.EventInput, bus.EventOutput, bus.EventCover, bus.EventSensor, bus.EventModbusDevice, bus.EventHost,
	} {
		et := evtType
		h.bus.AddEventListener(et, "", id, func(evt bus.Event) {
			h.push(id, evt)
		})
	}

	go h.readLoop(id, conn)
}

// readLoop exists only to notice disconnection (the UI never sends
// commands over this channel; writes go through the regular MQTT/HTTP
// command surface) and to clean up the listener registration.
func (h *Hub) readLoop(id string, conn *websocket.Conn) {
	defer h.disconnect(id, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) disconnect(id string, conn *websocket.Conn) {
	h.bus.RemoveEventListener(nil, nil, id)
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) push(id string, evt bus.Event) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	data, err := json.Marshal(frame{Type: string(evt.Type), EntityID: evt.EntityID, Payload: evt.Payload})
	if err != nil {
		log.Error("ui: marshal event failed: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug("ui: write to %s failed, dropping: %v", id, err)
	}
}

// Close shuts down every open connection, used from the SIGTERM chain.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make(map[string]*websocket.Conn, len(h.conns))
	for k, v := range h.conns {
		conns[k] = v
	}
	h.mu.Unlock()
	for id, conn := range conns {
		h.disconnect(id, conn)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
