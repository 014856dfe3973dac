// Package livetrace implements a message_delivery_tracer sink (§6) that
// fans every delivery event out to connected websocket observers — a
// human-facing collaborator for watching an environment's traffic live,
// external to the core per §1.
//
// Grounded on the teacher's internal/handler/ws/delivery.go: a
// gorilla/websocket upgrader plus a per-connection outbound channel and
// write pump.
package livetrace

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/webitel/agentflow/internal/core/environment"
)

// Hub fans out environment.TraceEvent values to every connected
// observer. Zero value is not usable; construct with New.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	observers map[*observer]struct{}
}

type observer struct {
	conn *websocket.Conn
	out  chan environment.TraceEvent
}

// New builds a Hub. Its Sink method is intended to be passed to
// environment.WithTracer.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		observers: make(map[*observer]struct{}),
	}
}

// Sink is an environment.Tracer: it never blocks the delivery path,
// dropping the event for any observer whose outbound buffer is full
// rather than stalling the mailbox that produced it.
func (h *Hub) Sink(event environment.TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		select {
		case o.out <- event:
		default:
			h.logger.Warn("LIVETRACE_OBSERVER_SLOW")
		}
	}
}

// ServeHTTP upgrades the connection and registers it as an observer
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("LIVETRACE_UPGRADE_FAILED", slog.Any("err", err))
		return
	}
	defer conn.Close()

	o := &observer{conn: conn, out: make(chan environment.TraceEvent, 64)}
	h.register(o)
	defer h.unregister(o)

	for event := range o.out {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) register(o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[o] = struct{}{}
}

func (h *Hub) unregister(o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; ok {
		delete(h.observers, o)
		close(o.out)
	}
}
