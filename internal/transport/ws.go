package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/netlab-io/topofuse/internal/eventbus"
	"github.com/netlab-io/topofuse/internal/topology"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWSEvents implements `WS /ws/events[?event_types=csv]`: the server
// sends an initial_state frame then streams matching bus events, and
// answers client {"type":"ping"} frames with {"type":"pong"} (spec.md §6).
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	var filter []eventbus.EventType
	if raw := r.URL.Query().Get("event_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter = append(filter, eventbus.EventType(strings.TrimSpace(t)))
		}
	}
	sub := s.bus.Subscribe(filter...)
	defer sub.Close()

	nodes, links := s.store.GetTopology()
	if err := conn.WriteJSON(map[string]interface{}{
		"type": "initial_state",
		"data": map[string]interface{}{"nodes": nodes, "links": links},
	}); err != nil {
		return
	}

	done := make(chan struct{})
	go s.readPings(conn, done)

	for {
		ev, ok := sub.Next(time.Second)
		select {
		case <-done:
			return
		default:
		}
		if !ok {
			continue
		}
		if err := conn.WriteJSON(map[string]interface{}{
			"type": ev.Type,
			"data": ev.Payload,
		}); err != nil {
			return
		}
	}
}

func (s *Server) readPings(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if t, _ := msg["type"].(string); t == "ping" {
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

// handleWSAgent implements `WS /ws/agent`: the agent pushes InterfaceEvent
// frames that are applied to the store exactly as the POST /api/events path
// does.
func (s *Server) handleWSAgent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var ev topology.InterfaceEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		s.applyInterfaceEvent(ev)
	}
}
