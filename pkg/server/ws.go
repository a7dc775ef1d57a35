package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medivault/medivault/pkg/metrics"
	"github.com/medivault/medivault/pkg/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 16
)

const actionStartKeyGen = "START_KEY_GEN"

// clientCommand is what observers send over the socket.
type clientCommand struct {
	Action string `json:"action"`
	Hacker bool   `json:"hacker"`
}

// serverMessage is what the backend pushes to observers.
type serverMessage struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Key     string   `json:"key,omitempty"`
	QBER    *float64 `json:"qber,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origins are enforced by the CORS layer on the HTTP routes;
	// the socket accepts any origin the reverse proxy let through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.hub.Subscribe()
	metrics.ObserversConnected.Inc()
	slog.Info("observer connected", "remote", conn.RemoteAddr())

	client := &wsClient{
		srv:  s,
		conn: conn,
		send: make(chan serverMessage, sendQueueSize),
		done: make(chan struct{}),
	}

	go client.writePump(sub.Events())
	client.readPump()

	// Reader exited: tear down.
	close(client.done)
	s.hub.Unsubscribe(sub)
	metrics.ObserversConnected.Dec()
	_ = conn.Close()
	slog.Info("observer disconnected", "remote", conn.RemoteAddr())
}

type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	send chan serverMessage
	done chan struct{}
}

// readPump reads commands from the peer until the connection drops.
// A malformed command produces an error message without killing the
// connection.
func (c *wsClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueue(serverMessage{Status: "error", Message: "Invalid command."})
			continue
		}

		switch cmd.Action {
		case actionStartKeyGen:
			c.startKeyGen(cmd.Hacker)
		default:
			c.enqueue(serverMessage{Status: "error", Message: fmt.Sprintf("Unknown action %q.", cmd.Action)})
		}
	}
}

// startKeyGen kicks off a key exchange. Lifecycle updates reach this
// client through the hub like every other observer; only rejections are
// sent to the requester alone.
func (c *wsClient) startKeyGen(hacker bool) {
	if _, err := c.srv.engine.Start(hacker); err != nil {
		if errors.Is(err, session.ErrAlreadyTransmitting) {
			c.enqueue(serverMessage{
				Status:  "busy",
				Message: "Key exchange already in progress.",
			})
			return
		}
		c.enqueue(serverMessage{Status: "error", Message: "Key generation failed."})
		return
	}

	// Only an accepted exchange retunes the trace; a busy rejection must
	// not desynchronize it from the in-flight session's adversary mode.
	c.srv.feed.SetAdversary(hacker)
}

// writePump serializes all writes to the connection: hub events, direct
// replies, and keepalive pings.
func (c *wsClient) writePump(events <-chan session.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-events:
			if !ok {
				return
			}
			msg, render := renderSnapshot(snap)
			if !render {
				continue
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) write(msg serverMessage) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

// enqueue queues a direct reply without blocking the reader. Drops the
// message if the peer cannot keep up.
func (c *wsClient) enqueue(msg serverMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		metrics.BroadcastsDropped.Inc()
	}
}

// renderSnapshot maps a session transition onto the wire contract.
// Transmitting and Measuring both surface as "initializing" with
// different progress text.
func renderSnapshot(snap session.Snapshot) (serverMessage, bool) {
	switch snap.State {
	case session.StateIdle:
		return serverMessage{Status: "idle", Message: "Quantum channel idle."}, true
	case session.StateTransmitting:
		msg := "Aligning Polarizers..."
		if snap.AdversaryActive {
			msg = "⚠️ INTERCEPTING PHOTONS..."
		}
		return serverMessage{Status: "initializing", Message: msg}, true
	case session.StateMeasuring:
		return serverMessage{Status: "initializing", Message: "Measuring photon bases..."}, true
	case session.StateComplete:
		qber := snap.QBER
		return serverMessage{
			Status:  "complete",
			Key:     snap.Key,
			QBER:    &qber,
			Message: fmt.Sprintf("Key Generated. QBER: %v%%", snap.QBER),
		}, true
	default:
		return serverMessage{}, false
	}
}
