package server

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return msg
}

// readUntilStatus drains messages until one with the wanted status
// arrives, returning it.
func readUntilStatus(t *testing.T, conn *websocket.Conn, status string) serverMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg.Status == status {
			return msg
		}
	}
	t.Fatalf("no %q message received", status)
	return serverMessage{}
}

func TestObserverReceivesSnapshotOnConnect(t *testing.T) {
	env := newTestEnv(t, quietRand)
	conn := dialWS(t, env)

	msg := readMessage(t, conn)
	if msg.Status != "idle" {
		t.Errorf("first message status = %q, want idle", msg.Status)
	}
}

func TestKeyGenLifecycle(t *testing.T) {
	env := newTestEnv(t, quietRand)
	conn := dialWS(t, env)

	readMessage(t, conn) // idle snapshot

	if err := conn.WriteJSON(clientCommand{Action: actionStartKeyGen}); err != nil {
		t.Fatalf("sending command: %v", err)
	}

	init := readUntilStatus(t, conn, "initializing")
	if init.Message != "Aligning Polarizers..." {
		t.Errorf("initializing message = %q", init.Message)
	}

	complete := readUntilStatus(t, conn, "complete")
	if len(complete.Key) != 50 {
		t.Errorf("key length = %d, want 50", len(complete.Key))
	}
	if complete.QBER == nil {
		t.Fatal("complete message has no qber")
	}
	if *complete.QBER != 0 {
		t.Errorf("qber = %v, want 0 with pinned quiet noise", *complete.QBER)
	}
	if !strings.Contains(complete.Message, "Key Generated") {
		t.Errorf("complete message = %q", complete.Message)
	}
}

func TestAdversaryKeyGenMessages(t *testing.T) {
	env := newTestEnv(t, maxRand)
	conn := dialWS(t, env)

	readMessage(t, conn) // idle snapshot

	if err := conn.WriteJSON(clientCommand{Action: actionStartKeyGen, Hacker: true}); err != nil {
		t.Fatalf("sending command: %v", err)
	}

	init := readUntilStatus(t, conn, "initializing")
	if init.Message != "⚠️ INTERCEPTING PHOTONS..." {
		t.Errorf("initializing message = %q", init.Message)
	}

	complete := readUntilStatus(t, conn, "complete")
	if complete.QBER == nil || *complete.QBER != 45 {
		t.Errorf("qber = %v, want 45 with pinned max noise", complete.QBER)
	}
}

func TestAllObserversReceiveTransitions(t *testing.T) {
	env := newTestEnv(t, quietRand)
	requester := dialWS(t, env)
	bystander := dialWS(t, env)

	readMessage(t, requester)
	readMessage(t, bystander)

	if err := requester.WriteJSON(clientCommand{Action: actionStartKeyGen}); err != nil {
		t.Fatalf("sending command: %v", err)
	}

	// Both sockets see the full lifecycle, not just the requester.
	for _, conn := range []*websocket.Conn{requester, bystander} {
		msg := readUntilStatus(t, conn, "complete")
		if msg.Key == "" {
			t.Error("observer received complete without a key")
		}
	}
}

func TestBusyRejectionGoesToRequesterOnly(t *testing.T) {
	// Slow the simulation down so the second request lands mid-flight.
	env := newTestEnvWithDelays(t, quietRand, 300*time.Millisecond)

	first := dialWS(t, env)
	second := dialWS(t, env)
	readMessage(t, first)
	readMessage(t, second)

	if err := first.WriteJSON(clientCommand{Action: actionStartKeyGen}); err != nil {
		t.Fatalf("sending first command: %v", err)
	}
	readUntilStatus(t, first, "initializing")

	if err := second.WriteJSON(clientCommand{Action: actionStartKeyGen, Hacker: true}); err != nil {
		t.Fatalf("sending second command: %v", err)
	}
	busy := readUntilStatus(t, second, "busy")
	if busy.Message == "" {
		t.Error("busy message has no text")
	}

	// The rejected adversary request must not retune the telemetry
	// trace away from the in-flight quiet session.
	if env.feed.AdversaryActive() {
		t.Error("busy-rejected request flipped the telemetry adversary mode")
	}

	// The in-flight session still completes for everyone.
	readUntilStatus(t, first, "complete")
}

func TestMalformedCommandDoesNotKillConnection(t *testing.T) {
	env := newTestEnv(t, quietRand)
	conn := dialWS(t, env)

	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("sending garbage: %v", err)
	}
	errMsg := readUntilStatus(t, conn, "error")
	if errMsg.Message == "" {
		t.Error("error message has no text")
	}

	// The connection still works afterwards.
	if err := conn.WriteJSON(clientCommand{Action: actionStartKeyGen}); err != nil {
		t.Fatalf("sending command after garbage: %v", err)
	}
	readUntilStatus(t, conn, "complete")
}

func TestUnknownActionRejected(t *testing.T) {
	env := newTestEnv(t, quietRand)
	conn := dialWS(t, env)

	readMessage(t, conn)

	if err := conn.WriteJSON(clientCommand{Action: "SELF_DESTRUCT"}); err != nil {
		t.Fatalf("sending command: %v", err)
	}
	msg := readUntilStatus(t, conn, "error")
	if !strings.Contains(msg.Message, "SELF_DESTRUCT") {
		t.Errorf("error message = %q, want action name included", msg.Message)
	}
}
