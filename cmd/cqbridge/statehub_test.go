package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// newHubClient creates a client with no underlying websocket connection.
// The hub only touches c.send and c.conn (nil-checked), so broadcast and
// eviction behavior can be tested without real sockets.
func newHubClient(h *Hub) *Client {
	return NewClient(h, nil, "test-client", testLogger())
}

func startHub(t *testing.T, cfg HubConfig) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(testLogger(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, cancel
}

func clientCount(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h, cancel := startHub(t, HubConfig{})
	defer cancel()

	c1 := newHubClient(h)
	c2 := newHubClient(h)
	h.register <- c1
	h.register <- c2

	waitUntil(t, time.Second, func() bool { return clientCount(h) == 2 },
		"clients never registered")

	h.BroadcastBytes([]byte(`{"type":"test"}`))

	for i, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if string(msg) != `{"type":"test"}` {
				t.Errorf("client %d got %q", i, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d never received the broadcast", i)
		}
	}
}

func TestHub_SlowClientEvicted(t *testing.T) {
	h, cancel := startHub(t, HubConfig{SendBuf: 1})
	defer cancel()

	slow := newHubClient(h)
	h.register <- slow
	waitUntil(t, time.Second, func() bool { return clientCount(h) == 1 },
		"client never registered")

	// First broadcast fills the queue; the second finds it full.
	h.BroadcastBytes([]byte("one"))
	h.BroadcastBytes([]byte("two"))

	waitUntil(t, time.Second, func() bool { return clientCount(h) == 0 },
		"slow client was never evicted")
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	h, cancel := startHub(t, HubConfig{})
	defer cancel()

	c := newHubClient(h)
	h.register <- c
	waitUntil(t, time.Second, func() bool { return clientCount(h) == 1 },
		"client never registered")

	h.unregister <- c
	waitUntil(t, time.Second, func() bool { return clientCount(h) == 0 },
		"client never unregistered")

	// The send channel is closed on removal.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Error("send channel still open after unregister")
	}
}

func TestHub_ToggleEnvelope(t *testing.T) {
	h := NewHub(testLogger(), HubConfig{})

	h.BroadcastToggle(ToggleChange{Controllable: "fx_mute", Active: true, Operation: "mute_group(1, on)"})

	var raw []byte
	select {
	case raw = <-h.broadcast:
	default:
		t.Fatal("no message enqueued")
	}

	var env struct {
		Type string              `json:"type"`
		Ts   *time.Time          `json:"ts"`
		Data wsToggleChangedData `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "toggle_changed" {
		t.Errorf("type = %q", env.Type)
	}
	if env.Ts == nil {
		t.Error("envelope is missing a timestamp")
	}
	if env.Data.Controllable != "fx_mute" || !env.Data.Active {
		t.Errorf("unexpected payload: %+v", env.Data)
	}
}

func TestHub_SessionEnvelope(t *testing.T) {
	h := NewHub(testLogger(), HubConfig{})

	h.BroadcastSession(SessionConnected)

	var raw []byte
	select {
	case raw = <-h.broadcast:
	default:
		t.Fatal("no message enqueued")
	}

	var env struct {
		Type string               `json:"type"`
		Data wsSessionChangedData `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "session_changed" || env.Data.State != "connected" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h, cancel := startHub(t, HubConfig{})

	c := newHubClient(h)
	h.register <- c
	waitUntil(t, time.Second, func() bool { return clientCount(h) == 1 },
		"client never registered")

	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Error("send channel still open after shutdown")
	}
}
