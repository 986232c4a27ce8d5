package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// cqwatch connects to the cqbridge state WebSocket and prints every
// broadcast envelope: session transitions, toggle changes, and the initial
// state snapshot. Handy for watching the bridge from another machine during
// a show.

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8731/ws", "cqbridge state WebSocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames instead of formatted lines")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to the websocket (pings only).
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("read error: %v", err)
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			printFrame(message, *raw)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down")
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func printFrame(message []byte, raw bool) {
	if raw {
		log.Printf("%s", message)
		return
	}

	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Printf("%s", message)
		return
	}

	switch env.Type {
	case "state_init":
		var snap struct {
			Session string          `json:"session"`
			Toggles map[string]bool `json:"toggles"`
		}
		if err := json.Unmarshal(env.Data, &snap); err == nil {
			log.Printf("state: session=%s toggles=%v", snap.Session, snap.Toggles)
			return
		}

	case "session_changed":
		var data struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(env.Data, &data); err == nil {
			log.Printf("session: %s", data.State)
			return
		}

	case "toggle_changed":
		var data struct {
			Controllable string `json:"controllable"`
			Active       bool   `json:"active"`
			Operation    string `json:"operation"`
		}
		if err := json.Unmarshal(env.Data, &data); err == nil {
			log.Printf("toggle: %s active=%v op=%s", data.Controllable, data.Active, data.Operation)
			return
		}
	}

	log.Printf("%s", message)
}
