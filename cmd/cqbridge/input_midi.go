package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ==============================
// MIDI input adapter
// ==============================
//
// Listens to the foot controller's MIDI input port and normalizes
// control-change and note-on messages into ButtonPress actions. Bluetooth
// pedals come and go, so the adapter rescans on an interval and reconnects
// when the selected port disappears, instead of treating a lost device as
// fatal.

const midiRescanInterval = 1 * time.Second

// MIDIInput watches for a foot controller matching one of the configured
// name patterns and feeds its events into the action channel.
type MIDIInput struct {
	patterns []string
	actions  chan<- Action
	logger   *slog.Logger

	drv *rtmididrv.Driver

	mu           sync.Mutex
	inPort       drivers.In
	stopFn       func()
	selectedName string
}

// NewMIDIInput initializes the underlying rtmidi driver. Call Run to start
// scanning and Close when done.
func NewMIDIInput(patterns []string, actions chan<- Action, logger *slog.Logger) (*MIDIInput, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return &MIDIInput{
		patterns: patterns,
		actions:  actions,
		logger:   logger,
		drv:      drv,
	}, nil
}

// Run scans for the controller until ctx is cancelled, reconnecting on
// hot-plug. It never returns an error for a missing device; unattended
// operation means we keep waiting for the pedal to come back.
func (m *MIDIInput) Run(ctx context.Context) error {
	ticker := time.NewTicker(midiRescanInterval)
	defer ticker.Stop()
	defer m.Close()

	m.scan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.scan()
		}
	}
}

// Close shuts down the active connection and the rtmidi driver.
func (m *MIDIInput) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeConn()
	_ = m.drv.Close()
}

// scan checks whether the selected port is still present, or tries to find
// and connect a matching one.
func (m *MIDIInput) scan() {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.listInputs()

	if m.inPort != nil {
		for _, n := range names {
			if n == m.selectedName {
				return // still there, nothing to do
			}
		}
		m.logger.Warn("midi device disappeared", "device", m.selectedName)
		m.closeConn()
		return
	}

	cand, ok := m.pickMatch(names)
	if !ok {
		return
	}
	if err := m.openByName(cand); err != nil {
		m.logger.Error("midi connect failed", "device", cand, "error", err)
	}
}

func (m *MIDIInput) listInputs() []string {
	ins, err := m.drv.Ins()
	if err != nil {
		m.logger.Error("midi list inputs failed", "error", err)
		return nil
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

func (m *MIDIInput) pickMatch(names []string) (string, bool) {
	for _, pat := range m.patterns {
		for _, name := range names {
			if strings.Contains(strings.ToLower(name), strings.ToLower(pat)) {
				return name, true
			}
		}
	}
	return "", false
}

func (m *MIDIInput) closeConn() {
	if m.stopFn != nil {
		m.stopFn()
		m.stopFn = nil
	}
	if m.inPort != nil {
		_ = m.inPort.Close()
		m.inPort = nil
	}
	m.selectedName = ""
}

func (m *MIDIInput) openByName(name string) error {
	ins, err := m.drv.Ins()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		var ch, code, value uint8
		switch {
		case msg.GetControlChange(&ch, &code, &value):
			m.actions <- ButtonPress{Code: int(code), Value: int(value)}
		case msg.GetNoteOn(&ch, &code, &value):
			// Some pedals report switches as notes instead of CCs.
			m.actions <- ButtonPress{Code: int(code), Value: int(value)}
		case msg.GetNoteOff(&ch, &code, &value):
			m.actions <- ButtonPress{Code: int(code), Value: 0}
		}
	}, midi.HandleError(func(listenErr error) {
		m.logger.Warn("midi listener error", "device", name, "error", listenErr)
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	m.inPort = found
	m.stopFn = stop
	m.selectedName = name
	m.logger.Info("midi device connected", "device", name)
	return nil
}
