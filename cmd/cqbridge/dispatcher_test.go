package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	sequences []FrameSequence
	err       error
}

func (f *fakeSender) Send(seq FrameSequence) error {
	f.sequences = append(f.sequences, seq)
	return f.err
}

// testClock is a manually advanced time source.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDispatcher(t *testing.T, mutate func(*Config)) (*Dispatcher, *fakeSender, *ToggleStore, *testClock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	store := NewToggleStore(cfg.ControllableIDs()...)
	sender := &fakeSender{}
	d := NewDispatcher(&cfg, store, sender, testLogger())
	clock := newTestClock()
	d.now = clock.now
	return d, sender, store, clock
}

func TestDispatcher_RecordingPulse(t *testing.T) {
	d, sender, store, _ := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 20, Value: 127})

	if len(sender.sequences) != 1 {
		t.Fatalf("expected 1 sequence, got %d", len(sender.sequences))
	}
	seq := sender.sequences[0]
	if len(seq) != 2 {
		t.Fatalf("expected 2 frames for a pulse, got %d", len(seq))
	}
	if !bytes.Equal(seq[0].Data, []byte{0x90, 0x30, 0x7F}) {
		t.Errorf("press frame = % X", seq[0].Data)
	}
	if !bytes.Equal(seq[1].Data, []byte{0x80, 0x30, 0x00}) {
		t.Errorf("release frame = % X", seq[1].Data)
	}
	if !store.Get("recording") {
		t.Error("recording toggle should be on after first press")
	}
}

func TestDispatcher_PulseFiresOnEveryPress(t *testing.T) {
	// The console owns the real recording state, so the soft key is pulsed on
	// every qualifying press regardless of the local toggle.
	d, sender, store, clock := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 20, Value: 127})
	clock.advance(time.Second)
	d.Handle(ButtonPress{Code: 20, Value: 127})

	if len(sender.sequences) != 2 {
		t.Fatalf("expected 2 sequences, got %d", len(sender.sequences))
	}
	if store.Get("recording") {
		t.Error("recording toggle should be off again after second press")
	}
}

func TestDispatcher_LevelPresets(t *testing.T) {
	d, sender, _, clock := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 21, Value: 127})
	clock.advance(time.Second)
	d.Handle(ButtonPress{Code: 21, Value: 127})

	if len(sender.sequences) != 2 {
		t.Fatalf("expected 2 sequences, got %d", len(sender.sequences))
	}
	// First press activates the high preset (100), second reverts to low (64).
	if got := sender.sequences[0][3].Data[2]; got != 100 {
		t.Errorf("first press value = %d, want 100", got)
	}
	if got := sender.sequences[1][3].Data[2]; got != 64 {
		t.Errorf("second press value = %d, want 64", got)
	}
}

func TestDispatcher_GroupMuteToggles(t *testing.T) {
	d, sender, store, clock := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 22, Value: 127})
	if !store.Get("fx_mute") {
		t.Error("fx_mute should be on after first press")
	}
	if got := sender.sequences[0][3].Data[2]; got != 127 {
		t.Errorf("first press data LSB = %d, want 127 (muted)", got)
	}

	clock.advance(time.Second)
	d.Handle(ButtonPress{Code: 22, Value: 127})
	if store.Get("fx_mute") {
		t.Error("fx_mute should be off after second press")
	}
	if got := sender.sequences[1][3].Data[2]; got != 0 {
		t.Errorf("second press data LSB = %d, want 0 (unmuted)", got)
	}
}

func TestDispatcher_SceneSelectsStateByToggle(t *testing.T) {
	d, sender, _, clock := newTestDispatcher(t, func(cfg *Config) {
		cfg.Controllables["break_mode"] = ControllableConfig{
			Kind:     kindScene,
			Active:   &SceneStateConfig{MuteGroups: []int{4, 1, 2}, UnmuteGroups: []int{3}},
			Inactive: &SceneStateConfig{MuteGroups: []int{3}, UnmuteGroups: []int{1, 2, 4}},
		}
	})

	d.Handle(ButtonPress{Code: 23, Value: 127})

	if len(sender.sequences) != 1 {
		t.Fatalf("expected 1 sequence, got %d", len(sender.sequences))
	}
	seq := sender.sequences[0]
	if len(seq) != 16 {
		t.Fatalf("expected 16 frames for a 4-group scene, got %d", len(seq))
	}
	// Active state: mutes first in ascending group order, then unmutes.
	wantLSB := []byte{0x51, 0x52, 0x54, 0x53}
	wantValue := []byte{127, 127, 127, 0}
	for i := range wantLSB {
		base := i * 4
		if seq[base+1].Data[2] != wantLSB[i] {
			t.Errorf("sub-sequence %d: select LSB = 0x%02X, want 0x%02X", i, seq[base+1].Data[2], wantLSB[i])
		}
		if seq[base+3].Data[2] != wantValue[i] {
			t.Errorf("sub-sequence %d: value = %d, want %d", i, seq[base+3].Data[2], wantValue[i])
		}
	}

	clock.advance(time.Second)
	d.Handle(ButtonPress{Code: 23, Value: 127})

	inactive := sender.sequences[1]
	if len(inactive) != 16 {
		t.Fatalf("expected 16 frames for the inactive scene, got %d", len(inactive))
	}
	if inactive[1].Data[2] != 0x53 || inactive[3].Data[2] != 127 {
		t.Errorf("inactive scene should mute group 3 first, got LSB=0x%02X value=%d",
			inactive[1].Data[2], inactive[3].Data[2])
	}
}

func TestDispatcher_ReleaseEdgeIgnored(t *testing.T) {
	d, sender, store, _ := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 22, Value: 0})

	if len(sender.sequences) != 0 {
		t.Errorf("release edge fired %d sequences", len(sender.sequences))
	}
	if store.Get("fx_mute") {
		t.Error("release edge must not toggle")
	}
}

func TestDispatcher_ReleasePolarity(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t, func(cfg *Config) {
		cfg.Buttons[2].Polarity = polarityRelease
	})

	d.Handle(ButtonPress{Code: 22, Value: 127})
	if len(sender.sequences) != 0 {
		t.Fatal("press edge should not fire a release-polarity binding")
	}

	d.Handle(ButtonPress{Code: 22, Value: 0})
	if len(sender.sequences) != 1 {
		t.Fatalf("release edge should fire, got %d sequences", len(sender.sequences))
	}
}

func TestDispatcher_UnmappedCodeIsNoOp(t *testing.T) {
	d, sender, store, _ := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 99, Value: 127})

	if len(sender.sequences) != 0 {
		t.Error("unmapped code must not send")
	}
	for id, v := range store.Snapshot() {
		if v {
			t.Errorf("unmapped code flipped %s", id)
		}
	}
}

func TestDispatcher_DebounceSuppress(t *testing.T) {
	d, sender, store, clock := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 22, Value: 127})
	clock.advance(20 * time.Millisecond)
	d.Handle(ButtonPress{Code: 22, Value: 127})

	if len(sender.sequences) != 1 {
		t.Fatalf("duplicate within window should be suppressed, got %d sequences", len(sender.sequences))
	}
	if !store.Get("fx_mute") {
		t.Error("suppressed duplicate must not flip the toggle back")
	}

	// The window slides: the suppressed event refreshed it, so a third press
	// just outside the original window is still suppressed.
	clock.advance(140 * time.Millisecond)
	d.Handle(ButtonPress{Code: 22, Value: 127})
	if len(sender.sequences) != 1 {
		t.Fatalf("press inside refreshed window should be suppressed, got %d sequences", len(sender.sequences))
	}

	clock.advance(200 * time.Millisecond)
	d.Handle(ButtonPress{Code: 22, Value: 127})
	if len(sender.sequences) != 2 {
		t.Fatalf("press outside window should fire, got %d sequences", len(sender.sequences))
	}
}

func TestDispatcher_DebouncePassthrough(t *testing.T) {
	d, sender, store, clock := newTestDispatcher(t, func(cfg *Config) {
		cfg.Debounce.Mode = debouncePassthrough
	})

	d.Handle(ButtonPress{Code: 22, Value: 127})
	clock.advance(20 * time.Millisecond)
	d.Handle(ButtonPress{Code: 22, Value: 127})

	if len(sender.sequences) != 2 {
		t.Fatalf("passthrough mode should fire both, got %d sequences", len(sender.sequences))
	}
	if store.Get("fx_mute") {
		t.Error("two passthrough presses should leave the toggle off")
	}
}

func TestDispatcher_DebounceIsPerCode(t *testing.T) {
	d, sender, _, clock := newTestDispatcher(t, nil)

	d.Handle(ButtonPress{Code: 22, Value: 127})
	clock.advance(20 * time.Millisecond)
	d.Handle(ButtonPress{Code: 21, Value: 127})

	if len(sender.sequences) != 2 {
		t.Fatalf("different codes share no debounce window, got %d sequences", len(sender.sequences))
	}
}

func TestDispatcher_NoRollbackOnSendFailure(t *testing.T) {
	d, sender, store, _ := newTestDispatcher(t, nil)
	sender.err = &SendError{Kind: SendNotConnected}

	d.Handle(ButtonPress{Code: 22, Value: 127})

	if !store.Get("fx_mute") {
		t.Error("toggle must keep the new value when the send fails")
	}
}

func TestDispatcher_HandleTrigger(t *testing.T) {
	d, sender, store, _ := newTestDispatcher(t, nil)

	d.HandleTrigger("fx_mute")
	if len(sender.sequences) != 1 {
		t.Fatalf("trigger should fire, got %d sequences", len(sender.sequences))
	}
	if !store.Get("fx_mute") {
		t.Error("trigger should flip the toggle")
	}

	d.HandleTrigger("nonexistent")
	if len(sender.sequences) != 1 {
		t.Error("unknown trigger must be a no-op")
	}
}

func TestDispatcher_NotifyObservesChanges(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, nil)

	var changes []ToggleChange
	d.SetNotify(func(c ToggleChange) { changes = append(changes, c) })

	d.Handle(ButtonPress{Code: 22, Value: 127})

	if len(changes) != 1 {
		t.Fatalf("expected 1 change notification, got %d", len(changes))
	}
	if changes[0].Controllable != "fx_mute" || !changes[0].Active {
		t.Errorf("unexpected change: %+v", changes[0])
	}
}
