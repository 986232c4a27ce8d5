package main

import "testing"

func TestToggleStore_AllOffAtStart(t *testing.T) {
	store := NewToggleStore("recording", "fx_mute", "break_mode")
	for _, id := range []string{"recording", "fx_mute", "break_mode"} {
		if store.Get(id) {
			t.Errorf("%s should start off", id)
		}
	}
}

func TestToggleStore_Toggle(t *testing.T) {
	store := NewToggleStore("fx_mute")

	if got := store.Toggle("fx_mute"); !got {
		t.Error("first toggle should return true")
	}
	if !store.Get("fx_mute") {
		t.Error("value should be true after first toggle")
	}
	if got := store.Toggle("fx_mute"); got {
		t.Error("second toggle should return false")
	}
	if store.Get("fx_mute") {
		t.Error("value should be false after second toggle")
	}
}

func TestToggleStore_UnknownIDReadsFalse(t *testing.T) {
	store := NewToggleStore("recording")
	if store.Get("nonexistent") {
		t.Error("unknown id should read false")
	}
}

func TestToggleStore_SnapshotIsCopy(t *testing.T) {
	store := NewToggleStore("recording", "fx_mute")
	store.Set("recording", true)

	snap := store.Snapshot()
	if !snap["recording"] || snap["fx_mute"] {
		t.Errorf("unexpected snapshot: %v", snap)
	}

	snap["fx_mute"] = true
	if store.Get("fx_mute") {
		t.Error("mutating a snapshot must not affect the store")
	}
}
