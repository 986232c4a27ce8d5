package main

import (
	"fmt"
	"sort"
)

// ==============================
// Logical operations
// ==============================
//
// A LogicalOperation is the semantic intent derived from a button event,
// independent of wire encoding. The dispatcher produces them, the builder
// turns them into frame sequences, and the transport puts them on the wire.

// LogicalOperation is a marker interface for all console operations.
type LogicalOperation interface {
	operationMarker()
	String() string
}

// PulseKey presses and releases a console soft key (momentary).
type PulseKey struct {
	Code byte
}

func (PulseKey) operationMarker() {}
func (o PulseKey) String() string { return fmt.Sprintf("PulseKey(code=0x%02X)", o.Code) }

// SetGroupState mutes or unmutes a single mute group.
type SetGroupState struct {
	Group int
	Muted bool
}

func (SetGroupState) operationMarker() {}
func (o SetGroupState) String() string {
	return fmt.Sprintf("SetGroupState(group=%d muted=%v)", o.Group, o.Muted)
}

// SetLevel sets a channel send level to an absolute value in [0,127].
type SetLevel struct {
	Channel string // controllable id of the level parameter, e.g. "aux_send_level"
	Value   int
}

func (SetLevel) operationMarker() {}
func (o SetLevel) String() string {
	return fmt.Sprintf("SetLevel(channel=%s value=%d)", o.Channel, o.Value)
}

// ApplyScene mutes and unmutes a set of groups as one atomic sequence.
//
// Wire ordering is deterministic: all mutes before all unmutes, each in
// ascending group order. Muting first avoids a transient where both the old
// and the new audio paths are open at the same time.
type ApplyScene struct {
	MuteGroups   []int
	UnmuteGroups []int
}

func (ApplyScene) operationMarker() {}
func (o ApplyScene) String() string {
	return fmt.Sprintf("ApplyScene(mute=%v unmute=%v)", o.MuteGroups, o.UnmuteGroups)
}

// orderedGroups returns a sorted copy, so callers can hand us config slices
// without us mutating them.
func orderedGroups(groups []int) []int {
	out := make([]int, len(groups))
	copy(out, groups)
	sort.Ints(out)
	return out
}
