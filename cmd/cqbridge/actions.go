package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Actions
// ============================================================================
// Actions represent input intent from the various sources (MIDI pedal, evdev
// devices, IPC clients). The main loop consumes them one at a time and hands
// them to the dispatcher, so event processing is strictly sequential.
// ============================================================================

// Action is a marker interface for all dispatcher inputs.
type Action interface{ actionMarker() }

// ButtonPress is one normalized control event: a source-identified numeric
// code plus a 0-127 value. Both edges of a physical press arrive this way;
// the dispatcher's polarity config decides which edge triggers.
type ButtonPress struct {
	Code  int `json:"code"`
	Value int `json:"value"`
}

func (ButtonPress) actionMarker() {}

// Trigger fires a controllable by name, bypassing the button table. Used by
// IPC clients (cqctl) for scripting and testing.
type Trigger struct {
	Controllable string `json:"controllable"`
}

func (Trigger) actionMarker() {}

// ============================================================================
// JSON envelope
// ============================================================================
// IPC clients speak line-delimited JSON envelopes with a type discriminator:
//   {"type": "button_press", "data": {"code": 20, "value": 127}}
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "button_press":
		var a ButtonPress
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonPress: %w", err)
		}
		return a, nil

	case "trigger":
		var a Trigger
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal Trigger: %w", err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown action type: %s", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON action envelope
func MarshalAction(action Action) ([]byte, error) {
	var env ActionEnvelope

	switch a := action.(type) {
	case ButtonPress:
		env.Type = "button_press"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal ButtonPress: %w", err)
		}
		env.Data = data

	case Trigger:
		env.Type = "trigger"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal Trigger: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	return json.Marshal(env)
}
