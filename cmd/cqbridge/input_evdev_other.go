//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
)

// EvdevInput is only available on Linux; other platforms must use the MIDI
// input adapter.
type EvdevInput struct{}

func NewEvdevInput(devices []string, actions chan<- Action, logger *slog.Logger) (*EvdevInput, error) {
	return nil, fmt.Errorf("evdev input is only supported on linux")
}

func (e *EvdevInput) Run(ctx context.Context) error {
	return fmt.Errorf("evdev input is only supported on linux")
}
